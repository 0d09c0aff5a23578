package redis

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

const defaultLedgerTTL = 30 * time.Second

// RenewalLedger records renewals so gateway instances sharing a session
// reuse one outcome instead of each spending the refresh credential.
// Key format: renewal:<domain>:<fingerprint(stale access token)>
//
// Entries hold live credentials, so they are sealed with XChaCha20-Poly1305
// under a key derived from the session secret and bound to their Redis key.
type RenewalLedger struct {
	client *redis.Client
	aead   cipher.AEAD
}

// NewRenewalLedger creates a RenewalLedger wrapping the given Redis client.
// Every instance sharing the ledger must use the same secret.
func NewRenewalLedger(client *redis.Client, secret []byte) (*RenewalLedger, error) {
	if len(secret) == 0 {
		return nil, errors.New("ledger: empty secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("storefront-gateway renewal ledger")), key); err != nil {
		return nil, fmt.Errorf("ledger key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ledger cipher: %w", err)
	}
	return &RenewalLedger{client: client, aead: aead}, nil
}

var _ ports.RenewalLedger = (*RenewalLedger)(nil)

type ledgerEntry struct {
	AccessToken  string `json:"a"`
	RefreshToken string `json:"r,omitempty"`
}

// Lookup reports whether the stale access token was already renewed.
func (l *RenewalLedger) Lookup(ctx context.Context, d domain.Domain, staleAccess string) (*ports.RefreshResult, bool, error) {
	key := l.key(d, staleAccess)
	sealed, err := l.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger lookup: %w", err)
	}
	// Entries that fail to open (foreign secret, tampering) count as misses.
	raw, err := l.open(key, sealed)
	if err != nil {
		return nil, false, nil
	}
	var e ledgerEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.AccessToken == "" {
		return nil, false, nil
	}
	return &ports.RefreshResult{AccessToken: e.AccessToken, RefreshToken: e.RefreshToken}, true, nil
}

// Record stores the outcome of a renewal (expires after ttl).
func (l *RenewalLedger) Record(ctx context.Context, d domain.Domain, staleAccess string, res *ports.RefreshResult, ttl time.Duration) error {
	if res == nil || res.AccessToken == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultLedgerTTL
	}
	raw, err := json.Marshal(ledgerEntry{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken})
	if err != nil {
		return err
	}
	key := l.key(d, staleAccess)
	sealed, err := l.seal(key, raw)
	if err != nil {
		return fmt.Errorf("ledger seal: %w", err)
	}
	// SET NX: the first renewal recorded for a stale credential wins.
	if err := l.client.SetNX(ctx, key, sealed, ttl).Err(); err != nil {
		return fmt.Errorf("ledger record: %w", err)
	}
	return nil
}

func (l *RenewalLedger) key(d domain.Domain, staleAccess string) string {
	return fmt.Sprintf("renewal:%s:%s", d, domain.Fingerprint(staleAccess))
}

// seal returns nonce || ciphertext, authenticated against the entry key.
func (l *RenewalLedger) seal(key string, plain []byte) ([]byte, error) {
	nonce := make([]byte, l.aead.NonceSize(), l.aead.NonceSize()+len(plain)+l.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return l.aead.Seal(nonce, nonce, plain, []byte(key)), nil
}

func (l *RenewalLedger) open(key string, sealed []byte) ([]byte, error) {
	n := l.aead.NonceSize()
	if len(sealed) < n+l.aead.Overhead() {
		return nil, errors.New("ledger: short entry")
	}
	return l.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
}
