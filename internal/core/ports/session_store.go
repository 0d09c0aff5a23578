package ports

import (
	"context"
	"time"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

// SessionStore persists the session of a single domain in a single client
// context.
//
// Get returns (nil, nil) when no complete session is present. Set and Clear
// are atomic for concurrent readers, and Clear is idempotent.
type SessionStore interface {
	Set(ctx context.Context, s *domain.Session, ttl time.Duration) error
	Get(ctx context.Context) (*domain.Session, error)
	Clear(ctx context.Context) error
}
