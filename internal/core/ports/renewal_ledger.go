package ports

import (
	"context"
	"time"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

// RenewalLedger remembers renewals already performed for a stale access
// token, so gateway instances sharing a session do not each spend the
// refresh credential.
type RenewalLedger interface {
	Lookup(ctx context.Context, d domain.Domain, staleAccess string) (*RefreshResult, bool, error)
	Record(ctx context.Context, d domain.Domain, staleAccess string, res *RefreshResult, ttl time.Duration) error
}
