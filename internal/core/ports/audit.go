package ports

import (
	"context"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
)

// AuditSink accepts session lifecycle events without blocking the caller.
type AuditSink interface {
	Record(event domain.SessionEvent)
}

// AuditRepository persists session events.
type AuditRepository interface {
	InsertEvent(ctx context.Context, event *domain.SessionEvent) error
}
