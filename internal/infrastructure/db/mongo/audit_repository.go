package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/storefront-gateway/internal/core/domain"
	"github.com/99minutos/storefront-gateway/internal/core/ports"
)

const sessionEventsCollection = "session_events"

// AuditRepository implements ports.AuditRepository using MongoDB.
type AuditRepository struct {
	coll *mongo.Collection
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{coll: db.Collection(sessionEventsCollection)}
}

var _ ports.AuditRepository = (*AuditRepository)(nil)

type sessionEventDoc struct {
	ID          string    `bson:"_id"`
	Kind        string    `bson:"kind"`
	Domain      string    `bson:"domain"`
	PrincipalID string    `bson:"principal_id,omitempty"`
	At          time.Time `bson:"at"`
	Detail      string    `bson:"detail,omitempty"`
	RecordedAt  time.Time `bson:"recorded_at"`
}

// EnsureIndexes creates the lookup index used by support tooling:
// events of one principal, newest first.
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "domain", Value: 1}, {Key: "principal_id", Value: 1}, {Key: "at", Value: -1}},
		Options: options.Index().SetName("domain_principal_at"),
	})
	if err != nil {
		return fmt.Errorf("create session_events index: %w", err)
	}
	return nil
}

// InsertEvent persists a session event to the session_events audit collection.
func (r *AuditRepository) InsertEvent(ctx context.Context, event *domain.SessionEvent) error {
	id := event.ID
	if id == "" {
		id = uuid.NewString()
	}
	doc := sessionEventDoc{
		ID:          id,
		Kind:        string(event.Kind),
		Domain:      string(event.Domain),
		PrincipalID: event.PrincipalID,
		At:          event.At.UTC(),
		Detail:      event.Detail,
		RecordedAt:  time.Now().UTC(),
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}
