package messaging

import (
	"context"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// Publisher defines the interface for publishing committed CRUD events to the
// message broker. Publishing happens after the database transaction commits
// and is best-effort; a failure must never fail the original mutation.
type Publisher interface {
	// PublishEvent publishes a committed CRUD event
	PublishEvent(ctx context.Context, event *domain.CRUDEvent) error
	// Close closes the connection
	Close()
}
