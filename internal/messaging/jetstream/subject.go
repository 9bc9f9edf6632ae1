package jetstream

import (
	"fmt"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// SubjectRoot is the root token of all change subjects
const SubjectRoot = "changes"

// BuildSubject constructs the NATS subject for an event.
// Format: changes.{entity_kind}.{operation}, e.g. changes.tracker.update
func BuildSubject(event *domain.CRUDEvent) string {
	return fmt.Sprintf("%s.%s.%s", SubjectRoot, event.Entity.Kind, event.Operation())
}
