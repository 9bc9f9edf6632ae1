package workflow

import (
	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
)

// CanDelete is the single authority for "can this tracker be deleted now?".
// It returns a DeletionBlockedError naming every assignee still set. The
// store invokes it inside the delete transaction, after locking the row, so
// an assignment committed between an API-boundary check and the delete
// statement cannot slip through.
func CanDelete(t *schema.Tracker) error {
	var blocking []string
	if t.ProductionAssignee != nil && *t.ProductionAssignee != "" {
		blocking = append(blocking, *t.ProductionAssignee+" (production)")
	}
	if t.QCAssignee != nil && *t.QCAssignee != "" {
		blocking = append(blocking, *t.QCAssignee+" (qc)")
	}

	if len(blocking) > 0 {
		return &domain.DeletionBlockedError{Assignees: blocking}
	}
	return nil
}
