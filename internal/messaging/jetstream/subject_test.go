package jetstream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/studyflow/tracker-sync/internal/domain"
)

func TestBuildSubject(t *testing.T) {
	tests := []struct {
		kind     domain.EntityKind
		op       domain.Operation
		expected string
	}{
		{domain.EntityKindTracker, domain.OperationUpdate, "changes.tracker.update"},
		{domain.EntityKindTracker, domain.OperationDelete, "changes.tracker.delete"},
		{domain.EntityKindComment, domain.OperationCreate, "changes.comment.create"},
		{domain.EntityKindDeliverableItem, domain.OperationCreate, "changes.deliverable_item.create"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			event := &domain.CRUDEvent{
				Type:   domain.FormatEventType(tt.kind, tt.op),
				Entity: domain.EventEntity{Kind: tt.kind, ID: 1},
			}
			assert.Equal(t, tt.expected, BuildSubject(event))
		})
	}
}
