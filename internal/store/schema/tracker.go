package schema

import (
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// Tracker represents the trackers table - the workflow record attached 1:1 to
// a deliverable item.
//
// Invariants enforced by the workflow state machine and the store:
//   - qc_status may only move past not_started while production_status is completed
//   - a tracker with either assignee set cannot be deleted
//   - unresolved_comment_count equals the number of unresolved root comments
type Tracker struct {
	ID                     uint64                  `gorm:"column:id;primaryKey;autoIncrement"`
	ItemID                 uint64                  `gorm:"column:item_id;not null;uniqueIndex"`
	ProductionAssignee     *string                 `gorm:"column:production_assignee;type:text"`
	QCAssignee             *string                 `gorm:"column:qc_assignee;type:text"`
	ProductionStatus       domain.ProductionStatus `gorm:"column:production_status;not null;default:not_started;type:text"`
	QCStatus               domain.QCStatus         `gorm:"column:qc_status;not null;default:not_started;type:text"`
	Priority               int                     `gorm:"column:priority;not null;default:2"`
	DueDate                *time.Time              `gorm:"column:due_date;type:timestamptz"`
	UnresolvedCommentCount int                     `gorm:"column:unresolved_comment_count;not null;default:0"`
	CreatedAt              time.Time               `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt              time.Time               `gorm:"column:updated_at;not null;default:now();type:timestamptz"`

	// Associations
	Item DeliverableItem `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Tracker model
func (Tracker) TableName() string {
	return "trackers"
}

// ToPayload converts the row into its wire representation
func (t *Tracker) ToPayload() *domain.TrackerPayload {
	return &domain.TrackerPayload{
		ID:                     t.ID,
		ItemID:                 t.ItemID,
		ProductionAssignee:     t.ProductionAssignee,
		QCAssignee:             t.QCAssignee,
		ProductionStatus:       t.ProductionStatus,
		QCStatus:               t.QCStatus,
		Priority:               t.Priority,
		DueDate:                t.DueDate,
		UnresolvedCommentCount: t.UnresolvedCommentCount,
		UpdatedAt:              t.UpdatedAt,
	}
}
