package schema

import (
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// DeliverableItem represents the deliverable_items table. A deliverable item
// is the owning entity of exactly one workflow tracker, created in the same
// transaction.
type DeliverableItem struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Effort    string    `gorm:"column:effort;not null;type:text"`
	Title     string    `gorm:"column:title;not null;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the DeliverableItem model
func (DeliverableItem) TableName() string {
	return "deliverable_items"
}

// ToPayload converts the row into its wire representation
func (d *DeliverableItem) ToPayload() *domain.DeliverableItemPayload {
	return &domain.DeliverableItemPayload{
		ID:        d.ID,
		Effort:    d.Effort,
		Title:     d.Title,
		UpdatedAt: d.UpdatedAt,
	}
}
