package schema

import (
	"time"

	"gorm.io/datatypes"
)

// Table names recorded in the change log. One row exists per logical table.
const (
	TableTrackers         = "trackers"
	TableComments         = "comments"
	TableDeliverableItems = "deliverable_items"
)

// IsKnownTable reports whether the table name is tracked by the change log
func IsKnownTable(name string) bool {
	return name == TableTrackers || name == TableComments || name == TableDeliverableItems
}

// ChangeLogEntry represents the change_log table - a per-table last-modified
// ledger. Every write to a tracked table upserts its row inside the same
// transaction, so a poller that observes last_modified can always refetch the
// committed state. The log records *that* something changed, never what.
type ChangeLogEntry struct {
	Table        string         `gorm:"column:table_name;primaryKey;type:text"`
	LastModified time.Time      `gorm:"column:last_modified;not null;default:now();type:timestamptz"`
	ChangeCount  uint64         `gorm:"column:change_count;not null;default:0"`
	Meta         datatypes.JSON `gorm:"column:meta;type:jsonb"`
}

// TableName specifies the table name for the ChangeLogEntry model
func (ChangeLogEntry) TableName() string {
	return "change_log"
}

// ChangeLogMeta carries optional context about the most recent change,
// stored as JSON alongside the counter
type ChangeLogMeta struct {
	LastEntityID uint64 `json:"last_entity_id,omitempty"`
	LastActorID  string `json:"last_actor_id,omitempty"`
	LastEventID  string `json:"last_event_id,omitempty"`
}
