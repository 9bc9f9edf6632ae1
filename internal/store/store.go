package store

import (
	"context"
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
)

// CreateDeliverableItemInput holds the fields for creating a deliverable item.
// The item's tracker is created in the same transaction (1:1).
type CreateDeliverableItemInput struct {
	Effort   string
	Title    string
	Priority int
	DueDate  *time.Time
}

// UpdateTrackerFieldsInput holds an optimistic-concurrency update of the
// plain tracker fields. BaseUpdatedAt must match the stored row or the
// update fails with StaleMutationError.
type UpdateTrackerFieldsInput struct {
	TrackerID     uint64
	Priority      *int
	DueDate       *time.Time
	ClearDueDate  bool
	BaseUpdatedAt time.Time
}

// CreateCommentInput holds the fields for creating a comment
type CreateCommentInput struct {
	TrackerID uint64
	AuthorID  string
	ParentID  *uint64
	Text      string
}

// ChangeCheckResult is the per-table answer of a change-log poll
type ChangeCheckResult struct {
	HasChanges   bool      `json:"has_changes"`
	LastModified time.Time `json:"last_modified"`
	ChangeCount  uint64    `json:"change_count"`
}

// Store defines the interface for database operations. Every mutation upserts
// the change-log row for the affected table inside the same transaction.
type Store interface {
	// CreateDeliverableItem creates a deliverable item and its tracker in one transaction
	CreateDeliverableItem(ctx context.Context, input CreateDeliverableItemInput) (*schema.DeliverableItem, *schema.Tracker, error)
	// GetDeliverableItem retrieves a deliverable item by id
	GetDeliverableItem(ctx context.Context, id uint64) (*schema.DeliverableItem, error)

	// GetTracker retrieves a tracker by id
	GetTracker(ctx context.Context, id uint64) (*schema.Tracker, error)
	// AssignTracker sets the assignee for a role
	AssignTracker(ctx context.Context, trackerID uint64, role domain.Role, user string) (*schema.Tracker, error)
	// UnassignTracker clears the assignee for a role
	UnassignTracker(ctx context.Context, trackerID uint64, role domain.Role) (*schema.Tracker, error)
	// AdvanceTrackerStatus moves a role's status, enforcing the production -> QC gate
	AdvanceTrackerStatus(ctx context.Context, trackerID uint64, role domain.Role, status string) (*schema.Tracker, error)
	// UpdateTrackerFields updates priority/due date with an optimistic-concurrency check
	UpdateTrackerFields(ctx context.Context, input UpdateTrackerFieldsInput) (*schema.Tracker, error)
	// DeleteTracker deletes a tracker and its item; the deletion guard runs
	// inside the transaction, after the row is locked
	DeleteTracker(ctx context.Context, trackerID uint64) error

	// CreateComment creates a comment and recomputes the tracker's unresolved
	// root-comment count in the same transaction. Returns the comment and the
	// tracker as updated by the cascade.
	CreateComment(ctx context.Context, input CreateCommentInput) (*schema.Comment, *schema.Tracker, error)
	// ResolveComment marks a root comment resolved and recomputes the count
	ResolveComment(ctx context.Context, commentID uint64, resolvedBy string) (*schema.Comment, *schema.Tracker, error)
	// ListComments returns all comments of a tracker as flat rows
	ListComments(ctx context.Context, trackerID uint64) ([]*schema.Comment, error)

	// CheckChanges reads the change-log rows for the given tables. Pure read,
	// no side effects. A missing row means the table has never been written.
	CheckChanges(ctx context.Context, tables []string, since time.Time) (map[string]ChangeCheckResult, error)

	// ListTrackerIDs pages through tracker ids for the reconciliation sweeper
	ListTrackerIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error)
	// RecountUnresolvedComments repairs a drifted unresolved_comment_count.
	// Returns true when the stored value had to be corrected.
	RecountUnresolvedComments(ctx context.Context, trackerID uint64) (bool, error)
}
