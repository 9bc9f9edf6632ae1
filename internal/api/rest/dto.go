package rest

import (
	"errors"
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// CreateItemRequest is the body of POST /api/v1/items
type CreateItemRequest struct {
	Effort   string     `json:"effort"`
	Title    string     `json:"title"`
	Priority *int       `json:"priority"`
	DueDate  *time.Time `json:"due_date"`
}

// Validate validates the request body
func (r *CreateItemRequest) Validate() error {
	if r.Effort == "" {
		return errors.New("effort is required")
	}
	if r.Title == "" {
		return errors.New("title is required")
	}
	if r.Priority != nil && (*r.Priority < 1 || *r.Priority > 3) {
		return errors.New("priority must be between 1 and 3")
	}
	return nil
}

// UpdateTrackerRequest is the body of PATCH /api/v1/trackers/:id. The caller
// must echo the updated_at it last read; a mismatch fails with 409.
type UpdateTrackerRequest struct {
	Priority      *int       `json:"priority"`
	DueDate       *time.Time `json:"due_date"`
	ClearDueDate  bool       `json:"clear_due_date"`
	BaseUpdatedAt time.Time  `json:"base_updated_at"`
}

// Validate validates the request body
func (r *UpdateTrackerRequest) Validate() error {
	if r.BaseUpdatedAt.IsZero() {
		return errors.New("base_updated_at is required")
	}
	if r.Priority == nil && r.DueDate == nil && !r.ClearDueDate {
		return errors.New("at least one field must be set")
	}
	if r.Priority != nil && (*r.Priority < 1 || *r.Priority > 3) {
		return errors.New("priority must be between 1 and 3")
	}
	if r.DueDate != nil && r.ClearDueDate {
		return errors.New("due_date and clear_due_date are mutually exclusive")
	}
	return nil
}

// AssignRequest is the body of PUT /api/v1/trackers/:id/assignees/:role
type AssignRequest struct {
	User string `json:"user"`
}

// Validate validates the request body
func (r *AssignRequest) Validate() error {
	if r.User == "" {
		return errors.New("user is required")
	}
	return nil
}

// StatusRequest is the body of POST /api/v1/trackers/:id/status
type StatusRequest struct {
	Role   string `json:"role"`
	Status string `json:"status"`
}

// Validate validates the request body
func (r *StatusRequest) Validate() error {
	if !domain.IsValidRole(domain.Role(r.Role)) {
		return errors.New("role must be production or qc")
	}
	if r.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

// CreateCommentRequest is the body of POST /api/v1/trackers/:id/comments.
// The author is the request actor.
type CreateCommentRequest struct {
	Text     string  `json:"text"`
	ParentID *uint64 `json:"parent_id"`
}

// Validate validates the request body
func (r *CreateCommentRequest) Validate() error {
	if r.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

// CreateItemResponse is the response of POST /api/v1/items
type CreateItemResponse struct {
	Item    *domain.DeliverableItemPayload `json:"item"`
	Tracker *domain.TrackerPayload         `json:"tracker"`
}

// CommentResponse is the response of comment mutations. The tracker is
// included because every comment mutation cascades into its unresolved count.
type CommentResponse struct {
	Comment *domain.CommentPayload `json:"comment"`
	Tracker *domain.TrackerPayload `json:"tracker"`
}

// ListCommentsResponse is the response of GET /api/v1/trackers/:id/comments.
// Comments are flat rows ordered by id; clients rebuild the thread tree from
// parent_id.
type ListCommentsResponse struct {
	Comments []*domain.CommentPayload `json:"comments"`
}
