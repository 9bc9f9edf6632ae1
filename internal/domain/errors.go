package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition is returned when a status change violates the
	// production -> QC ordering rule
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidAssignment is returned when an assignment request is malformed
	ErrInvalidAssignment = errors.New("invalid assignment")

	// ErrTrackerNotFound is returned when a tracker does not exist
	ErrTrackerNotFound = errors.New("tracker not found")

	// ErrCommentNotFound is returned when a comment does not exist
	ErrCommentNotFound = errors.New("comment not found")

	// ErrItemNotFound is returned when a deliverable item does not exist
	ErrItemNotFound = errors.New("deliverable item not found")

	// ErrReplyNotResolvable is returned when resolving a non-root comment
	ErrReplyNotResolvable = errors.New("only root comments can be resolved")
)

// DeletionBlockedError is returned when a tracker cannot be deleted because
// one or both assignee slots are still set
type DeletionBlockedError struct {
	Assignees []string
}

func (e *DeletionBlockedError) Error() string {
	return fmt.Sprintf("tracker deletion blocked: still assigned to %s", strings.Join(e.Assignees, ", "))
}

// StaleMutationError is returned when an optimistic-concurrency check fails:
// the caller's base version no longer matches the stored row
type StaleMutationError struct {
	Kind EntityKind
	ID   uint64
}

func (e *StaleMutationError) Error() string {
	return fmt.Sprintf("stale mutation: %s %d was modified by another client", e.Kind, e.ID)
}
