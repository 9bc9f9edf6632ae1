package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestItem(title string) CreateDeliverableItemInput {
	return CreateDeliverableItemInput{
		Effort:   "effort-alpha",
		Title:    title,
		Priority: 2,
	}
}

// createTestTracker creates an item+tracker pair and returns the tracker
func createTestTracker(t *testing.T, s Store) *schema.Tracker {
	t.Helper()
	_, tracker, err := s.CreateDeliverableItem(context.Background(), buildTestItem("Chapter draft"))
	require.NoError(t, err)
	require.NotNil(t, tracker)
	return tracker
}

// changeCount reads the change-log counter for a table, zero if never written
func changeCount(t *testing.T, s Store, table string) uint64 {
	t.Helper()
	results, err := s.CheckChanges(context.Background(), []string{table}, time.Time{})
	require.NoError(t, err)
	return results[table].ChangeCount
}

// =============================================================================
// Tests
// =============================================================================

func testCreateDeliverableItem(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("creates item and tracker in one transaction", func(t *testing.T) {
		due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
		item, tracker, err := s.CreateDeliverableItem(ctx, CreateDeliverableItemInput{
			Effort:   "effort-alpha",
			Title:    "Chapter draft",
			Priority: 1,
			DueDate:  &due,
		})
		require.NoError(t, err)

		assert.NotZero(t, item.ID)
		assert.Equal(t, "Chapter draft", item.Title)

		assert.Equal(t, item.ID, tracker.ItemID)
		assert.Equal(t, domain.ProductionNotStarted, tracker.ProductionStatus)
		assert.Equal(t, domain.QCNotStarted, tracker.QCStatus)
		assert.Equal(t, 1, tracker.Priority)
		require.NotNil(t, tracker.DueDate)
		assert.Nil(t, tracker.ProductionAssignee)
		assert.Equal(t, 0, tracker.UnresolvedCommentCount)

		// Both change-log rows were touched
		results, err := s.CheckChanges(ctx, []string{schema.TableDeliverableItems, schema.TableTrackers}, time.Time{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, results[schema.TableDeliverableItems].ChangeCount, uint64(1))
		assert.GreaterOrEqual(t, results[schema.TableTrackers].ChangeCount, uint64(1))
	})

	t.Run("priority defaults to 2", func(t *testing.T) {
		_, tracker, err := s.CreateDeliverableItem(ctx, CreateDeliverableItemInput{
			Effort: "effort-alpha",
			Title:  "Untouched priority",
		})
		require.NoError(t, err)
		assert.Equal(t, 2, tracker.Priority)
	})

	t.Run("rejects out-of-range priority", func(t *testing.T) {
		_, _, err := s.CreateDeliverableItem(ctx, CreateDeliverableItemInput{
			Effort:   "effort-alpha",
			Title:    "Bad priority",
			Priority: 4,
		})
		assert.Error(t, err)
	})
}

func testAssignment(t *testing.T, s Store) {
	ctx := context.Background()
	tracker := createTestTracker(t, s)

	t.Run("assign and reassign", func(t *testing.T) {
		updated, err := s.AssignTracker(ctx, tracker.ID, domain.RoleProduction, "alice")
		require.NoError(t, err)
		require.NotNil(t, updated.ProductionAssignee)
		assert.Equal(t, "alice", *updated.ProductionAssignee)

		// Reassignment overwrites without intermediate unassign
		updated, err = s.AssignTracker(ctx, tracker.ID, domain.RoleProduction, "bob")
		require.NoError(t, err)
		assert.Equal(t, "bob", *updated.ProductionAssignee)
	})

	t.Run("unassign clears the slot", func(t *testing.T) {
		updated, err := s.UnassignTracker(ctx, tracker.ID, domain.RoleProduction)
		require.NoError(t, err)
		assert.Nil(t, updated.ProductionAssignee)
	})

	t.Run("unknown tracker", func(t *testing.T) {
		_, err := s.AssignTracker(ctx, 999999, domain.RoleQC, "carol")
		assert.ErrorIs(t, err, domain.ErrTrackerNotFound)
	})
}

func testStatusTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	tracker := createTestTracker(t, s)

	t.Run("qc blocked until production completed", func(t *testing.T) {
		_, err := s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleQC, "in_progress")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		_, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "in_progress")
		require.NoError(t, err)
		_, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleQC, "in_progress")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		updated, err := s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "completed")
		require.NoError(t, err)
		assert.Equal(t, domain.ProductionCompleted, updated.ProductionStatus)

		updated, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleQC, "in_progress")
		require.NoError(t, err)
		assert.Equal(t, domain.QCInProgress, updated.QCStatus)

		updated, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleQC, "failed")
		require.NoError(t, err)
		assert.Equal(t, domain.QCFailed, updated.QCStatus)
	})

	t.Run("production cannot regress while qc underway", func(t *testing.T) {
		// Continues from the previous subtest: production completed, qc failed
		_, err := s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "in_progress")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		// Resetting qc reopens production
		_, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleQC, "not_started")
		require.NoError(t, err)
		updated, err := s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "in_progress")
		require.NoError(t, err)
		assert.Equal(t, domain.ProductionInProgress, updated.ProductionStatus)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		_, err := s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "paused")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func testUpdateTrackerFields(t *testing.T, s Store) {
	ctx := context.Background()
	tracker := createTestTracker(t, s)

	t.Run("updates on a current base version", func(t *testing.T) {
		newPriority := 1
		due := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		updated, err := s.UpdateTrackerFields(ctx, UpdateTrackerFieldsInput{
			TrackerID:     tracker.ID,
			Priority:      &newPriority,
			DueDate:       &due,
			BaseUpdatedAt: tracker.UpdatedAt,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.Priority)
		require.NotNil(t, updated.DueDate)
		assert.True(t, updated.UpdatedAt.After(tracker.UpdatedAt))
		tracker = updated
	})

	t.Run("stale base version is rejected", func(t *testing.T) {
		newPriority := 3
		_, err := s.UpdateTrackerFields(ctx, UpdateTrackerFieldsInput{
			TrackerID:     tracker.ID,
			Priority:      &newPriority,
			BaseUpdatedAt: tracker.UpdatedAt.Add(-time.Hour),
		})
		var stale *domain.StaleMutationError
		require.ErrorAs(t, err, &stale)
		assert.Equal(t, tracker.ID, stale.ID)

		// The rejected write left no trace
		current, err := s.GetTracker(ctx, tracker.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, current.Priority)
	})

	t.Run("clear due date", func(t *testing.T) {
		current, err := s.GetTracker(ctx, tracker.ID)
		require.NoError(t, err)

		updated, err := s.UpdateTrackerFields(ctx, UpdateTrackerFieldsInput{
			TrackerID:     tracker.ID,
			ClearDueDate:  true,
			BaseUpdatedAt: current.UpdatedAt,
		})
		require.NoError(t, err)
		assert.Nil(t, updated.DueDate)
	})
}

func testDeleteTracker(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("blocked while assignees remain", func(t *testing.T) {
		tracker := createTestTracker(t, s)
		_, err := s.AssignTracker(ctx, tracker.ID, domain.RoleProduction, "alice")
		require.NoError(t, err)
		_, err = s.AssignTracker(ctx, tracker.ID, domain.RoleQC, "bob")
		require.NoError(t, err)

		err = s.DeleteTracker(ctx, tracker.ID)
		var blocked *domain.DeletionBlockedError
		require.ErrorAs(t, err, &blocked)
		assert.Len(t, blocked.Assignees, 2)

		// Nothing was deleted
		_, err = s.GetTracker(ctx, tracker.ID)
		assert.NoError(t, err)
	})

	t.Run("cascade once unassigned", func(t *testing.T) {
		tracker := createTestTracker(t, s)
		_, err := s.AssignTracker(ctx, tracker.ID, domain.RoleProduction, "alice")
		require.NoError(t, err)
		_, _, err = s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "alice",
			Text:      "first pass done",
		})
		require.NoError(t, err)

		_, err = s.UnassignTracker(ctx, tracker.ID, domain.RoleProduction)
		require.NoError(t, err)

		require.NoError(t, s.DeleteTracker(ctx, tracker.ID))

		_, err = s.GetTracker(ctx, tracker.ID)
		assert.ErrorIs(t, err, domain.ErrTrackerNotFound)
		_, err = s.GetDeliverableItem(ctx, tracker.ItemID)
		assert.ErrorIs(t, err, domain.ErrItemNotFound)

		comments, err := s.ListComments(ctx, tracker.ID)
		require.NoError(t, err)
		assert.Empty(t, comments)
	})

	t.Run("unknown tracker", func(t *testing.T) {
		err := s.DeleteTracker(ctx, 999999)
		assert.ErrorIs(t, err, domain.ErrTrackerNotFound)
	})
}

func testComments(t *testing.T, s Store) {
	ctx := context.Background()
	tracker := createTestTracker(t, s)

	var rootID uint64

	t.Run("create root comment bumps unresolved count", func(t *testing.T) {
		comment, updated, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "alice",
			Text:      "needs a source for figure 3",
		})
		require.NoError(t, err)
		assert.True(t, comment.IsRoot())
		assert.False(t, comment.IsResolved)
		assert.Equal(t, 1, updated.UnresolvedCommentCount)
		rootID = comment.ID
	})

	t.Run("replies do not change the count", func(t *testing.T) {
		_, updated, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "bob",
			ParentID:  &rootID,
			Text:      "added in the appendix",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.UnresolvedCommentCount)
	})

	t.Run("resolving a reply is rejected", func(t *testing.T) {
		comments, err := s.ListComments(ctx, tracker.ID)
		require.NoError(t, err)
		require.Len(t, comments, 2)

		var replyID uint64
		for _, c := range comments {
			if !c.IsRoot() {
				replyID = c.ID
			}
		}
		require.NotZero(t, replyID)

		_, _, err = s.ResolveComment(ctx, replyID, "bob")
		assert.ErrorIs(t, err, domain.ErrReplyNotResolvable)
	})

	t.Run("resolving the root drops the count", func(t *testing.T) {
		comment, updated, err := s.ResolveComment(ctx, rootID, "bob")
		require.NoError(t, err)
		assert.True(t, comment.IsResolved)
		require.NotNil(t, comment.ResolvedBy)
		assert.Equal(t, "bob", *comment.ResolvedBy)
		assert.NotNil(t, comment.ResolvedAt)
		assert.Equal(t, 0, updated.UnresolvedCommentCount)
	})

	t.Run("resolving twice is idempotent", func(t *testing.T) {
		first, _, err := s.ResolveComment(ctx, rootID, "bob")
		require.NoError(t, err)
		again, updated, err := s.ResolveComment(ctx, rootID, "carol")
		require.NoError(t, err)
		assert.Equal(t, first.ResolvedBy, again.ResolvedBy, "resolver is not overwritten")
		assert.Equal(t, 0, updated.UnresolvedCommentCount)
	})

	t.Run("parent from another tracker is rejected", func(t *testing.T) {
		other := createTestTracker(t, s)
		_, _, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: other.ID,
			AuthorID:  "alice",
			ParentID:  &rootID,
			Text:      "wrong thread",
		})
		assert.Error(t, err)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		_, _, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "alice",
		})
		assert.Error(t, err)
	})
}

func testCheckChanges(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("unwritten table reports no changes", func(t *testing.T) {
		// Comments table untouched at this point in a fresh transaction
		results, err := s.CheckChanges(ctx, []string{schema.TableComments}, time.Time{})
		require.NoError(t, err)
		result := results[schema.TableComments]
		assert.False(t, result.HasChanges)
		assert.Zero(t, result.ChangeCount)
	})

	t.Run("counter is monotonic across mutations", func(t *testing.T) {
		tracker := createTestTracker(t, s)
		before := changeCount(t, s, schema.TableTrackers)

		_, err := s.AssignTracker(ctx, tracker.ID, domain.RoleProduction, "alice")
		require.NoError(t, err)
		_, err = s.AdvanceTrackerStatus(ctx, tracker.ID, domain.RoleProduction, "in_progress")
		require.NoError(t, err)

		assert.Equal(t, before+2, changeCount(t, s, schema.TableTrackers))
	})

	t.Run("since filters stale polls", func(t *testing.T) {
		createTestTracker(t, s)

		results, err := s.CheckChanges(ctx, []string{schema.TableTrackers}, time.Time{})
		require.NoError(t, err)
		require.True(t, results[schema.TableTrackers].HasChanges)
		lastModified := results[schema.TableTrackers].LastModified

		// Polling from after the last write sees nothing new
		results, err = s.CheckChanges(ctx, []string{schema.TableTrackers}, lastModified.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, results[schema.TableTrackers].HasChanges)
		assert.True(t, lastModified.Equal(results[schema.TableTrackers].LastModified))
	})
}

func testSweeperSupport(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("list tracker ids pages in order", func(t *testing.T) {
		var ids []uint64
		for i := 0; i < 5; i++ {
			tracker := createTestTracker(t, s)
			ids = append(ids, tracker.ID)
		}

		page, err := s.ListTrackerIDs(ctx, 0, 3)
		require.NoError(t, err)
		require.Len(t, page, 3)
		assert.IsIncreasing(t, page)

		rest, err := s.ListTrackerIDs(ctx, page[len(page)-1], 100)
		require.NoError(t, err)
		assert.NotEmpty(t, rest)
		assert.Greater(t, rest[0], page[len(page)-1])

		// All created trackers are reachable by paging
		var all []uint64
		after := uint64(0)
		for {
			batch, err := s.ListTrackerIDs(ctx, after, 2)
			require.NoError(t, err)
			if len(batch) == 0 {
				break
			}
			all = append(all, batch...)
			after = batch[len(batch)-1]
		}
		assert.Subset(t, all, ids)
	})

	t.Run("recount reports clean counts untouched", func(t *testing.T) {
		tracker := createTestTracker(t, s)
		_, _, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "alice",
			Text:      "open question",
		})
		require.NoError(t, err)

		repaired, err := s.RecountUnresolvedComments(ctx, tracker.ID)
		require.NoError(t, err)
		assert.False(t, repaired)
	})

	t.Run("recount repairs drift", func(t *testing.T) {
		tracker := createTestTracker(t, s)
		_, _, err := s.CreateComment(ctx, CreateCommentInput{
			TrackerID: tracker.ID,
			AuthorID:  "alice",
			Text:      "open question",
		})
		require.NoError(t, err)

		// Simulate drift: corrupt the denormalized count directly
		pg, ok := s.(*pgStore)
		require.True(t, ok)
		require.NoError(t, pg.db.Model(&schema.Tracker{}).
			Where("id = ?", tracker.ID).
			Update("unresolved_comment_count", 7).Error)

		repaired, err := s.RecountUnresolvedComments(ctx, tracker.ID)
		require.NoError(t, err)
		assert.True(t, repaired)

		current, err := s.GetTracker(ctx, tracker.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, current.UnresolvedCommentCount)

		// Clean after repair
		repaired, err = s.RecountUnresolvedComments(ctx, tracker.ID)
		require.NoError(t, err)
		assert.False(t, repaired)
	})

	t.Run("recount on unknown tracker", func(t *testing.T) {
		_, err := s.RecountUnresolvedComments(ctx, 999999)
		assert.True(t, errors.Is(err, domain.ErrTrackerNotFound))
	})
}

// RunStoreTests runs the shared store test suite against an implementation.
// initDB is called per test; cleanup happens via t.Cleanup inside it.
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"CreateDeliverableItem", testCreateDeliverableItem},
		{"Assignment", testAssignment},
		{"StatusTransitions", testStatusTransitions},
		{"UpdateTrackerFields", testUpdateTrackerFields},
		{"DeleteTracker", testDeleteTracker},
		{"Comments", testComments},
		{"CheckChanges", testCheckChanges},
		{"SweeperSupport", testSweeperSupport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			tt.fn(t, store)
		})
	}
}
