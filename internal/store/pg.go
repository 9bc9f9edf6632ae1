package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
	"github.com/studyflow/tracker-sync/internal/workflow"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime =
		NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime)

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// NormalizeConnectionPoolSettings applies defaults and clamps pool settings
// into safe values.
//
// Notes:
//   - database/sql treats MaxOpenConns=0 as "unlimited"
//   - database/sql treats MaxIdleConns=0 as "no idle connections"
func NormalizeConnectionPoolSettings(maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (int, int, time.Duration, time.Duration) {
	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	return maxOpenConns, maxIdleConns, connMaxLifetime, connMaxIdleTime
}

// recordChange upserts the change-log row for a table, incrementing the
// monotonic counter. Must run inside the same transaction as the write it
// records, so a poller never observes last_modified without being able to
// refetch the committed state.
func recordChange(tx *gorm.DB, tableName string, meta schema.ChangeLogMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal change log meta: %w", err)
	}

	entry := schema.ChangeLogEntry{
		Table:        tableName,
		LastModified: time.Now().UTC(),
		ChangeCount:  1,
		Meta:         metaJSON,
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "table_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"change_count":  gorm.Expr("change_log.change_count + 1"),
			"last_modified": entry.LastModified,
			"meta":          metaJSON,
		}),
	}).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record change for %s: %w", tableName, err)
	}

	return nil
}

// lockTracker fetches a tracker row FOR UPDATE inside a transaction
func lockTracker(tx *gorm.DB, trackerID uint64) (*schema.Tracker, error) {
	var tracker schema.Tracker
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", trackerID).
		First(&tracker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTrackerNotFound
		}
		return nil, fmt.Errorf("failed to lock tracker: %w", err)
	}
	return &tracker, nil
}

// CreateDeliverableItem creates a deliverable item and its tracker in one transaction
func (s *pgStore) CreateDeliverableItem(ctx context.Context, input CreateDeliverableItemInput) (*schema.DeliverableItem, *schema.Tracker, error) {
	if input.Priority == 0 {
		input.Priority = 2
	}
	if input.Priority < 1 || input.Priority > 3 {
		return nil, nil, fmt.Errorf("priority must be between 1 and 3, got %d", input.Priority)
	}

	var item schema.DeliverableItem
	var tracker schema.Tracker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item = schema.DeliverableItem{
			Effort: input.Effort,
			Title:  input.Title,
		}
		if err := tx.Create(&item).Error; err != nil {
			return fmt.Errorf("failed to create deliverable item: %w", err)
		}

		tracker = schema.Tracker{
			ItemID:           item.ID,
			ProductionStatus: domain.ProductionNotStarted,
			QCStatus:         domain.QCNotStarted,
			Priority:         input.Priority,
			DueDate:          input.DueDate,
		}
		if err := tx.Create(&tracker).Error; err != nil {
			return fmt.Errorf("failed to create tracker: %w", err)
		}

		if err := recordChange(tx, schema.TableDeliverableItems, schema.ChangeLogMeta{LastEntityID: item.ID}); err != nil {
			return err
		}
		return recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: tracker.ID})
	})
	if err != nil {
		return nil, nil, err
	}

	return &item, &tracker, nil
}

// GetDeliverableItem retrieves a deliverable item by id
func (s *pgStore) GetDeliverableItem(ctx context.Context, id uint64) (*schema.DeliverableItem, error) {
	var item schema.DeliverableItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get deliverable item: %w", err)
	}
	return &item, nil
}

// GetTracker retrieves a tracker by id
func (s *pgStore) GetTracker(ctx context.Context, id uint64) (*schema.Tracker, error) {
	var tracker schema.Tracker
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&tracker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTrackerNotFound
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}
	return &tracker, nil
}

// AssignTracker sets the assignee for a role
func (s *pgStore) AssignTracker(ctx context.Context, trackerID uint64, role domain.Role, user string) (*schema.Tracker, error) {
	return s.mutateTracker(ctx, trackerID, func(t *schema.Tracker) (*schema.Tracker, error) {
		return workflow.Assign(t, role, user)
	})
}

// UnassignTracker clears the assignee for a role
func (s *pgStore) UnassignTracker(ctx context.Context, trackerID uint64, role domain.Role) (*schema.Tracker, error) {
	return s.mutateTracker(ctx, trackerID, func(t *schema.Tracker) (*schema.Tracker, error) {
		return workflow.Unassign(t, role)
	})
}

// AdvanceTrackerStatus moves a role's status, enforcing the production -> QC gate
func (s *pgStore) AdvanceTrackerStatus(ctx context.Context, trackerID uint64, role domain.Role, status string) (*schema.Tracker, error) {
	return s.mutateTracker(ctx, trackerID, func(t *schema.Tracker) (*schema.Tracker, error) {
		return workflow.AdvanceStatus(t, role, status)
	})
}

// mutateTracker locks the tracker row, applies a state-machine operation to
// the locked state and persists the result, recording the change in the same
// transaction. The lock guarantees the state-machine check sees the committed
// state, not a stale read.
func (s *pgStore) mutateTracker(ctx context.Context, trackerID uint64, op func(*schema.Tracker) (*schema.Tracker, error)) (*schema.Tracker, error) {
	var result *schema.Tracker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracker, err := lockTracker(tx, trackerID)
		if err != nil {
			return err
		}

		updated, err := op(tracker)
		if err != nil {
			return err
		}

		if err := tx.Save(updated).Error; err != nil {
			return fmt.Errorf("failed to save tracker: %w", err)
		}

		if err := recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: trackerID}); err != nil {
			return err
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateTrackerFields updates priority/due date with an optimistic-concurrency check
func (s *pgStore) UpdateTrackerFields(ctx context.Context, input UpdateTrackerFieldsInput) (*schema.Tracker, error) {
	if input.Priority != nil && (*input.Priority < 1 || *input.Priority > 3) {
		return nil, fmt.Errorf("priority must be between 1 and 3, got %d", *input.Priority)
	}

	var result *schema.Tracker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracker, err := lockTracker(tx, input.TrackerID)
		if err != nil {
			return err
		}

		// Optimistic concurrency: the caller's base version must still be
		// current. Truncate to microseconds to match timestamptz precision.
		if !tracker.UpdatedAt.Truncate(time.Microsecond).Equal(input.BaseUpdatedAt.Truncate(time.Microsecond)) {
			return &domain.StaleMutationError{Kind: domain.EntityKindTracker, ID: input.TrackerID}
		}

		updated := *tracker
		if input.Priority != nil {
			updated.Priority = *input.Priority
		}
		if input.ClearDueDate {
			updated.DueDate = nil
		} else if input.DueDate != nil {
			updated.DueDate = input.DueDate
		}
		updated.UpdatedAt = time.Now().UTC()

		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("failed to save tracker: %w", err)
		}

		if err := recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: input.TrackerID}); err != nil {
			return err
		}

		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DeleteTracker deletes a tracker and its owning item. The deletion guard
// runs on the locked row immediately before the delete statement, so an
// assignment committed after an API-boundary check still blocks the delete.
func (s *pgStore) DeleteTracker(ctx context.Context, trackerID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracker, err := lockTracker(tx, trackerID)
		if err != nil {
			return err
		}

		if err := workflow.CanDelete(tracker); err != nil {
			return err
		}

		if err := tx.Where("tracker_id = ?", trackerID).Delete(&schema.Comment{}).Error; err != nil {
			return fmt.Errorf("failed to delete comments: %w", err)
		}
		if err := tx.Delete(&schema.Tracker{}, trackerID).Error; err != nil {
			return fmt.Errorf("failed to delete tracker: %w", err)
		}
		if err := tx.Delete(&schema.DeliverableItem{}, tracker.ItemID).Error; err != nil {
			return fmt.Errorf("failed to delete deliverable item: %w", err)
		}

		if err := recordChange(tx, schema.TableComments, schema.ChangeLogMeta{LastEntityID: trackerID}); err != nil {
			return err
		}
		if err := recordChange(tx, schema.TableDeliverableItems, schema.ChangeLogMeta{LastEntityID: tracker.ItemID}); err != nil {
			return err
		}
		return recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: trackerID})
	})
}

// CreateComment creates a comment and recomputes the tracker's unresolved
// root-comment count in the same transaction
func (s *pgStore) CreateComment(ctx context.Context, input CreateCommentInput) (*schema.Comment, *schema.Tracker, error) {
	if input.Text == "" {
		return nil, nil, errors.New("comment text must not be empty")
	}

	var comment schema.Comment
	var tracker *schema.Tracker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockTracker(tx, input.TrackerID)
		if err != nil {
			return err
		}

		if input.ParentID != nil {
			var parent schema.Comment
			if err := tx.Where("id = ?", *input.ParentID).First(&parent).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrCommentNotFound
				}
				return fmt.Errorf("failed to get parent comment: %w", err)
			}
			if parent.TrackerID != input.TrackerID {
				return fmt.Errorf("parent comment %d belongs to a different tracker", *input.ParentID)
			}
		}

		comment = schema.Comment{
			TrackerID: input.TrackerID,
			AuthorID:  input.AuthorID,
			ParentID:  input.ParentID,
			Text:      input.Text,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return fmt.Errorf("failed to create comment: %w", err)
		}

		tracker, err = recountUnresolved(tx, locked)
		if err != nil {
			return err
		}

		if err := recordChange(tx, schema.TableComments, schema.ChangeLogMeta{LastEntityID: comment.ID}); err != nil {
			return err
		}
		return recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: input.TrackerID})
	})
	if err != nil {
		return nil, nil, err
	}

	return &comment, tracker, nil
}

// ResolveComment marks a root comment resolved and recomputes the count.
// Resolving a root does not cascade to its replies.
func (s *pgStore) ResolveComment(ctx context.Context, commentID uint64, resolvedBy string) (*schema.Comment, *schema.Tracker, error) {
	var comment schema.Comment
	var tracker *schema.Tracker

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", commentID).
			First(&comment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrCommentNotFound
			}
			return fmt.Errorf("failed to get comment: %w", err)
		}

		if !comment.IsRoot() {
			return domain.ErrReplyNotResolvable
		}

		locked, err := lockTracker(tx, comment.TrackerID)
		if err != nil {
			return err
		}

		if !comment.IsResolved {
			now := time.Now().UTC()
			comment.IsResolved = true
			comment.ResolvedBy = &resolvedBy
			comment.ResolvedAt = &now
			if err := tx.Save(&comment).Error; err != nil {
				return fmt.Errorf("failed to save comment: %w", err)
			}
		}

		tracker, err = recountUnresolved(tx, locked)
		if err != nil {
			return err
		}

		if err := recordChange(tx, schema.TableComments, schema.ChangeLogMeta{LastEntityID: commentID}); err != nil {
			return err
		}
		return recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: comment.TrackerID})
	})
	if err != nil {
		return nil, nil, err
	}

	return &comment, tracker, nil
}

// recountUnresolved recomputes unresolved_comment_count for a locked tracker
// from the comment rows and persists it
func recountUnresolved(tx *gorm.DB, tracker *schema.Tracker) (*schema.Tracker, error) {
	var count int64
	if err := tx.Model(&schema.Comment{}).
		Where("tracker_id = ? AND parent_id IS NULL AND is_resolved = false", tracker.ID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count unresolved comments: %w", err)
	}

	updated := *tracker
	updated.UnresolvedCommentCount = int(count)
	updated.UpdatedAt = time.Now().UTC()
	if err := tx.Save(&updated).Error; err != nil {
		return nil, fmt.Errorf("failed to save tracker: %w", err)
	}

	return &updated, nil
}

// ListComments returns all comments of a tracker as flat rows
func (s *pgStore) ListComments(ctx context.Context, trackerID uint64) ([]*schema.Comment, error) {
	var comments []schema.Comment
	err := s.db.WithContext(ctx).
		Where("tracker_id = ?", trackerID).
		Order("id ASC").
		Find(&comments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	results := make([]*schema.Comment, 0, len(comments))
	for i := range comments {
		results = append(results, &comments[i])
	}
	return results, nil
}

// CheckChanges reads the change-log rows for the given tables. Pure read.
func (s *pgStore) CheckChanges(ctx context.Context, tables []string, since time.Time) (map[string]ChangeCheckResult, error) {
	var entries []schema.ChangeLogEntry
	err := s.db.WithContext(ctx).
		Where("table_name IN ?", tables).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}

	byTable := make(map[string]schema.ChangeLogEntry, len(entries))
	for _, e := range entries {
		byTable[e.Table] = e
	}

	results := make(map[string]ChangeCheckResult, len(tables))
	for _, table := range tables {
		entry, ok := byTable[table]
		if !ok {
			// Never written; nothing to refetch
			results[table] = ChangeCheckResult{}
			continue
		}
		results[table] = ChangeCheckResult{
			HasChanges:   entry.LastModified.After(since),
			LastModified: entry.LastModified,
			ChangeCount:  entry.ChangeCount,
		}
	}

	return results, nil
}

// ListTrackerIDs pages through tracker ids for the reconciliation sweeper
func (s *pgStore) ListTrackerIDs(ctx context.Context, afterID uint64, limit int) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&schema.Tracker{}).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker ids: %w", err)
	}
	return ids, nil
}

// RecountUnresolvedComments repairs a drifted unresolved_comment_count.
// Returns true when the stored value had to be corrected.
func (s *pgStore) RecountUnresolvedComments(ctx context.Context, trackerID uint64) (bool, error) {
	repaired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tracker, err := lockTracker(tx, trackerID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&schema.Comment{}).
			Where("tracker_id = ? AND parent_id IS NULL AND is_resolved = false", trackerID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count unresolved comments: %w", err)
		}

		if tracker.UnresolvedCommentCount == int(count) {
			return nil
		}

		repaired = true
		tracker.UnresolvedCommentCount = int(count)
		tracker.UpdatedAt = time.Now().UTC()
		if err := tx.Save(tracker).Error; err != nil {
			return fmt.Errorf("failed to save tracker: %w", err)
		}

		return recordChange(tx, schema.TableTrackers, schema.ChangeLogMeta{LastEntityID: trackerID})
	})
	if err != nil {
		return false, err
	}

	return repaired, nil
}
