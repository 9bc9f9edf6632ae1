package schema

import (
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// Comment represents the comments table. Comments form a tree via parent_id
// (flat rows, the tree view is reconstructed on read). Text is immutable
// after creation; only root comments can be resolved.
type Comment struct {
	ID         uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	TrackerID  uint64     `gorm:"column:tracker_id;not null;index"`
	AuthorID   string     `gorm:"column:author_id;not null;type:text"`
	ParentID   *uint64    `gorm:"column:parent_id;index"`
	Text       string     `gorm:"column:text;not null;type:text"`
	IsResolved bool       `gorm:"column:is_resolved;not null;default:false"`
	ResolvedBy *string    `gorm:"column:resolved_by;type:text"`
	ResolvedAt *time.Time `gorm:"column:resolved_at;type:timestamptz"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;default:now();type:timestamptz"`

	// Associations
	Tracker Tracker  `gorm:"foreignKey:TrackerID;constraint:OnDelete:CASCADE"`
	Parent  *Comment `gorm:"foreignKey:ParentID"`
}

// TableName specifies the table name for the Comment model
func (Comment) TableName() string {
	return "comments"
}

// IsRoot reports whether the comment is a thread root
func (c *Comment) IsRoot() bool {
	return c.ParentID == nil
}

// ToPayload converts the row into its wire representation
func (c *Comment) ToPayload() *domain.CommentPayload {
	return &domain.CommentPayload{
		ID:         c.ID,
		TrackerID:  c.TrackerID,
		AuthorID:   c.AuthorID,
		ParentID:   c.ParentID,
		Text:       c.Text,
		IsResolved: c.IsResolved,
		ResolvedBy: c.ResolvedBy,
		ResolvedAt: c.ResolvedAt,
	}
}

// CommentTree is a read-side index from parent id to children, built on read
// instead of keeping an in-memory pointer graph.
type CommentTree struct {
	Roots    []*Comment
	Children map[uint64][]*Comment
}

// BuildCommentTree indexes flat comment rows into a tree view
func BuildCommentTree(comments []*Comment) *CommentTree {
	tree := &CommentTree{
		Children: make(map[uint64][]*Comment),
	}
	for _, c := range comments {
		if c.ParentID == nil {
			tree.Roots = append(tree.Roots, c)
			continue
		}
		tree.Children[*c.ParentID] = append(tree.Children[*c.ParentID], c)
	}
	return tree
}
