// Package activity tracks what the local user is working on right now.
// It is rebuilt purely from UI signals and runs on the UI event loop, so it
// is deliberately not safe for concurrent use.
package activity

import (
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// ActivityWindow is how long after the last keyboard or pointer input an open
// editor still counts as actively used.
const ActivityWindow = 5 * time.Second

// Context holds the local activity state: which entities have an open edit
// surface, which have unsaved changes and on which fields, and when the user
// last touched the keyboard or pointer.
type Context struct {
	openEditors map[string]bool
	openModals  map[string]bool
	dirtyFields map[string]map[string]bool
	lastInputAt time.Time

	now func() time.Time
}

// New creates an empty activity context
func New() *Context {
	return &Context{
		openEditors: make(map[string]bool),
		openModals:  make(map[string]bool),
		dirtyFields: make(map[string]map[string]bool),
		now:         time.Now,
	}
}

// NewWithClock creates an activity context with an injected clock for tests
func NewWithClock(now func() time.Time) *Context {
	c := New()
	c.now = now
	return c
}

// OpenEditor records that an edit surface for the entity was opened
func (c *Context) OpenEditor(ref domain.EntityRef) {
	c.openEditors[ref.Key()] = true
}

// CloseEditor records that the entity's edit surface was closed. Any unsaved
// local state is gone with the surface, so the dirty set is cleared too.
func (c *Context) CloseEditor(ref domain.EntityRef) {
	delete(c.openEditors, ref.Key())
	delete(c.openModals, ref.Key())
	delete(c.dirtyFields, ref.Key())
}

// OpenModal records that the entity is being edited in a modal surface
func (c *Context) OpenModal(ref domain.EntityRef) {
	c.openEditors[ref.Key()] = true
	c.openModals[ref.Key()] = true
}

// CloseModal records that the entity's modal surface was closed. The editor
// underneath may still be open.
func (c *Context) CloseModal(ref domain.EntityRef) {
	delete(c.openModals, ref.Key())
}

// MarkDirty records unsaved local changes on the named fields
func (c *Context) MarkDirty(ref domain.EntityRef, fields ...string) {
	key := ref.Key()
	set := c.dirtyFields[key]
	if set == nil {
		set = make(map[string]bool)
		c.dirtyFields[key] = set
	}
	for _, f := range fields {
		set[f] = true
	}
}

// ClearDirty discards the dirty state, e.g. after a successful save
func (c *Context) ClearDirty(ref domain.EntityRef) {
	delete(c.dirtyFields, ref.Key())
}

// RecordInput records keyboard or pointer activity
func (c *Context) RecordInput() {
	c.lastInputAt = c.now()
}

// IsOpen reports whether the entity has an open edit surface
func (c *Context) IsOpen(ref domain.EntityRef) bool {
	return c.openEditors[ref.Key()]
}

// InModal reports whether the entity is being edited in a modal surface
func (c *Context) InModal(ref domain.EntityRef) bool {
	return c.openModals[ref.Key()]
}

// IsDirty reports whether the entity has unsaved local changes
func (c *Context) IsDirty(ref domain.EntityRef) bool {
	return len(c.dirtyFields[ref.Key()]) > 0
}

// DirtyFields returns the names of the entity's locally edited fields
func (c *Context) DirtyFields(ref domain.EntityRef) []string {
	set := c.dirtyFields[ref.Key()]
	if len(set) == 0 {
		return nil
	}
	fields := make([]string, 0, len(set))
	for f := range set {
		fields = append(fields, f)
	}
	return fields
}

// IsBusyWith reports whether the local user is actively working on the
// entity: its editor is open and there are unsaved changes or recent input.
func (c *Context) IsBusyWith(ref domain.EntityRef) bool {
	if !c.IsOpen(ref) {
		return false
	}
	if c.IsDirty(ref) {
		return true
	}
	return c.now().Sub(c.lastInputAt) < ActivityWindow
}
