package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studyflow/tracker-sync/internal/domain"
)

var tracker7 = domain.EntityRef{Kind: domain.EntityKindTracker, ID: 7}

func TestIsBusyWith(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	c := NewWithClock(clock)

	// Editor closed: never busy, whatever else is going on
	c.RecordInput()
	assert.False(t, c.IsBusyWith(tracker7))

	c.OpenEditor(tracker7)
	assert.True(t, c.IsBusyWith(tracker7), "recent input with open editor")

	// Input ages out of the activity window
	now = now.Add(ActivityWindow + time.Second)
	assert.False(t, c.IsBusyWith(tracker7))

	// Dirty state keeps the entity busy regardless of input age
	c.MarkDirty(tracker7, "priority")
	assert.True(t, c.IsBusyWith(tracker7))

	c.ClearDirty(tracker7)
	assert.False(t, c.IsBusyWith(tracker7))

	// Fresh input inside the window
	c.RecordInput()
	now = now.Add(ActivityWindow - time.Second)
	assert.True(t, c.IsBusyWith(tracker7))
}

func TestBusyIsPerEntity(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c := NewWithClock(func() time.Time { return now })

	other := domain.EntityRef{Kind: domain.EntityKindTracker, ID: 8}

	c.OpenEditor(tracker7)
	c.RecordInput()

	assert.True(t, c.IsBusyWith(tracker7))
	assert.False(t, c.IsBusyWith(other), "input only counts for entities with open editors")
}

func TestCloseEditorClearsState(t *testing.T) {
	c := New()

	c.OpenModal(tracker7)
	c.MarkDirty(tracker7, "priority", "due_date")

	assert.True(t, c.IsOpen(tracker7))
	assert.True(t, c.InModal(tracker7))
	assert.True(t, c.IsDirty(tracker7))

	c.CloseEditor(tracker7)

	assert.False(t, c.IsOpen(tracker7))
	assert.False(t, c.InModal(tracker7))
	assert.False(t, c.IsDirty(tracker7), "unsaved state dies with the surface")
}

func TestCloseModalKeepsEditor(t *testing.T) {
	c := New()

	c.OpenModal(tracker7)
	c.MarkDirty(tracker7, "priority")
	c.CloseModal(tracker7)

	assert.True(t, c.IsOpen(tracker7))
	assert.False(t, c.InModal(tracker7))
	assert.True(t, c.IsDirty(tracker7))
}

func TestDirtyFields(t *testing.T) {
	c := New()

	assert.Nil(t, c.DirtyFields(tracker7))

	c.MarkDirty(tracker7, "priority")
	c.MarkDirty(tracker7, "due_date", "priority")

	fields := c.DirtyFields(tracker7)
	assert.ElementsMatch(t, []string{"priority", "due_date"}, fields)
}
