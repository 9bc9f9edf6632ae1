// Package strategy decides what to do with each incoming CRUD event based on
// local activity: apply it, notify, queue it, or open a conflict dialog.
// Like the activity context it runs on the UI event loop, one event at a
// time, and is not safe for concurrent use.
package strategy

import (
	"encoding/json"

	"github.com/studyflow/tracker-sync/internal/client/activity"
	"github.com/studyflow/tracker-sync/internal/domain"
)

// Strategy is the policy selected for one incoming event
type Strategy string

const (
	ApplyImmediately      Strategy = "apply_immediately"
	ApplyWithNotification Strategy = "apply_with_notification"
	QueueForIdle          Strategy = "queue_for_idle"
	QueueForModalClose    Strategy = "queue_for_modal_close"
	ShowConflictDialog    Strategy = "show_conflict_dialog"
)

// Applier updates the local entity state with a remote event. Implemented by
// the client's view model layer.
type Applier interface {
	Apply(event *domain.CRUDEvent) error
}

// Surface is the engine's outbound contract to the UI
type Surface interface {
	// Notify shows a passive "this changed elsewhere" indicator
	Notify(event *domain.CRUDEvent)
	// NotifyDeletion shows a blocking notice that the entity the user had
	// open was deleted remotely; the engine has already closed the editor
	NotifyDeletion(ref domain.EntityRef, event *domain.CRUDEvent)
	// ShowConflictDialog opens the conflict resolution dialog with the
	// remote event and the names of the locally edited fields in conflict
	ShowConflictDialog(event *domain.CRUDEvent, conflictingFields []string)
}

// rule is one row of the decision table. Rules are evaluated in order and the
// first match wins.
type rule struct {
	name     string
	match    func(e *domain.CRUDEvent) bool
	strategy Strategy
}

// Engine selects and executes one strategy per incoming event
type Engine struct {
	activity *activity.Context
	applier  Applier
	surface  Surface

	rules []rule

	// Per-entity idempotence and staleness state
	lastSeq    map[string]uint64
	appliedIDs map[string]bool
	baselines  map[string]map[string]json.RawMessage

	// Deferred events, latest per entity; intermediate states are superseded
	idleQueue  map[string]*domain.CRUDEvent
	modalQueue map[string]*domain.CRUDEvent
}

// NewEngine creates a strategy engine bound to an activity context
func NewEngine(act *activity.Context, applier Applier, surface Surface) *Engine {
	e := &Engine{
		activity:   act,
		applier:    applier,
		surface:    surface,
		lastSeq:    make(map[string]uint64),
		appliedIDs: make(map[string]bool),
		baselines:  make(map[string]map[string]json.RawMessage),
		idleQueue:  make(map[string]*domain.CRUDEvent),
		modalQueue: make(map[string]*domain.CRUDEvent),
	}

	e.rules = []rule{
		{
			name:     "non-conflicting field",
			match:    e.isNonConflicting,
			strategy: ApplyImmediately,
		},
		{
			name: "editor not open",
			match: func(ev *domain.CRUDEvent) bool {
				return !e.activity.IsOpen(ev.Ref())
			},
			strategy: ApplyWithNotification,
		},
		{
			name: "editor open, no unsaved changes",
			match: func(ev *domain.CRUDEvent) bool {
				return !e.activity.IsDirty(ev.Ref())
			},
			strategy: QueueForIdle,
		},
		{
			name: "modal surface open",
			match: func(ev *domain.CRUDEvent) bool {
				return e.activity.InModal(ev.Ref())
			},
			strategy: QueueForModalClose,
		},
		{
			name: "remote change overlaps local edits",
			match: func(ev *domain.CRUDEvent) bool {
				return len(e.conflictingFields(ev)) > 0
			},
			strategy: ShowConflictDialog,
		},
		{
			// Dirty editor, non-modal, disjoint fields: deferring until idle
			// is safe because the remote change cannot clobber the draft
			name:     "dirty but disjoint",
			match:    func(ev *domain.CRUDEvent) bool { return true },
			strategy: QueueForIdle,
		},
	}

	return e
}

// Decide returns the strategy the decision table selects for the event
func (e *Engine) Decide(event *domain.CRUDEvent) Strategy {
	for _, r := range e.rules {
		if r.match(event) {
			return r.strategy
		}
	}
	return ApplyWithNotification
}

// HandleEvent processes one incoming event. Replaying an already-applied or
// stale event is a no-op. Deletions bypass the decision table entirely.
func (e *Engine) HandleEvent(event *domain.CRUDEvent) error {
	if e.isStale(event) {
		return nil
	}

	if event.Operation() == domain.OperationDelete {
		return e.applyDeletion(event)
	}

	switch e.Decide(event) {
	case ApplyImmediately:
		return e.applyNow(event)

	case ApplyWithNotification:
		if err := e.applyNow(event); err != nil {
			return err
		}
		e.surface.Notify(event)
		return nil

	case QueueForIdle:
		e.idleQueue[event.Ref().Key()] = event
		return nil

	case QueueForModalClose:
		e.modalQueue[event.Ref().Key()] = event
		return nil

	case ShowConflictDialog:
		e.surface.ShowConflictDialog(event, e.conflictingFields(event))
		return nil
	}

	return nil
}

// CheckIdle applies queued events whose entity is no longer busy. Called by
// the UI loop whenever activity may have quiesced.
func (e *Engine) CheckIdle() error {
	for key, event := range e.idleQueue {
		if e.activity.IsBusyWith(event.Ref()) {
			continue
		}
		delete(e.idleQueue, key)
		if e.isStale(event) {
			continue
		}
		if err := e.applyNow(event); err != nil {
			return err
		}
	}
	return nil
}

// ModalClosed applies the event queued behind the entity's modal surface
func (e *Engine) ModalClosed(ref domain.EntityRef) error {
	e.activity.CloseModal(ref)

	event, ok := e.modalQueue[ref.Key()]
	if !ok {
		return nil
	}
	delete(e.modalQueue, ref.Key())

	if e.isStale(event) {
		return nil
	}
	return e.applyNow(event)
}

// EditorClosed cancels pending queued events for the entity. They are not
// applied: the next open of that editor fetches fresh state instead of
// replaying the queue.
func (e *Engine) EditorClosed(ref domain.EntityRef) {
	e.activity.CloseEditor(ref)
	delete(e.idleQueue, ref.Key())
	delete(e.modalQueue, ref.Key())
}

// Pending reports whether a deferred event is held for the entity
func (e *Engine) Pending(ref domain.EntityRef) bool {
	_, idle := e.idleQueue[ref.Key()]
	_, modal := e.modalQueue[ref.Key()]
	return idle || modal
}

// isStale reports whether the event was already applied or superseded
func (e *Engine) isStale(event *domain.CRUDEvent) bool {
	if e.appliedIDs[event.EventID] {
		return true
	}
	if event.Seq > 0 && event.Seq <= e.lastSeq[event.Ref().Key()] {
		return true
	}
	return false
}

// applyNow applies the event to local state and records it as applied
func (e *Engine) applyNow(event *domain.CRUDEvent) error {
	if err := e.applier.Apply(event); err != nil {
		return err
	}
	e.markApplied(event)
	return nil
}

// applyDeletion force-closes any open surface for the deleted entity, drops
// queued edits against it and applies the deletion with a blocking notice.
// A queued edit against a deleted entity is meaningless.
func (e *Engine) applyDeletion(event *domain.CRUDEvent) error {
	ref := event.Ref()
	wasOpen := e.activity.IsOpen(ref)

	delete(e.idleQueue, ref.Key())
	delete(e.modalQueue, ref.Key())
	e.activity.CloseEditor(ref)

	if err := e.applier.Apply(event); err != nil {
		return err
	}
	e.markApplied(event)

	if wasOpen {
		e.surface.NotifyDeletion(ref, event)
	} else {
		e.surface.Notify(event)
	}
	return nil
}

// markApplied records the event for idempotence and refreshes the baseline
// used for field overlap detection
func (e *Engine) markApplied(event *domain.CRUDEvent) {
	key := event.Ref().Key()
	e.appliedIDs[event.EventID] = true
	if event.Seq > e.lastSeq[key] {
		e.lastSeq[key] = event.Seq
	}

	if event.Operation() == domain.OperationDelete {
		delete(e.baselines, key)
		return
	}
	if fields := decodeFields(event); fields != nil {
		e.baselines[key] = fields
	}
}

// isNonConflicting matches events that only touch denormalized fields the
// user never edits directly. Cascade updates (a tracker row touched because a
// comment changed its unresolved count) carry the causing ids in
// affected_ids.
func (e *Engine) isNonConflicting(event *domain.CRUDEvent) bool {
	return event.Operation() == domain.OperationUpdate && len(event.Context.AffectedIDs) > 0
}

// conflictingFields returns the locally dirty fields that the event also
// changed. Events carry the entity's full representation, so "changed" is
// computed against the last applied baseline; without a baseline every field
// counts as changed.
func (e *Engine) conflictingFields(event *domain.CRUDEvent) []string {
	dirty := e.activity.DirtyFields(event.Ref())
	if len(dirty) == 0 {
		return nil
	}

	remote := decodeFields(event)
	if remote == nil {
		return dirty
	}

	baseline := e.baselines[event.Ref().Key()]

	var conflicting []string
	for _, field := range dirty {
		remoteValue, inRemote := remote[field]
		if !inRemote {
			continue
		}
		if baseline == nil {
			conflicting = append(conflicting, field)
			continue
		}
		baseValue, inBase := baseline[field]
		if !inBase || string(baseValue) != string(remoteValue) {
			conflicting = append(conflicting, field)
		}
	}
	return conflicting
}

// decodeFields splits the event payload into its top-level fields
func decodeFields(event *domain.CRUDEvent) map[string]json.RawMessage {
	if len(event.Entity.Data) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(event.Entity.Data, &fields); err != nil {
		return nil
	}
	return fields
}
