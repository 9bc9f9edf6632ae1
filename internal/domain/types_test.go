package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEventType(t *testing.T) {
	assert.Equal(t, "tracker_update", FormatEventType(EntityKindTracker, OperationUpdate))
	assert.Equal(t, "comment_create", FormatEventType(EntityKindComment, OperationCreate))
	assert.Equal(t, "deliverable_item_delete", FormatEventType(EntityKindDeliverableItem, OperationDelete))
}

func TestParseEventType(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		wantKind  EntityKind
		wantOp    Operation
		wantErr   bool
	}{
		{
			name:      "tracker update",
			eventType: "tracker_update",
			wantKind:  EntityKindTracker,
			wantOp:    OperationUpdate,
		},
		{
			name:      "comment create",
			eventType: "comment_create",
			wantKind:  EntityKindComment,
			wantOp:    OperationCreate,
		},
		{
			name:      "kind containing underscore",
			eventType: "deliverable_item_update",
			wantKind:  EntityKindDeliverableItem,
			wantOp:    OperationUpdate,
		},
		{
			name:      "unknown kind",
			eventType: "widget_update",
			wantErr:   true,
		},
		{
			name:      "unknown operation",
			eventType: "tracker_upsert",
			wantErr:   true,
		},
		{
			name:      "no separator",
			eventType: "tracker",
			wantErr:   true,
		},
		{
			name:      "empty",
			eventType: "",
			wantErr:   true,
		},
		{
			name:      "trailing separator",
			eventType: "tracker_",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, op, err := ParseEventType(tt.eventType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantOp, op)
		})
	}
}

func TestCRUDEventValid(t *testing.T) {
	valid := func() *CRUDEvent {
		return &CRUDEvent{
			EventID: NewEventID(),
			Type:    "tracker_update",
			Entity:  EventEntity{Kind: EntityKindTracker, ID: 42},
			Context: EventContext{ActorID: "client-1", Timestamp: time.Now().UTC()},
		}
	}

	assert.True(t, valid().Valid())

	e := valid()
	e.Type = "tracker_upsert"
	assert.False(t, e.Valid())

	e = valid()
	e.Entity.Kind = EntityKindComment
	assert.False(t, e.Valid(), "type and entity kind must agree")

	e = valid()
	e.Entity.ID = 0
	assert.False(t, e.Valid())

	e = valid()
	e.Context.Timestamp = time.Time{}
	assert.False(t, e.Valid())
}

func TestDecodePayload(t *testing.T) {
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	payload := TrackerPayload{
		ID:       7,
		ItemID:   3,
		Priority: 1,
		DueDate:  &due,
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	event := &CRUDEvent{
		Type:   "tracker_update",
		Entity: EventEntity{Kind: EntityKindTracker, ID: 7, Data: data},
	}

	decoded, err := event.DecodePayload()
	require.NoError(t, err)
	tracker, ok := decoded.(*TrackerPayload)
	require.True(t, ok)
	assert.Equal(t, uint64(7), tracker.ID)
	assert.Equal(t, 1, tracker.Priority)
	require.NotNil(t, tracker.DueDate)
	assert.True(t, due.Equal(*tracker.DueDate))
}

func TestDecodePayloadEmptyData(t *testing.T) {
	event := &CRUDEvent{
		Type:   "tracker_delete",
		Entity: EventEntity{Kind: EntityKindTracker, ID: 7},
	}

	decoded, err := event.DecodePayload()
	require.NoError(t, err)
	assert.Nil(t, decoded, "delete events carry no body")
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	event := &CRUDEvent{
		Entity: EventEntity{Kind: EntityKind("widget"), Data: json.RawMessage(`{}`)},
	}

	_, err := event.DecodePayload()
	assert.Error(t, err)
}

func TestNewEventIDSortable(t *testing.T) {
	a := NewEventID()
	time.Sleep(2 * time.Millisecond)
	b := NewEventID()

	assert.Len(t, a, 26)
	assert.Less(t, a, b, "ulids must sort by creation time")
}

func TestNewEventIDUniqueWithinTick(t *testing.T) {
	// Back-to-back mints land in the same millisecond; the broker dedupes on
	// the event id, so a collision would silently drop an event
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		assert.False(t, seen[id], "duplicate event id %s", id)
		seen[id] = true
	}
}

func TestEntityRefKey(t *testing.T) {
	ref := EntityRef{Kind: EntityKindTracker, ID: 42}
	assert.Equal(t, "tracker/42", ref.Key())

	event := &CRUDEvent{
		Type:   "comment_create",
		Entity: EventEntity{Kind: EntityKindComment, ID: 9},
	}
	assert.Equal(t, EntityRef{Kind: EntityKindComment, ID: 9}, event.Ref())
}
