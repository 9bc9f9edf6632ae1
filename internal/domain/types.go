package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityKind identifies the kind of entity a CRUD event refers to
type EntityKind string

const (
	EntityKindTracker         EntityKind = "tracker"
	EntityKindComment         EntityKind = "comment"
	EntityKindDeliverableItem EntityKind = "deliverable_item"
)

// IsValidEntityKind checks if an entity kind is known
func IsValidEntityKind(kind EntityKind) bool {
	return kind == EntityKindTracker ||
		kind == EntityKindComment ||
		kind == EntityKindDeliverableItem
}

// Operation represents the mutation type of a CRUD event
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// IsValidOperation checks if an operation is known
func IsValidOperation(op Operation) bool {
	return op == OperationCreate || op == OperationUpdate || op == OperationDelete
}

// Role identifies which assignment slot of a tracker an operation targets
type Role string

const (
	RoleProduction Role = "production"
	RoleQC         Role = "qc"
)

// IsValidRole checks if a role is known
func IsValidRole(role Role) bool {
	return role == RoleProduction || role == RoleQC
}

// ProductionStatus represents the production workflow state of a tracker
type ProductionStatus string

const (
	ProductionNotStarted ProductionStatus = "not_started"
	ProductionInProgress ProductionStatus = "in_progress"
	ProductionCompleted  ProductionStatus = "completed"
	ProductionOnHold     ProductionStatus = "on_hold"
)

// IsValidProductionStatus checks if a production status is known
func IsValidProductionStatus(s ProductionStatus) bool {
	return s == ProductionNotStarted || s == ProductionInProgress ||
		s == ProductionCompleted || s == ProductionOnHold
}

// QCStatus represents the QC workflow state of a tracker
type QCStatus string

const (
	QCNotStarted QCStatus = "not_started"
	QCInProgress QCStatus = "in_progress"
	QCCompleted  QCStatus = "completed"
	QCFailed     QCStatus = "failed"
)

// IsValidQCStatus checks if a QC status is known
func IsValidQCStatus(s QCStatus) bool {
	return s == QCNotStarted || s == QCInProgress || s == QCCompleted || s == QCFailed
}

// EntityRef identifies one entity across the client-side engine
type EntityRef struct {
	Kind EntityKind
	ID   uint64
}

// Key returns the canonical map key for the reference
func (r EntityRef) Key() string {
	return fmt.Sprintf("%s/%d", r.Kind, r.ID)
}

// Ref returns the entity reference of the event
func (e *CRUDEvent) Ref() EntityRef {
	return EntityRef{Kind: e.Entity.Kind, ID: e.Entity.ID}
}

// EventEntity carries the entity reference and its full current representation.
// Data is opaque at the transport layer and decoded by kind at the boundary.
type EventEntity struct {
	Kind EntityKind      `json:"kind"`
	ID   uint64          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventContext carries the actor and cascade information of a mutation
type EventContext struct {
	ActorID     string    `json:"actor_id"`
	Timestamp   time.Time `json:"timestamp"`
	AffectedIDs []uint64  `json:"affected_ids,omitempty"`
}

// CRUDEvent is the wire message fanned out for every committed mutation.
// Seq is a per-entity-id sequence number stamped by the broadcast hub at
// publish time; events for the same entity id are delivered in Seq order.
type CRUDEvent struct {
	EventID string       `json:"event_id"`
	Type    string       `json:"type"` // "{entity}_{create|update|delete}"
	Entity  EventEntity  `json:"entity"`
	Context EventContext `json:"context"`
	Seq     uint64       `json:"seq,omitempty"`
}

// NewEventID returns a new sortable event identifier. The default entropy
// source is monotonic, so ids minted in the same millisecond stay unique and
// ordered.
func NewEventID() string {
	return ulid.MustNewDefault(time.Now().UTC()).String()
}

// FormatEventType builds the event type string from its parts
func FormatEventType(kind EntityKind, op Operation) string {
	return fmt.Sprintf("%s_%s", kind, op)
}

// ParseEventType splits an event type string into entity kind and operation.
// The operation is always the suffix after the last underscore, so kinds that
// themselves contain underscores (deliverable_item) parse correctly.
func ParseEventType(eventType string) (EntityKind, Operation, error) {
	idx := strings.LastIndex(eventType, "_")
	if idx <= 0 || idx == len(eventType)-1 {
		return "", "", fmt.Errorf("malformed event type: %q", eventType)
	}

	kind := EntityKind(eventType[:idx])
	op := Operation(eventType[idx+1:])

	if !IsValidEntityKind(kind) {
		return "", "", fmt.Errorf("unknown entity kind in event type: %q", eventType)
	}
	if !IsValidOperation(op) {
		return "", "", fmt.Errorf("unknown operation in event type: %q", eventType)
	}

	return kind, op, nil
}

// Kind returns the entity kind parsed from the event type
func (e *CRUDEvent) Kind() EntityKind {
	kind, _, err := ParseEventType(e.Type)
	if err != nil {
		return e.Entity.Kind
	}
	return kind
}

// Operation returns the operation parsed from the event type
func (e *CRUDEvent) Operation() Operation {
	_, op, err := ParseEventType(e.Type)
	if err != nil {
		return ""
	}
	return op
}

// Valid checks structural validity of an event
func (e *CRUDEvent) Valid() bool {
	kind, _, err := ParseEventType(e.Type)
	if err != nil {
		return false
	}
	if e.Entity.Kind != kind {
		return false
	}
	if e.Entity.ID == 0 {
		return false
	}
	if e.Context.Timestamp.IsZero() {
		return false
	}
	return true
}

// TrackerPayload is the full wire representation of a tracker
type TrackerPayload struct {
	ID                     uint64           `json:"id"`
	ItemID                 uint64           `json:"item_id"`
	ProductionAssignee     *string          `json:"production_assignee"`
	QCAssignee             *string          `json:"qc_assignee"`
	ProductionStatus       ProductionStatus `json:"production_status"`
	QCStatus               QCStatus         `json:"qc_status"`
	Priority               int              `json:"priority"`
	DueDate                *time.Time       `json:"due_date"`
	UnresolvedCommentCount int              `json:"unresolved_comment_count"`
	UpdatedAt              time.Time        `json:"updated_at"`
}

// CommentPayload is the full wire representation of a comment
type CommentPayload struct {
	ID         uint64     `json:"id"`
	TrackerID  uint64     `json:"tracker_id"`
	AuthorID   string     `json:"author_id"`
	ParentID   *uint64    `json:"parent_id"`
	Text       string     `json:"text"`
	IsResolved bool       `json:"is_resolved"`
	ResolvedBy *string    `json:"resolved_by"`
	ResolvedAt *time.Time `json:"resolved_at"`
}

// DeliverableItemPayload is the full wire representation of a deliverable item
type DeliverableItemPayload struct {
	ID        uint64    `json:"id"`
	Effort    string    `json:"effort"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecodePayload decodes the opaque entity data into the concrete payload type
// for the event's entity kind. Returns nil for delete events with no body.
func (e *CRUDEvent) DecodePayload() (interface{}, error) {
	if len(e.Entity.Data) == 0 {
		return nil, nil
	}

	switch e.Entity.Kind {
	case EntityKindTracker:
		var p TrackerPayload
		if err := json.Unmarshal(e.Entity.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode tracker payload: %w", err)
		}
		return &p, nil
	case EntityKindComment:
		var p CommentPayload
		if err := json.Unmarshal(e.Entity.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode comment payload: %w", err)
		}
		return &p, nil
	case EntityKindDeliverableItem:
		var p DeliverableItemPayload
		if err := json.Unmarshal(e.Entity.Data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode deliverable item payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown entity kind: %q", e.Entity.Kind)
	}
}
