package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/logger"
	"github.com/studyflow/tracker-sync/internal/messaging"
	"github.com/studyflow/tracker-sync/internal/store"
)

// actorHeader identifies the mutating client. Echoed back on every event so
// clients can suppress their own changes.
const actorHeader = "X-Actor-ID"

// Handler defines the interface for REST API handlers
type Handler interface {
	// CreateItem creates a deliverable item together with its tracker
	// POST /api/v1/items
	CreateItem(c *gin.Context)

	// GetItem retrieves a deliverable item by id
	// GET /api/v1/items/:id
	GetItem(c *gin.Context)

	// GetTracker retrieves a tracker by id
	// GET /api/v1/trackers/:id
	GetTracker(c *gin.Context)

	// UpdateTracker updates priority and due date with an optimistic check
	// PATCH /api/v1/trackers/:id
	UpdateTracker(c *gin.Context)

	// DeleteTracker deletes a tracker, its item and its comments. Blocked
	// with 409 while either assignee slot is set.
	// DELETE /api/v1/trackers/:id
	DeleteTracker(c *gin.Context)

	// Assign sets the assignee for a role
	// PUT /api/v1/trackers/:id/assignees/:role
	Assign(c *gin.Context)

	// Unassign clears the assignee for a role
	// DELETE /api/v1/trackers/:id/assignees/:role
	Unassign(c *gin.Context)

	// AdvanceStatus moves a role's workflow status
	// POST /api/v1/trackers/:id/status
	AdvanceStatus(c *gin.Context)

	// CreateComment creates a comment or a reply on a tracker
	// POST /api/v1/trackers/:id/comments
	CreateComment(c *gin.Context)

	// ListComments lists all comments of a tracker as flat rows
	// GET /api/v1/trackers/:id/comments
	ListComments(c *gin.Context)

	// ResolveComment marks a root comment resolved
	// POST /api/v1/comments/:id/resolve
	ResolveComment(c *gin.Context)

	// CheckChanges answers the polling fallback: per-table change counters
	// GET /api/v1/changes/check?tables=trackers,comments&since=<RFC3339>
	CheckChanges(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store     store.Store
	publisher messaging.Publisher
}

// NewHandler creates a new REST API handler
func NewHandler(s store.Store, publisher messaging.Publisher) Handler {
	return &handler{
		store:     s,
		publisher: publisher,
	}
}

// publishEvent publishes a committed mutation best-effort. The change log was
// already written in the mutation's transaction, so a lost publish is repaired
// by the polling fallback; we log and move on.
func (h *handler) publishEvent(c *gin.Context, kind domain.EntityKind, op domain.Operation, entityID uint64, payload interface{}, affectedIDs []uint64) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			logger.ErrorCtx(c.Request.Context(), fmt.Errorf("failed to encode event payload: %w", err))
			return
		}
		data = encoded
	}

	event := &domain.CRUDEvent{
		EventID: domain.NewEventID(),
		Type:    domain.FormatEventType(kind, op),
		Entity: domain.EventEntity{
			Kind: kind,
			ID:   entityID,
			Data: data,
		},
		Context: domain.EventContext{
			ActorID:     c.GetHeader(actorHeader),
			Timestamp:   time.Now().UTC(),
			AffectedIDs: affectedIDs,
		},
	}

	if err := h.publisher.PublishEvent(c.Request.Context(), event); err != nil {
		logger.ErrorCtx(c.Request.Context(), fmt.Errorf("failed to publish event: %w", err),
			zap.String("type", event.Type),
			zap.Uint64("entity_id", entityID),
		)
	}
}

// pathID parses the :id path parameter
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondBadRequest(c, fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return id, true
}

// CreateItem creates a deliverable item together with its tracker
func (h *handler) CreateItem(c *gin.Context) {
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	input := store.CreateDeliverableItemInput{
		Effort:   req.Effort,
		Title:    req.Title,
		Priority: 2,
		DueDate:  req.DueDate,
	}
	if req.Priority != nil {
		input.Priority = *req.Priority
	}

	item, tracker, err := h.store.CreateDeliverableItem(c.Request.Context(), input)
	if err != nil {
		respondStoreError(c, err, "Failed to create deliverable item")
		return
	}

	h.publishEvent(c, domain.EntityKindDeliverableItem, domain.OperationCreate, item.ID, item.ToPayload(), []uint64{tracker.ID})
	h.publishEvent(c, domain.EntityKindTracker, domain.OperationCreate, tracker.ID, tracker.ToPayload(), nil)

	c.JSON(http.StatusCreated, CreateItemResponse{
		Item:    item.ToPayload(),
		Tracker: tracker.ToPayload(),
	})
}

// GetItem retrieves a deliverable item by id
func (h *handler) GetItem(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	item, err := h.store.GetDeliverableItem(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "Failed to get deliverable item")
		return
	}

	c.JSON(http.StatusOK, item.ToPayload())
}

// GetTracker retrieves a tracker by id
func (h *handler) GetTracker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	tracker, err := h.store.GetTracker(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "Failed to get tracker")
		return
	}

	c.JSON(http.StatusOK, tracker.ToPayload())
}

// UpdateTracker updates priority and due date with an optimistic check
func (h *handler) UpdateTracker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateTrackerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	tracker, err := h.store.UpdateTrackerFields(c.Request.Context(), store.UpdateTrackerFieldsInput{
		TrackerID:     id,
		Priority:      req.Priority,
		DueDate:       req.DueDate,
		ClearDueDate:  req.ClearDueDate,
		BaseUpdatedAt: req.BaseUpdatedAt,
	})
	if err != nil {
		respondStoreError(c, err, "Failed to update tracker")
		return
	}

	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), nil)

	c.JSON(http.StatusOK, tracker.ToPayload())
}

// DeleteTracker deletes a tracker, its item and its comments
func (h *handler) DeleteTracker(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	// Read before delete so the delete events can reference the item
	tracker, err := h.store.GetTracker(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "Failed to get tracker")
		return
	}

	if err := h.store.DeleteTracker(c.Request.Context(), id); err != nil {
		respondStoreError(c, err, "Failed to delete tracker")
		return
	}

	h.publishEvent(c, domain.EntityKindTracker, domain.OperationDelete, tracker.ID, nil, []uint64{tracker.ItemID})
	h.publishEvent(c, domain.EntityKindDeliverableItem, domain.OperationDelete, tracker.ItemID, nil, []uint64{tracker.ID})

	c.Status(http.StatusNoContent)
}

// Assign sets the assignee for a role
func (h *handler) Assign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	role := domain.Role(c.Param("role"))
	if !domain.IsValidRole(role) {
		respondBadRequest(c, "role must be production or qc")
		return
	}

	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	tracker, err := h.store.AssignTracker(c.Request.Context(), id, role, req.User)
	if err != nil {
		respondStoreError(c, err, "Failed to assign tracker")
		return
	}

	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), nil)

	c.JSON(http.StatusOK, tracker.ToPayload())
}

// Unassign clears the assignee for a role
func (h *handler) Unassign(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	role := domain.Role(c.Param("role"))
	if !domain.IsValidRole(role) {
		respondBadRequest(c, "role must be production or qc")
		return
	}

	tracker, err := h.store.UnassignTracker(c.Request.Context(), id, role)
	if err != nil {
		respondStoreError(c, err, "Failed to unassign tracker")
		return
	}

	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), nil)

	c.JSON(http.StatusOK, tracker.ToPayload())
}

// AdvanceStatus moves a role's workflow status
func (h *handler) AdvanceStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	tracker, err := h.store.AdvanceTrackerStatus(c.Request.Context(), id, domain.Role(req.Role), req.Status)
	if err != nil {
		respondStoreError(c, err, "Failed to advance tracker status")
		return
	}

	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), nil)

	c.JSON(http.StatusOK, tracker.ToPayload())
}

// CreateComment creates a comment or a reply on a tracker
func (h *handler) CreateComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	actorID := c.GetHeader(actorHeader)
	if actorID == "" {
		respondBadRequest(c, fmt.Sprintf("%s header is required", actorHeader))
		return
	}

	var req CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	comment, tracker, err := h.store.CreateComment(c.Request.Context(), store.CreateCommentInput{
		TrackerID: id,
		AuthorID:  actorID,
		ParentID:  req.ParentID,
		Text:      req.Text,
	})
	if err != nil {
		respondStoreError(c, err, "Failed to create comment")
		return
	}

	// The comment mutation cascades into the tracker's unresolved count, so
	// both events carry the other's id in affected_ids
	h.publishEvent(c, domain.EntityKindComment, domain.OperationCreate, comment.ID, comment.ToPayload(), []uint64{tracker.ID})
	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), []uint64{comment.ID})

	c.JSON(http.StatusCreated, CommentResponse{
		Comment: comment.ToPayload(),
		Tracker: tracker.ToPayload(),
	})
}

// ListComments lists all comments of a tracker as flat rows
func (h *handler) ListComments(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	comments, err := h.store.ListComments(c.Request.Context(), id)
	if err != nil {
		respondStoreError(c, err, "Failed to list comments")
		return
	}

	response := ListCommentsResponse{
		Comments: make([]*domain.CommentPayload, 0, len(comments)),
	}
	for _, comment := range comments {
		response.Comments = append(response.Comments, comment.ToPayload())
	}

	c.JSON(http.StatusOK, response)
}

// ResolveComment marks a root comment resolved
func (h *handler) ResolveComment(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	actorID := c.GetHeader(actorHeader)
	if actorID == "" {
		respondBadRequest(c, fmt.Sprintf("%s header is required", actorHeader))
		return
	}

	comment, tracker, err := h.store.ResolveComment(c.Request.Context(), id, actorID)
	if err != nil {
		respondStoreError(c, err, "Failed to resolve comment")
		return
	}

	h.publishEvent(c, domain.EntityKindComment, domain.OperationUpdate, comment.ID, comment.ToPayload(), []uint64{tracker.ID})
	h.publishEvent(c, domain.EntityKindTracker, domain.OperationUpdate, tracker.ID, tracker.ToPayload(), []uint64{comment.ID})

	c.JSON(http.StatusOK, CommentResponse{
		Comment: comment.ToPayload(),
		Tracker: tracker.ToPayload(),
	})
}

// CheckChanges answers the polling fallback with per-table change counters
func (h *handler) CheckChanges(c *gin.Context) {
	params, err := ParseCheckChangesQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	results, err := h.store.CheckChanges(c.Request.Context(), params.Tables, params.Since)
	if err != nil {
		respondStoreError(c, err, "Failed to check changes")
		return
	}

	c.JSON(http.StatusOK, gin.H{"tables": results})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(200, gin.H{
		"status":  "ok",
		"service": "tracker-sync-api",
	})
}
