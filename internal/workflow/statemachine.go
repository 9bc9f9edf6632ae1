package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
)

// The tracker workflow state machine enforces the production -> QC ordering
// and assignment rules independent of transport and storage. Every operation
// returns the mutated copy of the tracker or a typed domain error; expected
// business violations are never panics.

// Assign sets the assignee for a role. Assignment itself is allowed at any
// time regardless of status; only status advancement is gated on production
// completion.
func Assign(t *schema.Tracker, role domain.Role, user string) (*schema.Tracker, error) {
	if !domain.IsValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidAssignment, role)
	}
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, fmt.Errorf("%w: assignee must not be empty", domain.ErrInvalidAssignment)
	}

	out := *t
	switch role {
	case domain.RoleProduction:
		out.ProductionAssignee = &user
	case domain.RoleQC:
		out.QCAssignee = &user
	}
	out.UpdatedAt = time.Now().UTC()
	return &out, nil
}

// Unassign clears the assignee for a role. Always permitted.
func Unassign(t *schema.Tracker, role domain.Role) (*schema.Tracker, error) {
	if !domain.IsValidRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidAssignment, role)
	}

	out := *t
	switch role {
	case domain.RoleProduction:
		out.ProductionAssignee = nil
	case domain.RoleQC:
		out.QCAssignee = nil
	}
	out.UpdatedAt = time.Now().UTC()
	return &out, nil
}

// AdvanceStatus moves a role's status to newStatus. QC may only leave
// not_started while production_status is completed, and production may only
// leave completed while qc_status is not_started.
func AdvanceStatus(t *schema.Tracker, role domain.Role, newStatus string) (*schema.Tracker, error) {
	switch role {
	case domain.RoleProduction:
		status := domain.ProductionStatus(newStatus)
		if !domain.IsValidProductionStatus(status) {
			return nil, fmt.Errorf("%w: unknown production status %q", domain.ErrInvalidTransition, newStatus)
		}
		// The gate cuts both ways: production may not leave completed while
		// QC has started, or the QC state would describe unfinished work
		if status != domain.ProductionCompleted && t.QCStatus != domain.QCNotStarted {
			return nil, fmt.Errorf("%w: production cannot move to %q while qc is %q",
				domain.ErrInvalidTransition, status, t.QCStatus)
		}
		out := *t
		out.ProductionStatus = status
		out.UpdatedAt = time.Now().UTC()
		return &out, nil

	case domain.RoleQC:
		status := domain.QCStatus(newStatus)
		if !domain.IsValidQCStatus(status) {
			return nil, fmt.Errorf("%w: unknown qc status %q", domain.ErrInvalidTransition, newStatus)
		}
		if status != domain.QCNotStarted && t.ProductionStatus != domain.ProductionCompleted {
			return nil, fmt.Errorf("%w: qc cannot move to %q while production is %q",
				domain.ErrInvalidTransition, status, t.ProductionStatus)
		}
		out := *t
		out.QCStatus = status
		out.UpdatedAt = time.Now().UTC()
		return &out, nil

	default:
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidTransition, role)
	}
}
