package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/tracker-sync/internal/domain"
	"github.com/studyflow/tracker-sync/internal/store/schema"
)

func newTracker() *schema.Tracker {
	return &schema.Tracker{
		ID:               1,
		ItemID:           1,
		ProductionStatus: domain.ProductionNotStarted,
		QCStatus:         domain.QCNotStarted,
		Priority:         2,
	}
}

func TestAssign(t *testing.T) {
	tests := []struct {
		name    string
		role    domain.Role
		user    string
		wantErr error
	}{
		{
			name: "assign production",
			role: domain.RoleProduction,
			user: "alice",
		},
		{
			name: "assign qc",
			role: domain.RoleQC,
			user: "bob",
		},
		{
			name:    "unknown role",
			role:    domain.Role("reviewer"),
			user:    "alice",
			wantErr: domain.ErrInvalidAssignment,
		},
		{
			name:    "empty user",
			role:    domain.RoleProduction,
			user:    "",
			wantErr: domain.ErrInvalidAssignment,
		},
		{
			name:    "whitespace user",
			role:    domain.RoleProduction,
			user:    "   ",
			wantErr: domain.ErrInvalidAssignment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTracker()
			result, err := Assign(tracker, tt.role, tt.user)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			switch tt.role {
			case domain.RoleProduction:
				require.NotNil(t, result.ProductionAssignee)
				assert.Equal(t, tt.user, *result.ProductionAssignee)
			case domain.RoleQC:
				require.NotNil(t, result.QCAssignee)
				assert.Equal(t, tt.user, *result.QCAssignee)
			}
			// Input tracker is never mutated
			assert.Nil(t, tracker.ProductionAssignee)
			assert.Nil(t, tracker.QCAssignee)
		})
	}
}

func TestAssignAllowedRegardlessOfStatus(t *testing.T) {
	tracker := newTracker()
	tracker.ProductionStatus = domain.ProductionCompleted
	tracker.QCStatus = domain.QCInProgress

	result, err := Assign(tracker, domain.RoleQC, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", *result.QCAssignee)
}

func TestUnassign(t *testing.T) {
	alice := "alice"
	bob := "bob"

	tracker := newTracker()
	tracker.ProductionAssignee = &alice
	tracker.QCAssignee = &bob

	result, err := Unassign(tracker, domain.RoleProduction)
	require.NoError(t, err)
	assert.Nil(t, result.ProductionAssignee)
	assert.Equal(t, "bob", *result.QCAssignee)

	result, err = Unassign(result, domain.RoleQC)
	require.NoError(t, err)
	assert.Nil(t, result.QCAssignee)

	// Unassigning an empty slot is still permitted
	result, err = Unassign(result, domain.RoleQC)
	require.NoError(t, err)
	assert.Nil(t, result.QCAssignee)

	_, err = Unassign(tracker, domain.Role("reviewer"))
	assert.ErrorIs(t, err, domain.ErrInvalidAssignment)
}

func TestAdvanceStatus(t *testing.T) {
	tests := []struct {
		name       string
		production domain.ProductionStatus
		role       domain.Role
		status     string
		wantErr    bool
	}{
		{
			name:       "production not_started to in_progress",
			production: domain.ProductionNotStarted,
			role:       domain.RoleProduction,
			status:     "in_progress",
		},
		{
			name:       "production to on_hold",
			production: domain.ProductionInProgress,
			role:       domain.RoleProduction,
			status:     "on_hold",
		},
		{
			name:       "qc blocked while production not started",
			production: domain.ProductionNotStarted,
			role:       domain.RoleQC,
			status:     "in_progress",
			wantErr:    true,
		},
		{
			name:       "qc blocked while production in progress",
			production: domain.ProductionInProgress,
			role:       domain.RoleQC,
			status:     "in_progress",
			wantErr:    true,
		},
		{
			name:       "qc allowed once production completed",
			production: domain.ProductionCompleted,
			role:       domain.RoleQC,
			status:     "in_progress",
		},
		{
			name:       "qc completed once production completed",
			production: domain.ProductionCompleted,
			role:       domain.RoleQC,
			status:     "completed",
		},
		{
			name:       "qc failed once production completed",
			production: domain.ProductionCompleted,
			role:       domain.RoleQC,
			status:     "failed",
		},
		{
			name:       "qc reset to not_started always allowed",
			production: domain.ProductionInProgress,
			role:       domain.RoleQC,
			status:     "not_started",
		},
		{
			name:       "unknown production status",
			production: domain.ProductionNotStarted,
			role:       domain.RoleProduction,
			status:     "finished",
			wantErr:    true,
		},
		{
			name:       "unknown qc status",
			production: domain.ProductionCompleted,
			role:       domain.RoleQC,
			status:     "passed",
			wantErr:    true,
		},
		{
			name:       "unknown role",
			production: domain.ProductionNotStarted,
			role:       domain.Role("reviewer"),
			status:     "in_progress",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := newTracker()
			tracker.ProductionStatus = tt.production

			result, err := AdvanceStatus(tracker, tt.role, tt.status)

			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
				assert.Nil(t, result)
				return
			}

			require.NoError(t, err)
			switch tt.role {
			case domain.RoleProduction:
				assert.Equal(t, domain.ProductionStatus(tt.status), result.ProductionStatus)
			case domain.RoleQC:
				assert.Equal(t, domain.QCStatus(tt.status), result.QCStatus)
			}
		})
	}
}

// The gate blocks the reverse direction too: production may not regress out
// of completed while QC is underway
func TestProductionCannotRegressWhileQCStarted(t *testing.T) {
	for _, qc := range []domain.QCStatus{
		domain.QCInProgress,
		domain.QCCompleted,
		domain.QCFailed,
	} {
		for _, target := range []string{"not_started", "in_progress", "on_hold"} {
			tracker := newTracker()
			tracker.ProductionStatus = domain.ProductionCompleted
			tracker.QCStatus = qc

			result, err := AdvanceStatus(tracker, domain.RoleProduction, target)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition,
				"production %q must be blocked while qc is %q", target, qc)
			assert.Nil(t, result)
		}

		// Re-stating completed stays legal
		tracker := newTracker()
		tracker.ProductionStatus = domain.ProductionCompleted
		tracker.QCStatus = qc
		_, err := AdvanceStatus(tracker, domain.RoleProduction, "completed")
		require.NoError(t, err)
	}
}

func TestProductionMovesFreelyWhileQCNotStarted(t *testing.T) {
	tracker := newTracker()
	tracker.ProductionStatus = domain.ProductionCompleted

	result, err := AdvanceStatus(tracker, domain.RoleProduction, "in_progress")
	require.NoError(t, err)
	assert.Equal(t, domain.ProductionInProgress, result.ProductionStatus)
}

// qc_status != not_started must always imply production_status == completed
func TestQCGateInvariant(t *testing.T) {
	for _, production := range []domain.ProductionStatus{
		domain.ProductionNotStarted,
		domain.ProductionInProgress,
		domain.ProductionCompleted,
		domain.ProductionOnHold,
	} {
		for _, qc := range []string{"in_progress", "completed", "failed"} {
			tracker := newTracker()
			tracker.ProductionStatus = production

			result, err := AdvanceStatus(tracker, domain.RoleQC, qc)
			if production == domain.ProductionCompleted {
				require.NoError(t, err)
				assert.Equal(t, domain.QCStatus(qc), result.QCStatus)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition,
					"qc %q must be blocked while production is %q", qc, production)
			}
		}
	}
}
