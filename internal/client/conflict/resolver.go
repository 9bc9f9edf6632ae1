// Package conflict turns a conflict dialog outcome into at most one mutation
// request re-issued through the regular write path.
package conflict

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/studyflow/tracker-sync/internal/domain"
)

// Choice is the user's resolution decision
type Choice string

const (
	KeepMine        Choice = "keep_mine"
	TakeTheirs      Choice = "take_theirs"
	FieldLevelMerge Choice = "field_level_merge"
)

// Source selects which side a merged field comes from
type Source string

const (
	SourceMine   Source = "mine"
	SourceTheirs Source = "theirs"
)

// Draft is the local unsaved edit in conflict
type Draft struct {
	Ref           domain.EntityRef
	Fields        map[string]json.RawMessage
	BaseUpdatedAt time.Time
}

// Remote is the remote version the conflict is against
type Remote struct {
	Fields    map[string]json.RawMessage
	UpdatedAt time.Time
}

// MutationRequest is an update to re-issue through the regular write path.
// BaseUpdatedAt carries the remote version's timestamp, so the request is an
// optimistic-concurrency retry: if the entity moved again it fails with a
// stale-mutation error, which is surfaced once and never retried silently.
type MutationRequest struct {
	Ref           domain.EntityRef
	Fields        map[string]json.RawMessage
	BaseUpdatedAt time.Time
}

// Resolution is the outcome of one conflict dialog
type Resolution struct {
	// Request is the mutation to submit, nil for take_theirs
	Request *MutationRequest
	// ApplyRemote tells the caller to apply the remote version locally
	ApplyRemote bool
	// CloseEditor tells the caller to close the entity's editor
	CloseEditor bool
}

// Resolve builds the resolution for the user's choice. selections is only
// consulted for field_level_merge and must cover every conflicting field.
func Resolve(local Draft, remote Remote, choice Choice, selections map[string]Source) (*Resolution, error) {
	switch choice {
	case KeepMine:
		return &Resolution{
			Request: &MutationRequest{
				Ref:           local.Ref,
				Fields:        local.Fields,
				BaseUpdatedAt: remote.UpdatedAt,
			},
		}, nil

	case TakeTheirs:
		return &Resolution{
			ApplyRemote: true,
			CloseEditor: true,
		}, nil

	case FieldLevelMerge:
		merged, err := mergeFields(local, remote, selections)
		if err != nil {
			return nil, err
		}
		return &Resolution{
			Request: &MutationRequest{
				Ref:           local.Ref,
				Fields:        merged,
				BaseUpdatedAt: remote.UpdatedAt,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown resolution choice: %q", choice)
	}
}

// mergeFields applies the per-field selection. Every field present on either
// side must be selected; an unset field would silently pick a side for the
// user.
func mergeFields(local Draft, remote Remote, selections map[string]Source) (map[string]json.RawMessage, error) {
	var missing []string
	merged := make(map[string]json.RawMessage)

	for _, field := range unionFields(local.Fields, remote.Fields) {
		source, ok := selections[field]
		if !ok {
			missing = append(missing, field)
			continue
		}

		switch source {
		case SourceMine:
			if value, ok := local.Fields[field]; ok {
				merged[field] = value
			} else {
				merged[field] = remote.Fields[field]
			}
		case SourceTheirs:
			if value, ok := remote.Fields[field]; ok {
				merged[field] = value
			} else {
				merged[field] = local.Fields[field]
			}
		default:
			return nil, fmt.Errorf("invalid selection for field %q: %q", field, source)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("merge selection missing fields: %v", missing)
	}

	return merged, nil
}

// unionFields returns the sorted union of both field sets
func unionFields(a, b map[string]json.RawMessage) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for f := range a {
		seen[f] = true
	}
	for f := range b {
		seen[f] = true
	}
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
