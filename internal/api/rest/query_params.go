package rest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studyflow/tracker-sync/internal/store/schema"
)

// CheckChangesQueryParams holds parsed query parameters for
// GET /api/v1/changes/check
type CheckChangesQueryParams struct {
	Tables []string
	Since  time.Time
}

// ParseCheckChangesQuery parses and validates the polling query.
// tables is a comma-separated list of table names; since is RFC3339 and
// defaults to the zero time, which reports any change ever recorded.
func ParseCheckChangesQuery(c *gin.Context) (*CheckChangesQueryParams, error) {
	params := &CheckChangesQueryParams{}

	rawTables := c.Query("tables")
	if rawTables == "" {
		return nil, errors.New("tables is required")
	}

	for _, table := range strings.Split(rawTables, ",") {
		table = strings.TrimSpace(table)
		if table == "" {
			continue
		}
		if !schema.IsKnownTable(table) {
			return nil, fmt.Errorf("unknown table: %q", table)
		}
		params.Tables = append(params.Tables, table)
	}
	if len(params.Tables) == 0 {
		return nil, errors.New("tables is required")
	}

	if rawSince := c.Query("since"); rawSince != "" {
		since, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return nil, fmt.Errorf("since must be RFC3339: %v", err)
		}
		params.Since = since
	}

	return params, nil
}
