// Package failures turns failures raised while an action ran into failure and
// warning records on the document, and maintains the extra failure subfields
// stamped onto every record.
package failures

import (
	"encoding/json"
	"maps"
)

// UnknownAction is recorded when no action was targeted.
const UnknownAction = "UNKNOWN"

// dateLayout formats record dates in UTC with millisecond precision and a literal Z.
const dateLayout = "2006-01-02T15:04:05.000Z"

// Record is one surfaced failure or warning.
type Record struct {
	ID             string
	Message        string
	Stack          string
	WorkflowAction string
	Component      string
	WorkflowName   string
	Date           string
	CorrelationID  string
	// Extra subfields are merged into the top-level object.
	Extra map[string]string
}

// MarshalJSON writes the record as a flat object. Optional keys are omitted
// when empty and extra subfields are written last, so they win on conflict.
func (r Record) MarshalJSON() ([]byte, error) {
	out := map[string]string{
		"ID":              r.ID,
		"MESSAGE":         r.Message,
		"WORKFLOW_ACTION": r.WorkflowAction,
		"COMPONENT":       r.Component,
		"WORKFLOW_NAME":   r.WorkflowName,
		"DATE":            r.Date,
	}
	if r.Stack != "" {
		out["STACK"] = r.Stack
	}
	if r.CorrelationID != "" {
		out["CORRELATION_ID"] = r.CorrelationID
	}
	maps.Copy(out, r.Extra)
	return json.Marshal(out)
}

// String returns the JSON form of r.
func (r Record) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return r.ID
	}
	return string(b)
}
