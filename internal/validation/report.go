package validation

import (
	"fmt"

	"github.com/rendis/docflow/pkg/schema"
)

// Issue codes.
const (
	IssueSchema           = "SCHEMA_VIOLATION"
	IssueMissingName      = "MISSING_NAME"
	IssueDuplicateAction  = "DUPLICATE_ACTION"
	IssueDuplicateSetting = "DUPLICATE_SETTING"
	IssueCondition        = "INVALID_CONDITION"
	IssueTemplate         = "INVALID_TEMPLATE"
	IssueWarningFilter    = "INVALID_WARNING_FILTER"
	IssueSourceType       = "UNKNOWN_SOURCE_TYPE"
	IssueSourceName       = "MISSING_SOURCE_NAME"
	IssueConflict         = "CONFLICTING_KEYS"
	IssueDeprecated       = "DEPRECATED_KEY"
	IssueIgnored          = "IGNORED_KEY"
)

// Issue is one problem in a workflow definition. Path follows the YAML
// layout, e.g. actions[2].customData.lang.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Path + ": " + i.Message
}

// Report holds the issues found in one definition. Warnings never make a
// definition invalid.
type Report struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Valid reports whether the definition may be loaded.
func (r *Report) Valid() bool {
	return len(r.Errors) == 0
}

func (r *Report) errorf(path, code, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(path, code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) merge(other *Report) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Err returns a VALIDATION_ERROR carrying every issue, or nil when the
// definition is valid.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}
	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("workflow definition has %d errors, first: %s", len(r.Errors), msg)
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}

func actionPath(i int) string {
	return fmt.Sprintf("actions[%d]", i)
}

func sourcePath(settingsKey string, setting, source int) string {
	return fmt.Sprintf("%s[%d].sources[%d]", settingsKey, setting, source)
}
