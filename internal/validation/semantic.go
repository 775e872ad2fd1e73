package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/docflow/pkg/schema"
)

// Checkers compile the three expression dialects of a workflow. Nil checkers
// skip the corresponding check.
type Checkers struct {
	Conditions ExpressionChecker // action conditions (CEL)
	Templates  ExpressionChecker // custom-data templates (expr)
	Filters    ExpressionChecker // warning filter (jq)
}

// validateSemantic checks what the schema cannot: unique names, non-empty
// source names, and that every expression compiles.
func validateSemantic(def *schema.WorkflowDefinition, checkers Checkers) *Report {
	result := &Report{}

	actions := make(map[string]int, len(def.Actions))
	for i := range def.Actions {
		a := &def.Actions[i]
		path := actionPath(i)

		if strings.TrimSpace(a.Name) == "" {
			result.errorf(path+".name", IssueMissingName, "action name is required")
			continue
		}
		if prev, dup := actions[a.Name]; dup {
			result.errorf(path+".name", IssueDuplicateAction,
				"duplicate action name %q (first declared at %s)", a.Name, actionPath(prev))
		} else {
			actions[a.Name] = i
		}

		if a.Condition != "" && checkers.Conditions != nil {
			if err := checkers.Conditions.Check(a.Condition); err != nil {
				result.errorf(path+".condition", IssueCondition, "%s", err.Error())
			}
		}
		if checkers.Templates != nil {
			for key, tmpl := range a.CustomData {
				if err := checkers.Templates.Check(tmpl); err != nil {
					result.errorf(path+".customData."+key, IssueTemplate, "%s", err.Error())
				}
			}
		}
		if a.ApplyMessagePrioritization {
			result.warnf(path+".applyMessagePrioritization", IssueIgnored,
				"message prioritization is accepted but has no effect")
		}
	}

	validateSettings(def, result)

	if def.WarningFilter != "" && checkers.Filters != nil {
		if err := checkers.Filters.Check(def.WarningFilter); err != nil {
			result.errorf("warningFilter", IssueWarningFilter, "%s", err.Error())
		}
	}
	return result
}

func validateSettings(def *schema.WorkflowDefinition, result *Report) {
	key := "settingDefinitions"
	if len(def.SettingDefinitions) == 0 && len(def.Arguments) > 0 {
		key = "arguments"
		result.warnf(key, IssueDeprecated, `"arguments" is deprecated, use "settingDefinitions"`)
	} else if len(def.SettingDefinitions) > 0 && len(def.Arguments) > 0 {
		result.errorf("arguments", IssueConflict,
			`"arguments" and "settingDefinitions" are mutually exclusive`)
	}

	seen := make(map[string]bool)
	for i, s := range def.Settings() {
		path := fmt.Sprintf("%s[%d]", key, i)
		if seen[s.Name] {
			result.errorf(path+".name", IssueDuplicateSetting, "duplicate setting name %q", s.Name)
		}
		seen[s.Name] = true

		for j, src := range s.Sources {
			srcPath := sourcePath(key, i, j)
			if !src.Type.Valid() {
				result.errorf(srcPath+".type", IssueSourceType, "unknown source type %q", src.Type)
				continue
			}
			if src.Name == "" && src.Type != schema.SourceSettingsService {
				result.errorf(srcPath+".name", IssueSourceName, "%s source requires a name", src.Type)
			}
			if src.Options != "" && src.Type != schema.SourceSettingsService {
				result.warnf(srcPath+".options", IssueIgnored, "options are ignored for %s sources", src.Type)
			}
		}
	}
}
