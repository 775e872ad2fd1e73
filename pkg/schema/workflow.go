package schema

// WorkflowDefinition is the declarative workflow format loaded from YAML.
// Actions are evaluated in declaration order.
type WorkflowDefinition struct {
	Name               string              `yaml:"name,omitempty" json:"name,omitempty"`
	Actions            []Action            `yaml:"actions" json:"actions"`
	SettingDefinitions []SettingDefinition `yaml:"settingDefinitions,omitempty" json:"settingDefinitions,omitempty"`
	Arguments          []SettingDefinition `yaml:"arguments,omitempty" json:"arguments,omitempty"`         // legacy alias of settingDefinitions
	WarningFilter      string              `yaml:"warningFilter,omitempty" json:"warningFilter,omitempty"` // jq expression, overrides the worker-wide filter
}

// Settings returns the setting definitions, accepting the legacy "arguments" key.
func (d *WorkflowDefinition) Settings() []SettingDefinition {
	if len(d.SettingDefinitions) > 0 {
		return d.SettingDefinitions
	}
	return d.Arguments
}

// ActionNamed returns the action with the given name, or nil.
func (d *WorkflowDefinition) ActionNamed(name string) *Action {
	for i := range d.Actions {
		if d.Actions[i].Name == name {
			return &d.Actions[i]
		}
	}
	return nil
}

// Action is one step of a workflow: a condition-gated hop to a worker queue.
type Action struct {
	Name                       string            `yaml:"name" json:"name"`
	Condition                  string            `yaml:"condition,omitempty" json:"condition,omitempty"`   // CEL, empty = always eligible
	CustomData                 map[string]string `yaml:"customData,omitempty" json:"customData,omitempty"` // key -> template
	QueueName                  string            `yaml:"queueName,omitempty" json:"queueName,omitempty"`
	TerminateOnFailure         *bool             `yaml:"terminateOnFailure,omitempty" json:"terminateOnFailure,omitempty"` // default: true
	ApplyMessagePrioritization bool              `yaml:"applyMessagePrioritization,omitempty" json:"applyMessagePrioritization,omitempty"`
}

// Terminates reports whether a failure raised while this action ran stops the pipeline.
func (a *Action) Terminates() bool {
	if a == nil || a.TerminateOnFailure == nil {
		return true
	}
	return *a.TerminateOnFailure
}

// SettingDefinition describes how one workflow setting is resolved.
type SettingDefinition struct {
	Name    string   `yaml:"name" json:"name"`
	Sources []Source `yaml:"sources" json:"sources"`
	Default string   `yaml:"default,omitempty" json:"default,omitempty"`
}

// Source is a single place a setting value may come from.
type Source struct {
	Type    SourceType `yaml:"type" json:"type"`
	Name    string     `yaml:"name" json:"name"`
	Options string     `yaml:"options,omitempty" json:"options,omitempty"` // SETTINGS_SERVICE scope tokens, comma separated
}

// SourceType enumerates setting sources.
type SourceType string

const (
	SourceField           SourceType = "FIELD"
	SourceCustomData      SourceType = "CUSTOM_DATA"
	SourceSettingsService SourceType = "SETTINGS_SERVICE"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceField, SourceCustomData, SourceSettingsService:
		return true
	}
	return false
}
