package compiler

import (
	"time"

	"github.com/rendis/docflow/internal/expressions"
	"github.com/rendis/docflow/pkg/schema"
)

// Key identifies a compiled workflow. Workflows compiled for different
// projects are stored and cached separately.
type Key struct {
	ProjectID string
	Name      string
}

func (k Key) String() string {
	return k.ProjectID + "/" + k.Name
}

// PartialReference is where the compiled form of k is stored.
func (k Key) PartialReference() string {
	if k.ProjectID == "" {
		return StoragePrefix
	}
	return StoragePrefix + "/" + k.ProjectID
}

// StoragePrefix is the partial reference of every compiled workflow.
const StoragePrefix = "workflow-scripts"

// CompiledWorkflow is the executable form of a workflow definition.
type CompiledWorkflow struct {
	Name             string                     `json:"name"`
	ProjectID        string                     `json:"projectId,omitempty"`
	Actions          []CompiledAction           `json:"actions"`
	Settings         []schema.SettingDefinition `json:"settingDefinitions,omitempty"`
	WarningFilter    string                     `json:"warningFilter,omitempty"`
	CompiledAt       time.Time                  `json:"compiledAt"`
	StorageReference string                     `json:"-"`
}

// CompiledAction is an action with its routing resolved.
type CompiledAction struct {
	Name               string            `json:"name"`
	Condition          string            `json:"condition,omitempty"`
	CustomData         map[string]string `json:"customData,omitempty"`
	Queue              string            `json:"queue"`
	TerminateOnFailure bool              `json:"terminateOnFailure"`

	// Programs is filled when the workflow is compiled in process. A
	// workflow read back with Load has none and evaluates from source.
	Programs Programs `json:"-"`
}

// Programs are the compiled expressions of an action.
type Programs struct {
	Condition  *expressions.Condition
	CustomData map[string]*expressions.Template
}

// Action returns the action named name, or nil.
func (w *CompiledWorkflow) Action(name string) *CompiledAction {
	for i := range w.Actions {
		if w.Actions[i].Name == name {
			return &w.Actions[i]
		}
	}
	return nil
}

// Index returns the declaration index of the named action, or -1.
func (w *CompiledWorkflow) Index(name string) int {
	for i := range w.Actions {
		if w.Actions[i].Name == name {
			return i
		}
	}
	return -1
}

// DeclaresSetting reports whether name is one of the workflow's settings.
func (w *CompiledWorkflow) DeclaresSetting(name string) bool {
	for i := range w.Settings {
		if w.Settings[i].Name == name {
			return true
		}
	}
	return false
}
