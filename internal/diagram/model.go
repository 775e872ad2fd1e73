// Package diagram draws the routing of a compiled workflow, optionally
// overlaid with one document's progress through it.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
	NodeKindFailed    NodeKind = "failed"
)

// Status of an action for one document.
const (
	StatusCompleted = "completed"
	StatusCurrent   = "current"
	StatusPending   = "pending"
)

// DiagramModel is the intermediate representation used by the renderer.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node is an action, a condition guarding an action, or a terminal.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Queue  string
	Status string // empty without a progress overlay
}

// Edge connects two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
