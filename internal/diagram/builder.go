package diagram

import (
	"fmt"
	"slices"

	"github.com/rendis/docflow/internal/compiler"
)

const (
	startID  = "__start__"
	endID    = "__end__"
	failedID = "__failed__"
)

// Progress is a document's position in a workflow.
type Progress struct {
	Completed []string // ACTIONS_COMPLETED, which includes the current action
	Current   string   // ACTION
}

func (p *Progress) status(action string) string {
	switch {
	case p == nil:
		return ""
	case p.Current == action:
		return StatusCurrent
	case slices.Contains(p.Completed, action):
		return StatusCompleted
	}
	return StatusPending
}

// Build lays the actions out in declaration order. A conditional action is
// preceded by a decision node whose "no" branch falls through to the next
// action; actions that terminate on failure get an edge to the failed node.
func Build(wf *compiler.CompiledWorkflow, progress *Progress) (*DiagramModel, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow is nil")
	}
	m := &DiagramModel{Title: wf.Name}
	m.Nodes = append(m.Nodes, &Node{ID: startID, Label: "start", Kind: NodeKindStart})

	// entry returns the node a document enters action i through.
	entry := func(i int) string {
		if i >= len(wf.Actions) {
			return endID
		}
		if wf.Actions[i].Condition != "" {
			return conditionID(i)
		}
		return actionID(i)
	}

	terminating := false
	m.Edges = append(m.Edges, Edge{From: startID, To: entry(0)})
	for i, a := range wf.Actions {
		if a.Condition != "" {
			m.Nodes = append(m.Nodes, &Node{ID: conditionID(i), Label: a.Condition, Kind: NodeKindCondition})
			m.Edges = append(m.Edges,
				Edge{From: conditionID(i), To: actionID(i), Label: "yes"},
				Edge{From: conditionID(i), To: entry(i + 1), Label: "no"},
			)
		}
		m.Nodes = append(m.Nodes, &Node{
			ID:     actionID(i),
			Label:  a.Name,
			Kind:   NodeKindAction,
			Queue:  a.Queue,
			Status: progress.status(a.Name),
		})
		m.Edges = append(m.Edges, Edge{From: actionID(i), To: entry(i + 1)})
		if a.TerminateOnFailure {
			terminating = true
			m.Edges = append(m.Edges, Edge{From: actionID(i), To: failedID, Label: "failure"})
		}
	}

	m.Nodes = append(m.Nodes, &Node{ID: endID, Label: "end", Kind: NodeKindEnd})
	if terminating {
		m.Nodes = append(m.Nodes, &Node{ID: failedID, Label: "failed", Kind: NodeKindFailed})
	}
	return m, nil
}

func actionID(i int) string    { return fmt.Sprintf("a%d", i) }
func conditionID(i int) string { return fmt.Sprintf("c%d", i) }
