package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", edge.From, label, edge.To)
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef current fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, node := range model.Nodes {
		switch {
		case node.Status != "":
			fmt.Fprintf(&b, "    class %s %s\n", node.ID, node.Status)
		case node.Kind == NodeKindFailed:
			fmt.Fprintf(&b, "    class %s failed\n", node.ID)
		}
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	label := mermaidEscapeLabel(node.Label)

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", node.ID, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", node.ID, label)
	case NodeKindFailed:
		return fmt.Sprintf("%s[/%q/]", node.ID, label)
	default:
		if node.Queue != "" {
			label += " → " + node.Queue
		}
		return fmt.Sprintf("%s[%q]", node.ID, label)
	}
}

// mermaidEscapeLabel flattens a label to one line and replaces the quotes
// Mermaid cannot take inside a quoted label.
func mermaidEscapeLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, `"`, "#quot;")
}
