package document

// Snapshot is the serializable form of a document node and its descendants.
type Snapshot struct {
	Reference    string              `json:"reference"`
	Fields       map[string][]string `json:"fields,omitempty"`
	Failures     []Failure           `json:"failures,omitempty"`
	Subdocuments []Snapshot          `json:"subdocuments,omitempty"`
}

// FromSnapshot rebuilds a document tree bound to task. Failures in the
// snapshot become the originals of each node.
func FromSnapshot(s Snapshot, task *Task) *Document {
	root := New(s.Reference, task)
	fill(root, s)
	return root
}

func fill(d *Document, s Snapshot) {
	for name, vals := range s.Fields {
		if len(vals) > 0 {
			d.Set(name, vals...)
		}
	}
	d.failures.load(s.Failures)
	for _, child := range s.Subdocuments {
		fill(d.AddSubdocument(child.Reference), child)
	}
}

// Snapshot captures the current state of d and its descendants.
func (d *Document) Snapshot() Snapshot {
	s := Snapshot{
		Reference: d.Reference,
		Failures:  d.failures.All(),
	}
	if len(d.fields) > 0 {
		s.Fields = make(map[string][]string, len(d.fields))
		for name, vals := range d.fields {
			if len(vals) > 0 {
				s.Fields[name] = d.Values(name)
			}
		}
	}
	for _, child := range d.subdocuments {
		s.Subdocuments = append(s.Subdocuments, child.Snapshot())
	}
	return s
}
