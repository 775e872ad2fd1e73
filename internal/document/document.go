// Package document models the in-flight document tree handed to the workflow
// worker by its host: multi-valued fields, failure annotations with original
// tracking, nested sub-documents and the task carrying custom data and the
// routing response.
package document

import (
	"slices"
	"sort"
)

// Document is a node of the document tree. Only the root carries a Task;
// sub-documents reach it through Root.
type Document struct {
	Reference string

	fields       map[string][]string
	failures     Failures
	subdocuments []*Document
	parent       *Document
	task         *Task
}

// New creates a root document bound to task. A nil task gets an empty one.
func New(reference string, task *Task) *Document {
	if task == nil {
		task = NewTask(nil)
	}
	return &Document{
		Reference: reference,
		fields:    make(map[string][]string),
		task:      task,
	}
}

// AddSubdocument appends a child node and returns it.
func (d *Document) AddSubdocument(reference string) *Document {
	child := &Document{
		Reference: reference,
		fields:    make(map[string][]string),
		parent:    d,
	}
	d.subdocuments = append(d.subdocuments, child)
	return child
}

// Subdocuments returns the direct children in insertion order.
func (d *Document) Subdocuments() []*Document {
	return d.subdocuments
}

// Parent returns the parent node, or nil for the root.
func (d *Document) Parent() *Document {
	return d.parent
}

// IsRoot reports whether d has no parent.
func (d *Document) IsRoot() bool {
	return d.parent == nil
}

// Root walks up to the root document.
func (d *Document) Root() *Document {
	n := d
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Task returns the task of the tree d belongs to.
func (d *Document) Task() *Task {
	return d.Root().task
}

// CustomData returns a task custom-data entry.
func (d *Document) CustomData(key string) (string, bool) {
	return d.Task().CustomDataValue(key)
}

// Walk visits d and every descendant, parents before children.
func (d *Document) Walk(fn func(*Document)) {
	fn(d)
	for _, child := range d.subdocuments {
		child.Walk(fn)
	}
}

// --- Fields ---

// Values returns a copy of the values of a field.
func (d *Document) Values(name string) []string {
	return slices.Clone(d.fields[name])
}

// HasValues reports whether the field has at least one value.
func (d *Document) HasValues(name string) bool {
	return len(d.fields[name]) > 0
}

// FirstValue returns the first value of a field. Empty strings count as absent.
func (d *Document) FirstValue(name string) (string, bool) {
	vals := d.fields[name]
	if len(vals) == 0 || vals[0] == "" {
		return "", false
	}
	return vals[0], true
}

// Add appends a value to a field.
func (d *Document) Add(name, value string) {
	d.fields[name] = append(d.fields[name], value)
}

// Set replaces all values of a field.
func (d *Document) Set(name string, values ...string) {
	if len(values) == 0 {
		delete(d.fields, name)
		return
	}
	d.fields[name] = slices.Clone(values)
}

// Clear removes a field.
func (d *Document) Clear(name string) {
	delete(d.fields, name)
}

// Fields returns a copy of every non-empty field.
func (d *Document) Fields() map[string][]string {
	out := make(map[string][]string, len(d.fields))
	for name, vals := range d.fields {
		if len(vals) > 0 {
			out[name] = slices.Clone(vals)
		}
	}
	return out
}

// FieldNames returns the names of all non-empty fields, sorted.
func (d *Document) FieldNames() []string {
	names := make([]string, 0, len(d.fields))
	for name, vals := range d.fields {
		if len(vals) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Failures returns the failure list of this node.
func (d *Document) Failures() *Failures {
	return &d.failures
}
