package document

import "slices"

// Failure is a failure annotation on a document node.
type Failure struct {
	ID      string  `json:"id"`
	Message string  `json:"message"`
	Stack   *string `json:"stack,omitempty"`
}

// Same reports whether two failures are the same occurrence: equal id,
// message and stack. A nil stack differs from an empty one.
func (f Failure) Same(other Failure) bool {
	if f.ID != other.ID || f.Message != other.Message {
		return false
	}
	if f.Stack == nil || other.Stack == nil {
		return f.Stack == nil && other.Stack == nil
	}
	return *f.Stack == *other.Stack
}

// StackValue returns the stack, or "" when absent.
func (f Failure) StackValue() string {
	if f.Stack == nil {
		return ""
	}
	return *f.Stack
}

// Failures is the failure list of a node. Failures present when the document
// was received are its originals; Reset drops everything added since.
type Failures struct {
	original []Failure
	current  []Failure
}

// Add appends a failure raised during processing.
func (f *Failures) Add(id, message string, stack *string) {
	f.current = append(f.current, Failure{ID: id, Message: message, Stack: stack})
}

// All returns every failure, originals first.
func (f *Failures) All() []Failure {
	return slices.Clone(f.current)
}

// Originals returns the failures the node arrived with.
func (f *Failures) Originals() []Failure {
	return slices.Clone(f.original)
}

// Len returns the number of current failures.
func (f *Failures) Len() int {
	return len(f.current)
}

// IsChanged reports whether failures were added since the document was received.
func (f *Failures) IsChanged() bool {
	if len(f.current) != len(f.original) {
		return true
	}
	for i := range f.current {
		if !f.current[i].Same(f.original[i]) {
			return true
		}
	}
	return false
}

// Reset restores the list to the originals.
func (f *Failures) Reset() {
	f.current = slices.Clone(f.original)
}

// load sets the received failures as originals.
func (f *Failures) load(received []Failure) {
	f.original = slices.Clone(received)
	f.current = slices.Clone(received)
}
