package store

import "time"

// Blob is the metadata of a stored blob.
type Blob struct {
	Reference        string    `json:"reference"`
	PartialReference string    `json:"partial_reference"`
	Size             int64     `json:"size"`
	CreatedAt        time.Time `json:"created_at"`
}

// Compilation outcomes.
const (
	CompilationSucceeded = "succeeded"
	CompilationFailed    = "failed"
)

// Compilation is one entry of the compilation log.
type Compilation struct {
	WorkflowKey string    `json:"workflow_key"`
	Sequence    int64     `json:"sequence"`
	Reference   string    `json:"reference,omitempty"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	CompiledAt  time.Time `json:"compiled_at"`
}
