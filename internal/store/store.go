package store

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/docflow/pkg/schema"
)

// BlobStore persists opaque byte blobs under generated references.
// All implementations must be safe for concurrent use.
type BlobStore interface {
	// Store saves data and returns its reference, partialRef + "/" + a unique suffix.
	Store(ctx context.Context, data []byte, partialRef string) (string, error)
	// Retrieve returns the blob stored under ref, or a NOT_FOUND error.
	Retrieve(ctx context.Context, ref string) ([]byte, error)
	// List returns metadata for blobs under partialRef, newest first.
	List(ctx context.Context, partialRef string) ([]Blob, error)
	// Delete removes the blob stored under ref.
	Delete(ctx context.Context, ref string) error
	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error
	Close() error
}

// CompilationLog records compilation outcomes per workflow key.
type CompilationLog interface {
	RecordCompilation(ctx context.Context, c *Compilation) error
	ListCompilations(ctx context.Context, workflowKey string, limit int) ([]*Compilation, error)
}

func newReference(partialRef string) (string, error) {
	partialRef = trimRef(partialRef)
	if partialRef == "" {
		return "", schema.NewError(schema.ErrCodeStore, "partial reference is required")
	}
	return partialRef + "/" + uuid.NewString(), nil
}

func storeNotFound(resource, id string) *schema.WorkflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func trimRef(partialRef string) string {
	return strings.Trim(partialRef, "/")
}

// partialOf returns the partial reference a full reference was generated under.
func partialOf(ref string) string {
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		return ref[:i]
	}
	return ""
}
