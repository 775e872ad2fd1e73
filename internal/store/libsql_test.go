package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/docflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type fullStore interface {
	BlobStore
	CompilationLog
}

// forEachStore runs fn against every implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s fullStore)) {
	t.Run("libsql", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func TestBlobStore_StoreRetrieve(t *testing.T) {
	forEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		data := []byte(`{"name":"enrichment"}`)

		ref, err := s.Store(ctx, data, "workflow-scripts/project-1/")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ref, "workflow-scripts/project-1/"))
		assert.Len(t, strings.TrimPrefix(ref, "workflow-scripts/project-1/"), 36)

		got, err := s.Retrieve(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		ref2, err := s.Store(ctx, data, "workflow-scripts/project-1")
		require.NoError(t, err)
		assert.NotEqual(t, ref, ref2, "every store yields a fresh reference")
	})
}

func TestBlobStore_Errors(t *testing.T) {
	forEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()

		_, err := s.Retrieve(ctx, "workflow-scripts/missing")
		require.Error(t, err)
		assert.True(t, schema.IsNotFound(err))

		_, err = s.Store(ctx, []byte("x"), "/")
		require.Error(t, err)
		assert.True(t, schema.HasCode(err, schema.ErrCodeStore))

		err = s.Delete(ctx, "workflow-scripts/missing")
		assert.True(t, schema.IsNotFound(err))
	})
}

func TestBlobStore_ListAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()

		a, err := s.Store(ctx, []byte("aa"), "workflow-scripts")
		require.NoError(t, err)
		_, err = s.Store(ctx, []byte("b"), "workflow-scripts/p1")
		require.NoError(t, err)

		blobs, err := s.List(ctx, "workflow-scripts")
		require.NoError(t, err)
		require.Len(t, blobs, 1, "project blobs live under their own partial reference")
		assert.Equal(t, a, blobs[0].Reference)
		assert.Equal(t, int64(2), blobs[0].Size)

		require.NoError(t, s.Delete(ctx, a))
		blobs, err = s.List(ctx, "workflow-scripts")
		require.NoError(t, err)
		assert.Empty(t, blobs)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestCompilationLog_SequencePerKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()

		for i := range 3 {
			c := &Compilation{WorkflowKey: "p1/enrichment", Reference: fmt.Sprintf("ref-%d", i), Outcome: CompilationSucceeded}
			require.NoError(t, s.RecordCompilation(ctx, c))
			assert.Equal(t, int64(i+1), c.Sequence)
		}
		other := &Compilation{WorkflowKey: "/enrichment", Outcome: CompilationFailed, Error: "bad condition"}
		require.NoError(t, s.RecordCompilation(ctx, other))
		assert.Equal(t, int64(1), other.Sequence)

		got, err := s.ListCompilations(ctx, "p1/enrichment", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, int64(3), got[0].Sequence)
		assert.Equal(t, "ref-2", got[0].Reference)
		assert.Equal(t, int64(2), got[1].Sequence)

		got, err = s.ListCompilations(ctx, "/enrichment", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, CompilationFailed, got[0].Outcome)
		assert.Equal(t, "bad condition", got[0].Error)
		assert.Empty(t, got[0].Reference)
	})
}

func TestCompilationLog_ConcurrentAppends(t *testing.T) {
	forEachStore(t, func(t *testing.T, s fullStore) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.RecordCompilation(ctx, &Compilation{WorkflowKey: "k", Outcome: CompilationSucceeded}))
			}()
		}
		wg.Wait()

		got, err := s.ListCompilations(ctx, "k", 0)
		require.NoError(t, err)
		require.Len(t, got, 10)
		for i, c := range got {
			assert.Equal(t, int64(10-i), c.Sequence)
		}
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}
