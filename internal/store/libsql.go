package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/docflow/pkg/schema"
)

// LibSQLStore implements BlobStore and CompilationLog on libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/var/lib/docflow/blobs.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so use QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Ping checks the database connection.
func (s *LibSQLStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

// --- Blobs ---

func (s *LibSQLStore) Store(ctx context.Context, data []byte, partialRef string) (string, error) {
	ref, err := newReference(partialRef)
	if err != nil {
		return "", err
	}
	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blobs (reference, partial_reference, data, size, created_at) VALUES (?, ?, ?, ?, ?)`,
		ref, partialOf(ref), data, len(data), time.Now().UTC(),
	)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeStore, "store blob under %q", partialRef).WithCause(err)
	}
	return ref, nil
}

func (s *LibSQLStore) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE reference = ?`, ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("blob", ref)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "retrieve blob %q", ref).WithCause(err)
	}
	return data, nil
}

func (s *LibSQLStore) List(ctx context.Context, partialRef string) ([]Blob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reference, partial_reference, size, created_at FROM blobs
		 WHERE partial_reference = ? ORDER BY created_at DESC, reference`, trimRef(partialRef))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list blobs under %q", partialRef).WithCause(err)
	}
	defer rows.Close()

	var out []Blob
	for rows.Next() {
		var b Blob
		if err := rows.Scan(&b.Reference, &b.PartialReference, &b.Size, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) Delete(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE reference = ?`, ref)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete blob %q", ref).WithCause(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound("blob", ref)
	}
	return nil
}

// --- Compilation log ---

// RecordCompilation appends c with the next per-key sequence number.
func (s *LibSQLStore) RecordCompilation(ctx context.Context, c *Compilation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin compilation tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM compilations WHERE workflow_key = ?`, c.WorkflowKey,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next compilation sequence: %w", err)
	}
	if c.CompiledAt.IsZero() {
		c.CompiledAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO compilations (workflow_key, sequence, reference, outcome, error, compiled_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.WorkflowKey, seq, nullStr(c.Reference), c.Outcome, nullStr(c.Error), c.CompiledAt,
	); err != nil {
		return fmt.Errorf("insert compilation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit compilation: %w", err)
	}
	c.Sequence = seq
	return nil
}

// ListCompilations returns the latest entries for workflowKey, newest first.
// limit <= 0 returns all of them.
func (s *LibSQLStore) ListCompilations(ctx context.Context, workflowKey string, limit int) ([]*Compilation, error) {
	query := `SELECT workflow_key, sequence, reference, outcome, error, compiled_at
		FROM compilations WHERE workflow_key = ? ORDER BY sequence DESC`
	args := []any{workflowKey}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Compilation
	for rows.Next() {
		c := &Compilation{}
		var ref, errMsg sql.NullString
		if err := rows.Scan(&c.WorkflowKey, &c.Sequence, &ref, &c.Outcome, &errMsg, &c.CompiledAt); err != nil {
			return nil, err
		}
		c.Reference = ref.String
		c.Error = errMsg.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
