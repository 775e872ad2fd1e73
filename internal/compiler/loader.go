package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rendis/docflow/internal/validation"
	"github.com/rendis/docflow/pkg/schema"
)

// DefinitionSource provides workflow definitions by name.
type DefinitionSource interface {
	Definition(ctx context.Context, name string) (*schema.WorkflowDefinition, error)
	Names() []string
}

// Loader reads workflow definitions from a directory of YAML files. The
// workflow name is the file name without its .yaml or .yml extension.
type Loader struct {
	dir       string
	validator *validation.WorkflowValidator

	mu    sync.RWMutex
	files map[string]string // workflow name -> path
}

// NewLoader creates a loader for dir. validator may be nil to skip validation.
func NewLoader(dir string, validator *validation.WorkflowValidator) *Loader {
	return &Loader{dir: dir, validator: validator, files: map[string]string{}}
}

// LoadAll reads and validates every workflow in the directory. It fails when
// any file is invalid or no workflow is found.
func (l *Loader) LoadAll() (map[string]*schema.WorkflowDefinition, error) {
	if strings.TrimSpace(l.dir) == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "workflows directory is not configured")
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read workflows directory %q", l.dir).WithCause(err)
	}

	files := make(map[string]string)
	defs := make(map[string]*schema.WorkflowDefinition)
	for _, e := range entries {
		name, ok := workflowName(e)
		if !ok {
			continue
		}
		path := filepath.Join(l.dir, e.Name())
		if prev, dup := files[name]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeConfig,
				"workflow %q is defined twice: %s and %s", name, filepath.Base(prev), e.Name())
		}
		def, err := l.read(name, path)
		if err != nil {
			return nil, err
		}
		files[name] = path
		defs[name] = def
	}
	if len(defs) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "no workflows found in %q", l.dir)
	}

	l.mu.Lock()
	l.files = files
	l.mu.Unlock()
	return defs, nil
}

// Definition re-reads the named workflow from disk, so edits are picked up
// the next time a workflow is compiled. A workflow unknown to the last
// LoadAll is NOT_FOUND.
func (l *Loader) Definition(_ context.Context, name string) (*schema.WorkflowDefinition, error) {
	l.mu.RLock()
	path, ok := l.files[name]
	l.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", name)
	}
	def, err := l.read(name, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q no longer exists", name).WithCause(err)
	}
	return def, err
}

// Names returns the loaded workflow names, sorted.
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.files))
	for n := range l.files {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (l *Loader) read(name, path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read workflow %q", name).WithCause(err)
	}
	return Parse(name, data, l.validator)
}

// Parse decodes and validates a YAML workflow definition. name is the
// workflow entry name; a "name" key inside the document must match it.
func Parse(name string, data []byte, validator *validation.WorkflowValidator) (*schema.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q is empty", name)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "workflow %q is not valid YAML", name).WithCause(err)
	}
	if validator != nil {
		if err := validator.ValidateDocument(raw).Err(); err != nil {
			return nil, annotate(name, err)
		}
	}

	var def schema.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode workflow %q", name).WithCause(err)
	}
	if def.Name != "" && def.Name != name {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"workflow file %q declares name %q", name, def.Name)
	}
	def.Name = name

	if validator != nil {
		if err := validator.ValidateDefinition(&def); err != nil {
			return nil, annotate(name, err)
		}
	}
	return &def, nil
}

func annotate(name string, err error) error {
	var wfErr *schema.WorkflowError
	if errors.As(err, &wfErr) {
		return schema.NewErrorf(wfErr.Code, "workflow %q: %s", name, wfErr.Message).
			WithDetails(wfErr.Details)
	}
	return fmt.Errorf("workflow %q: %w", name, err)
}

func workflowName(e fs.DirEntry) (string, bool) {
	if e.IsDir() {
		return "", false
	}
	ext := filepath.Ext(e.Name())
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	return strings.TrimSuffix(e.Name(), ext), true
}

var _ DefinitionSource = (*Loader)(nil)
