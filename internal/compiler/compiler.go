// Package compiler turns workflow definitions into their executable form,
// stores that form in the blob store and caches it per (project, workflow).
package compiler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/docflow/internal/cache"
	"github.com/rendis/docflow/internal/expressions"
	"github.com/rendis/docflow/internal/store"
	"github.com/rendis/docflow/internal/telemetry"
	"github.com/rendis/docflow/internal/validation"
	"github.com/rendis/docflow/pkg/schema"
)

// Compiler compiles workflow definitions.
type Compiler struct {
	source    DefinitionSource
	validator validation.Validator
	blobs     store.BlobStore
	history   store.CompilationLog
	lookupEnv LookupEnv
	cel       *expressions.CELEngine
	expr      *expressions.ExprEngine
	now       func() time.Time
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// Option customizes a Compiler.
type Option func(*Compiler)

// WithValidator validates every definition before it is compiled.
func WithValidator(v validation.Validator) Option {
	return func(c *Compiler) { c.validator = v }
}

// WithExpressions compiles action conditions and custom-data templates
// into the compiled workflow. Without it they are evaluated from source.
func WithExpressions(cel *expressions.CELEngine, expr *expressions.ExprEngine) Option {
	return func(c *Compiler) {
		c.cel = cel
		c.expr = expr
	}
}

// WithCompilationLog records every compilation outcome.
func WithCompilationLog(l store.CompilationLog) Option {
	return func(c *Compiler) { c.history = l }
}

// WithLookupEnv replaces os.LookupEnv for queue overrides.
func WithLookupEnv(fn LookupEnv) Option {
	return func(c *Compiler) { c.lookupEnv = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// WithMetrics records compilations on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

// WithLogger sets the compiler logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// New creates a compiler reading from source and storing into blobs.
func New(source DefinitionSource, blobs store.BlobStore, opts ...Option) *Compiler {
	c := &Compiler{
		source: source,
		blobs:  blobs,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile reads the definition for key, validates it, resolves action
// queues and stores the result. A missing definition is NOT_FOUND, an
// invalid one VALIDATION_ERROR, and a blob store failure TRANSIENT_ERROR.
func (c *Compiler) Compile(ctx context.Context, key Key) (*CompiledWorkflow, error) {
	wf, err := c.compile(ctx, key)
	c.record(ctx, key, wf, err)
	if err != nil {
		c.metrics.Compilation(key.Name, "error")
		return nil, err
	}
	c.metrics.Compilation(key.Name, "ok")
	c.logger.Info("workflow compiled",
		"workflow", key.Name, "project", key.ProjectID,
		"actions", len(wf.Actions), "reference", wf.StorageReference)
	return wf, nil
}

func (c *Compiler) compile(ctx context.Context, key Key) (*CompiledWorkflow, error) {
	def, err := c.source.Definition(ctx, key.Name)
	if err != nil {
		return nil, err
	}
	if c.validator != nil {
		if err := c.validator.ValidateDefinition(def); err != nil {
			return nil, err
		}
	}

	wf := &CompiledWorkflow{
		Name:          key.Name,
		ProjectID:     key.ProjectID,
		Actions:       make([]CompiledAction, 0, len(def.Actions)),
		Settings:      def.Settings(),
		WarningFilter: def.WarningFilter,
		CompiledAt:    c.now().UTC(),
	}
	for i := range def.Actions {
		a := &def.Actions[i]
		programs, err := c.programs(wf, a)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"compile action %q of workflow %q", a.Name, key.Name).WithCause(err)
		}
		wf.Actions = append(wf.Actions, CompiledAction{
			Name:               a.Name,
			Condition:          a.Condition,
			CustomData:         a.CustomData,
			Queue:              QueueName(a.Name, a.QueueName, c.lookupEnv),
			TerminateOnFailure: a.Terminates(),
			Programs:           programs,
		})
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "serialize workflow %q", key.Name).WithCause(err)
	}
	ref, err := c.blobs.Store(ctx, data, key.PartialReference())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTransient, "store compiled workflow %q", key.Name).WithCause(err)
	}
	wf.StorageReference = ref
	return wf, nil
}

// programs compiles an action's expressions. Custom data naming a declared
// setting is looked up rather than compiled.
func (c *Compiler) programs(wf *CompiledWorkflow, a *schema.Action) (Programs, error) {
	var p Programs
	if c.cel != nil {
		cond, err := c.cel.CompileCondition(a.Condition)
		if err != nil {
			return p, err
		}
		p.Condition = cond
	}
	if c.expr == nil || len(a.CustomData) == 0 {
		return p, nil
	}
	p.CustomData = make(map[string]*expressions.Template, len(a.CustomData))
	for k, tpl := range a.CustomData {
		if wf.DeclaresSetting(tpl) {
			continue
		}
		t, err := c.expr.CompileTemplate(tpl)
		if err != nil {
			return p, err
		}
		p.CustomData[k] = t
	}
	return p, nil
}

func (c *Compiler) record(ctx context.Context, key Key, wf *CompiledWorkflow, err error) {
	if c.history == nil {
		return
	}
	entry := &store.Compilation{WorkflowKey: key.String(), Outcome: store.CompilationSucceeded}
	if err != nil {
		entry.Outcome = store.CompilationFailed
		entry.Error = err.Error()
	} else {
		entry.Reference = wf.StorageReference
		entry.CompiledAt = wf.CompiledAt
	}
	if recErr := c.history.RecordCompilation(ctx, entry); recErr != nil {
		c.logger.Warn("recording compilation failed", "workflow", key.Name, "error", recErr)
	}
}

// Load reads a compiled workflow back from the blob store.
func Load(ctx context.Context, blobs store.BlobStore, ref string) (*CompiledWorkflow, error) {
	data, err := blobs.Retrieve(ctx, ref)
	if err != nil {
		return nil, err
	}
	var wf CompiledWorkflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode compiled workflow %q", ref).WithCause(err)
	}
	wf.StorageReference = ref
	return &wf, nil
}

// Cache holds compiled workflows for a fixed TTL. Concurrent requests for the
// same key share one compilation; different keys compile independently.
type Cache struct {
	results *cache.ResultCache[Key, *CompiledWorkflow]
}

// NewCache creates a cache in front of compiler.
func NewCache(compiler *Compiler, ttl time.Duration) *Cache {
	return &Cache{results: cache.NewResultCache[Key, *CompiledWorkflow](ttl, compiler.Compile)}
}

// GetOrCompile returns the live compiled workflow for key, compiling it on a miss.
func (c *Cache) GetOrCompile(ctx context.Context, key Key) (*CompiledWorkflow, error) {
	return c.results.GetOrLoad(ctx, key)
}

// Peek returns a live entry without compiling.
func (c *Cache) Peek(key Key) (*CompiledWorkflow, bool) {
	return c.results.Peek(key)
}

// Stats returns cache activity counters.
func (c *Cache) Stats() cache.ResultStats {
	return c.results.Stats()
}
