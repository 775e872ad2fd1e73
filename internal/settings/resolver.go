package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/logging"
	"github.com/rendis/docflow/pkg/schema"
)

// Service is the part of the settings service client the resolver needs.
type Service interface {
	GetResolvedSetting(ctx context.Context, name string, scopes []string, priorities []int, forceRefresh bool) (string, error)
}

// ResolveOptions carries per-document resolution inputs.
type ResolveOptions struct {
	// LastUpdated is when settings last changed upstream; nil means unknown.
	LastUpdated *time.Time
}

// Resolver computes workflow settings for a document.
type Resolver struct {
	service Service
	tracker *RefreshTracker
	logger  *slog.Logger
}

// NewResolver creates a resolver. A nil tracker gets a default one.
func NewResolver(service Service, tracker *RefreshTracker, logger *slog.Logger) *Resolver {
	if tracker == nil {
		tracker = NewRefreshTracker(DefaultAccessRetention, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{service: service, tracker: tracker, logger: logger}
}

// Resolve walks each definition's sources in order and keeps the first
// non-empty value. Settings without a value are omitted from the result.
func (r *Resolver) Resolve(ctx context.Context, defs []schema.SettingDefinition, doc *document.Document, opts ResolveOptions) (map[string]string, error) {
	root := doc.Root()
	out := make(map[string]string, len(defs))

	for _, def := range defs {
		value, err := r.resolveOne(ctx, def, root, opts)
		if err != nil {
			return nil, err
		}
		if value == "" {
			value = def.Default
		}
		if value != "" {
			out[def.Name] = value
		}
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, def schema.SettingDefinition, root *document.Document, opts ResolveOptions) (string, error) {
	for _, src := range def.Sources {
		switch src.Type {
		case schema.SourceField:
			if v, ok := root.FirstValue(src.Name); ok {
				return v, nil
			}

		case schema.SourceCustomData:
			if v, ok := root.CustomData(src.Name); ok && v != "" {
				return v, nil
			}

		case schema.SourceSettingsService:
			name := src.Name
			if name == "" {
				name = def.Name
			}
			scopes := BuildScopes(src.Options, root)
			key := scopes.Key(name)
			force := r.tracker.ShouldRefresh(key, opts.LastUpdated)

			// A failed lookup is not an access: the retry must force again.
			v, err := r.service.GetResolvedSetting(ctx, name, scopes.Names, scopes.Priorities, force)
			if schema.IsNotFound(err) {
				r.tracker.RecordAccess(key)
				logging.LogWith(ctx, r.logger).Debug("setting not found in settings service",
					"setting", name, "scopes", scopes.Names)
				continue
			}
			if err != nil {
				if schema.IsTransient(err) {
					return "", err
				}
				return "", schema.NewErrorf(schema.ErrCodeTransient, "resolve setting %q", def.Name).WithCause(err)
			}
			r.tracker.RecordAccess(key)
			if v != "" {
				return v, nil
			}

		default:
			return "", schema.NewErrorf(schema.ErrCodeConfig,
				"setting %q has unknown source type %q", def.Name, src.Type)
		}
	}
	return "", nil
}

// Apply stores settings as one JSON object in the settings field of the root
// document, replacing prior values, and mirrors it into the response custom
// data. It returns the JSON written.
func Apply(doc *document.Document, settings map[string]string) (string, error) {
	if settings == nil {
		settings = map[string]string{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeExecution, "encode workflow settings").WithCause(err)
	}
	encoded := string(data)

	root := doc.Root()
	root.Set(schema.FieldSettings, encoded)
	root.Task().Response.SetCustomData(schema.ResponseSettings, encoded)
	return encoded, nil
}

// ParseLastUpdated reads the settings last-update time (epoch milliseconds)
// from task custom data. Absent or empty means unknown.
func ParseLastUpdated(doc *document.Document) (*time.Time, error) {
	raw, ok := doc.CustomData(schema.CustomDataSettingsLastUpdate)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"%s must be epoch milliseconds, got %q", schema.CustomDataSettingsLastUpdate, raw).WithCause(err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

// CheckTrusted verifies that a previously resolved settings value is a JSON
// object whose keys are all declared setting names and whose values are
// never null.
func CheckTrusted(raw string, defs []schema.SettingDefinition) error {
	var values map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return schema.NewError(schema.ErrCodeValidation, "existing workflow settings are not a JSON object").WithCause(err)
	}
	if values == nil {
		return schema.NewError(schema.ErrCodeValidation, "existing workflow settings are null")
	}

	declared := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		declared[d.Name] = struct{}{}
	}
	var unexpected, nulls []string
	for k, v := range values {
		if _, ok := declared[k]; !ok {
			unexpected = append(unexpected, k)
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			nulls = append(nulls, k)
		}
	}
	if len(unexpected) > 0 {
		slices.Sort(unexpected)
		return schema.NewErrorf(schema.ErrCodeValidation,
			"existing workflow settings contain undeclared keys: %s", strings.Join(unexpected, ", ")).
			WithDetails(map[string]any{"keys": unexpected})
	}
	if len(nulls) > 0 {
		slices.Sort(nulls)
		return schema.NewErrorf(schema.ErrCodeValidation,
			"existing workflow settings have null values: %s", strings.Join(nulls, ", ")).
			WithDetails(map[string]any{"keys": nulls})
	}
	return nil
}
