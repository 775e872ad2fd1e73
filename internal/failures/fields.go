package failures

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/internal/poison"
	"github.com/rendis/docflow/pkg/schema"
)

// FieldsManager maintains CAF_WORKFLOW_EXTRA_FAILURE_SUBFIELDS from the
// numbered extraFailuresSubfieldKey{N}/extraFailuresSubfieldValue{N} custom data.
type FieldsManager struct {
	logger *slog.Logger
}

// NewFieldsManager creates a FieldsManager.
func NewFieldsManager(logger *slog.Logger) *FieldsManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldsManager{logger: logger}
}

// Handle rewrites the extra failure subfields of doc. Poison documents are
// left untouched. Pairs are read from N=0 until the first missing key; a key
// without a value is skipped.
func (m *FieldsManager) Handle(doc *document.Document) {
	if poison.IsPoison(doc) {
		return
	}
	root := doc.Root()
	extra := m.collect(root)
	root.Clear(schema.FieldExtraFailureSubfields)
	if len(extra) == 0 {
		return
	}
	b, err := json.Marshal(extra)
	if err != nil {
		m.logger.Warn("encoding extra failure subfields", "error", err)
		return
	}
	root.Add(schema.FieldExtraFailureSubfields, string(b))
}

func (m *FieldsManager) collect(root *document.Document) map[string]string {
	extra := make(map[string]string)
	for n := 0; ; n++ {
		suffix := strconv.Itoa(n)
		key, ok := root.CustomData(schema.CustomDataExtraFailureKey + suffix)
		if !ok {
			return extra
		}
		value, ok := root.CustomData(schema.CustomDataExtraFailureValue + suffix)
		if !ok {
			m.logger.Warn("extra failure subfield has no value", "subfield", key)
			continue
		}
		extra[key] = value
	}
}
