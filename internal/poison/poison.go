// Package poison recognizes documents re-delivered after a crash or retry
// whose workflow settings were already resolved. Such documents keep their
// settings verbatim instead of resolving them again.
package poison

import (
	"github.com/rendis/docflow/internal/document"
	"github.com/rendis/docflow/pkg/schema"
)

// IsPoison reports whether doc already carries resolved settings while the
// task no longer names a workflow. It does not modify doc.
func IsPoison(doc *document.Document) bool {
	root := doc.Root()
	if _, ok := root.FirstValue(schema.FieldSettings); !ok {
		return false
	}
	_, named := root.CustomData(schema.CustomDataWorkflowName)
	return !named
}

// TrustedSettings returns the settings value carried by a poison document.
func TrustedSettings(doc *document.Document) (string, bool) {
	if !IsPoison(doc) {
		return "", false
	}
	return doc.Root().FirstValue(schema.FieldSettings)
}
