package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version, strings.TrimSpace(out))
}

func TestValidateCmd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "intake.yaml"), []byte(`
actions:
  - name: ocr
    condition: '"IMAGE" in fields'
  - name: Lang-Detect
    terminateOnFailure: false
  - name: index
    queueName: search-index-in
`), 0o644))

	out, err := run(t, "validate", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"WORKFLOW", "ACTION", "QUEUE", "TERMINATES", "CONDITION"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"intake", "ocr", "ocr-in", "true", `"IMAGE"`, "in", "fields"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"intake", "Lang-Detect", "Lang-Detect-in", "false", "-"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"intake", "index", "search-index-in", "true", "-"}, strings.Fields(lines[3]))
}

func TestValidateCmd_InvalidWorkflow(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("actions:\n  - name: x\n    condition: 'fields['\n"), 0o644))

	_, err := run(t, "validate", dir)
	assert.Error(t, err)
}

func TestValidateCmd_Mermaid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "intake.yaml"), []byte("actions:\n  - name: ocr\n"), 0o644))

	out, err := run(t, "validate", "--mermaid", dir)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n    %% intake\n"))
	assert.Contains(t, out, "__start__ --> a0")
}
