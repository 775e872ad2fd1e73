package expressions

import (
	"context"
	"testing"

	"github.com/rendis/docflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failureRecord(id, message string) map[string]any {
	return map[string]any{"ID": id, "MESSAGE": message}
}

func TestGoJQEngine_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `.ID`, failureRecord("W_LANG", "low confidence"))
	require.NoError(t, err)
	assert.Equal(t, "W_LANG", out)

	out, err = e.Evaluate(ctx, `.ID, .MESSAGE`, failureRecord("E1", "boom"))
	require.NoError(t, err)
	assert.Equal(t, []any{"E1", "boom"}, out)

	out, err = e.Evaluate(ctx, `empty`, failureRecord("E1", "boom"))
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_Truthy(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		rec  map[string]any
		want bool
	}{
		{"prefix match", `.ID | startswith("W_")`, failureRecord("W_LANG", "m"), true},
		{"prefix miss", `.ID | startswith("W_")`, failureRecord("E_LANG", "m"), false},
		{"null is false", `.STACK`, failureRecord("E1", "m"), false},
		{"string is true", `.MESSAGE`, failureRecord("E1", "m"), true},
		{"no output is false", `empty`, failureRecord("E1", "m"), false},
		{"regex", `.MESSAGE | test("timeout"; "i")`, failureRecord("E1", "Read TIMEOUT"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Truthy(ctx, tt.expr, tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGoJQEngine_Check(t *testing.T) {
	e := NewGoJQEngine()
	assert.NoError(t, e.Check(`.ID == "W"`))

	err := e.Check(`.ID ==`)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	assert.Error(t, e.Check(""))
}

func TestGoJQEngine_NoEnvAccess(t *testing.T) {
	t.Setenv("DOCFLOW_SECRET", "hidden")
	e := NewGoJQEngine()

	out, err := e.Evaluate(context.Background(), `$ENV.DOCFLOW_SECRET`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_RuntimeError(t *testing.T) {
	e := NewGoJQEngine()
	_, err := e.Evaluate(context.Background(), `.ID + 1`, failureRecord("E1", "m"))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
}
