package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/docflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func conditionData() map[string]any {
	return map[string]any{
		VarFields: map[string][]string{
			"LANGUAGE":      {"en", "fr"},
			"CONTENT_TYPE":  {"application/pdf"},
			"REPOSITORY_ID": {"r1"},
		},
		VarCustomData: map[string]string{"tenantId": "t1"},
		VarSettings:   map[string]string{"ocrEnabled": "true"},
	}
}

func TestNewCELEngine(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_Evaluate(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"literal", "true", true},
		{"field membership", `"fr" in fields.LANGUAGE`, true},
		{"field first value", `fields.CONTENT_TYPE[0] == "application/pdf"`, true},
		{"has on absent field", `has(fields.OCR_TEXT)`, false},
		{"custom data", `customData.tenantId == "t1"`, true},
		{"settings", `settings.ocrEnabled == "true"`, true},
		{"string ext", `fields.CONTENT_TYPE[0].lowerAscii().startsWith("application/")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(ctx, tt.expr, conditionData())
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCEL_EvaluateAbsentFieldErrors(t *testing.T) {
	e := newCEL(t)
	_, err := e.Evaluate(context.Background(), `fields.OCR_TEXT[0] == "x"`, conditionData())
	require.Error(t, err)

	var wfErr *schema.WorkflowError
	require.ErrorAs(t, err, &wfErr)
	assert.Equal(t, schema.ErrCodeExecution, wfErr.Code)
}

func TestCEL_Matches(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	assert.True(t, e.Matches(ctx, "", nil), "empty condition always matches")
	assert.True(t, e.Matches(ctx, `"en" in fields.LANGUAGE`, conditionData()))
	assert.False(t, e.Matches(ctx, `"de" in fields.LANGUAGE`, conditionData()))
	assert.False(t, e.Matches(ctx, `fields.OCR_TEXT[0] == "x"`, conditionData()), "absent field is false")
	assert.False(t, e.Matches(ctx, `fields.LANGUAGE[0] ==`, conditionData()), "compile error is false")
	assert.False(t, e.Matches(ctx, `fields.LANGUAGE[0] == "en"`, nil), "missing view is false")
}

func TestCEL_Check(t *testing.T) {
	e := newCEL(t)

	assert.NoError(t, e.Check(`has(fields.LANGUAGE)`))

	err := e.Check(`fields.LANGUAGE[0] +`)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = e.Check(`"not a bool"`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be boolean")

	err = e.Check(`unknownVar == 1`)
	require.Error(t, err)

	err = e.Check("")
	require.Error(t, err)
}

func TestCEL_ConcurrentEvaluate(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, e.Matches(ctx, `"en" in fields.LANGUAGE`, conditionData()))
		}()
	}
	wg.Wait()

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}

func TestCEL_CompileCondition(t *testing.T) {
	e := newCEL(t)
	ctx := context.Background()

	cond, err := e.CompileCondition(`"en" in fields.LANGUAGE`)
	require.NoError(t, err)
	assert.Equal(t, `"en" in fields.LANGUAGE`, cond.String())
	assert.True(t, cond.Matches(ctx, conditionData()))
	assert.False(t, cond.Matches(ctx, nil), "missing view is false")

	none, err := e.CompileCondition("")
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.True(t, none.Matches(ctx, nil), "no condition always matches")

	_, err = e.CompileCondition(`"not a bool"`)
	assert.Error(t, err)
}
