package errors

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "LoadStateDict",
			kind:    "missing parameter",
			err:     fmt.Errorf("proj_q.weight"),
			wantMsg: "kittycat: LoadStateDict: missing parameter: proj_q.weight",
		},
		{
			name:    "without original error",
			op:      "Forward",
			kind:    "not constructed",
			wantMsg: "kittycat: Forward: not constructed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			formatted := fmt.Sprintf("%+v", err)
			assert.True(t, strings.Contains(formatted, "errors_test.go"), "expected stack trace to contain test file name")

			var modelErr *ModelError
			require.True(t, As(err, &modelErr))
			assert.Equal(t, tt.op, modelErr.Op)
		})
	}
}

func TestModelErrorUnwrap(t *testing.T) {
	inner := New("boom")
	err := NewModelError("Run", "failed", inner)
	assert.True(t, Is(err, inner))
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Forward", 8, 4, 1)
	assert.Equal(t, "kittycat: Forward: dimension mismatch on axis 1. Expected 8, got 4", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 8, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestNewInputShapeError(t *testing.T) {
	err := NewInputShapeError("KittyCatConv.Forward", "key", []int{2, 8, -1, 4}, []int{2, 8, 5, 3})
	assert.Contains(t, err.Error(), "for key")
	assert.Contains(t, err.Error(), "[2 8 -1 4]")

	anon := NewInputShapeError("Linear.Forward", "", []int{3}, []int{4})
	assert.Equal(t, "kittycat: Linear.Forward: shape mismatch. Expected shape [3], got [4]", anon.Error())
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("filter_widths", "must be odd", 4)
	assert.Equal(t, "kittycat: validation failed for parameter 'filter_widths': must be odd (got: 4)", err.Error())

	var vErr *ValidationError
	require.True(t, As(err, &vErr))
	assert.Equal(t, 4, vErr.Value)
}

func TestWarnRoutesToZerologFunc(t *testing.T) {
	var got []error
	SetZerologWarnFunc(func(w error) { got = append(got, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("mse", "zero normaliser", 0))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "'mse' is ill-defined")
}

func TestWarnFallsBackToHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(error) {})

	Warn(NewDeviceFallbackWarning("cuda:0", "cpu"))
	require.Len(t, got, 1)
	assert.Equal(t, `device "cuda:0" is not available, falling back to "cpu"`, got[0].Error())
}

func TestCheckNumericalStability(t *testing.T) {
	assert.NoError(t, CheckNumericalStability("ok", []float64{0, 1, -2}))

	err := CheckNumericalStability("softmax", []float64{1, math.NaN(), math.Inf(1)})
	require.Error(t, err)
	var numErr *NumericalInstabilityError
	require.True(t, As(err, &numErr))
	assert.Equal(t, 1, numErr.Index)
	assert.Len(t, numErr.Values, 2)
}

