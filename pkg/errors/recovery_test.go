package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeExecuteRecoversPanic(t *testing.T) {
	err := SafeExecute("reshape", func() error {
		panic("tensor: cannot reshape [2 3] into [4]")
	})
	require.Error(t, err)

	var panicErr *PanicError
	require.True(t, As(err, &panicErr))
	assert.Equal(t, "reshape", panicErr.Operation)
	assert.Contains(t, panicErr.String(), "Stack trace")
}

func TestSafeExecutePassesThroughError(t *testing.T) {
	want := NewValueError("op", "bad")
	err := SafeExecute("op", func() error { return want })
	assert.Equal(t, want, err)
}

func TestRecoverWrapsExistingError(t *testing.T) {
	fn := func() (err error) {
		defer Recover(&err, "forward")
		err = NewValueError("forward", "first")
		panic("second")
	}
	err := fn()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in forward: second")
	assert.Contains(t, err.Error(), "first")
}

func TestPanicErrorUnwrapsErrorValues(t *testing.T) {
	inner := New("inner")
	err := SafeExecute("op", func() error { panic(inner) })
	assert.True(t, Is(err, inner))
}
