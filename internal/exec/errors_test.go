package exec

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plexec/internal/logging"
)

func TestRuntimeError_Format(t *testing.T) {
	err := NewDuplicatePlanError("Drive")
	assert.Equal(t, "DUPLICATE_PLAN: a plan with this root id is already loaded (node=Drive)", err.Error())

	bare := &RuntimeError{Code: ErrCodeInternalConsistency, Message: "broken"}
	assert.Equal(t, "INTERNAL_CONSISTENCY: broken", bare.Error())
}

func TestRuntimeError_IsHelpersUnwrap(t *testing.T) {
	err := fmt.Errorf("add plan: %w", NewMissingLibraryError("Caller", []string{"Nav", "Arm"}))

	assert.True(t, IsMissingLibrary(err))
	assert.False(t, IsDuplicatePlan(err))
	assert.False(t, IsQuiescenceError(err))
	assert.False(t, IsMissingLibrary(errors.New("plain")))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Nav,Arm", re.Details["libraries"])
}

func TestFatal_PanicsWithRuntimeError(t *testing.T) {
	defer func() {
		r := recover()
		err, ok := r.(error)
		require.True(t, ok, "panic value should be an error, got %v", r)
		assert.True(t, IsInternalConsistency(err))
		assert.Contains(t, err.Error(), "node X in state 42")
	}()
	Fatal(logging.NewNop(), "node %s in state %d", "X", 42)
	t.Fatal("Fatal returned")
}
