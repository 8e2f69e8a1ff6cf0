package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/fieldsync/internal/record"
)

func TestKindHelpers_SeeThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save ticket: %w", Storage("write with mutation", cause))

	assert.True(t, IsStorage(err))
	assert.False(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
}

func TestStorage_NilIsNil(t *testing.T) {
	assert.NoError(t, Storage("noop", nil))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsAuth(nil))
}

func TestError_Message(t *testing.T) {
	err := &Error{
		Kind:       KindValidation,
		Op:         "push",
		EntityType: record.EntityTicket,
		ID:         "m-1",
		Err:        errors.New("title required"),
	}
	assert.Equal(t, "VALIDATION: push (ticket/m-1): title required", err.Error())

	assert.Equal(t, "AUTH: pull: token expired", Auth("pull", errors.New("token expired")).Error())
}

func TestConflict(t *testing.T) {
	err := Conflict(record.EntityPMTask, "rec-9")
	assert.True(t, IsConflict(err))
	assert.Contains(t, err.Error(), "pm_task/rec-9")
}
