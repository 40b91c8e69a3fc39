package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"whisper-api/internal/entity"
)

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, entity.StatusQueued.Terminal())
	assert.False(t, entity.StatusProcessing.Terminal())
	assert.True(t, entity.StatusCompleted.Terminal())
	assert.True(t, entity.StatusFailed.Terminal())
	assert.True(t, entity.StatusCancelled.Terminal())
}

func TestJobStatus_Valid(t *testing.T) {
	for _, s := range []entity.JobStatus{
		entity.StatusQueued, entity.StatusProcessing,
		entity.StatusCompleted, entity.StatusFailed, entity.StatusCancelled,
	} {
		assert.True(t, s.Valid(), "status %q", s)
	}
	assert.False(t, entity.JobStatus("pending").Valid())
	assert.False(t, entity.JobStatus("").Valid())
}
