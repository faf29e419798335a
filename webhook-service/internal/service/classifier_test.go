package service

import (
	"testing"

	"canvas-server/shared/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected models.ErrorKind
	}{
		{"structured validation code", "validation_error", "", models.ErrorKindValidation},
		{"structured code beats message", "timeout", "invalid prompt", models.ErrorKindTimeout},
		{"code normalized", " Rate_Limited ", "", models.ErrorKindAPI},
		{"unknown code falls through to message", "weird_code", "request timed out", models.ErrorKindTimeout},
		{"nsfw message", "", "prompt flagged as NSFW", models.ErrorKindValidation},
		{"quota message", "", "monthly quota exceeded", models.ErrorKindAPI},
		{"network message", "", "connection reset by peer", models.ErrorKindNetwork},
		{"storage message", "", "failed to upload to bucket", models.ErrorKindStorage},
		{"no signal", "", "something went wrong", models.ErrorKindUnknown},
		{"empty", "", "", models.ErrorKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyProviderError(tt.code, tt.message))
		})
	}
}

func TestErrorKindRetryable(t *testing.T) {
	assert.True(t, models.ErrorKindNetwork.Retryable())
	assert.True(t, models.ErrorKindTimeout.Retryable())
	assert.True(t, models.ErrorKindStorage.Retryable())
	assert.False(t, models.ErrorKindValidation.Retryable())
	assert.False(t, models.ErrorKindNodeDeleted.Retryable())
}

func TestMapProviderStatus(t *testing.T) {
	assert.Equal(t, models.JobStatusCompleted, MapProviderStatus("OK"))
	assert.Equal(t, models.JobStatusCompleted, MapProviderStatus("succeeded"))
	assert.Equal(t, models.JobStatusFailed, MapProviderStatus("FAILED"))
	assert.Equal(t, models.JobStatusFailed, MapProviderStatus("cancelled"))
	assert.Equal(t, models.JobStatus(""), MapProviderStatus("in_progress"))
}
