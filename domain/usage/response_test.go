package usage_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/justpaid/core/schema"
	"github.com/artpar/justpaid/domain/usage"
)

func TestParseEventResponse(t *testing.T) {
	t.Run("all created", func(t *testing.T) {
		resp, err := usage.ParseEventResponse([]byte(`{"info":{"created_events":2,"duplicates":[]}}`))

		require.NoError(t, err)
		assert.Equal(t, 2, resp.Info.CreatedEvents)
		assert.Empty(t, resp.Info.Duplicates)
		assert.Nil(t, resp.Errors)
	})

	t.Run("duplicates and partial failure", func(t *testing.T) {
		resp, err := usage.ParseEventResponse([]byte(`{
			"info": {"created_events": 1, "duplicates": ["k1"]},
			"errors": [{"idempotency_key": "k3", "error": "unknown item_id"}]
		}`))

		require.NoError(t, err)
		assert.Equal(t, 1, resp.Info.CreatedEvents)
		assert.True(t, resp.Info.IsDuplicate("k1"))
		assert.False(t, resp.Info.IsDuplicate("k2"))

		e, ok := resp.ErrorFor("k3")
		require.True(t, ok)
		assert.Equal(t, "unknown item_id", e.Error)
		_, ok = resp.ErrorFor("k1")
		assert.False(t, ok)
	})

	t.Run("empty errors array stays non-nil", func(t *testing.T) {
		resp, err := usage.ParseEventResponse([]byte(`{"info":{"created_events":0,"duplicates":[]},"errors":[]}`))

		require.NoError(t, err)
		assert.NotNil(t, resp.Errors)
	})

	t.Run("missing info", func(t *testing.T) {
		_, err := usage.ParseEventResponse([]byte(`{"errors":[]}`))

		var verr *schema.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.True(t, verr.Has("info"))
	})

	t.Run("malformed error entry", func(t *testing.T) {
		_, err := usage.ParseEventResponse([]byte(`{
			"info": {"created_events": 0, "duplicates": []},
			"errors": [{"error": "x"}]
		}`))

		var verr *schema.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.True(t, verr.Has("errors[0].idempotency_key"))
	})
}

func TestJobStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status usage.JobStatus
		want   bool
	}{
		{usage.JobSubmitted, false},
		{usage.JobPending, false},
		{usage.JobRunning, false},
		{usage.JobSuccess, true},
		{usage.JobFailed, true},
		{"QUEUED", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestParseAsyncResponse(t *testing.T) {
	resp, err := usage.ParseAsyncResponse([]byte(`{
		"job_id": "job-1",
		"status": "SUBMITTED",
		"created_at": "2024-03-01T12:00:00Z",
		"total_events": 500
	}`))

	require.NoError(t, err)
	assert.Equal(t, usage.AsyncResponse{
		JobID:       "job-1",
		Status:      usage.JobSubmitted,
		CreatedAt:   "2024-03-01T12:00:00Z",
		TotalEvents: 500,
	}, resp)
}

func TestParseAsyncResponse_Drift(t *testing.T) {
	_, err := usage.ParseAsyncResponse([]byte(`{"job_id": 7, "status": "SUBMITTED"}`))

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.True(t, verr.Has("job_id"))
	assert.True(t, verr.Has("created_at"))
	assert.True(t, verr.Has("total_events"))
}

func TestParseJobStatusResponse(t *testing.T) {
	t.Run("pending has no info", func(t *testing.T) {
		resp, err := usage.ParseJobStatusResponse([]byte(`{
			"job_id": "job-1", "status": "PENDING",
			"created_at": "c", "updated_at": "u", "total_events": 3
		}`))

		require.NoError(t, err)
		assert.Equal(t, usage.JobPending, resp.Status)
		assert.Nil(t, resp.Info)
		assert.Nil(t, resp.Errors)
	})

	t.Run("failed with partial success", func(t *testing.T) {
		resp, err := usage.ParseJobStatusResponse([]byte(`{
			"job_id": "job-1", "status": "FAILED",
			"created_at": "c", "updated_at": "u", "total_events": 3,
			"info": {"created_events": 2, "duplicates": []},
			"errors": [{"idempotency_key": "k3", "error": "bad"}]
		}`))

		require.NoError(t, err)
		assert.True(t, resp.Status.IsTerminal())
		require.NotNil(t, resp.Info)
		assert.Equal(t, 2, resp.Info.CreatedEvents)
		_, ok := resp.ErrorFor("k3")
		assert.True(t, ok)
	})

	t.Run("unknown status is kept", func(t *testing.T) {
		resp, err := usage.ParseJobStatusResponse([]byte(`{
			"job_id": "job-1", "status": "QUEUED",
			"created_at": "c", "updated_at": "u", "total_events": 1
		}`))

		require.NoError(t, err)
		assert.Equal(t, usage.JobStatus("QUEUED"), resp.Status)
	})

	t.Run("null info", func(t *testing.T) {
		resp, err := usage.ParseJobStatusResponse([]byte(`{
			"job_id": "job-1", "status": "RUNNING",
			"created_at": "c", "updated_at": "u", "total_events": 1, "info": null
		}`))

		require.NoError(t, err)
		assert.Nil(t, resp.Info)
	})
}
