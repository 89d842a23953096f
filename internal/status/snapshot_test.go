package status

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSnapshot(t *testing.T) {
	t.Parallel()

	snap, err := ParseSnapshot([]byte(`{"job_id":"job-1","progress":40,"status":"running"}`))
	require.NoError(t, err)
	require.Equal(t, "job-1", snap.JobID)
	require.Equal(t, 40, snap.Progress)
	require.Equal(t, StateRunning, snap.Status)
	require.False(t, snap.Status.Terminal())
}

func TestParseSnapshotTerminal(t *testing.T) {
	t.Parallel()

	snap, err := ParseSnapshot([]byte(`{"job_id":"job-1","progress":100,"status":"completed","result":{"score":87}}`))
	require.NoError(t, err)
	require.True(t, snap.Status.Terminal())
	require.Equal(t, float64(87), snap.Result["score"])

	snap, err = ParseSnapshot([]byte(`{"job_id":"job-1","progress":60,"status":"failed","error_message":"crawler blocked"}`))
	require.NoError(t, err)
	require.True(t, snap.Status.Terminal())
	require.Equal(t, "crawler blocked", snap.ErrorMessage)
}

func TestParseSnapshotRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		data string
	}{
		{"not json", `progress: 10`},
		{"missing job id", `{"progress":10,"status":"running"}`},
		{"progress too high", `{"job_id":"j","progress":150,"status":"running"}`},
		{"progress negative", `{"job_id":"j","progress":-1,"status":"running"}`},
		{"unknown status", `{"job_id":"j","progress":10,"status":"paused"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSnapshot([]byte(tc.data))
			require.Error(t, err)
		})
	}
}
