package jobqueue_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
)

func TestJob_JSON(t *testing.T) {
	t.Parallel()

	t.Run("round trip keeps attempts and nil started_at", func(t *testing.T) {
		t.Parallel()
		job := &jobqueue.Job{
			ID:        42,
			QueueName: "mail",
			Kind:      jobqueue.ActionInstance,
			Target:    "DigestMailer",
			AddedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			Attempts:  3,
		}

		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"qid": 42,
			"queue_name": "mail",
			"action": "DigestMailer",
			"action_type": 2,
			"added_at": "2024-01-02 03:04:05",
			"started_at": null,
			"attempts": 3
		}`, string(data))

		var decoded jobqueue.Job
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, *job, decoded)
	})

	t.Run("round trip with started_at", func(t *testing.T) {
		t.Parallel()
		started := time.Date(2024, 1, 2, 3, 5, 0, 0, time.UTC)
		job := &jobqueue.Job{
			ID:        1,
			QueueName: "sms",
			Kind:      jobqueue.ActionScript,
			Target:    "/opt/jobs/send.sh",
			AddedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			StartedAt: &started,
			Attempts:  1,
		}

		data, err := json.Marshal(job)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"started_at":"2024-01-02 03:05:00"`)

		var decoded jobqueue.Job
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, *job, decoded)
	})

	t.Run("missing attempts defaults to zero", func(t *testing.T) {
		t.Parallel()
		var job jobqueue.Job
		err := json.Unmarshal([]byte(`{"qid":1,"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05"}`), &job)
		require.NoError(t, err)
		assert.Zero(t, job.Attempts)
		assert.Nil(t, job.StartedAt)
	})

	invalid := map[string]string{
		"missing qid":         `{"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05"}`,
		"zero qid":            `{"qid":0,"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05"}`,
		"missing action_type": `{"qid":1,"queue_name":"q","action":"a","added_at":"2024-01-02 03:04:05"}`,
		"unknown action_type": `{"qid":1,"queue_name":"q","action":"a","action_type":7,"added_at":"2024-01-02 03:04:05"}`,
		"missing added_at":    `{"qid":1,"queue_name":"q","action":"a","action_type":1}`,
		"bad added_at":        `{"qid":1,"queue_name":"q","action":"a","action_type":1,"added_at":"yesterday"}`,
		"bad started_at":      `{"qid":1,"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05","started_at":"soon"}`,
		"empty action":        `{"qid":1,"queue_name":"q","action":"","action_type":1,"added_at":"2024-01-02 03:04:05"}`,
		"missing queue_name":  `{"qid":1,"action":"a","action_type":1,"added_at":"2024-01-02 03:04:05"}`,
		"negative attempts":   `{"qid":1,"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05","attempts":-1}`,
	}
	for name, doc := range invalid {
		t.Run("rejects "+name, func(t *testing.T) {
			t.Parallel()
			var job jobqueue.Job
			err := json.Unmarshal([]byte(doc), &job)
			assert.ErrorIs(t, err, jobqueue.ErrInvalidJob)
		})
	}
}

func TestEncodeState(t *testing.T) {
	t.Parallel()

	t.Run("empty state", func(t *testing.T) {
		t.Parallel()
		data, err := jobqueue.EncodeState(jobqueue.NewState())
		require.NoError(t, err)
		assert.Equal(t, "{\n    \"running\": [],\n    \"queued\": []\n}\n", string(data))
	})

	t.Run("nil state encodes as empty", func(t *testing.T) {
		t.Parallel()
		data, err := jobqueue.EncodeState(nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"running":[],"queued":[]}`, string(data))
	})

	t.Run("nil slices encode as empty arrays", func(t *testing.T) {
		t.Parallel()
		data, err := jobqueue.EncodeState(&jobqueue.State{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"running":[],"queued":[]}`, string(data))
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		st := jobqueue.NewState()
		st.Running = append(st.Running, newStoredJob(1, "mail", "a", 0))
		st.Queued = append(st.Queued, newStoredJob(2, "mail", "b", time.Second))

		data, err := jobqueue.EncodeState(st)
		require.NoError(t, err)

		decoded, err := jobqueue.DecodeState(data)
		require.NoError(t, err)
		assert.Equal(t, st, decoded)
	})
}

func TestDecodeState(t *testing.T) {
	t.Parallel()

	malformed := map[string]string{
		"empty input":     "",
		"whitespace":      "  \n",
		"missing running": `{"queued": []}`,
		"missing queued":  `{"running": []}`,
		"null running":    `{"running": null, "queued": []}`,
		"null entry":      `{"running": [null], "queued": []}`,
	}
	for name, doc := range malformed {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := jobqueue.DecodeState([]byte(doc))
			assert.ErrorIs(t, err, jobqueue.ErrMalformedState)
		})
	}

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()
		_, err := jobqueue.DecodeState([]byte(`{"running": [`))
		var syntaxErr *json.SyntaxError
		assert.ErrorAs(t, err, &syntaxErr)
	})

	t.Run("duplicate ids across sequences", func(t *testing.T) {
		t.Parallel()
		doc := `{
			"running": [{"qid":1,"queue_name":"q","action":"a","action_type":1,"added_at":"2024-01-02 03:04:05"}],
			"queued":  [{"qid":1,"queue_name":"r","action":"b","action_type":1,"added_at":"2024-01-02 03:04:05"}]
		}`
		_, err := jobqueue.DecodeState([]byte(doc))
		assert.ErrorIs(t, err, jobqueue.ErrDuplicateID)
	})

	t.Run("invalid job", func(t *testing.T) {
		t.Parallel()
		doc := `{"running": [], "queued": [{"qid":1,"queue_name":"q","action":"a","action_type":9,"added_at":"2024-01-02 03:04:05"}]}`
		_, err := jobqueue.DecodeState([]byte(doc))
		assert.ErrorIs(t, err, jobqueue.ErrInvalidJob)
	})
}

// newStoredJob builds a persisted procedure job with a deterministic AddedAt.
func newStoredJob(id int64, queue, target string, offset time.Duration) *jobqueue.Job {
	return &jobqueue.Job{
		ID:        id,
		QueueName: queue,
		Kind:      jobqueue.ActionProcedure,
		Target:    target,
		AddedAt:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).Add(offset),
	}
}
