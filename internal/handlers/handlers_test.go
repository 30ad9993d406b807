package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	redis_a "github.com/ammerola/stockledger/internal/adapters/redis_adapter"
	"github.com/ammerola/stockledger/internal/workers"
	"github.com/ammerola/stockledger/test/helpers"
)

// fakeQueue records enqueued tasks instead of talking to Redis.
type fakeQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type(), Payload: task.Payload()}, nil
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func newCache(t *testing.T) *redis_a.Cache {
	t.Helper()
	client, _ := newRedis(t)
	return redis_a.NewCache(client, time.Hour, helpers.TestLogger())
}

func newJobTracker(t *testing.T) *workers.JobTracker {
	t.Helper()
	return workers.NewJobTracker(newCache(t), time.Hour)
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

type errorBody struct {
	Error     string            `json:"error"`
	Details   map[string]string `json:"details"`
	ProductID string            `json:"product_id"`
	Location  string            `json:"location"`
	Available *int              `json:"available"`
	Requested *int              `json:"requested"`
}

func decodeError(t *testing.T, body []byte) errorBody {
	t.Helper()
	var resp errorBody
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}
