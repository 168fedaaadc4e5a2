package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clientflow/backend/internal/logging"
)

type captureDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (d *captureDispatcher) Dispatch(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, eventID)
	return d.err
}

func TestAsyncDispatchesInBackground(t *testing.T) {
	dispatcher := &captureDispatcher{}
	async := NewAsync(dispatcher, logging.NewNop())

	async.Dispatch("evt-1")
	async.Dispatch("evt-2")
	async.Wait()

	assert.ElementsMatch(t, []string{"evt-1", "evt-2"}, dispatcher.ids)
}

func TestAsyncSwallowsFailures(t *testing.T) {
	dispatcher := &captureDispatcher{err: errors.New("consumer down")}
	async := NewAsync(dispatcher, logging.NewNop())

	// Dispatch must not panic or surface the failure to the caller.
	async.Dispatch("evt-1")
	async.Wait()

	assert.Len(t, dispatcher.ids, 1)
}

func TestWebhookDispatcher(t *testing.T) {
	var received struct {
		EventID string `json:"event_id"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notifications", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := NewWebhookDispatcher(server.URL)
	require.NoError(t, dispatcher.Dispatch(context.Background(), "evt-1"))
	assert.Equal(t, "evt-1", received.EventID)
}

func TestWebhookDispatcherRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dispatcher := NewWebhookDispatcher(server.URL)
	assert.Error(t, dispatcher.Dispatch(context.Background(), "evt-1"))
}

func TestRedisDispatcher(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.Subscribe(ctx, "clientflow:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	dispatcher := NewRedisDispatcherFromClient(client, "clientflow:events")
	require.NoError(t, dispatcher.Dispatch(ctx, "evt-1"))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "evt-1", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received on channel")
	}
}
