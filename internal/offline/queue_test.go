package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// replayServer records request paths and fails the paths told to fail, a
// configurable number of times each.
type replayServer struct {
	mu       sync.Mutex
	paths    []string
	failures map[string]int
	server   *httptest.Server
}

func newReplayServer() *replayServer {
	rs := &replayServer{failures: make(map[string]int)}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		rs.paths = append(rs.paths, r.URL.Path)
		if rs.failures[r.URL.Path] > 0 {
			rs.failures[r.URL.Path]--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return rs
}

func (rs *replayServer) failNext(path string, times int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures[path] = times
}

func (rs *replayServer) requests() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.paths...)
}

func newTestQueue(t *testing.T, baseURL string, cfg Config) *Queue {
	t.Helper()
	cfg.BaseURL = baseURL
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	return NewQueue(NewMemoryStore(), cfg, zap.NewNop())
}

func TestQueueDrainsInOrder(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{})
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		_, err := q.Enqueue(ctx, "sync-order", path, http.MethodPost, []byte(`{}`))
		require.NoError(t, err)
	}

	q.DrainNow(ctx)

	assert.Equal(t, []string{"/a", "/b", "/c"}, rs.requests())

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestQueueRecoversInFlightActionOnStartup(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	store := NewMemoryStore()
	ctx := context.Background()

	// An action stranded in-flight by a crash between the mark and the
	// attempt result, with a later action queued behind it.
	stuck := NewAction("sync-order", "/first", http.MethodPost, nil)
	require.NoError(t, store.Insert(ctx, stuck))
	require.NoError(t, store.MarkInFlight(ctx, stuck.ID))
	require.NoError(t, store.Insert(ctx, NewAction("sync-order", "/second", http.MethodPost, nil)))

	q := NewQueue(store, Config{
		BaseURL:     rs.server.URL,
		BackoffBase: time.Millisecond,
		Timeout:     2 * time.Second,
	}, zap.NewNop())
	q.DrainNow(ctx)

	// The stranded head replays first; it is never skipped or overtaken.
	assert.Equal(t, []string{"/first", "/second"}, rs.requests())
	recovered, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, ActionStatusCompleted, recovered.Status)
}

func TestQueueRetryingHeadBlocksLaterActions(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	rs.failNext("/b", 1)
	q := newTestQueue(t, rs.server.URL, Config{MaxAttempts: 5, BackoffBase: 20 * time.Millisecond})
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		_, err := q.Enqueue(ctx, "sync-order", path, http.MethodPost, nil)
		require.NoError(t, err)
	}

	// First pass: /a succeeds, /b fails and backs off, /c must wait.
	q.DrainNow(ctx)
	assert.Equal(t, []string{"/a", "/b"}, rs.requests())

	// Still inside /b's backoff window: nothing moves, /c never overtakes.
	q.DrainNow(ctx)
	assert.Equal(t, []string{"/a", "/b"}, rs.requests())

	time.Sleep(30 * time.Millisecond)
	q.DrainNow(ctx)
	assert.Equal(t, []string{"/a", "/b", "/b", "/c"}, rs.requests())
}

func TestQueueTerminalFailureAfterMaxAttempts(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	rs.failNext("/broken", 100)
	q := newTestQueue(t, rs.server.URL, Config{MaxAttempts: 2, BackoffBase: time.Millisecond})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync-order", "/broken", http.MethodPost, nil)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "sync-order", "/next", http.MethodPost, nil)
	require.NoError(t, err)

	q.DrainNow(ctx)
	time.Sleep(5 * time.Millisecond)
	q.DrainNow(ctx)

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, id, failed[0].ID)
	assert.Equal(t, 2, failed[0].AttemptCount)
	assert.NotEmpty(t, failed[0].LastError)

	terminal := q.LastFailure(ctx, id)
	require.Error(t, terminal)
	assert.True(t, apperrors.HasCode(terminal, apperrors.CodeTerminalQueueFailure))

	// The terminally failed head no longer blocks the queue.
	assert.Contains(t, rs.requests(), "/next")
}

func TestQueueLastFailureNilForNonFailedAction(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync-order", "/pending", http.MethodPost, nil)
	require.NoError(t, err)

	assert.NoError(t, q.LastFailure(ctx, id))
	assert.ErrorIs(t, q.LastFailure(ctx, "absent"), ErrActionNotFound)
}

func TestQueueRetryResetsFailedAction(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	rs.failNext("/flaky", 1)
	q := newTestQueue(t, rs.server.URL, Config{MaxAttempts: 1})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync-order", "/flaky", http.MethodPost, nil)
	require.NoError(t, err)

	q.DrainNow(ctx)
	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, q.Retry(ctx, id))
	q.DrainNow(ctx)

	failed, err = q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	action, err := q.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ActionStatusCompleted, action.Status)
}

func TestQueueRetryRejectsNonFailedAction(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync-order", "/a", http.MethodPost, nil)
	require.NoError(t, err)

	err = q.Retry(ctx, id)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidRequest))
}

func TestQueueRemovePendingAction(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync-order", "/never", http.MethodPost, nil)
	require.NoError(t, err)

	require.NoError(t, q.Remove(ctx, id))
	q.DrainNow(ctx)

	// Removed before any attempt: the server never sees it.
	assert.Empty(t, rs.requests())
	_, err = q.store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestQueueOfflineSuspendsDraining(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{})
	ctx := context.Background()

	q.SetOnline(false)
	_, err := q.Enqueue(ctx, "sync-order", "/a", http.MethodPost, nil)
	require.NoError(t, err)

	q.DrainNow(ctx)
	assert.Empty(t, rs.requests())

	pending, err := q.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	q.SetOnline(true)
	q.DrainNow(ctx)
	assert.Equal(t, []string{"/a"}, rs.requests())
}

func TestQueueCompletedRetention(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{Retention: 2})
	ctx := context.Background()

	for _, path := range []string{"/1", "/2", "/3", "/4"} {
		_, err := q.Enqueue(ctx, "sync-order", path, http.MethodPost, nil)
		require.NoError(t, err)
	}
	q.DrainNow(ctx)

	completed, err := q.store.ListByStatus(ctx, ActionStatusCompleted)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(completed), 2)
}

func TestQueueSingleConsumer(t *testing.T) {
	var inflight, peak int32
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	q := newTestQueue(t, server.URL, Config{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "sync-order", "/x", http.MethodPost, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.DrainNow(ctx)
		}()
	}
	wg.Wait()
	// Late drain picks up anything a skipped goroutine left behind.
	q.DrainNow(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), peak, "drain must never run concurrently")
}

func TestQueueRunDrainsOnNotify(t *testing.T) {
	rs := newReplayServer()
	defer rs.server.Close()
	q := newTestQueue(t, rs.server.URL, Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	_, err := q.Enqueue(ctx, "sync-order", "/a", http.MethodPost, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rs.requests()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
