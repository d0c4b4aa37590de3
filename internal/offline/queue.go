package offline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	apperrors "github.com/commercekit/inventory-core/pkg/errors"
)

// Config holds the queue tuning knobs.
type Config struct {
	// BaseURL prefixes every action's target path on replay.
	BaseURL string
	// MaxAttempts is the retry budget before an action turns failed.
	MaxAttempts int
	// BackoffBase is doubled per attempt, capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Timeout bounds each replay request; a timeout is a retryable
	// failure, never a success.
	Timeout time.Duration
	// Retention caps the completed-action history.
	Retention int
	// PollInterval drives the drain loop between notifications.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	return c
}

// Queue is the offline action queue of one client instance: a durable FIFO
// of buffered writes, drained by a single consumer while connectivity is
// available. Enqueue never blocks on the network; ordering is strict — a
// later action is never attempted before an earlier one still retrying.
type Queue struct {
	store  ActionStore
	client *resty.Client
	cfg    Config
	logger *zap.Logger

	online   atomic.Bool
	draining atomic.Bool
	notify   chan struct{}

	mu        sync.Mutex
	discarded map[string]struct{}
}

// NewQueue creates a Queue over a store.
func NewQueue(store ActionStore, cfg Config, logger *zap.Logger) *Queue {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	q := &Queue{
		store:     store,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		notify:    make(chan struct{}, 1),
		discarded: make(map[string]struct{}),
	}
	q.online.Store(true)

	// A crash between MarkInFlight and the attempt result strands the
	// head in-flight, where OldestPending would skip it forever. Replays
	// are idempotent, so returning it to pending is safe.
	recovered, err := store.ResetInFlight(context.Background())
	if err != nil {
		logger.Error("failed to recover in-flight actions", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("recovered in-flight actions stranded by restart", zap.Int("count", recovered))
	}
	return q
}

// Enqueue appends an action and returns immediately.
func (q *Queue) Enqueue(ctx context.Context, actionType, targetPath, method string, payload []byte) (string, error) {
	action := NewAction(actionType, targetPath, method, payload)
	if err := q.store.Insert(ctx, action); err != nil {
		return "", fmt.Errorf("failed to enqueue action: %w", err)
	}
	q.logger.Debug("action enqueued",
		zap.String("action_id", action.ID),
		zap.String("action_type", actionType),
		zap.String("target", targetPath),
	)
	q.nudge()
	return action.ID, nil
}

// SetOnline reports a connectivity transition. Going online triggers an
// immediate drain attempt rather than waiting for the next poll interval.
func (q *Queue) SetOnline(online bool) {
	was := q.online.Swap(online)
	if online && !was {
		q.logger.Info("connectivity restored, draining queue")
		q.nudge()
	}
}

// Online reports the last known connectivity state.
func (q *Queue) Online() bool {
	return q.online.Load()
}

// Run drives the drain loop until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		case <-ticker.C:
		}
		q.drain(ctx)
	}
}

// DrainNow attempts a synchronous drain, regardless of poll timing.
func (q *Queue) DrainNow(ctx context.Context) {
	q.drain(ctx)
}

// ListPending returns actions awaiting replay, in order.
func (q *Queue) ListPending(ctx context.Context) ([]*Action, error) {
	return q.store.ListByStatus(ctx, ActionStatusPending)
}

// ListFailed returns terminally failed actions retained for manual retry.
func (q *Queue) ListFailed(ctx context.Context) ([]*Action, error) {
	return q.store.ListByStatus(ctx, ActionStatusFailed)
}

// LastFailure returns the terminal failure of a quarantined action, or nil
// when the action has not terminally failed. Absent actions return the
// lookup error.
func (q *Queue) LastFailure(ctx context.Context, id string) error {
	action, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if action.Status != ActionStatusFailed {
		return nil
	}
	return apperrors.NewTerminalQueueFailure(action.ID, action.AttemptCount, action.LastError)
}

// Retry resets a terminally failed action back to pending with a fresh
// attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	action, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if action.Status != ActionStatusFailed {
		return apperrors.NewInvalidRequest("only failed actions can be retried",
			fmt.Sprintf("Action: %s, Status: %s", id, action.Status))
	}
	if err := q.store.MarkPending(ctx, id, 0, time.Now(), ""); err != nil {
		return err
	}
	q.nudge()
	return nil
}

// Remove discards a queued action. A pending action is removed and never
// attempted; an in-flight action's attempt is allowed to complete for
// idempotency, but its result is not reported.
func (q *Queue) Remove(ctx context.Context, id string) error {
	action, err := q.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if action.Status == ActionStatusInFlight {
		q.mu.Lock()
		q.discarded[id] = struct{}{}
		q.mu.Unlock()
		return nil
	}
	return q.store.Delete(ctx, id)
}

func (q *Queue) nudge() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain replays actions oldest-first until the queue is empty, an earlier
// action needs backoff, or connectivity drops. The CompareAndSwap guard keeps
// the loop single-consumer: two drains never run concurrently.
func (q *Queue) drain(ctx context.Context) {
	if !q.online.Load() {
		return
	}
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)

	for q.online.Load() && ctx.Err() == nil {
		action, err := q.store.OldestPending(ctx)
		if err != nil {
			q.logger.Error("failed to read queue head", zap.Error(err))
			return
		}
		if action == nil {
			return
		}
		if action.NextAttemptAt.After(time.Now()) {
			// Head is backing off; later actions must wait behind it.
			return
		}

		if err := q.store.MarkInFlight(ctx, action.ID); err != nil {
			q.logger.Error("failed to mark action in-flight", zap.String("action_id", action.ID), zap.Error(err))
			return
		}

		replayErr := q.attempt(ctx, action)

		if q.consumeDiscard(action.ID) {
			// Discarded while in-flight: the attempt ran for
			// idempotency, but its result is not reported.
			if err := q.store.Delete(ctx, action.ID); err != nil {
				q.logger.Error("failed to delete discarded action", zap.String("action_id", action.ID), zap.Error(err))
			}
			continue
		}

		if replayErr == nil {
			if err := q.store.MarkCompleted(ctx, action.ID); err != nil {
				q.logger.Error("failed to mark action completed", zap.String("action_id", action.ID), zap.Error(err))
				return
			}
			if err := q.store.PruneCompleted(ctx, q.cfg.Retention); err != nil {
				q.logger.Warn("failed to prune completed actions", zap.Error(err))
			}
			q.logger.Info("action replayed",
				zap.String("action_id", action.ID),
				zap.String("action_type", action.ActionType),
				zap.Int("attempt", action.AttemptCount+1),
			)
			continue
		}

		attempts := action.AttemptCount + 1
		if attempts >= q.cfg.MaxAttempts {
			// Terminal: surfaced and retained, never silently dropped.
			if err := q.store.MarkFailed(ctx, action.ID, attempts, replayErr.Error()); err != nil {
				q.logger.Error("failed to mark action failed", zap.String("action_id", action.ID), zap.Error(err))
				return
			}
			q.logger.Error("action exhausted retry budget",
				zap.String("action_id", action.ID),
				zap.String("action_type", action.ActionType),
				zap.Error(apperrors.NewTerminalQueueFailure(action.ID, attempts, replayErr.Error())),
			)
			// The head is terminal, so the next action may proceed.
			continue
		}

		backoff := q.backoff(attempts)
		if err := q.store.MarkPending(ctx, action.ID, attempts, time.Now().Add(backoff), replayErr.Error()); err != nil {
			q.logger.Error("failed to requeue action", zap.String("action_id", action.ID), zap.Error(err))
			return
		}
		q.logger.Warn("action attempt failed, backing off",
			zap.String("action_id", action.ID),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(replayErr),
		)
		return
	}
}

// attempt performs one replay request. Any transport error (including a
// timeout) or non-2xx response counts as a retryable failure.
func (q *Queue) attempt(ctx context.Context, action *Action) error {
	req := q.client.R().SetContext(ctx)
	if len(action.Payload) > 0 {
		req.SetBody(action.Payload)
	}
	resp, err := req.Execute(action.Method, action.TargetPath)
	if err != nil {
		return fmt.Errorf("replay request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("replay rejected: %s", resp.Status())
	}
	return nil
}

func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	return d
}

func (q *Queue) consumeDiscard(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.discarded[id]; ok {
		delete(q.discarded, id)
		return true
	}
	return false
}
