package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/commercekit/inventory-core/internal/config"
	"github.com/commercekit/inventory-core/internal/offline"
	"github.com/commercekit/inventory-core/pkg/logger"
)

// The agent hosts the offline action queue on a client device: it owns the
// durable SQLite file, probes server connectivity and drains buffered writes
// whenever the server is reachable.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Environment)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := offline.NewSQLiteStore(cfg.OfflineQueuePath)
	if err != nil {
		log.Fatal("failed to open queue store", zap.Error(err))
	}
	defer store.Close()

	queue := offline.NewQueue(store, offline.Config{
		BaseURL:     cfg.OfflineReplayBaseURL,
		MaxAttempts: cfg.OfflineMaxAttempts,
		BackoffBase: time.Duration(cfg.OfflineBackoffMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.OfflineTimeoutMs) * time.Millisecond,
		Retention:   cfg.OfflineRetention,
	}, log)

	go probeConnectivity(ctx, queue, cfg.OfflineReplayBaseURL, log)
	go reportQuarantine(ctx, queue, log)

	log.Info("offline agent started",
		zap.String("queue_path", cfg.OfflineQueuePath),
		zap.String("replay_base_url", cfg.OfflineReplayBaseURL),
	)
	queue.Run(ctx)
	log.Info("offline agent stopped")
}

// reportQuarantine periodically logs actions that exhausted their retry
// budget and sit in quarantine awaiting a manual retry.
func reportQuarantine(ctx context.Context, queue *offline.Queue, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		failed, err := queue.ListFailed(ctx)
		if err != nil {
			log.Error("failed to list quarantined actions", zap.Error(err))
			continue
		}
		for _, action := range failed {
			log.Warn("action awaiting manual retry",
				zap.String("action_type", action.ActionType),
				zap.Error(queue.LastFailure(ctx, action.ID)),
			)
		}
	}
}

// probeConnectivity polls the server health endpoint and feeds transitions
// into the queue. The queue itself never guesses at connectivity; this probe
// is its single source.
func probeConnectivity(ctx context.Context, queue *offline.Queue, baseURL string, log *zap.Logger) {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		online := err == nil && resp.StatusCode == http.StatusOK
		if resp != nil {
			resp.Body.Close()
		}
		if online != queue.Online() {
			log.Info("connectivity changed", zap.Bool("online", online))
		}
		queue.SetOnline(online)
	}
}
