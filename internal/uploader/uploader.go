// Package uploader drives queued photos to the remote endpoint in the
// background with bounded, classified retry.
package uploader

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/remote"
	"github.com/crewsnap/crewsnap/internal/store"
)

// PhotoUploader is the interface for pushing one photo to the CRM.
type PhotoUploader interface {
	Upload(ctx context.Context, p *store.Photo) (*remote.Result, error)
}

// Config holds the worker tunables.
type Config struct {
	MaxAttempts  int
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	StaleTimeout time.Duration
	Retention    time.Duration
	MaxPerRun    int
}

// Worker polls the store and uploads eligible photos.
type Worker struct {
	db       *store.DB
	uploader PhotoUploader
	bus      *bus.Bus
	logger   *zap.Logger
	cfg      Config
	cancel   context.CancelFunc
}

// NewWorker creates a background upload worker.
func NewWorker(db *store.DB, u PhotoUploader, b *bus.Bus, logger *zap.Logger, cfg Config) *Worker {
	return &Worker{
		db:       db,
		uploader: u,
		bus:      b,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start begins polling the queue for uploadable photos.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the worker loop. In-flight attempts finish or time out; a hard
// kill mid-upload is recovered later by the stale-syncing reclamation.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single maintenance-and-upload pass: reclaim stale
// syncing rows, prune expired completed rows, then upload eligible photos
// in creation-time order.
func (w *Worker) RunOnce(ctx context.Context) {
	now := time.Now().UnixMilli()

	if n, err := w.db.ReclaimStale(now-w.cfg.StaleTimeout.Milliseconds(), now); err != nil {
		w.logger.Error("failed to reclaim stale uploads", zap.Error(err))
	} else if n > 0 {
		w.logger.Warn("reclaimed interrupted uploads", zap.Int64("count", n))
	}

	if w.cfg.Retention > 0 {
		if n, err := w.db.PruneCompleted(now - w.cfg.Retention.Milliseconds()); err != nil {
			w.logger.Error("failed to prune completed uploads", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("pruned expired completed uploads", zap.Int64("count", n))
		}
	}

	photos, err := w.db.SelectUploadable(now, w.cfg.MaxAttempts, w.cfg.MaxPerRun)
	if err != nil {
		w.logger.Error("failed to read upload queue", zap.Error(err))
		return
	}

	for i := range photos {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, &photos[i])
	}
}

func (w *Worker) process(ctx context.Context, p *store.Photo) {
	now := time.Now().UnixMilli()

	// Claim before the network call; exactly one worker wins the transition.
	claimed, err := w.db.ClaimForUpload(p.LocalID, now)
	if err != nil {
		w.logger.Error("failed to claim photo", zap.Error(err), zap.String("local_id", p.LocalID))
		return
	}
	if !claimed {
		// Deleted or raced by another pass since selection.
		return
	}
	attempt := p.Attempts + 1

	result, err := w.uploader.Upload(ctx, p)
	if err != nil {
		kind := store.ErrorTransient
		nextAttemptAt := now + w.backoff(attempt).Milliseconds()
		var rej *remote.RejectedError
		if errors.As(err, &rej) {
			// The remote will never accept this photo as-is; hold it for
			// the user instead of burning the retry budget.
			kind = store.ErrorRejected
			nextAttemptAt = 0
		}
		if _, err := w.db.MarkFailed(p.LocalID, err.Error(), kind, nextAttemptAt); err != nil {
			w.logger.Error("failed to mark photo failed", zap.Error(err), zap.String("local_id", p.LocalID))
			return
		}
		w.logger.Warn("upload failed",
			zap.String("local_id", p.LocalID),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err))
		w.bus.Publish(bus.Event{
			Kind:      "photo.failed",
			Timestamp: time.Now(),
			Payload: map[string]string{
				"local_id": p.LocalID,
				"error":    err.Error(),
				"kind":     string(kind),
			},
		})
		return
	}

	applied, err := w.db.MarkCompleted(p.LocalID, result.RemoteID, result.URL)
	if err != nil {
		w.logger.Error("failed to mark photo completed", zap.Error(err), zap.String("local_id", p.LocalID))
		return
	}
	if !applied {
		// Deleted while in flight; the remote copy stands, the local record is gone.
		w.logger.Warn("photo deleted during upload, dropping completion",
			zap.String("local_id", p.LocalID), zap.String("remote_id", result.RemoteID))
		return
	}

	w.logger.Info("photo uploaded",
		zap.String("local_id", p.LocalID),
		zap.String("remote_id", result.RemoteID),
		zap.Int("attempt", attempt))
	w.bus.Publish(bus.Event{
		Kind:      "photo.completed",
		Timestamp: time.Now(),
		Payload: map[string]string{
			"local_id":  p.LocalID,
			"remote_id": result.RemoteID,
		},
	})
}

// backoff returns the delay before the next automatic retry: base doubled
// per failed attempt, capped.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= w.cfg.BackoffMax {
			return w.cfg.BackoffMax
		}
	}
	if d > w.cfg.BackoffMax {
		return w.cfg.BackoffMax
	}
	return d
}
