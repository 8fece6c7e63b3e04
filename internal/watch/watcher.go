// Package watch auto-enqueues photos dropped into a camera export directory.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/queue"
)

// debounce settings: a file is enqueued once it has stopped changing.
const (
	sweepInterval = 250 * time.Millisecond
	settleAfter   = 300 * time.Millisecond
)

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Watcher enqueues image files appearing in a drop directory and removes
// them once durably queued.
type Watcher struct {
	dir       string
	contactID string
	projectID string
	q         *queue.Queue
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// New creates a drop-directory watcher. Enqueued photos are attributed to
// the configured contact and project.
func New(dir, contactID, projectID string, q *queue.Queue, logger *zap.Logger) *Watcher {
	return &Watcher{
		dir:       dir,
		contactID: contactID,
		projectID: projectID,
		q:         q,
		logger:    logger,
	}
}

// Start begins watching the drop directory. Files already present are
// enqueued first, so drops made while the daemon was down are not lost.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0700); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx, fsw)
	w.logger.Info("watching drop directory", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watcher loop.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer func() { _ = fsw.Close() }()

	// Debounce map of files waiting to settle.
	pending := map[string]time.Time{}

	// Pick up files dropped before the watcher started.
	if entries, err := os.ReadDir(w.dir); err == nil {
		now := time.Now()
		for _, e := range entries {
			if !e.IsDir() && supported(e.Name()) {
				pending[e.Name()] = now
			}
		}
	}

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				name := filepath.Base(ev.Name)
				if supported(name) {
					pending[name] = time.Now()
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("drop watcher error", zap.Error(err))
		case <-ticker.C:
			now := time.Now()
			for name, seen := range pending {
				if now.Sub(seen) > settleAfter {
					w.ingest(name)
					delete(pending, name)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// ingest reads a settled file, enqueues it and removes it from the drop dir.
// On enqueue failure the file stays in place and is retried at next startup.
func (w *Watcher) ingest(name string) {
	path := filepath.Join(w.dir, name)

	info, err := os.Stat(path)
	if err != nil {
		return // already gone
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		w.logger.Error("failed to read dropped file", zap.Error(err), zap.String("file", name))
		return
	}

	p, err := w.q.Enqueue(queue.EnqueueRequest{
		Blob:        blob,
		ContentType: contentTypes[strings.ToLower(filepath.Ext(name))],
		ContactID:   w.contactID,
		ProjectID:   w.projectID,
		Note:        name,
		CapturedAt:  info.ModTime().UnixMilli(),
	})
	if err != nil {
		w.logger.Error("failed to enqueue dropped file", zap.Error(err), zap.String("file", name))
		return
	}

	if err := os.Remove(path); err != nil {
		w.logger.Warn("failed to remove ingested file", zap.Error(err), zap.String("file", name))
	}
	w.logger.Info("dropped file enqueued", zap.String("file", name), zap.String("local_id", p.LocalID))
}

func supported(name string) bool {
	_, ok := contentTypes[strings.ToLower(filepath.Ext(name))]
	return ok
}
