// Package queue is the enqueue/status facade over the local photo store.
// The UI layer (REST API, CLI, drop-dir watcher) goes through it; the
// background uploader works the store directly.
package queue

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/store"
)

// ErrStorageLow is returned by Enqueue when local disk usage is above the
// configured threshold. The user should clear completed uploads.
var ErrStorageLow = errors.New("local storage is low, clear completed uploads")

const thumbnailSize = 320

// EnqueueRequest carries one captured photo and its metadata.
type EnqueueRequest struct {
	Blob        []byte
	ContentType string
	ContactID   string
	ProjectID   string
	Note        string
	Latitude    float64
	Longitude   float64
	CapturedAt  int64 // unix ms; 0 means "now"
}

// Queue buffers photo-upload intents durably in the local store.
type Queue struct {
	db             *store.DB
	bus            *bus.Bus
	logger         *zap.Logger
	tenantID       string
	dataDir        string
	maxUsedPercent float64
}

// New creates a queue over an injected store handle.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger, tenantID, dataDir string, maxUsedPercent float64) *Queue {
	return &Queue{
		db:             db,
		bus:            b,
		logger:         logger,
		tenantID:       tenantID,
		dataDir:        dataDir,
		maxUsedPercent: maxUsedPercent,
	}
}

// Enqueue durably records a new pending photo and returns it. The record is
// committed before this returns, so a crash immediately after cannot lose it.
func (q *Queue) Enqueue(req EnqueueRequest) (*store.Photo, error) {
	if len(req.Blob) == 0 {
		return nil, errors.New("empty photo")
	}
	if req.ContactID == "" {
		return nil, errors.New("contact id is required")
	}

	if q.maxUsedPercent > 0 {
		if info := store.Quota(q.dataDir); info.TotalBytes > 0 && info.UsedPercent >= q.maxUsedPercent {
			q.bus.Publish(bus.Event{
				Kind:      "storage.low",
				Timestamp: time.Now(),
				Payload:   info,
			})
			return nil, ErrStorageLow
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	capturedAt := req.CapturedAt
	if capturedAt == 0 {
		capturedAt = time.Now().UnixMilli()
	}

	p := &store.Photo{
		LocalID:     uuid.New().String(),
		TenantID:    q.tenantID,
		ContactID:   req.ContactID,
		ProjectID:   req.ProjectID,
		ContentType: contentType,
		Blob:        req.Blob,
		Thumbnail:   q.makeThumbnail(req.Blob),
		Note:        req.Note,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		CapturedAt:  capturedAt,
	}
	if err := q.db.InsertPhoto(p); err != nil {
		return nil, fmt.Errorf("insert photo: %w", err)
	}

	q.logger.Info("photo enqueued",
		zap.String("local_id", p.LocalID),
		zap.String("contact_id", p.ContactID),
		zap.Int("bytes", len(p.Blob)))
	q.bus.Publish(bus.Event{
		Kind:      "photo.enqueued",
		Timestamp: time.Now(),
		Payload:   map[string]string{"local_id": p.LocalID, "contact_id": p.ContactID},
	})
	return p, nil
}

// makeThumbnail downsizes the photo for listings. Best effort: an
// undecodable blob just gets no thumbnail.
func (q *Queue) makeThumbnail(blob []byte) []byte {
	img, err := imaging.Decode(bytes.NewReader(blob))
	if err != nil {
		q.logger.Warn("thumbnail skipped, image not decodable", zap.Error(err))
		return nil
	}
	thumb := imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		q.logger.Warn("thumbnail encode failed", zap.Error(err))
		return nil
	}
	return buf.Bytes()
}

// Get returns one photo without its blob, nil if absent.
func (q *Queue) Get(localID string) (*store.Photo, error) {
	return q.db.GetPhoto(localID)
}

// ListByStatus returns photos in a state, creation time ascending.
func (q *Queue) ListByStatus(status store.Status) ([]store.Photo, error) {
	return q.db.ListByStatus(status)
}

// Stats returns per-state counts for UI badges.
func (q *Queue) Stats() (*store.Stats, error) {
	return q.db.Stats()
}

// Thumbnail returns the stored thumbnail bytes, nil if absent.
func (q *Queue) Thumbnail(localID string) ([]byte, error) {
	return q.db.GetThumbnail(localID)
}

// Retry flags a failed photo for manual retry, bypassing the attempt cap.
// Returns false if the photo is missing or not failed.
func (q *Queue) Retry(localID string) (bool, error) {
	ok, err := q.db.RequestRetry(localID)
	if err == nil && ok {
		q.logger.Info("manual retry requested", zap.String("local_id", localID))
	}
	return ok, err
}

// Delete removes a photo in any state. A delete racing an in-flight upload
// wins: the late completion is discarded by the store.
func (q *Queue) Delete(localID string) (bool, error) {
	ok, err := q.db.DeletePhoto(localID)
	if err == nil && ok {
		q.bus.Publish(bus.Event{
			Kind:      "photo.deleted",
			Timestamp: time.Now(),
			Payload:   map[string]string{"local_id": localID},
		})
	}
	return ok, err
}

// ClearCompleted deletes all completed photos and returns the count.
func (q *Queue) ClearCompleted() (int64, error) {
	n, err := q.db.ClearCompleted()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("completed uploads cleared", zap.Int64("count", n))
	}
	q.bus.Publish(bus.Event{
		Kind:      "queue.cleared",
		Timestamp: time.Now(),
		Payload:   map[string]int64{"deleted": n},
	})
	return n, nil
}

// Quota reports best-effort disk usage for the data dir, zeros when the
// platform does not expose it.
func (q *Queue) Quota() store.QuotaInfo {
	return store.Quota(q.dataDir)
}
