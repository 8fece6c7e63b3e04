// Package api implements the daemon's local control REST API, consumed by
// the CLI and the field app UI over the daemon socket.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/queue"
	"github.com/crewsnap/crewsnap/internal/store"
)

// maxPhotoBytes bounds a single enqueued photo.
const maxPhotoBytes = 32 << 20

// Photo is the JSON projection of a queued photo. Blob and thumbnail bytes
// are served by their own endpoints.
type Photo struct {
	LocalID     string  `json:"local_id"`
	TenantID    string  `json:"tenant_id"`
	ContactID   string  `json:"contact_id"`
	ProjectID   string  `json:"project_id,omitempty"`
	ContentType string  `json:"content_type"`
	Note        string  `json:"note,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	CapturedAt  int64   `json:"captured_at"`

	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	RemoteID  string `json:"remote_id,omitempty"`
	RemoteURL string `json:"remote_url,omitempty"`

	CreatedAt   int64 `json:"created_at"`
	CompletedAt int64 `json:"completed_at,omitempty"`
}

func toPhoto(p *store.Photo) Photo {
	return Photo{
		LocalID:     p.LocalID,
		TenantID:    p.TenantID,
		ContactID:   p.ContactID,
		ProjectID:   p.ProjectID,
		ContentType: p.ContentType,
		Note:        p.Note,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		CapturedAt:  p.CapturedAt,
		Status:      string(p.Status),
		Attempts:    p.Attempts,
		LastError:   p.LastError,
		ErrorKind:   string(p.ErrorKind),
		RemoteID:    p.RemoteID,
		RemoteURL:   p.RemoteURL,
		CreatedAt:   p.CreatedAt,
		CompletedAt: p.CompletedAt,
	}
}

// Event is the envelope streamed to /v1/events subscribers.
type Event struct {
	EventID    string `json:"event_id"`
	Kind       string `json:"kind"`
	OccurredAt int64  `json:"occurred_at"`
	Payload    any    `json:"payload,omitempty"`
}

// Handler serves the control API over the queue facade.
type Handler struct {
	q      *queue.Queue
	bus    *bus.Bus
	logger *zap.Logger
}

// NewHandler creates the control API handler.
func NewHandler(q *queue.Queue, b *bus.Bus, logger *zap.Logger) *Handler {
	return &Handler{q: q, bus: b, logger: logger}
}

// Router builds the gin engine with all control API routes.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.POST("/photos", h.enqueuePhoto)
	v1.GET("/photos", h.listPhotos)
	v1.GET("/photos/:id", h.getPhoto)
	v1.GET("/photos/:id/thumbnail", h.getThumbnail)
	v1.POST("/photos/:id/retry", h.retryPhoto)
	v1.DELETE("/photos/:id", h.deletePhoto)
	// Static segment cannot share /photos with the :id wildcard.
	v1.DELETE("/queue/completed", h.clearCompleted)
	v1.GET("/stats", h.getStats)
	v1.GET("/quota", h.getQuota)
	v1.GET("/events", h.streamEvents)
	v1.GET("/healthz", h.healthz)
	return r
}

// streamEvents pushes queue events to the client as server-sent events until
// it disconnects. The prefix query narrows the subscription (e.g. "photo.").
func (h *Handler) streamEvents(c *gin.Context) {
	prefix := c.DefaultQuery("prefix", "")
	ch, unsub := h.bus.Subscribe(prefix, 256)
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(_ io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Kind, Event{
				EventID:    uuid.New().String(),
				Kind:       evt.Kind,
				OccurredAt: evt.Timestamp.UnixMilli(),
				Payload:    evt.Payload,
			})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *Handler) enqueuePhoto(c *gin.Context) {
	file, hdr, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing photo part"})
		return
	}
	defer func() { _ = file.Close() }()

	blob, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read photo: " + err.Error()})
		return
	}
	if len(blob) > maxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo exceeds size limit"})
		return
	}

	lat, _ := strconv.ParseFloat(c.PostForm("latitude"), 64)
	lon, _ := strconv.ParseFloat(c.PostForm("longitude"), 64)
	capturedAt, _ := strconv.ParseInt(c.PostForm("captured_at"), 10, 64)

	p, err := h.q.Enqueue(queue.EnqueueRequest{
		Blob:        blob,
		ContentType: hdr.Header.Get("Content-Type"),
		ContactID:   c.PostForm("contact_id"),
		ProjectID:   c.PostForm("project_id"),
		Note:        c.PostForm("note"),
		Latitude:    lat,
		Longitude:   lon,
		CapturedAt:  capturedAt,
	})
	if err != nil {
		if errors.Is(err, queue.ErrStorageLow) {
			c.JSON(http.StatusInsufficientStorage, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toPhoto(p))
}

func (h *Handler) listPhotos(c *gin.Context) {
	status := store.Status(c.DefaultQuery("status", string(store.StatusPending)))
	if !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + string(status)})
		return
	}

	photos, err := h.q.ListByStatus(status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list photos failed"})
		return
	}

	out := make([]Photo, 0, len(photos))
	for i := range photos {
		out = append(out, toPhoto(&photos[i]))
	}
	c.JSON(http.StatusOK, gin.H{"photos": out})
}

func (h *Handler) getPhoto(c *gin.Context) {
	p, err := h.q.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get photo failed"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}
	c.JSON(http.StatusOK, toPhoto(p))
}

func (h *Handler) getThumbnail(c *gin.Context) {
	thumb, err := h.q.Thumbnail(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get thumbnail failed"})
		return
	}
	if thumb == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no thumbnail"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", thumb)
}

func (h *Handler) retryPhoto(c *gin.Context) {
	id := c.Param("id")
	p, err := h.q.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get photo failed"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	ok, err := h.q.Retry(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "photo is not in failed state"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "retry requested"})
}

func (h *Handler) deletePhoto(c *gin.Context) {
	ok, err := h.q.Delete(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) clearCompleted(c *gin.Context) {
	n, err := h.q.ClearCompleted()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) getStats(c *gin.Context) {
	s, err := h.q.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) getQuota(c *gin.Context) {
	c.JSON(http.StatusOK, h.q.Quota())
}

func (h *Handler) healthz(c *gin.Context) {
	if _, err := h.q.Stats(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
