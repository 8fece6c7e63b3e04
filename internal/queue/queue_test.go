package queue

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/store"
)

func testQueue(t *testing.T) (*Queue, *store.DB, *bus.Bus) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger := zap.NewNop()
	return New(db, b, logger, "tenant-1", dir, 0), db, b
}

// pngBytes renders a small valid PNG for thumbnail tests.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestEnqueue(t *testing.T) {
	q, _, b := testQueue(t)
	ch, unsub := b.Subscribe("photo.enqueued", 10)
	defer unsub()

	capturedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	p, err := q.Enqueue(EnqueueRequest{
		Blob:       []byte("not-an-image"),
		ContactID:  "contact-1",
		ProjectID:  "project-2",
		Note:       "hail damage, south slope",
		Latitude:   36.1,
		Longitude:  -86.7,
		CapturedAt: capturedAt,
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if p.LocalID == "" {
		t.Error("local id not assigned")
	}
	if p.Status != store.StatusPending {
		t.Errorf("status = %q, want pending", p.Status)
	}
	if p.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", p.Attempts)
	}
	if p.TenantID != "tenant-1" {
		t.Errorf("tenant = %q", p.TenantID)
	}

	// listByStatus('pending') returns exactly this record with its metadata.
	pending, err := q.ListByStatus(store.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}
	if pending[0].CapturedAt != capturedAt {
		t.Errorf("captured_at = %d, want %d", pending[0].CapturedAt, capturedAt)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for photo.enqueued event")
	}
}

func TestEnqueueUniqueLocalIDs(t *testing.T) {
	q, _, _ := testQueue(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		p, err := q.Enqueue(EnqueueRequest{Blob: []byte("x"), ContactID: "c"})
		if err != nil {
			t.Fatal(err)
		}
		if seen[p.LocalID] {
			t.Fatalf("duplicate local id %q", p.LocalID)
		}
		seen[p.LocalID] = true
	}
}

func TestEnqueueValidation(t *testing.T) {
	q, _, _ := testQueue(t)

	if _, err := q.Enqueue(EnqueueRequest{ContactID: "c"}); err == nil {
		t.Error("empty blob should be rejected")
	}
	if _, err := q.Enqueue(EnqueueRequest{Blob: []byte("x")}); err == nil {
		t.Error("missing contact id should be rejected")
	}
}

func TestEnqueueGeneratesThumbnail(t *testing.T) {
	q, db, _ := testQueue(t)

	p, err := q.Enqueue(EnqueueRequest{Blob: pngBytes(t), ContentType: "image/png", ContactID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	thumb, err := db.GetThumbnail(p.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if len(thumb) == 0 {
		t.Error("expected a thumbnail for a decodable image")
	}
}

func TestEnqueueUndecodableBlobSkipsThumbnail(t *testing.T) {
	q, db, _ := testQueue(t)

	p, err := q.Enqueue(EnqueueRequest{Blob: []byte("not-an-image"), ContactID: "c"})
	if err != nil {
		t.Fatalf("undecodable blob must still enqueue: %v", err)
	}
	thumb, err := db.GetThumbnail(p.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if thumb != nil {
		t.Error("expected no thumbnail for undecodable blob")
	}
}

func TestEnqueueBlockedWhenStorageLow(t *testing.T) {
	q, _, b := testQueue(t)
	// Any real filesystem is above 0% used.
	q.maxUsedPercent = 0.000001
	if store.Quota(q.dataDir).TotalBytes == 0 {
		t.Skip("platform does not report filesystem stats")
	}

	ch, unsub := b.Subscribe("storage.low", 10)
	defer unsub()

	_, err := q.Enqueue(EnqueueRequest{Blob: []byte("x"), ContactID: "c"})
	if !errors.Is(err, ErrStorageLow) {
		t.Fatalf("err = %v, want ErrStorageLow", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for storage.low event")
	}
}

func TestRetryOnlyFailed(t *testing.T) {
	q, db, _ := testQueue(t)

	p, err := q.Enqueue(EnqueueRequest{Blob: []byte("x"), ContactID: "c"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := q.Retry(p.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("retry of pending photo should report false")
	}

	now := time.Now().UnixMilli()
	if ok, _ := db.ClaimForUpload(p.LocalID, now); !ok {
		t.Fatal("claim")
	}
	if ok, _ := db.MarkFailed(p.LocalID, "boom", store.ErrorRejected, 0); !ok {
		t.Fatal("fail")
	}

	ok, err = q.Retry(p.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("retry of failed photo should report true")
	}
}

func TestDeletePublishesEvent(t *testing.T) {
	q, _, b := testQueue(t)
	ch, unsub := b.Subscribe("photo.deleted", 10)
	defer unsub()

	p, err := q.Enqueue(EnqueueRequest{Blob: []byte("x"), ContactID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := q.Delete(p.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("delete should apply")
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for photo.deleted event")
	}

	if ok, _ := q.Delete(p.LocalID); ok {
		t.Error("second delete should report false")
	}
}

func TestClearCompletedCounts(t *testing.T) {
	q, db, _ := testQueue(t)
	now := time.Now().UnixMilli()

	for i := 0; i < 2; i++ {
		p, err := q.Enqueue(EnqueueRequest{Blob: []byte("x"), ContactID: "c"})
		if err != nil {
			t.Fatal(err)
		}
		if ok, _ := db.ClaimForUpload(p.LocalID, now); !ok {
			t.Fatal("claim")
		}
		if ok, _ := db.MarkCompleted(p.LocalID, "r", "u"); !ok {
			t.Fatal("complete")
		}
	}

	n, err := q.ClearCompleted()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("cleared %d, want 2", n)
	}
	n, _ = q.ClearCompleted()
	if n != 0 {
		t.Errorf("second clear = %d, want 0", n)
	}
}
