package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/crewsnap/crewsnap/internal/store"
)

func testPhoto() *store.Photo {
	return &store.Photo{
		LocalID:     "local-1",
		TenantID:    "tenant-1",
		ContactID:   "contact-1",
		ProjectID:   "project-1",
		ContentType: "image/jpeg",
		Blob:        []byte("jpeg-bytes"),
		Note:        "valley flashing",
		Latitude:    36.16,
		Longitude:   -86.78,
		CapturedAt:  1735689600000,
	}
}

func TestUploadSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/photos" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Tenant-ID"); got != "tenant-1" {
			t.Errorf("X-Tenant-ID = %q", got)
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("contact_id"); got != "contact-1" {
			t.Errorf("contact_id = %q", got)
		}
		if got := r.FormValue("captured_at"); got != "1735689600000" {
			t.Errorf("captured_at = %q", got)
		}
		file, hdr, err := r.FormFile("photo")
		if err != nil {
			t.Fatalf("photo part: %v", err)
		}
		defer func() { _ = file.Close() }()
		if hdr.Header.Get("Content-Type") != "image/jpeg" {
			t.Errorf("photo content type = %q", hdr.Header.Get("Content-Type"))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"remote-9","url":"https://cdn.example.com/remote-9.jpg"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "tenant-1", 5*time.Second)
	result, err := c.Upload(context.Background(), testPhoto())
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.RemoteID != "remote-9" {
		t.Errorf("RemoteID = %q, want remote-9", result.RemoteID)
	}
	if result.URL != "https://cdn.example.com/remote-9.jpg" {
		t.Errorf("URL = %q", result.URL)
	}
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"contact does not exist"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "tenant-1", 5*time.Second)
	_, err := c.Upload(context.Background(), testPhoto())
	if err == nil {
		t.Fatal("expected error")
	}
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectedError, got %T: %v", err, err)
	}
	if rej.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d", rej.StatusCode)
	}
	if rej.Message != "contact does not exist" {
		t.Errorf("message = %q", rej.Message)
	}
}

func TestUploadServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "tenant-1", 5*time.Second)
	_, err := c.Upload(context.Background(), testPhoto())
	if err == nil {
		t.Fatal("expected error")
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		t.Errorf("5xx should not be RejectedError: %v", err)
	}
}

func TestUploadThrottlingIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "tenant-1", 5*time.Second)
	_, err := c.Upload(context.Background(), testPhoto())
	if err == nil {
		t.Fatal("expected error")
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		t.Errorf("429 should not be RejectedError: %v", err)
	}
}

func TestUploadNetworkErrorIsTransient(t *testing.T) {
	// Port 1 is never listening.
	c := New("http://127.0.0.1:1", "tok", "tenant-1", time.Second)
	_, err := c.Upload(context.Background(), testPhoto())
	if err == nil {
		t.Fatal("expected error")
	}
	var rej *RejectedError
	if errors.As(err, &rej) {
		t.Errorf("network error should not be RejectedError: %v", err)
	}
}
