// Package ctl is the HTTP client for the daemon's control API, used by
// crewsnapctl over the agent's Unix domain socket.
package ctl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/crewsnap/crewsnap/internal/api"
	"github.com/crewsnap/crewsnap/internal/store"
)

// baseURL is a placeholder host; routing happens through the socket dialer.
const baseURL = "http://crewsnapd"

// Client talks to a running agent daemon over its control socket.
type Client struct {
	http *http.Client
	// stream has no overall timeout; event watches live until cancelled.
	stream *http.Client
}

// New creates a client for the daemon listening on socketPath and verifies
// the daemon is reachable.
func New(socketPath string) (*Client, error) {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	c := &Client{
		http:   &http.Client{Transport: transport, Timeout: 30 * time.Second},
		stream: &http.Client{Transport: transport},
	}
	if err := c.Health(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

type apiError struct {
	Error string `json:"error"`
}

// do issues a request and decodes the JSON response into out (when non-nil).
// Non-2xx responses are turned into errors carrying the daemon's message.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("daemon: %s", e.Error)
		}
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health checks that the daemon answers on its socket.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/healthz", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// EnqueueParams carries one photo for enqueueing via the control API.
type EnqueueParams struct {
	Blob        []byte
	Filename    string
	ContentType string
	ContactID   string
	ProjectID   string
	Note        string
	Latitude    float64
	Longitude   float64
	CapturedAt  int64
}

// Enqueue submits a photo to the daemon's queue.
func (c *Client) Enqueue(ctx context.Context, p EnqueueParams) (*api.Photo, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, p.Filename))
	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(p.Blob); err != nil {
		return nil, err
	}

	fields := map[string]string{
		"contact_id": p.ContactID,
		"project_id": p.ProjectID,
		"note":       p.Note,
	}
	if p.Latitude != 0 || p.Longitude != 0 {
		fields["latitude"] = strconv.FormatFloat(p.Latitude, 'f', -1, 64)
		fields["longitude"] = strconv.FormatFloat(p.Longitude, 'f', -1, 64)
	}
	if p.CapturedAt != 0 {
		fields["captured_at"] = strconv.FormatInt(p.CapturedAt, 10)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/photos", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var photo api.Photo
	if err := c.do(req, &photo); err != nil {
		return nil, err
	}
	return &photo, nil
}

// List returns photos in the given state.
func (c *Client) List(ctx context.Context, status string) ([]api.Photo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/photos?status="+status, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Photos []api.Photo `json:"photos"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Photos, nil
}

// Get returns one photo by local id.
func (c *Client) Get(ctx context.Context, localID string) (*api.Photo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/photos/"+localID, nil)
	if err != nil {
		return nil, err
	}
	var photo api.Photo
	if err := c.do(req, &photo); err != nil {
		return nil, err
	}
	return &photo, nil
}

// Stats returns per-state queue counts.
func (c *Client) Stats(ctx context.Context) (*store.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	var s store.Stats
	if err := c.do(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Quota returns the daemon's view of local disk usage.
func (c *Client) Quota(ctx context.Context) (*store.QuotaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/quota", nil)
	if err != nil {
		return nil, err
	}
	var q store.QuotaInfo
	if err := c.do(req, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Retry asks the daemon to retry a failed photo.
func (c *Client) Retry(ctx context.Context, localID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/photos/"+localID+"/retry", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Delete removes a photo in any state.
func (c *Client) Delete(ctx context.Context, localID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/photos/"+localID, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Watch streams queue events matching the given kind prefix ("" for all),
// invoking fn per event. Blocks until the context is cancelled, fn returns an
// error, or the daemon closes the stream.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(api.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/events?prefix="+prefix, nil)
	if err != nil {
		return err
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var evt api.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil // cancelled by caller
	}
	return scanner.Err()
}

// ClearCompleted deletes all completed photos, returning the count removed.
func (c *Client) ClearCompleted(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/queue/completed", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}
