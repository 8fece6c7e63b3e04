// Package remote implements the client for the CRM photo upload endpoint.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/crewsnap/crewsnap/internal/store"
)

// RejectedError is a permanent validation failure from the remote endpoint.
// The queue keeps the photo in failed state but never retries it automatically.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upload rejected (%d): %s", e.StatusCode, e.Message)
}

// Result is the remote endpoint's acknowledgement of an accepted photo.
type Result struct {
	RemoteID string `json:"id"`
	URL      string `json:"url"`
}

// Client uploads queued photos to the CRM API.
type Client struct {
	baseURL  string
	token    string
	tenantID string
	http     *http.Client
}

// New creates a client for the given endpoint. timeout bounds each upload
// request end to end.
func New(baseURL, token, tenantID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		tenantID: tenantID,
		http:     &http.Client{Timeout: timeout},
	}
}

// Upload sends one photo blob plus its metadata as a multipart POST.
// A 2xx response yields the remote id and URL. 4xx responses (except 408
// and 429) come back as *RejectedError; anything else is transient.
func (c *Client) Upload(ctx context.Context, p *store.Photo) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename=%q`, p.LocalID+".jpg"))
	hdr.Set("Content-Type", p.ContentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("multipart part: %w", err)
	}
	if _, err := part.Write(p.Blob); err != nil {
		return nil, fmt.Errorf("multipart write: %w", err)
	}

	fields := map[string]string{
		"local_id":    p.LocalID,
		"contact_id":  p.ContactID,
		"project_id":  p.ProjectID,
		"note":        p.Note,
		"latitude":    strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		"longitude":   strconv.FormatFloat(p.Longitude, 'f', -1, 64),
		"captured_at": strconv.FormatInt(p.CapturedAt, 10),
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("multipart field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("multipart close: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/photos", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Tenant-ID", c.tenantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var result Result
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &result, nil
	}

	msg := readErrorMessage(resp.Body)
	if permanent(resp.StatusCode) {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, msg)
}

// permanent reports whether a status code means the remote will never accept
// this photo as-is. Timeouts and throttling are transient despite being 4xx.
func permanent(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return "no response body"
	}
	return s
}
