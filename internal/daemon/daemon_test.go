package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crewsnap/crewsnap/internal/api"
	"github.com/crewsnap/crewsnap/internal/bus"
	"github.com/crewsnap/crewsnap/internal/lock"
	"github.com/crewsnap/crewsnap/internal/queue"
	"github.com/crewsnap/crewsnap/internal/store"
)

func socketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}
}

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "crewsnap-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	agentDir := filepath.Join(tmpDir, "a")
	socketPath := filepath.Join(agentDir, "d.sock")
	if err := os.MkdirAll(agentDir, 0700); err != nil {
		t.Fatal(err)
	}

	// Acquire lock.
	lk, err := lock.Acquire(agentDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	// Open store.
	db, err := store.Open(filepath.Join(agentDir, "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components and serve on the socket.
	logger := zap.NewNop()
	b := bus.New()
	q := queue.New(db, b, logger, "tenant-1", agentDir, 0)
	handler := api.NewHandler(q, b, logger)

	srv, err := NewServer(Params{AgentName: "test", SocketPath: socketPath}, logger, handler)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	client := socketClient(socketPath)

	// Healthz over the socket.
	resp, err := client.Get("http://crewsnapd/v1/healthz")
	if err != nil {
		t.Fatalf("healthz error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	// Stats starts empty.
	resp, err = client.Get("http://crewsnapd/v1/stats")
	if err != nil {
		t.Fatal(err)
	}
	var stats store.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}

	// Enqueue directly and observe it through the API.
	if _, err := q.Enqueue(queue.EnqueueRequest{Blob: []byte("jpeg"), ContactID: "c1"}); err != nil {
		t.Fatal(err)
	}
	resp, err = client.Get("http://crewsnapd/v1/photos?status=pending")
	if err != nil {
		t.Fatal(err)
	}
	var listResp struct {
		Photos []api.Photo `json:"photos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if len(listResp.Photos) != 1 {
		t.Errorf("photos = %d, want 1", len(listResp.Photos))
	}
}

// TestNewServerAcceptsParams verifies the fx provider signature: NewServer
// must take Params, which fx can resolve, not a bare string.
func TestNewServerAcceptsParams(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "crewsnap-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	srv, err := NewServer(
		Params{AgentName: "fxtest", SocketPath: socketPath},
		zap.NewNop(),
		api.NewHandler(nil, bus.New(), zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewServer() with Params failed: %v", err)
	}

	if _, statErr := os.Stat(socketPath); statErr != nil {
		t.Fatalf("socket not created at %s: %v", socketPath, statErr)
	}

	srv.Stop(context.Background())
}

func TestStaleSocketRemoved(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "crewsnap-sock-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	socketPath := filepath.Join(tmpDir, "d.sock")
	// Leave a stale socket file behind, as a crashed daemon would.
	if err := os.WriteFile(socketPath, nil, 0600); err != nil {
		t.Fatal(err)
	}

	srv, err := NewServer(
		Params{AgentName: "stale", SocketPath: socketPath},
		zap.NewNop(),
		api.NewHandler(nil, bus.New(), zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewServer() with stale socket failed: %v", err)
	}
	srv.Stop(context.Background())
}
