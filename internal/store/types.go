package store

// Status is the lifecycle state of a queued photo.
//
//	pending --[worker claims]--> syncing
//	syncing --[remote accepts]--> completed
//	syncing --[remote rejects / network error]--> failed
//	failed  --[retry]--> syncing
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// ErrorKind classifies why an upload attempt failed.
type ErrorKind string

const (
	// ErrorTransient covers network errors, timeouts and 5xx responses.
	// Retried automatically with backoff.
	ErrorTransient ErrorKind = "transient"
	// ErrorRejected covers 4xx validation responses from the remote.
	// Never retried automatically; manual retry only.
	ErrorRejected ErrorKind = "rejected"
)

// Photo represents one queued photo upload. Timestamps are Unix milliseconds.
type Photo struct {
	ID          int64
	LocalID     string
	TenantID    string
	ContactID   string
	ProjectID   string
	ContentType string
	Blob        []byte
	Thumbnail   []byte
	Note        string
	Latitude    float64
	Longitude   float64
	CapturedAt  int64

	Status         Status
	Attempts       int
	LastAttemptAt  int64
	NextAttemptAt  int64
	RetryRequested bool
	LastError      string
	ErrorKind      ErrorKind

	RemoteID  string
	RemoteURL string

	CreatedAt   int64
	CompletedAt int64
}

// Stats holds per-state record counts for UI badges. Counts may be
// momentarily stale under concurrent writers.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// QuotaInfo is a best-effort view of local disk usage for the data dir.
type QuotaInfo struct {
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedPercent float64 `json:"used_percent"`
}
