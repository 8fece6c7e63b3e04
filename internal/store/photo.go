package store

import (
	"database/sql"
	"time"
)

// summaryCols are the photo columns returned by list queries. Blob and
// thumbnail bytes are fetched separately to keep listings cheap.
const summaryCols = `id, local_id, tenant_id, contact_id, project_id, content_type,
	note, latitude, longitude, captured_at,
	status, attempts, last_attempt_at, next_attempt_at, retry_requested,
	last_error, error_kind, remote_id, remote_url, created_at, completed_at`

func scanSummary(row interface{ Scan(...any) error }, p *Photo) error {
	var retry int
	err := row.Scan(&p.ID, &p.LocalID, &p.TenantID, &p.ContactID, &p.ProjectID, &p.ContentType,
		&p.Note, &p.Latitude, &p.Longitude, &p.CapturedAt,
		&p.Status, &p.Attempts, &p.LastAttemptAt, &p.NextAttemptAt, &retry,
		&p.LastError, &p.ErrorKind, &p.RemoteID, &p.RemoteURL, &p.CreatedAt, &p.CompletedAt)
	p.RetryRequested = retry != 0
	return err
}

// InsertPhoto durably writes a new pending photo. The row is committed
// before this returns; a crash immediately after still preserves it.
func (db *DB) InsertPhoto(p *Photo) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().UnixMilli()
	}
	p.Status = StatusPending
	p.Attempts = 0
	res, err := db.Exec(`
		INSERT INTO photos (local_id, tenant_id, contact_id, project_id, content_type,
			blob, thumbnail, note, latitude, longitude, captured_at, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)`,
		p.LocalID, p.TenantID, p.ContactID, p.ProjectID, p.ContentType,
		p.Blob, p.Thumbnail, p.Note, p.Latitude, p.Longitude, p.CapturedAt, p.CreatedAt)
	if err != nil {
		return err
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// GetPhoto returns the photo with the given local ID without its blob,
// or nil if it does not exist.
func (db *DB) GetPhoto(localID string) (*Photo, error) {
	row := db.QueryRow(`SELECT `+summaryCols+` FROM photos WHERE local_id = ?`, localID)
	var p Photo
	if err := scanSummary(row, &p); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetBlob returns the photo bytes and content type for a local ID,
// or nil if the photo does not exist.
func (db *DB) GetBlob(localID string) ([]byte, string, error) {
	var blob []byte
	var contentType string
	err := db.QueryRow(`SELECT blob, content_type FROM photos WHERE local_id = ?`, localID).
		Scan(&blob, &contentType)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	return blob, contentType, err
}

// GetThumbnail returns the thumbnail bytes for a local ID. Nil without
// error when the photo exists but has no thumbnail.
func (db *DB) GetThumbnail(localID string) ([]byte, error) {
	var thumb []byte
	err := db.QueryRow(`SELECT thumbnail FROM photos WHERE local_id = ?`, localID).Scan(&thumb)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return thumb, err
}

// ListByStatus returns photos in the given state, ordered by creation time
// ascending. Each call re-queries the current store.
func (db *DB) ListByStatus(status Status) ([]Photo, error) {
	rows, err := db.Query(`
		SELECT `+summaryCols+` FROM photos
		WHERE status = ? ORDER BY created_at ASC, id ASC`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var photos []Photo
	for rows.Next() {
		var p Photo
		if err := scanSummary(rows, &p); err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// SelectUploadable returns photos the worker should attempt next, in
// creation-time order: all pending rows, plus failed rows that either have a
// manual retry requested, or are transient with attempts below maxAttempts
// and their backoff elapsed. Blobs are included.
func (db *DB) SelectUploadable(now int64, maxAttempts, limit int) ([]Photo, error) {
	rows, err := db.Query(`
		SELECT `+summaryCols+`, blob FROM photos
		WHERE status = 'pending'
		   OR (status = 'failed' AND (retry_requested = 1
		       OR (error_kind = 'transient' AND attempts < ? AND next_attempt_at <= ?)))
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, maxAttempts, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var photos []Photo
	for rows.Next() {
		var p Photo
		var retry int
		if err := rows.Scan(&p.ID, &p.LocalID, &p.TenantID, &p.ContactID, &p.ProjectID, &p.ContentType,
			&p.Note, &p.Latitude, &p.Longitude, &p.CapturedAt,
			&p.Status, &p.Attempts, &p.LastAttemptAt, &p.NextAttemptAt, &retry,
			&p.LastError, &p.ErrorKind, &p.RemoteID, &p.RemoteURL, &p.CreatedAt, &p.CompletedAt,
			&p.Blob); err != nil {
			return nil, err
		}
		p.RetryRequested = retry != 0
		photos = append(photos, p)
	}
	return photos, rows.Err()
}

// ClaimForUpload atomically transitions a pending or failed photo to syncing,
// incrementing attempts and clearing any previous error. Returns false if the
// photo was already claimed, finished or deleted — at most one claim wins.
func (db *DB) ClaimForUpload(localID string, now int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE photos SET status = 'syncing', attempts = attempts + 1,
			last_attempt_at = ?, retry_requested = 0, last_error = '', error_kind = ''
		WHERE local_id = ? AND status IN ('pending', 'failed')`,
		now, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkCompleted finishes a syncing photo with the remote identifiers.
// A photo deleted while in flight is left alone: the update is a no-op.
func (db *DB) MarkCompleted(localID, remoteID, remoteURL string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE photos SET status = 'completed', remote_id = ?, remote_url = ?,
			completed_at = ?, next_attempt_at = 0, last_error = '', error_kind = ''
		WHERE local_id = ? AND status = 'syncing'`,
		remoteID, remoteURL, now, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkFailed records an upload failure on a syncing photo. nextAttemptAt is
// the earliest time an automatic retry may run (ignored for rejected errors,
// which are never auto-retried).
func (db *DB) MarkFailed(localID, errMsg string, kind ErrorKind, nextAttemptAt int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE photos SET status = 'failed', last_error = ?, error_kind = ?, next_attempt_at = ?
		WHERE local_id = ? AND status = 'syncing'`,
		errMsg, string(kind), nextAttemptAt, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReclaimStale reverts syncing photos whose attempt started before cutoff
// back to failed/transient. A crash mid-upload leaves the row syncing; this
// recovery pass makes it eligible for retry again.
func (db *DB) ReclaimStale(cutoff, now int64) (int64, error) {
	res, err := db.Exec(`
		UPDATE photos SET status = 'failed', last_error = 'upload interrupted',
			error_kind = 'transient', next_attempt_at = ?
		WHERE status = 'syncing' AND last_attempt_at < ?`,
		now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RequestRetry flags a failed photo for manual retry. Manual retries bypass
// the attempt cap and the rejected-error hold.
func (db *DB) RequestRetry(localID string) (bool, error) {
	res, err := db.Exec(`
		UPDATE photos SET retry_requested = 1, next_attempt_at = 0
		WHERE local_id = ? AND status = 'failed'`, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// DeletePhoto removes a photo in any state. A deletion racing an in-flight
// upload makes the worker's finishing update a no-op.
func (db *DB) DeletePhoto(localID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM photos WHERE local_id = ?`, localID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClearCompleted deletes all completed photos and returns the count.
// Safe to run concurrently with the worker, which never mutates completed rows.
func (db *DB) ClearCompleted() (int64, error) {
	res, err := db.Exec(`DELETE FROM photos WHERE status = 'completed'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneCompleted deletes completed photos created before cutoff. Run at
// startup to enforce the retention window.
func (db *DB) PruneCompleted(cutoff int64) (int64, error) {
	res, err := db.Exec(`DELETE FROM photos WHERE status = 'completed' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats returns per-state counts across the store.
func (db *DB) Stats() (*Stats, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM photos GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = count
		case StatusSyncing:
			s.Syncing = count
		case StatusFailed:
			s.Failed = count
		case StatusCompleted:
			s.Completed = count
		}
		s.Total += count
	}
	return &s, rows.Err()
}
