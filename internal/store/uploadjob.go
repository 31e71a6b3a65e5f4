package store

import (
	"database/sql"
	"time"
)

const selectUploadJobColumns = `
	SELECT id, job_id, title, description, location, is_found, image_path,
		status, attempts, error_message, next_attempt_at, created_at
	FROM upload_jobs`

// QueueUploadJob adds a pending report submission to the durable queue.
func (db *DB) QueueUploadJob(j *UploadJob) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO upload_jobs (job_id, title, description, location, is_found, image_path,
			status, attempts, next_attempt_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'queued', 0, 0, ?, ?)`,
		j.JobID, j.Title, j.Description, j.Location, j.IsFound, j.ImagePath, now, now)
	return err
}

// DueUploadJobs returns queued jobs whose backoff window has elapsed,
// oldest first.
func (db *DB) DueUploadJobs(now int64) ([]UploadJob, error) {
	rows, err := db.Query(selectUploadJobColumns+`
		WHERE status = 'queued' AND next_attempt_at <= ?
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []UploadJob
	for rows.Next() {
		var j UploadJob
		if err := scanUploadJob(rows.Scan, &j); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RequeueStalledUploadJobs resets jobs left 'uploading' by a previous
// run back to 'queued'. A job is only removed once its upload finished,
// so anything still in flight when the daemon died must go around again.
func (db *DB) RequeueStalledUploadJobs() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE upload_jobs SET status = 'queued', updated_at = ?
		WHERE status = 'uploading'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkUploadJobUploading flags a job as in flight and bumps its attempt count.
func (db *DB) MarkUploadJobUploading(jobID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE upload_jobs SET status = 'uploading', attempts = attempts + 1, updated_at = ?
		WHERE job_id = ?`, now, jobID)
	return err
}

// RetryUploadJob re-queues a job after a transient failure with the next
// attempt deferred until nextAttemptAt.
func (db *DB) RetryUploadJob(jobID, errMsg string, nextAttemptAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE upload_jobs SET status = 'queued', error_message = ?, next_attempt_at = ?, updated_at = ?
		WHERE job_id = ?`, errMsg, nextAttemptAt, now, jobID)
	return err
}

// FailUploadJob marks a job permanently failed. It stays in the table for
// the user to inspect or discard.
func (db *DB) FailUploadJob(jobID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE upload_jobs SET status = 'failed', error_message = ?, updated_at = ?
		WHERE job_id = ?`, errMsg, now, jobID)
	return err
}

// DeleteUploadJob removes a job, normally after a successful upload.
func (db *DB) DeleteUploadJob(jobID string) error {
	_, err := db.Exec(`DELETE FROM upload_jobs WHERE job_id = ?`, jobID)
	return err
}

// GetUploadJob returns a job by its client-assigned id, or nil.
func (db *DB) GetUploadJob(jobID string) (*UploadJob, error) {
	row := db.QueryRow(selectUploadJobColumns+` WHERE job_id = ?`, jobID)
	var j UploadJob
	if err := scanUploadJob(row.Scan, &j); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

// ListUploadJobs returns every job in the queue, oldest first.
func (db *DB) ListUploadJobs() ([]UploadJob, error) {
	rows, err := db.Query(selectUploadJobColumns + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []UploadJob
	for rows.Next() {
		var j UploadJob
		if err := scanUploadJob(rows.Scan, &j); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanUploadJob(scan func(...any) error, j *UploadJob) error {
	return scan(
		&j.ID, &j.JobID, &j.Title, &j.Description, &j.Location, &j.IsFound, &j.ImagePath,
		&j.Status, &j.Attempts, &j.ErrorMessage, &j.NextAttemptAt, &j.CreatedAt,
	)
}
