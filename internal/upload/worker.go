// Package upload drains the durable report queue: each queued submission
// is normalized, posted to the backend as multipart form data and
// retried with backoff until it lands or fails for good.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/achadosufc/achados/internal/bus"
	"github.com/achadosufc/achados/internal/imaging"
	"github.com/achadosufc/achados/internal/rest"
	"github.com/achadosufc/achados/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	pollInterval = time.Second
	maxAttempts  = 8
	retryBase    = 10 * time.Second
	retryCap     = 10 * time.Minute
)

// ItemCreator is the slice of the backend client the worker needs.
type ItemCreator interface {
	CreateItem(ctx context.Context, report rest.Report, filename string, image io.Reader) (*store.Item, error)
}

// Worker polls the queue and pushes due submissions to the backend.
// Submissions survive restarts: the queue lives in the session cache and
// jobs are only removed once the backend accepted them.
type Worker struct {
	db      *store.DB
	backend ItemCreator
	bus     *bus.Bus
	logger  *zap.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

// NewWorker creates an upload worker over the session queue.
func NewWorker(db *store.DB, backend ItemCreator, b *bus.Bus, logger *zap.Logger) *Worker {
	return &Worker{db: db, backend: backend, bus: b, logger: logger}
}

// Start launches the polling loop. Jobs a previous run left in flight
// are requeued first, so a crash mid-upload never strands a report.
func (w *Worker) Start() {
	if n, err := w.db.RequeueStalledUploadJobs(); err != nil {
		w.logger.Error("requeue stalled uploads failed", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("stalled uploads requeued", zap.Int64("count", n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done.Add(1)
	go w.run(ctx)
	w.logger.Info("upload worker started")
}

// Stop halts the loop and waits for an in-flight upload to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.done.Wait()
	w.logger.Info("upload worker stopped")
}

// Enqueue stores a new report submission and returns its job id. The
// photo must already be staged at imagePath inside the session media dir.
func (w *Worker) Enqueue(report rest.Report, imagePath string) (string, error) {
	job := &store.UploadJob{
		JobID:       uuid.NewString(),
		Title:       report.Title,
		Description: report.Description,
		Location:    report.Location,
		IsFound:     report.IsFound,
		ImagePath:   imagePath,
	}
	if err := w.db.QueueUploadJob(job); err != nil {
		return "", fmt.Errorf("queue report: %w", err)
	}
	w.logger.Info("report queued", zap.String("job", job.JobID), zap.String("title", job.Title))
	w.bus.Publish(bus.Event{Kind: "report.queued", Timestamp: time.Now(), Payload: job.JobID})
	return job.JobID, nil
}

// Jobs returns the queue contents, oldest first.
func (w *Worker) Jobs() ([]store.UploadJob, error) {
	return w.db.ListUploadJobs()
}

// Discard drops a job (typically a permanently failed one) and its
// staged photo.
func (w *Worker) Discard(jobID string) error {
	job, err := w.db.GetUploadJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	if err := w.db.DeleteUploadJob(jobID); err != nil {
		return err
	}
	w.removeStaged(job.ImagePath)
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.done.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drain(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	jobs, err := w.db.DueUploadJobs(time.Now().UnixMilli())
	if err != nil {
		w.logger.Error("poll upload queue failed", zap.Error(err))
		return
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, &jobs[i])
	}
}

func (w *Worker) process(ctx context.Context, job *store.UploadJob) {
	if err := w.db.MarkUploadJobUploading(job.JobID); err != nil {
		w.logger.Error("mark job uploading failed", zap.String("job", job.JobID), zap.Error(err))
		return
	}
	attempt := job.Attempts + 1

	photo, err := imaging.NormalizeFile(job.ImagePath)
	if err != nil {
		// Unreadable or invalid photo never improves with retries.
		w.fail(job, fmt.Errorf("normalize photo: %w", err))
		return
	}

	item, err := w.backend.CreateItem(ctx, rest.Report{
		Title:       job.Title,
		Description: job.Description,
		Location:    job.Location,
		IsFound:     job.IsFound,
	}, "photo.jpg", bytes.NewReader(photo.Data))
	if err != nil {
		if transient(err) && attempt < maxAttempts {
			w.retry(job, attempt, err)
		} else {
			w.fail(job, err)
		}
		return
	}

	if err := w.db.DeleteUploadJob(job.JobID); err != nil {
		w.logger.Error("dequeue uploaded job failed", zap.String("job", job.JobID), zap.Error(err))
		return
	}
	if err := w.db.UpsertItem(item); err != nil {
		w.logger.Warn("uploaded item not cached", zap.Int64("item", item.ID), zap.Error(err))
	}
	w.removeStaged(job.ImagePath)

	w.logger.Info("report uploaded",
		zap.String("job", job.JobID),
		zap.Int64("item", item.ID),
		zap.Int("attempt", attempt))
	w.bus.Publish(bus.Event{Kind: "report.uploaded", Timestamp: time.Now(), Payload: item})
}

func (w *Worker) retry(job *store.UploadJob, attempt int, cause error) {
	delay := backoff(attempt)
	next := time.Now().Add(delay).UnixMilli()
	if err := w.db.RetryUploadJob(job.JobID, cause.Error(), next); err != nil {
		w.logger.Error("requeue job failed", zap.String("job", job.JobID), zap.Error(err))
		return
	}
	w.logger.Warn("upload failed, will retry",
		zap.String("job", job.JobID),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
}

func (w *Worker) fail(job *store.UploadJob, cause error) {
	if err := w.db.FailUploadJob(job.JobID, cause.Error()); err != nil {
		w.logger.Error("mark job failed failed", zap.String("job", job.JobID), zap.Error(err))
		return
	}
	w.logger.Error("report permanently failed",
		zap.String("job", job.JobID),
		zap.Error(cause))
	w.bus.Publish(bus.Event{Kind: "report.failed", Timestamp: time.Now(), Payload: job.JobID})
}

func (w *Worker) removeStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("staged photo not removed", zap.String("path", path), zap.Error(err))
	}
}

// transient reports whether an upload error is worth another attempt.
// Server errors and network failures are; anything the backend rejected
// outright is not.
func transient(err error) bool {
	var apiErr *rest.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	// Anything else never reached the backend (dial, TLS, timeout);
	// all of that is retryable.
	return true
}

// backoff doubles per attempt from retryBase up to retryCap.
func backoff(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}
