// Package syncengine reconciles the local diagnosis history with the remote
// scan repository. A pass walks the unsynced records, uploads their images,
// submits one batch, and marks only the acknowledged records synced. All I/O
// is sequential; overlapping triggers are dropped so the history store stays
// single-writer.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/history"
	"github.com/maizeguard/leafscan-go/internal/logging"
	"github.com/maizeguard/leafscan-go/internal/observability"
	"github.com/maizeguard/leafscan-go/internal/scan"
	"github.com/maizeguard/leafscan-go/internal/syncclient"
)

// Package-level logger specific to the sync engine
var (
	serviceLogger   *slog.Logger
	loggerOnce      sync.Once
	loggerCloseFunc func() error
)

func init() {
	serviceLogger = logging.ForService("syncengine")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "syncengine")
	}
}

// InitFileLogging routes engine logs to a rotating file. It returns a close
// function for the underlying writer and is safe to call multiple times.
func InitFileLogging() func() error {
	loggerOnce.Do(func() {
		fileLogger, closeFunc, err := logging.NewFileLogger(logging.FilePathFor("sync"), "syncengine", slog.LevelInfo)
		if err != nil {
			serviceLogger.Warn("Failed to initialize sync file logger, keeping default output", "error", err)
			return
		}
		serviceLogger = fileLogger
		loggerCloseFunc = closeFunc
	})
	if loggerCloseFunc != nil {
		return loggerCloseFunc
	}
	return func() error { return nil }
}

// ErrSyncInFlight is returned when a trigger arrives while a pass is already
// running. Overlapping triggers are dropped, not queued.
var ErrSyncInFlight = errors.NewStd("sync already in progress")

// Report summarizes one sync pass for explicit export actions. Background
// triggers discard it without surfacing failures to the user.
type Report struct {
	Candidates int              // unsynced records considered this pass
	Submitted  int              // payloads included in the batch submission
	Accepted   int              // records durably accepted by the server
	Skipped    int              // records skipped (image upload failure or backoff)
	Errors     []scan.SyncError // per-item server rejections
}

// Config tunes the retry policy of an engine.
type Config struct {
	MaxAttempts int           // attempts before a record is parked for manual reset
	BackoffBase time.Duration // first retry delay
	BackoffMax  time.Duration // upper bound for retry delay
}

// Engine drives sync passes over a history store through a sync client.
type Engine struct {
	store   *history.Store
	client  syncclient.Interface
	cfg     Config
	metrics *observability.Metrics // may be nil

	inFlight atomic.Bool
	now      func() time.Time // injectable clock for tests
}

// New creates an Engine. Metrics may be nil.
func New(store *history.Store, client syncclient.Interface, cfg Config, m *observability.Metrics) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = time.Hour
	}
	return &Engine{
		store:   store,
		client:  client,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// backoffAfter computes the delay before the next retry for a record that has
// now failed attempts times.
func (e *Engine) backoffAfter(attempts int) time.Duration {
	delay := e.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= e.cfg.BackoffMax {
			return e.cfg.BackoffMax
		}
	}
	if delay > e.cfg.BackoffMax {
		delay = e.cfg.BackoffMax
	}
	return delay
}

// Sync runs one pass. A second trigger while a pass is in flight returns
// ErrSyncInFlight without touching the store. The store snapshot is persisted
// exactly once per pass, after all per-record updates.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		serviceLogger.Debug("Dropping sync trigger, pass already in flight")
		if e.metrics != nil {
			e.metrics.Sync.PassesDropped.Inc()
		}
		return nil, ErrSyncInFlight
	}
	defer e.inFlight.Store(false)

	start := e.now()
	if e.metrics != nil {
		e.metrics.Sync.PassesTotal.Inc()
		defer func() {
			e.metrics.Sync.PassDuration.Observe(e.now().Sub(start).Seconds())
		}()
	}

	report := &Report{}

	candidates := e.store.ListUnsynced()
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report, nil
	}

	serviceLogger.Info("Sync pass started", "candidates", len(candidates))

	// Phase 1: image uploads. A failed upload skips that record for this
	// pass; siblings are unaffected.
	var ready []scan.DiagnosisRecord
	touched := false
	for i := range candidates {
		rec := candidates[i]

		if rec.SyncAttempts >= e.cfg.MaxAttempts {
			serviceLogger.Debug("Record parked after max attempts", "id", rec.ID)
			report.Skipped++
			continue
		}
		if !rec.NextAttemptAt.IsZero() && e.now().Before(rec.NextAttemptAt) {
			report.Skipped++
			continue
		}

		if rec.NeedsImageUpload() {
			url, err := e.uploadImage(ctx, rec.ImageRef)
			if err != nil {
				serviceLogger.Warn("Image upload failed, skipping record this pass",
					"id", rec.ID, "error", err)
				e.noteFailure(rec.ID, rec.SyncAttempts)
				touched = true
				report.Skipped++
				if e.metrics != nil {
					e.metrics.Sync.ImageUploadFails.Inc()
				}
				continue
			}
			rec.RemoteImageURL = url
			e.store.SetRemoteImageURL(rec.ID, url)
			touched = true
			if e.metrics != nil {
				e.metrics.Sync.ImagesUploaded.Inc()
			}
		}

		ready = append(ready, rec)
	}

	// Phase 2: one batch submission for every record that has its image URL
	// (or never had an image).
	if len(ready) > 0 {
		payloads := make([]scan.SubmissionPayload, 0, len(ready))
		for i := range ready {
			payloads = append(payloads, scan.BuildPayload(&ready[i]))
		}
		report.Submitted = len(payloads)
		if e.metrics != nil {
			e.metrics.Sync.BatchSize.Observe(float64(len(payloads)))
		}

		result, err := e.client.SubmitBatch(ctx, payloads)
		if err != nil {
			// Transient outage: every submitted record retries next pass.
			// Nothing is marked synced that was not acknowledged.
			serviceLogger.Warn("Batch submission failed", "error", err)
			for i := range ready {
				e.noteFailure(ready[i].ID, ready[i].SyncAttempts)
			}
			touched = true
			if persistErr := e.persistIfTouched(touched); persistErr != nil {
				err = errors.Join(err, persistErr)
			}
			return report, errors.New(fmt.Errorf("submitting batch: %w", err)).
				Component("syncengine").
				Category(errors.CategorySync).
				Build()
		}

		accepted := make(map[string]string, len(result.SavedIDs))
		for _, id := range result.SavedIDs {
			accepted[id] = urlForID(ready, id)
		}
		e.store.MarkSynced(accepted)
		touched = touched || len(accepted) > 0
		report.Accepted = len(accepted)
		report.Errors = result.Errors
		if e.metrics != nil {
			e.metrics.Sync.RecordsSynced.Add(float64(len(accepted)))
			e.metrics.Sync.RecordsFailed.Add(float64(len(result.Errors)))
		}

		// Rejected items stay unsynced and back off individually
		for _, itemErr := range result.Errors {
			serviceLogger.Warn("Record rejected by server",
				"id", itemErr.LocalID, "error", itemErr.Error)
			if rec, ok := e.store.Get(itemErr.LocalID); ok {
				e.noteFailure(rec.ID, rec.SyncAttempts)
				touched = true
			}
		}
	}

	if err := e.persistIfTouched(touched); err != nil {
		return report, err
	}

	serviceLogger.Info("Sync pass finished",
		"candidates", report.Candidates,
		"submitted", report.Submitted,
		"accepted", report.Accepted,
		"skipped", report.Skipped,
		"rejected", len(report.Errors))
	return report, nil
}

// uploadImage sends one image reference through the matching client endpoint.
// A data URI has no file behind it, for example when materialization failed,
// so it goes through the JSON data upload instead of the multipart one.
func (e *Engine) uploadImage(ctx context.Context, imageRef string) (string, error) {
	if strings.HasPrefix(imageRef, "data:") {
		return e.client.UploadImageData(ctx, imageRef)
	}
	return e.client.UploadImage(ctx, imageRef)
}

// noteFailure applies the backoff policy to a record that failed this pass.
func (e *Engine) noteFailure(id string, previousAttempts int) {
	attempts := previousAttempts + 1
	e.store.NoteSyncFailure(id, e.now().Add(e.backoffAfter(attempts)))
}

// persistIfTouched writes the snapshot once per pass, only when something
// actually changed.
func (e *Engine) persistIfTouched(touched bool) error {
	if !touched {
		return nil
	}
	if err := e.store.Persist(); err != nil {
		return errors.New(fmt.Errorf("persisting store after sync pass: %w", err)).
			Component("syncengine").
			Category(errors.CategorySync).
			Build()
	}
	return nil
}

// urlForID finds the remote image URL of the record with the given id.
func urlForID(records []scan.DiagnosisRecord, id string) string {
	for i := range records {
		if records[i].ID == id {
			return records[i].RemoteImageURL
		}
	}
	return ""
}
