// Package modelmgr manages the on-device inference model lifecycle: resolving
// which model binary is active, downloading updates in the background, and
// falling back safely when no model is available. Inference itself is an
// opaque capability behind the Classifier interface.
package modelmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/logging"
)

// Package-level logger specific to the model manager
var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("modelmgr")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "modelmgr")
	}
}

// Source identifies where the active model binary came from.
type Source string

const (
	SourceBundled    Source = "bundled"
	SourceDownloaded Source = "downloaded"
)

// ModelAsset is the model binary currently referenced for prediction calls.
type ModelAsset struct {
	Source Source
	URI    string // local filesystem path of the active binary
}

// Prediction is the inference output for one image.
type Prediction struct {
	Label      string
	Confidence float64 // in [0,1]
}

// Classifier is the opaque inference capability. Implementations load the
// model binary at the given path and run it against image references.
type Classifier interface {
	Load(modelPath string) error
	Predict(ctx context.Context, imageRef string) (Prediction, error)
}

// Config holds the injected configuration for a Manager. There is no implicit
// package singleton; application startup owns the single instance.
type Config struct {
	RemoteURL    string        // well-known URL of the current model binary
	Dir          string        // local directory for model files
	BundledAsset []byte        // model binary shipped with the app, may be nil
	AutoUpdate   bool          // check for a newer model after activation
	HTTPClient   *http.Client  // optional, defaults to a 60s-timeout client
	Timeout      time.Duration // download timeout when HTTPClient is nil
}

const (
	downloadedModelName = "model.tflite"
	bundledModelName    = "bundled.tflite"
)

// Manager resolves and owns the active model asset. Absence of a ready model
// is a first-class state: Predict reports unavailability instead of failing.
type Manager struct {
	cfg        Config
	classifier Classifier
	httpClient *http.Client

	mu          sync.Mutex
	initialized bool
	active      *ModelAsset

	wg sync.WaitGroup // tracks the background update check
}

// New returns an uninitialized Manager. Call Initialize once at startup.
func New(cfg Config, classifier Classifier) *Manager {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Manager{
		cfg:        cfg,
		classifier: classifier,
		httpClient: client,
	}
}

// Initialize resolves the active model binary. Resolution order: a previously
// downloaded non-empty model file wins, then the bundled asset unpacked to a
// local path, otherwise the manager stays not-ready. After activating a model
// it triggers a non-blocking background check for a newer binary; a download
// only becomes the candidate for the next initialization, the active
// reference is never hot-swapped mid-session.
//
// Initialize is idempotent and never fails startup on network errors.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	m.initialized = true

	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return errors.New(fmt.Errorf("creating model directory: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryModelInit).
			Context("dir", m.cfg.Dir).
			Build()
	}

	asset := m.resolveModel()
	if asset == nil {
		serviceLogger.Warn("No model available, predictions unavailable until next start")
		return nil
	}

	if m.classifier != nil {
		if err := m.classifier.Load(asset.URI); err != nil {
			serviceLogger.Error("Classifier failed to load model, predictions unavailable",
				"uri", asset.URI, "error", err)
			return nil
		}
	}

	m.active = asset
	serviceLogger.Info("Model activated", "source", asset.Source, "uri", asset.URI)

	if m.cfg.AutoUpdate && m.cfg.RemoteURL != "" {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.checkForUpdate(ctx)
		}()
	}

	return nil
}

// resolveModel picks the model binary per the documented resolution order.
// Caller holds m.mu.
func (m *Manager) resolveModel() *ModelAsset {
	downloaded := filepath.Join(m.cfg.Dir, downloadedModelName)
	if info, err := os.Stat(downloaded); err == nil && info.Size() > 0 {
		return &ModelAsset{Source: SourceDownloaded, URI: downloaded}
	}

	if len(m.cfg.BundledAsset) > 0 {
		bundled := filepath.Join(m.cfg.Dir, bundledModelName)
		if info, err := os.Stat(bundled); err != nil || info.Size() != int64(len(m.cfg.BundledAsset)) {
			if err := writeFileAtomic(bundled, m.cfg.BundledAsset); err != nil {
				serviceLogger.Error("Failed to unpack bundled model", "error", err)
				return nil
			}
		}
		return &ModelAsset{Source: SourceBundled, URI: bundled}
	}

	return nil
}

// Active returns the active model asset, or false when the manager is not
// ready.
func (m *Manager) Active() (ModelAsset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return ModelAsset{}, false
	}
	return *m.active, true
}

// Predict runs inference on the given image reference. The second return
// value is false when no model is ready; offline devices hit that state
// routinely and it is not an error.
func (m *Manager) Predict(ctx context.Context, imageRef string) (Prediction, bool, error) {
	m.mu.Lock()
	ready := m.active != nil && m.classifier != nil
	m.mu.Unlock()

	if !ready {
		return Prediction{}, false, nil
	}

	pred, err := m.classifier.Predict(ctx, imageRef)
	if err != nil {
		return Prediction{}, true, errors.New(fmt.Errorf("running inference: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryModelInit).
			Build()
	}
	return pred, true, nil
}

// checkForUpdate downloads the current remote model binary. Any failure is
// logged and swallowed; it never affects the active model.
func (m *Manager) checkForUpdate(ctx context.Context) {
	serviceLogger.Debug("Checking for model update", "url", m.cfg.RemoteURL)

	if err := m.downloadModel(ctx); err != nil {
		serviceLogger.Info("No model update available", "error", err)
		return
	}
	serviceLogger.Info("Model update downloaded, active on next start")
}

// downloadModel fetches the remote binary to a temporary path, validates it,
// and atomically renames it into place as the downloaded model candidate.
func (m *Manager) downloadModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.RemoteURL, http.NoBody)
	if err != nil {
		return errors.New(fmt.Errorf("creating model download request: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryModelDownload).
			Build()
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return errors.New(fmt.Errorf("downloading model: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryNetwork).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("model download returned status %d", resp.StatusCode).
			Component("modelmgr").
			Category(errors.CategoryModelDownload).
			Build()
	}

	target := filepath.Join(m.cfg.Dir, downloadedModelName)
	staging := target + ".download"

	out, err := os.Create(staging)
	if err != nil {
		return errors.New(fmt.Errorf("creating staging file: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryFileIO).
			Build()
	}

	written, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil || written == 0 {
		_ = os.Remove(staging)
		if err == nil {
			err = fmt.Errorf("downloaded model is empty")
		}
		return errors.New(fmt.Errorf("writing model download: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryModelDownload).
			Build()
	}

	if err := os.Rename(staging, target); err != nil {
		_ = os.Remove(staging)
		return errors.New(fmt.Errorf("committing model download: %w", err)).
			Component("modelmgr").
			Category(errors.CategoryModelDownload).
			Build()
	}

	return nil
}

// UpdateNow forces a fresh synchronous download of the remote model. The
// downloaded binary still only becomes active on the next initialization.
func (m *Manager) UpdateNow(ctx context.Context) error {
	if m.cfg.RemoteURL == "" {
		return errors.ValidationError("no remote model URL configured")
	}
	return m.downloadModel(ctx)
}

// Wait blocks until any in-flight background update check finishes. Used by
// tests and graceful shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// writeFileAtomic writes data to path via a staged temporary file.
func writeFileAtomic(path string, data []byte) error {
	staging := path + ".tmp"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(staging, path); err != nil {
		_ = os.Remove(staging)
		return err
	}
	return nil
}
