// Package imagestore materializes ephemeral capture handles into durable,
// content-addressed image files that the history store can persist and
// resolve again after a full process restart.
package imagestore

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/logging"
)

// Package-level logger specific to the image store
var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("imagestore")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "imagestore")
	}
}

// dataURIPattern matches data:<mime>;base64,<data> references produced by
// platforms without file-handle support.
var dataURIPattern = regexp.MustCompile(`^data:([a-zA-Z0-9.+-]+/[a-zA-Z0-9.+-]+);base64,(.+)$`)

// extensionForMIME maps the image MIME types we accept to file extensions.
var extensionForMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Materializer copies ephemeral image data into a durable directory. Files are
// named by content hash, so materializing the same image twice is a no-op.
type Materializer struct {
	dir string
}

// New creates the image directory if needed and returns a Materializer over it.
func New(dir string) (*Materializer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("creating image directory: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageIO).
			Context("dir", dir).
			Build()
	}
	return &Materializer{dir: dir}, nil
}

// Dir returns the durable image directory.
func (m *Materializer) Dir() string {
	return m.dir
}

// IsEphemeral reports whether ref must be materialized before it is safe to
// persist. References already inside the durable directory are stable; data
// URIs and files elsewhere on disk (camera caches, temp dirs) are not.
func (m *Materializer) IsEphemeral(ref string) bool {
	if ref == "" {
		return false
	}
	if strings.HasPrefix(ref, "data:") {
		return true
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return true
	}
	dirAbs, err := filepath.Abs(m.dir)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(dirAbs, abs)
	if err != nil {
		return true
	}
	return strings.HasPrefix(rel, "..")
}

// Materialize converts an ephemeral image reference into a durable one. On
// any conversion failure the original reference is returned unchanged along
// with the error, so the caller can keep the record and render a broken-image
// placeholder instead of losing data.
func (m *Materializer) Materialize(ref string) (string, error) {
	if !m.IsEphemeral(ref) {
		return ref, nil
	}

	var data []byte
	var ext string
	var err error

	if strings.HasPrefix(ref, "data:") {
		data, ext, err = DecodeDataURI(ref)
	} else {
		data, err = os.ReadFile(ref)
		ext = strings.ToLower(filepath.Ext(ref))
		if ext == "" {
			ext = ".jpg"
		}
	}
	if err != nil {
		serviceLogger.Warn("Image materialization failed, keeping original reference",
			"error", err)
		return ref, errors.New(fmt.Errorf("materializing image: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageIO).
			Build()
	}

	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:16]) + ext
	path := filepath.Join(m.dir, name)

	// Content-addressed name: if the file exists it already holds this data
	if _, statErr := os.Stat(path); statErr == nil {
		return path, nil
	}

	staging := path + ".tmp"
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		return ref, errors.New(fmt.Errorf("writing image file: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageIO).
			Build()
	}
	if err := os.Rename(staging, path); err != nil {
		_ = os.Remove(staging)
		return ref, errors.New(fmt.Errorf("committing image file: %w", err)).
			Component("imagestore").
			Category(errors.CategoryImageIO).
			Build()
	}

	serviceLogger.Debug("Materialized image", "path", path, "bytes", len(data))
	return path, nil
}

// Open resolves a durable reference back to readable image data.
func (m *Materializer) Open(ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, errors.New(fmt.Errorf("opening image %s: %w", filepath.Base(ref), err)).
			Component("imagestore").
			Category(errors.CategoryImageIO).
			Build()
	}
	return f, nil
}

// DecodeDataURI splits and decodes a data:<mime>;base64,<data> reference.
func DecodeDataURI(uri string) (data []byte, ext string, err error) {
	matches := dataURIPattern.FindStringSubmatch(uri)
	if matches == nil {
		return nil, "", fmt.Errorf("malformed data URI")
	}
	mime := matches[1]
	ext, ok := extensionForMIME[mime]
	if !ok {
		return nil, "", fmt.Errorf("unsupported image type %s", mime)
	}
	data, err = base64.StdEncoding.DecodeString(matches[2])
	if err != nil {
		return nil, "", fmt.Errorf("decoding base64 image data: %w", err)
	}
	return data, ext, nil
}
