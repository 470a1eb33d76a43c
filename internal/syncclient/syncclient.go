// Package syncclient implements the HTTP client for the remote scan
// repository: image uploads and batch submissions, authenticated with the
// per-user token.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/logging"
	"github.com/maizeguard/leafscan-go/internal/scan"
)

// Package-level logger specific to the sync client
var serviceLogger *slog.Logger

func init() {
	serviceLogger = logging.ForService("syncclient")
	if serviceLogger == nil {
		serviceLogger = slog.Default().With("service", "syncclient")
	}
}

// authHeader carries the per-user credential on authenticated requests.
const authHeader = "x-auth-token"

// Interface defines what methods a sync client must have
type Interface interface {
	UploadImage(ctx context.Context, imagePath string) (string, error)
	UploadImageData(ctx context.Context, dataURI string) (string, error)
	SubmitBatch(ctx context.Context, payloads []scan.SubmissionPayload) (*scan.SyncResult, error)
}

// Client holds the configuration for interacting with the remote scan
// repository.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a Client from sync settings. The HTTP client gets the
// configured timeout to prevent hanging requests.
func New(settings *conf.SyncSettings) *Client {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		BaseURL:    settings.ServerURL,
		Token:      settings.Token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// handleNetworkError handles network errors and returns a more specific error message.
func handleNetworkError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		serviceLogger.Warn("Network request timed out", "error", err)
		return errors.New(fmt.Errorf("request timed out: %w", err)).
			Component("syncclient").
			Category(errors.CategoryNetwork).
			Build()
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		var dnsErr *net.DNSError
		if errors.As(urlErr.Err, &dnsErr) {
			serviceLogger.Warn("DNS resolution failed", "url", urlErr.URL, "error", err)
			return errors.New(fmt.Errorf("DNS resolution failed: %w", err)).
				Component("syncclient").
				Category(errors.CategoryNetwork).
				Build()
		}
	}
	serviceLogger.Warn("Network error occurred", "error", err)
	return errors.New(fmt.Errorf("network error: %w", err)).
		Component("syncclient").
		Category(errors.CategoryNetwork).
		Build()
}

// UploadImage uploads an image file as a multipart request and returns the
// relative URL the server stored it under.
func (c *Client) UploadImage(ctx context.Context, imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", errors.New(fmt.Errorf("opening image for upload: %w", err)).
			Component("syncclient").
			Category(errors.CategoryImageIO).
			Build()
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("creating multipart field: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copying image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalizing multipart body: %w", err)
	}

	uploadURL := c.BaseURL + "/api/scans/upload-image"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	serviceLogger.Debug("Uploading image", "url", uploadURL, "file", filepath.Base(imagePath))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", handleNetworkError(err)
	}
	defer resp.Body.Close()

	return decodeImageURL(resp)
}

// UploadImageData uploads a base64 data URI through the JSON endpoint used by
// platforms without multipart file-handle support.
func (c *Client) UploadImageData(ctx context.Context, dataURI string) (string, error) {
	payload, err := json.Marshal(map[string]string{"imageData": dataURI})
	if err != nil {
		return "", fmt.Errorf("encoding image data payload: %w", err)
	}

	uploadURL := c.BaseURL + "/api/scans/upload-image-web"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	serviceLogger.Debug("Uploading image data URI", "url", uploadURL)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", handleNetworkError(err)
	}
	defer resp.Body.Close()

	return decodeImageURL(resp)
}

// decodeImageURL reads an {imageUrl} response body.
func decodeImageURL(resp *http.Response) (string, error) {
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("image upload returned status %d", resp.StatusCode).
			Component("syncclient").
			Category(errors.CategoryHTTP).
			Context("body", string(responseBody)).
			Build()
	}

	var data struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.Unmarshal(responseBody, &data); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if data.ImageURL == "" {
		return "", errors.NewStd("upload response missing imageUrl")
	}
	return data.ImageURL, nil
}

// SubmitBatch submits the payloads as one batch call and returns the per-item
// report. The server accepts or rejects each element independently.
func (c *Client) SubmitBatch(ctx context.Context, payloads []scan.SubmissionPayload) (*scan.SyncResult, error) {
	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("encoding batch payload: %w", err)
	}

	syncURL := c.BaseURL + "/api/scans/sync"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, syncURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(authHeader, c.Token)

	serviceLogger.Info("Submitting scan batch", "url", syncURL, "count", len(payloads))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, handleNetworkError(err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading sync response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("sync returned status %d", resp.StatusCode).
			Component("syncclient").
			Category(errors.CategoryHTTP).
			Context("body", string(responseBody)).
			Build()
	}

	var result scan.SyncResult
	if err := json.Unmarshal(responseBody, &result); err != nil {
		return nil, fmt.Errorf("decoding sync response: %w", err)
	}

	serviceLogger.Info("Batch submission complete",
		"synced", result.SyncedCount, "errors", len(result.Errors))
	return &result, nil
}
