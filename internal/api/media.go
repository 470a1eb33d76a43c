// media.go: image upload handlers for the sync endpoint.
package api

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/maizeguard/leafscan-go/internal/imagestore"
)

// uploadResponse is returned by both upload endpoints.
type uploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

// uploadFilename generates the stored name for an uploaded image,
// scan-<unix-ms><ext>.
func uploadFilename(ext string) string {
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("scan-%d%s", time.Now().UnixMilli(), ext)
}

// UploadImage accepts a multipart image upload and stores it in the
// static-servable uploads directory. The returned URL is usable unmodified by
// later GET requests against the same origin.
func (c *Controller) UploadImage(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		if c.metrics != nil {
			c.metrics.Endpoint.UploadRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded.")
	}

	if fileHeader.Size > c.maxUploadBytes() {
		if c.metrics != nil {
			c.metrics.Endpoint.UploadRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("File too large, limit is %dMB", c.Settings.Server.MaxUploadMB))
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	name := uploadFilename(ext)
	dstPath := filepath.Join(c.uploadsDir, name)

	dst, err := os.Create(dstPath)
	if err != nil {
		c.apiLogger.Error("Failed to create upload file", "path", dstPath, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, c.maxUploadBytes()+1)); err != nil {
		_ = os.Remove(dstPath)
		c.apiLogger.Error("Failed to write upload file", "path", dstPath, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}

	if c.metrics != nil {
		c.metrics.Endpoint.ImagesStored.Inc()
	}
	c.apiLogger.Info("Stored uploaded image", "file", name, "bytes", fileHeader.Size)
	return ctx.JSON(http.StatusOK, uploadResponse{
		ImageURL: "/public/uploads/" + name,
	})
}

// webUploadRequest is the JSON body of the data-URI upload path used by
// platforms without multipart file-handle support.
type webUploadRequest struct {
	ImageData string `json:"imageData"`
}

// UploadImageWeb decodes a base64 data URI and stores it like a multipart
// upload. Malformed payloads are rejected before anything is written.
func (c *Controller) UploadImageWeb(ctx echo.Context) error {
	var req webUploadRequest
	if err := ctx.Bind(&req); err != nil || req.ImageData == "" {
		if c.metrics != nil {
			c.metrics.Endpoint.UploadRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusBadRequest, "No image data provided.")
	}

	data, ext, err := imagestore.DecodeDataURI(req.ImageData)
	if err != nil {
		if c.metrics != nil {
			c.metrics.Endpoint.UploadRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid image data.")
	}
	if int64(len(data)) > c.maxUploadBytes() {
		if c.metrics != nil {
			c.metrics.Endpoint.UploadRejections.Inc()
		}
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("File too large, limit is %dMB", c.Settings.Server.MaxUploadMB))
	}

	name := uploadFilename(ext)
	dstPath := filepath.Join(c.uploadsDir, name)
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		c.apiLogger.Error("Failed to write upload file", "path", dstPath, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}

	if c.metrics != nil {
		c.metrics.Endpoint.ImagesStored.Inc()
	}
	c.apiLogger.Info("Stored uploaded image", "file", name, "bytes", len(data))
	return ctx.JSON(http.StatusOK, uploadResponse{
		ImageURL: "/public/uploads/" + name,
	})
}
