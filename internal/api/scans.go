// scans.go: handlers for batch sync and per-owner scan documents.
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/maizeguard/leafscan-go/internal/api/auth"
	"github.com/maizeguard/leafscan-go/internal/datastore"
	"github.com/maizeguard/leafscan-go/internal/errors"
	"github.com/maizeguard/leafscan-go/internal/scan"
)

// syncResponse mirrors scan.SyncResult on the server side, with msg always set.
type syncResponse struct {
	Msg         string           `json:"msg"`
	SyncedCount int              `json:"syncedCount"`
	SavedIDs    []string         `json:"savedIds"`
	Errors      []scan.SyncError `json:"errors"`
}

// SyncScans accepts an array of submission payloads and persists each element
// independently. A malformed element is reported in errors[] and never blocks
// its siblings.
func (c *Controller) SyncScans(ctx echo.Context) error {
	ownerID := auth.OwnerID(ctx)

	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	var payloads []scan.SubmissionPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"msg": "Data must be an array of scans",
		})
	}

	if c.metrics != nil {
		c.metrics.Endpoint.BatchesReceived.Inc()
	}

	resp := syncResponse{
		Msg:      "Sync complete",
		SavedIDs: []string{},
		Errors:   []scan.SyncError{},
	}

	for i := range payloads {
		p := &payloads[i]

		doc, err := documentFromPayload(ownerID, p)
		if err == nil {
			err = c.DS.SaveScan(doc)
		}
		if err != nil {
			c.apiLogger.Warn("Error saving scan", "localId", p.LocalID, "error", err)
			resp.Errors = append(resp.Errors, scan.SyncError{
				LocalID: p.LocalID,
				Error:   err.Error(),
			})
			if c.metrics != nil {
				c.metrics.Endpoint.DocumentErrors.Inc()
			}
			continue
		}

		resp.SavedIDs = append(resp.SavedIDs, p.LocalID)
		if c.metrics != nil {
			c.metrics.Endpoint.DocumentsSaved.Inc()
		}
	}
	resp.SyncedCount = len(resp.SavedIDs)

	c.scanCache.Delete(ownerID)
	return ctx.JSON(http.StatusOK, resp)
}

// GetScans returns all documents owned by the caller, newest first.
func (c *Controller) GetScans(ctx echo.Context) error {
	ownerID := auth.OwnerID(ctx)

	if cached, found := c.scanCache.Get(ownerID); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	docs, err := c.DS.GetScansByOwner(ownerID)
	if err != nil {
		c.apiLogger.Error("Failed to list scans", "owner", ownerID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}
	if docs == nil {
		docs = []datastore.ScanDocument{}
	}

	c.scanCache.SetDefault(ownerID, docs)
	return ctx.JSON(http.StatusOK, docs)
}

// GetScan returns the document the caller submitted under one local record id.
func (c *Controller) GetScan(ctx echo.Context) error {
	ownerID := auth.OwnerID(ctx)
	localID := ctx.Param("localId")

	doc, err := c.DS.GetScanByLocalID(ownerID, localID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "Scan not found")
		}
		c.apiLogger.Error("Failed to get scan", "localId", localID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}
	return ctx.JSON(http.StatusOK, doc)
}

// CountScans returns how many documents the caller owns.
func (c *Controller) CountScans(ctx echo.Context) error {
	ownerID := auth.OwnerID(ctx)

	count, err := c.DS.CountScans(ownerID)
	if err != nil {
		c.apiLogger.Error("Failed to count scans", "owner", ownerID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}
	return ctx.JSON(http.StatusOK, map[string]int64{"count": count})
}

// CreateScan persists a single submission payload for the caller.
func (c *Controller) CreateScan(ctx echo.Context) error {
	ownerID := auth.OwnerID(ctx)

	var payload scan.SubmissionPayload
	if err := ctx.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scan payload")
	}

	doc, err := documentFromPayload(ownerID, &payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.DS.SaveScan(doc); err != nil {
		c.apiLogger.Error("Failed to save scan", "localId", payload.LocalID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Server Error")
	}

	c.scanCache.Delete(ownerID)
	return ctx.JSON(http.StatusOK, doc)
}

// documentFromPayload validates one submission payload and builds the
// document to persist. Validation failures are per-item: the caller reports
// them without aborting the batch.
func documentFromPayload(ownerID string, p *scan.SubmissionPayload) (*datastore.ScanDocument, error) {
	if ownerID == "" {
		return nil, errors.NewStd("missing owner identity")
	}
	if p.LocalID == "" {
		return nil, errors.NewStd("scan validation failed: localId is required")
	}
	if p.Diagnosis == nil {
		return nil, errors.NewStd("scan validation failed: diagnosis is required")
	}

	doc := &datastore.ScanDocument{
		OwnerID:     ownerID,
		LocalID:     p.LocalID,
		Timestamp:   p.Timestamp,
		Location:    p.Location,
		GrowthStage: p.GrowthStage,
		PlantAge:    p.PlantAge,
		Diagnosis:   *p.Diagnosis,
		ReceivedAt:  time.Now(),
		ImageURL:    p.ImageURL,
	}

	if doc.Timestamp.IsZero() {
		doc.Timestamp = doc.ReceivedAt
	}
	if doc.GrowthStage == "" {
		doc.GrowthStage = scan.StageUnknown
	}
	if doc.Diagnosis.Severity == "" {
		doc.Diagnosis.Severity = scan.SeverityUnknown
	}

	if p.ImageMetadata != nil {
		doc.ImageMetadata = *p.ImageMetadata
	}
	if doc.ImageMetadata.QualityFlag == "" {
		doc.ImageMetadata.QualityFlag = scan.QualityUnknown
	}

	if p.Environment != nil {
		doc.Environment = *p.Environment
	}
	if doc.Environment.Weather == "" {
		doc.Environment.Weather = scan.WeatherUnknown
	}
	if doc.Environment.WeedPresence == "" {
		doc.Environment.WeedPresence = scan.ObservedNotSure
	}
	if doc.Environment.VectorObservation == "" {
		doc.Environment.VectorObservation = scan.ObservedNotSure
	}

	if p.AppUsage != nil {
		doc.AppUsage = *p.AppUsage
	}
	if p.DeviceInfo != nil {
		doc.DeviceInfo = *p.DeviceInfo
	}

	return doc, nil
}
