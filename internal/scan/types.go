// Package scan defines the diagnosis record and the wire types shared between
// the on-device history store, the sync engine and the remote scan repository.
package scan

import (
	"time"

	"github.com/google/uuid"
)

// Quality flags for captured images.
const (
	QualityGood         = "Good"
	QualityBlurry       = "Blurry"
	QualityPoorLighting = "Poor Lighting"
	QualityUnknown      = "Unknown"
)

// Growth stages of the sampled crop.
const (
	StageSeedling     = "Seedling"
	StageVegetative   = "Vegetative"
	StageReproductive = "Reproductive"
	StageUnknown      = "Unknown"
)

// Severity levels of a diagnosed disease.
const (
	SeverityMild     = "Mild"
	SeverityModerate = "Moderate"
	SeveritySevere   = "Severe"
	SeverityUnknown  = "Unknown"
)

// Weather conditions at capture time.
const (
	WeatherSunny   = "Sunny"
	WeatherCloudy  = "Cloudy"
	WeatherRainy   = "Rainy"
	WeatherUnknown = "Unknown"
)

// Tri-state answers for field observations (weed presence, pest vectors).
const (
	ObservedYes     = "Yes"
	ObservedNo      = "No"
	ObservedNotSure = "Not Sure"
)

// Location is a GPS fix attached to a record.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"` // in meters
}

// DiagnosisRecord is one analyzed leaf sample as stored in the local history.
// ID is client-generated and stable for the record's lifetime; it is the
// join key for synchronization with the remote repository.
type DiagnosisRecord struct {
	ID                string    `json:"id"`
	CapturedAt        time.Time `json:"capturedAt"`
	ImageRef          string    `json:"imageRef,omitempty"`
	RemoteImageURL    string    `json:"remoteImageUrl,omitempty"`
	Label             string    `json:"label"`
	Confidence        float64   `json:"confidence"`
	UserVerified      bool      `json:"userVerified"`
	FinalLabel        string    `json:"finalLabel"`
	Location          *Location `json:"location,omitempty"`
	VectorObservation string    `json:"vectorObservation,omitempty"`
	Synced            bool      `json:"synced"`
	OwnerIdentity     string    `json:"ownerIdentity,omitempty"`

	// Retry bookkeeping, persisted with the snapshot so retry storms do not
	// restart from zero after an app restart.
	SyncAttempts  int       `json:"syncAttempts,omitempty"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitzero"`
}

// NewRecord creates a DiagnosisRecord for a completed analysis with a fresh
// client-generated id. FinalLabel defaults to the model label until the user
// overrides it.
func NewRecord(imageRef, label string, confidence float64) DiagnosisRecord {
	return DiagnosisRecord{
		ID:         uuid.New().String(),
		CapturedAt: time.Now(),
		ImageRef:   imageRef,
		Label:      label,
		Confidence: confidence,
		FinalLabel: label,
	}
}

// HasImage reports whether the record carries an image reference at all.
func (r *DiagnosisRecord) HasImage() bool {
	return r.ImageRef != ""
}

// NeedsImageUpload reports whether the record image still has to be uploaded
// before it can be included in a batch submission.
func (r *DiagnosisRecord) NeedsImageUpload() bool {
	return r.HasImage() && r.RemoteImageURL == ""
}
