package scan

import "time"

// ImageMetadata describes how the image was captured.
type ImageMetadata struct {
	Resolution  string `json:"resolution,omitempty"`  // e.g. "1920x1080"
	Orientation string `json:"orientation,omitempty"` // "portrait" or "landscape"
	FlashUsed   bool   `json:"flashUsed,omitempty"`
	QualityFlag string `json:"qualityFlag,omitempty"`
}

// Diagnosis carries the model prediction and the user's verification of it.
type Diagnosis struct {
	ModelPrediction string  `json:"modelPrediction"`
	Confidence      float64 `json:"confidence"`
	Severity        string  `json:"severity,omitempty"`
	UserVerified    bool    `json:"userVerified"`
	FinalDiagnosis  string  `json:"finalDiagnosis"`
}

// Environment captures field indicators the farmer taps in after a scan.
type Environment struct {
	Weather           string `json:"weather,omitempty"`
	WeedPresence      string `json:"weedPresence,omitempty"`
	VectorObservation string `json:"vectorObservation,omitempty"`
}

// AppUsage holds interaction metadata collected automatically.
type AppUsage struct {
	Retries          int     `json:"retries,omitempty"`
	TimeSpentSeconds float64 `json:"timeSpentSeconds,omitempty"`
	ResultAccepted   bool    `json:"resultAccepted,omitempty"`
}

// DeviceInfo identifies the capturing device.
type DeviceInfo struct {
	Model     string `json:"model,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
}

// SubmissionPayload is one element of a batch submission to the remote scan
// repository. LocalID ties the server-side document back to the on-device
// record.
type SubmissionPayload struct {
	LocalID       string         `json:"localId"`
	Timestamp     time.Time      `json:"timestamp"`
	Location      *Location      `json:"location,omitempty"`
	ImageMetadata *ImageMetadata `json:"imageMetadata,omitempty"`
	GrowthStage   string         `json:"growthStage,omitempty"`
	PlantAge      string         `json:"plantAge,omitempty"`
	Diagnosis     *Diagnosis     `json:"diagnosis"`
	Environment   *Environment   `json:"environment,omitempty"`
	AppUsage      *AppUsage      `json:"appUsage,omitempty"`
	DeviceInfo    *DeviceInfo    `json:"deviceInfo,omitempty"`
	ImageURL      string         `json:"imageUrl,omitempty"`
}

// SyncError reports a single rejected element of a batch submission.
type SyncError struct {
	LocalID string `json:"localId"`
	Error   string `json:"error"`
}

// SyncResult is the remote repository's structured report for one batch.
// Elements are accepted or rejected independently; a rejected element never
// affects its siblings.
type SyncResult struct {
	Msg         string      `json:"msg,omitempty"`
	SyncedCount int         `json:"syncedCount"`
	SavedIDs    []string    `json:"savedIds"`
	Errors      []SyncError `json:"errors"`
}

// BuildPayload converts a local diagnosis record into its submission payload.
// The record must already carry its remote image URL if it has an image.
func BuildPayload(r *DiagnosisRecord) SubmissionPayload {
	p := SubmissionPayload{
		LocalID:   r.ID,
		Timestamp: r.CapturedAt,
		Location:  r.Location,
		Diagnosis: &Diagnosis{
			ModelPrediction: r.Label,
			Confidence:      r.Confidence,
			UserVerified:    r.UserVerified,
			FinalDiagnosis:  r.FinalLabel,
		},
		ImageURL: r.RemoteImageURL,
	}
	if r.VectorObservation != "" {
		p.Environment = &Environment{VectorObservation: r.VectorObservation}
	}
	return p
}
