// interfaces.go: this code defines the interface for the scan document database operations
package datastore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maizeguard/leafscan-go/internal/scan"
)

// Interface abstracts the underlying database implementation and defines the
// operations of the remote scan repository.
type Interface interface {
	Open() error
	Close() error
	SaveScan(doc *ScanDocument) error
	GetScansByOwner(ownerID string) ([]ScanDocument, error)
	GetScanByLocalID(ownerID, localID string) (*ScanDocument, error)
	CountScans(ownerID string) (int64, error)
}

// ScanDocument is one accepted scan submission as persisted server-side.
// (ownerID, localID) is unique: repeated submission of the same local record
// updates the document instead of creating a second copy.
type ScanDocument struct {
	ID      uint   `gorm:"primarykey" json:"-"`
	OwnerID string `gorm:"uniqueIndex:idx_owner_local;not null" json:"ownerId"`
	LocalID string `gorm:"uniqueIndex:idx_owner_local;not null" json:"localId"`

	Timestamp     time.Time          `json:"timestamp"`
	Location      *scan.Location     `gorm:"embedded;embeddedPrefix:loc_" json:"location,omitempty"`
	ImageMetadata scan.ImageMetadata `gorm:"embedded;embeddedPrefix:img_" json:"imageMetadata"`
	GrowthStage   string             `json:"growthStage,omitempty"`
	PlantAge      string             `json:"plantAge,omitempty"`
	Diagnosis     scan.Diagnosis     `gorm:"embedded;embeddedPrefix:diag_" json:"diagnosis"`
	Environment   scan.Environment   `gorm:"embedded;embeddedPrefix:env_" json:"environment"`
	AppUsage      scan.AppUsage      `gorm:"embedded;embeddedPrefix:app_" json:"appUsage"`
	DeviceInfo    scan.DeviceInfo    `gorm:"embedded;embeddedPrefix:dev_" json:"deviceInfo"`

	ReceivedAt time.Time `json:"receivedAt"` // server-assigned
	ImageURL   string    `json:"imageUrl,omitempty"`
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// SaveScan upserts a scan document keyed on (ownerID, localID).
func (ds *DataStore) SaveScan(doc *ScanDocument) error {
	if ds.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	if doc.OwnerID == "" {
		return fmt.Errorf("scan document requires an owner id")
	}
	if doc.LocalID == "" {
		return fmt.Errorf("scan document requires a local id")
	}

	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "local_id"}},
		UpdateAll: true,
	}).Create(doc).Error
	if err != nil {
		return fmt.Errorf("saving scan document: %w", err)
	}
	return nil
}

// GetScansByOwner returns every document owned by the caller, newest first.
func (ds *DataStore) GetScansByOwner(ownerID string) ([]ScanDocument, error) {
	var docs []ScanDocument
	err := ds.DB.Where("owner_id = ?", ownerID).
		Order("timestamp DESC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("error getting scans for owner: %w", err)
	}
	return docs, nil
}

// GetScanByLocalID returns the document for one local record id, or
// gorm.ErrRecordNotFound.
func (ds *DataStore) GetScanByLocalID(ownerID, localID string) (*ScanDocument, error) {
	var doc ScanDocument
	err := ds.DB.Where("owner_id = ? AND local_id = ?", ownerID, localID).
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CountScans returns the number of documents owned by the caller.
func (ds *DataStore) CountScans(ownerID string) (int64, error) {
	var count int64
	err := ds.DB.Model(&ScanDocument{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return count, err
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&ScanDocument{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		getLogger().Debug("Database connection initialized", "type", dbType, "path", connectionInfo)
	}

	return nil
}
