// config.go: This file contains the configuration for the LeafScan application. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogConfig contains settings for a rotating log file.
type LogConfig struct {
	Enabled    bool   // true to enable file logging
	Path       string // path to the main log file; per-service logs are written alongside it
	MaxSize    int    // maximum log file size in megabytes before rotation
	MaxBackups int    // maximum number of rotated log files to keep
	MaxAge     int    // maximum age of rotated log files in days
}

// MainSettings contains main application settings.
type MainSettings struct {
	Name string    // name of this node, used in logs and submissions
	Log  LogConfig // main log file settings
}

// ModelSettings contains settings for the local inference model lifecycle.
type ModelSettings struct {
	RemoteURL   string // well-known URL of the current model binary
	Dir         string // local directory for downloaded model files
	BundledPath string // path to the bundled model asset shipped with the app
	AutoUpdate  bool   // true to check for a newer model in the background after startup
}

// SyncSettings contains settings for the scan synchronization engine.
type SyncSettings struct {
	ServerURL   string        // base URL of the remote scan repository
	Token       string        // per-user credential for the remote repository
	MaxAttempts int           // maximum sync attempts per record before it is parked
	BackoffBase time.Duration // initial retry backoff for a failed record
	BackoffMax  time.Duration // upper bound for retry backoff
	Timeout     time.Duration // HTTP timeout for sync requests
}

// ClientSettings contains settings for the on-device side of the application.
type ClientSettings struct {
	DataDir string // durable application data directory (history snapshot, images)
}

// ServerSettings contains settings for the remote sync endpoint server.
type ServerSettings struct {
	Host         string        // address to bind the HTTP server to
	Port         string        // port to bind the HTTP server to
	PublicDir    string        // static-servable directory for uploads and model binaries
	DatabasePath string        // path to the SQLite database file
	JWTSecret    string        // HMAC secret for sync endpoint tokens
	TokenTTL     time.Duration // lifetime of issued tokens
	MaxUploadMB  int64         // maximum accepted image upload size in megabytes
}

// Settings contains all application settings.
type Settings struct {
	Debug bool // true to enable debug logging

	Main   MainSettings
	Model  ModelSettings
	Sync   SyncSettings
	Client ClientSettings
	Server ServerSettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("LEAFSCAN")
	viper.AutomaticEnv()

	// Set default values for each configuration parameter, defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file, defaults and environment are enough
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// ValidateSettings checks settings for values that cannot work at runtime.
func ValidateSettings(settings *Settings) error {
	if settings.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.maxattempts must be at least 1, got %d", settings.Sync.MaxAttempts)
	}
	if settings.Sync.BackoffBase <= 0 {
		return fmt.Errorf("sync.backoffbase must be positive, got %v", settings.Sync.BackoffBase)
	}
	if settings.Sync.BackoffMax < settings.Sync.BackoffBase {
		return fmt.Errorf("sync.backoffmax (%v) must not be smaller than sync.backoffbase (%v)",
			settings.Sync.BackoffMax, settings.Sync.BackoffBase)
	}
	if settings.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.maxuploadmb must be positive, got %d", settings.Server.MaxUploadMB)
	}
	return nil
}

// Setting returns the current settings instance, loading them if needed.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	if _, err := Load(); err != nil {
		return nil
	}
	return settingsInstance
}

// GetDefaultConfigPaths returns the list of directories searched for the config file.
func GetDefaultConfigPaths() ([]string, error) {
	var paths []string

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "leafscan"))
	}

	// Current working directory is always searched last
	paths = append(paths, ".")

	if len(paths) == 0 {
		return nil, fmt.Errorf("no usable config paths found")
	}
	return paths, nil
}
