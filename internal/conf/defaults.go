// defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for all configuration parameters.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main settings
	viper.SetDefault("main.name", "LeafScan-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/leafscan.log")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	// Model lifecycle settings
	viper.SetDefault("model.remoteurl", "http://localhost:5001/public/models/v1/model.tflite")
	viper.SetDefault("model.dir", "models")
	viper.SetDefault("model.bundledpath", "")
	viper.SetDefault("model.autoupdate", true)

	// Sync engine settings
	viper.SetDefault("sync.serverurl", "http://localhost:5001")
	viper.SetDefault("sync.token", "")
	viper.SetDefault("sync.maxattempts", 8)
	viper.SetDefault("sync.backoffbase", 30*time.Second)
	viper.SetDefault("sync.backoffmax", time.Hour)
	viper.SetDefault("sync.timeout", 45*time.Second)

	// Client settings
	viper.SetDefault("client.datadir", "data")

	// Server settings
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "5001")
	viper.SetDefault("server.publicdir", "public")
	viper.SetDefault("server.databasepath", "leafscan.db")
	viper.SetDefault("server.jwtsecret", "")
	viper.SetDefault("server.tokenttl", 30*24*time.Hour)
	viper.SetDefault("server.maxuploadmb", 5)
}
