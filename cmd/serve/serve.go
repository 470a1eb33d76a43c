// Package serve implements the 'serve' subcommand, which runs the remote
// scan repository HTTP server.
package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maizeguard/leafscan-go/internal/api"
	"github.com/maizeguard/leafscan-go/internal/api/auth"
	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/datastore"
	"github.com/maizeguard/leafscan-go/internal/logging"
	"github.com/maizeguard/leafscan-go/internal/observability"
)

// Command creates the serve command, which starts the HTTP server backing
// scan synchronization, image uploads and model distribution.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan repository server",
		Long:  "Start the HTTP server that accepts scan batches, stores uploaded images and serves model binaries.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func runServer(settings *conf.Settings) error {
	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer func() {
		if err := ds.Close(); err != nil {
			logging.Error("Failed to close datastore", "error", err)
		}
	}()

	authService, err := auth.NewService(settings.Server.JWTSecret, settings.Server.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	controller, err := api.New(settings, ds, authService, metrics)
	if err != nil {
		return fmt.Errorf("creating API controller: %w", err)
	}
	defer func() {
		if err := controller.Close(); err != nil {
			logging.Error("Failed to close API controller", "error", err)
		}
	}()

	logging.Info("Starting server",
		"host", settings.Server.Host,
		"port", settings.Server.Port,
		"database", settings.Server.DatabasePath)

	return controller.Start()
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Server.Host, "host", viper.GetString("server.host"), "Address to bind the HTTP server to")
	cmd.Flags().StringVar(&settings.Server.Port, "port", viper.GetString("server.port"), "Port to bind the HTTP server to")
	cmd.Flags().StringVar(&settings.Server.PublicDir, "publicdir", viper.GetString("server.publicdir"), "Directory served under /public (uploads, model binaries)")
	cmd.Flags().StringVar(&settings.Server.DatabasePath, "database", viper.GetString("server.databasepath"), "Path to the SQLite database file")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
