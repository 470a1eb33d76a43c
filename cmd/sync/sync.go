// Package sync implements the 'sync' subcommand, which runs one explicit
// synchronization pass of the local scan history against the remote
// repository.
package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/history"
	"github.com/maizeguard/leafscan-go/internal/imagestore"
	"github.com/maizeguard/leafscan-go/internal/kvstore"
	"github.com/maizeguard/leafscan-go/internal/modelmgr"
	"github.com/maizeguard/leafscan-go/internal/syncclient"
	"github.com/maizeguard/leafscan-go/internal/syncengine"
)

// Command creates the sync command, which uploads pending scan images and
// submits unsynced records as one batch.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize local scan history with the server",
		Long:  "Upload pending scan images, submit unsynced records as one batch and report the outcome.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func runSync(ctx context.Context, settings *conf.Settings) error {
	if settings.Main.Log.Enabled {
		closeLogger := syncengine.InitFileLogging()
		defer func() {
			if err := closeLogger(); err != nil {
				fmt.Printf("Warning: closing sync log failed: %v\n", err)
			}
		}()
	}

	store, err := openHistory(settings)
	if err != nil {
		return err
	}

	// Resolve the model binary before syncing so a fresh install primes its
	// local model directory on the same online session.
	manager := modelmgr.New(modelConfig(settings), nil)
	if err := manager.Initialize(ctx); err != nil {
		fmt.Printf("Warning: model initialization failed: %v\n", err)
	}
	defer manager.Wait()

	client := syncclient.New(&settings.Sync)
	engine := syncengine.New(store, client, syncengine.Config{
		MaxAttempts: settings.Sync.MaxAttempts,
		BackoffBase: settings.Sync.BackoffBase,
		BackoffMax:  settings.Sync.BackoffMax,
	}, nil)

	report, err := engine.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	printReport(report)
	return nil
}

// openHistory loads the durable scan history from the configured data
// directory.
func openHistory(settings *conf.Settings) (*history.Store, error) {
	dataDir := settings.Client.DataDir
	kv, err := kvstore.NewFileStore(filepath.Join(dataDir, "kv"))
	if err != nil {
		return nil, fmt.Errorf("opening key-value store: %w", err)
	}

	materializer, err := imagestore.New(filepath.Join(dataDir, "images"))
	if err != nil {
		return nil, fmt.Errorf("opening image store: %w", err)
	}

	store := history.New(kv, materializer)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("loading scan history: %w", err)
	}
	return store, nil
}

// modelConfig builds the model manager configuration, reading the bundled
// asset from disk when one is configured.
func modelConfig(settings *conf.Settings) modelmgr.Config {
	var bundled []byte
	if settings.Model.BundledPath != "" {
		data, err := os.ReadFile(settings.Model.BundledPath)
		if err == nil {
			bundled = data
		}
	}
	return modelmgr.Config{
		RemoteURL:    settings.Model.RemoteURL,
		Dir:          settings.Model.Dir,
		BundledAsset: bundled,
		AutoUpdate:   settings.Model.AutoUpdate,
	}
}

func printReport(report *syncengine.Report) {
	if report.Candidates == 0 {
		fmt.Println("Nothing to sync, all scans are up to date")
		return
	}

	fmt.Printf("Synced %d of %d scans", report.Accepted, report.Candidates)
	if report.Skipped > 0 {
		fmt.Printf(", %d skipped", report.Skipped)
	}
	fmt.Println()

	for _, syncErr := range report.Errors {
		fmt.Printf("  %s: %s\n", syncErr.LocalID, syncErr.Error)
	}
}

// setupFlags configures flags specific to the sync command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Sync.ServerURL, "server", viper.GetString("sync.serverurl"), "Base URL of the remote scan repository")
	cmd.Flags().StringVar(&settings.Sync.Token, "token", viper.GetString("sync.token"), "Authentication token for the remote repository")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
