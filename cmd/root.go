package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maizeguard/leafscan-go/cmd/serve"
	"github.com/maizeguard/leafscan-go/cmd/sync"
	"github.com/maizeguard/leafscan-go/cmd/token"
	"github.com/maizeguard/leafscan-go/internal/conf"
	"github.com/maizeguard/leafscan-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "leafscan",
		Short: "LeafScan CLI",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	subcommands := []*cobra.Command{
		serve.Command(settings),
		sync.Command(settings),
		token.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}

		// Sync the settings struct with viper's values so that command-line
		// arguments take precedence over the config file.
		settings.Debug = viper.GetBool("debug")
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		if datadir := viper.GetString("client.datadir"); datadir != "" {
			settings.Client.DataDir = datadir
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Client.DataDir, "datadir", viper.GetString("client.datadir"), "Path to the durable application data directory")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
