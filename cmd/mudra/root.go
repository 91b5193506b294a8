package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/config"
	"github.com/ayusman/mudra/internal/publish"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/signs"
	"github.com/ayusman/mudra/internal/store"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg is loaded once before any subcommand runs
	cfg *config.Config

	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:           "mudra",
	Short:         "Sign language recognition relay",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(configPath)
		return err
	},
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, ".env files to load (default: .env)")
}

// openStore opens the history database, creating its directory.
func openStore() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// loadSettings builds the runtime settings from the config, overlaid with
// whatever was last saved through the settings API.
func loadSettings(st *store.Store) *session.Settings {
	settings := session.NewSettings(session.Snapshot{
		Mode:      cfg.Submit.Mode,
		Endpoint:  cfg.Submit.Endpoint,
		BatchSize: cfg.Batch.Size,
	})
	if st != nil {
		if err := settings.Load(st); err != nil {
			log.Printf("Failed to load saved settings: %v", err)
		}
	}
	return settings
}

// loadCatalog returns nil when no catalog is configured.
func loadCatalog() (*signs.Catalog, error) {
	if cfg.Signs.Path == "" {
		return nil, nil
	}
	catalog, err := signs.Load(cfg.Signs.Path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d signs from %s", catalog.Len(), cfg.Signs.Path)
	return catalog, nil
}

// openPublisher connects to the configured MQTT broker. It returns a nil
// Publisher when publishing is disabled.
func openPublisher() (session.Publisher, func(), error) {
	if !cfg.MQTT.Enabled() {
		return nil, func() {}, nil
	}
	pub := publish.NewMQTTPublisher(cfg.MQTT)
	if err := pub.Connect(); err != nil {
		return nil, nil, err
	}
	log.Printf("Publishing predictions to %s", cfg.MQTT.Broker)
	return pub, func() { pub.Close() }, nil
}
