package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/signs"
	"github.com/ayusman/mudra/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the web page and accept landmark streams over WebSocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		catalog, err := loadCatalog()
		if err != nil {
			return err
		}

		pub, closePub, err := openPublisher()
		if err != nil {
			return err
		}
		defer closePub()

		return runServer(cmd.Context(), st, loadSettings(st), catalog, pub)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(ctx context.Context, st *store.Store, settings *session.Settings, catalog *signs.Catalog, pub session.Publisher) error {
	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir()
	}
	if staticDir != "" {
		log.Printf("Serving static files from: %s", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir:  staticDir,
		Store:      st,
		Settings:   settings,
		Catalog:    catalog,
		Publisher:  pub,
		Timeout:    cfg.Submit.Timeout(),
		Policy:     cfg.Batch.BusyPolicy,
		QueueLimit: cfg.Batch.QueueLimit,
	})

	log.Printf("Starting server on %s", cfg.Server.Addr)
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// findWebDir searches for the web directory in common locations.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	candidates := []string{"web", "../web", "../../web"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".mudra", "web"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
