package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/darbackup/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only status API",
		Long: `Start an HTTP server exposing the catalog, backup definitions, chain status
and audit results as JSON. The server never starts or modifies backups.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8080). Use --listen to override.`,
		Example: `  dar-backup serve
  dar-backup serve --listen 0.0.0.0:9000`,
		Args: cobra.NoArgs,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalManager == nil {
		return fmt.Errorf("backup manager not initialized")
	}

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	log.Info("server starting", "listen", listen, "version", version, "backup_dir", globalCfg.Paths.BackupDir)

	srv := server.NewServer(globalManager, globalCfg, logger)

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	// The command context is cancelled on SIGINT/SIGTERM.
	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-commandContext(cmd).Done():
		log.Info("received shutdown signal")
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}
