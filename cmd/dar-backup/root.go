package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BadgerOps/darbackup/internal/archiver"
	"github.com/BadgerOps/darbackup/internal/config"
	"github.com/BadgerOps/darbackup/internal/engine"
)

// Build variables - set by ldflags during build.
var version = "dev"

var (
	// Global flags
	cfgPath        string
	backupDir      string
	definitionsDir string
	logLevel       string
	logFormat      string
	globalCfg      *config.Config
	logger         = slog.Default()

	// Global components
	globalManager *engine.BackupManager
)

// envBindings maps persistent flags to the environment variables of the
// original shell tooling.
var envBindings = map[string]string{
	"config":          "DAR_BACKUP_CONFIG",
	"backup-dir":      "DAR_BACKUP_DIR",
	"definitions-dir": "DAR_BACKUP_D_DIR",
}

// initializeComponents builds the archiving engine and the backup manager.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	eng, err := archiver.New(archiver.Options{
		Engine: globalCfg.Archiver.Engine,
		Binary: globalCfg.Archiver.Binary,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize archiver: %w", err)
	}

	lockTimeout, err := globalCfg.LockTimeout()
	if err != nil {
		return err
	}

	globalManager = engine.NewBackupManager(eng, engine.Options{
		CatalogName:        globalCfg.Catalog.Name,
		Extension:          globalCfg.Archiver.Extension,
		ExcludeCacheTagged: globalCfg.Archiver.ExcludeCacheTagged,
		LockTimeout:        lockTimeout,
	}, logger)

	logger.Debug("components initialized", "engine", eng.Name())
	return nil
}

// closeManager closes every catalog the manager opened.
func closeManager() {
	if globalManager != nil {
		if err := globalManager.Close(); err != nil {
			logger.Error("failed to close catalogs", "error", err)
		}
		globalManager = nil
	}
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":        true,
		"version":     true,
		"config":      true,
		"show":        true,
		"definitions": true,
		"init":        true,
		"create-db":   true,
	}
	return skipInitCmds[cmdName]
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dar-backup",
		Short: "FULL, DIFF and INCR backup chains with a catalog",
		Long: `dar-backup takes full, differential and incremental backups of the
directories named in backup definitions. Every archive is recorded in a
SQLite catalog inside the backup directory, and the catalog alone decides
which backups a chain can accept next.`,
		Example: `  dar-backup run -t FULL
  dar-backup run -t DIFF -d home -d etc
  dar-backup manager create-db
  dar-backup manager list --definition home
  dar-backup status
  dar-backup serve --listen 127.0.0.1:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			v, err := newEnvViper(cmd.Root())
			if err != nil {
				return err
			}

			// Load config
			path := v.GetString("config")
			if path == "" {
				path, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if path != "" {
				globalCfg, err = config.Load(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Flags and environment override the file
			if dir := v.GetString("backup-dir"); dir != "" {
				globalCfg.Paths.BackupDir = dir
			}
			if dir := v.GetString("definitions-dir"); dir != "" {
				globalCfg.Paths.DefinitionsDir = dir
			}

			logger.Debug("config loaded",
				"path", path,
				"backup_dir", globalCfg.Paths.BackupDir,
				"definitions_dir", globalCfg.Paths.DefinitionsDir,
			)

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", engine.ErrInvalidRequest, err)
	})

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (env DAR_BACKUP_CONFIG, auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "directory holding archives and the catalog (env DAR_BACKUP_DIR)")
	cmd.PersistentFlags().StringVar(&definitionsDir, "definitions-dir", "", "directory holding backup definitions (env DAR_BACKUP_D_DIR)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	// Add subcommands
	cmd.AddCommand(
		newRunCmd(),
		newManagerCmd(),
		newDefinitionsCmd(),
		newStatusCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	return cmd
}

// newEnvViper layers the environment under the persistent flags of root.
// A flag set on the command line wins over its variable.
func newEnvViper(root *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
		if err := v.BindPFlag(key, root.PersistentFlags().Lookup(key)); err != nil {
			return nil, fmt.Errorf("binding --%s: %w", key, err)
		}
	}
	return v, nil
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
