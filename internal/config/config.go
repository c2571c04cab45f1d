package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/darbackup/internal/archiver"
	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
)

// Config is the top-level configuration
type Config struct {
	Paths    PathsConfig    `yaml:"paths"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Archiver ArchiverConfig `yaml:"archiver"`
	Server   ServerConfig   `yaml:"server"`
}

// PathsConfig locates backups and definitions
type PathsConfig struct {
	BackupDir      string `yaml:"backup_dir"`
	DefinitionsDir string `yaml:"definitions_dir"`
}

// CatalogConfig holds catalog settings
type CatalogConfig struct {
	Name string `yaml:"name"`
}

// ArchiverConfig selects and tunes the archiving engine
type ArchiverConfig struct {
	Engine             string `yaml:"engine"`
	Binary             string `yaml:"binary"`
	Extension          string `yaml:"extension"`
	ExcludeCacheTagged bool   `yaml:"exclude_cache_tagged"`
	LockTimeout        string `yaml:"lock_timeout"`
}

// ServerConfig holds status server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			BackupDir:      "/backups",
			DefinitionsDir: "/backup.d",
		},
		Catalog: CatalogConfig{
			Name: catalog.DefaultName,
		},
		Archiver: ArchiverConfig{
			Engine:             archiver.EngineDar,
			Binary:             "dar",
			Extension:          artifact.DefaultExtension,
			ExcludeCacheTagged: true,
			LockTimeout:        "0s",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks values that cannot be caught by YAML decoding
func (c *Config) Validate() error {
	switch c.Archiver.Engine {
	case archiver.EngineDar, archiver.EngineNative:
	default:
		return fmt.Errorf("archiver.engine must be %q or %q, got %q",
			archiver.EngineDar, archiver.EngineNative, c.Archiver.Engine)
	}
	if c.Archiver.Engine == archiver.EngineDar && c.Archiver.Extension != artifact.DefaultExtension {
		return fmt.Errorf("archiver.extension must be %q with the dar engine", artifact.DefaultExtension)
	}
	if c.Catalog.Name == "" || filepath.Base(c.Catalog.Name) != c.Catalog.Name {
		return fmt.Errorf("catalog.name must be a plain file name, got %q", c.Catalog.Name)
	}
	if _, err := c.LockTimeout(); err != nil {
		return err
	}
	return nil
}

// LockTimeout parses archiver.lock_timeout; zero means wait indefinitely.
func (c *Config) LockTimeout() (time.Duration, error) {
	if c.Archiver.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Archiver.LockTimeout)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("archiver.lock_timeout must be a non-negative duration, got %q", c.Archiver.LockTimeout)
	}
	return d, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"dar-backup.yaml",
		"/etc/dar-backup/dar-backup.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "dar-backup", "dar-backup.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// CatalogPath returns the catalog database inside the backup directory
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.BackupDir, c.Catalog.Name)
}
