package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"backup dir", func(c *Config) string { return c.Paths.BackupDir }, "/backups"},
		{"definitions dir", func(c *Config) string { return c.Paths.DefinitionsDir }, "/backup.d"},
		{"catalog name", func(c *Config) string { return c.Catalog.Name }, "dar-backup.db"},
		{"engine", func(c *Config) string { return c.Archiver.Engine }, "dar"},
		{"binary", func(c *Config) string { return c.Archiver.Binary }, "dar"},
		{"extension", func(c *Config) string { return c.Archiver.Extension }, "dar"},
		{"listen address", func(c *Config) string { return c.Server.Listen }, "127.0.0.1:8080"},
		{"catalog path", func(c *Config) string { return c.CatalogPath() }, "/backups/dar-backup.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if !cfg.Archiver.ExcludeCacheTagged {
		t.Errorf("Archiver.ExcludeCacheTagged = false, want true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "dar-backup.yaml")

	configContent := `
paths:
  backup_dir: "/srv/backups"
  definitions_dir: "/srv/backup.d"
catalog:
  name: "manager.db"
archiver:
  engine: "native"
  extension: "tzst"
  exclude_cache_tagged: false
  lock_timeout: "90s"
server:
  listen: "0.0.0.0:9000"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Paths.BackupDir != "/srv/backups" {
		t.Errorf("Paths.BackupDir = %q, want %q", cfg.Paths.BackupDir, "/srv/backups")
	}
	if cfg.Paths.DefinitionsDir != "/srv/backup.d" {
		t.Errorf("Paths.DefinitionsDir = %q, want %q", cfg.Paths.DefinitionsDir, "/srv/backup.d")
	}
	if cfg.CatalogPath() != "/srv/backups/manager.db" {
		t.Errorf("CatalogPath() = %q", cfg.CatalogPath())
	}
	if cfg.Archiver.Engine != "native" || cfg.Archiver.Extension != "tzst" {
		t.Errorf("Archiver = %+v", cfg.Archiver)
	}
	if cfg.Archiver.ExcludeCacheTagged {
		t.Errorf("Archiver.ExcludeCacheTagged = true, want false")
	}
	// Unset keys keep their defaults
	if cfg.Archiver.Binary != "dar" {
		t.Errorf("Archiver.Binary = %q, want default %q", cfg.Archiver.Binary, "dar")
	}
	if d, err := cfg.LockTimeout(); err != nil || d != 90*time.Second {
		t.Errorf("LockTimeout() = %v, %v", d, err)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("Server.Listen = %q, want %q", cfg.Server.Listen, "0.0.0.0:9000")
	}
}

// TestLoadRejectsInvalidValues covers values YAML decoding accepts
func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"unknown engine", "archiver:\n  engine: tar\n", "archiver.engine"},
		{"dar with custom extension", "archiver:\n  extension: bak\n", "archiver.extension"},
		{"catalog path", "catalog:\n  name: ../escape.db\n", "catalog.name"},
		{"bad lock timeout", "archiver:\n  lock_timeout: soon\n", "lock_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := filepath.Join(t.TempDir(), "dar-backup.yaml")
			if err := os.WriteFile(configFile, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(configFile)
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

// TestLoadInvalidYAML tests that Load returns an error for invalid YAML
func TestLoadInvalidYAML(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "invalid.yaml")

	invalidContent := `
paths:
  backup_dir: "/backups"
  invalid: [unclosed bracket
`

	if err := os.WriteFile(configFile, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Load() succeeded, want error for invalid YAML")
	}
	if err.Error() == "" {
		t.Error("error message is empty")
	}
}

// TestLoadNonexistentFile tests that Load returns an error for missing files
func TestLoadNonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() succeeded, want error for nonexistent file")
	}
}

// chdirTemp moves into a fresh directory with an empty HOME for the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(originalWd); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
	t.Setenv("HOME", t.TempDir())
	return tempDir
}

// TestFindConfigFileNotFound tests that FindConfigFile returns error when no config exists
func TestFindConfigFileNotFound(t *testing.T) {
	chdirTemp(t)
	if _, err := os.Stat("/etc/dar-backup/dar-backup.yaml"); err == nil {
		t.Skip("system config present")
	}

	if _, err := FindConfigFile(); err == nil {
		t.Error("FindConfigFile() succeeded, want error when no config exists")
	}
}

// TestFindConfigFileFound tests that FindConfigFile returns the found config
func TestFindConfigFileFound(t *testing.T) {
	chdirTemp(t)

	if err := os.WriteFile("dar-backup.yaml", []byte("paths:\n  backup_dir: /b\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if path != "dar-backup.yaml" {
		t.Errorf("FindConfigFile() = %q, want %q", path, "dar-backup.yaml")
	}
}

// TestFindConfigFileInHome tests the per-user location
func TestFindConfigFileInHome(t *testing.T) {
	chdirTemp(t)
	home := os.Getenv("HOME")
	dir := filepath.Join(home, ".config", "dar-backup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "dar-backup.yaml")
	if err := os.WriteFile(want, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat("/etc/dar-backup/dar-backup.yaml"); err == nil {
		t.Skip("system config takes precedence")
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() failed: %v", err)
	}
	if path != want {
		t.Errorf("FindConfigFile() = %q, want %q", path, want)
	}
}
