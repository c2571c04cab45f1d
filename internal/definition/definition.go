// Package definition loads named backup definitions: files of archiver option
// tokens kept in a definitions directory.
package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/BadgerOps/darbackup/internal/safety"
)

// DefaultName is the definition used when none is given.
const DefaultName = "default"

// DefaultContent is written by WriteDefault for a fresh installation.
const DefaultContent = `# Default backup definition.
# One archiver option per line; lines starting with # are ignored.
-am
-R /data
-z5
-n
--slice 7G
--cache-directory-tagging
`

var (
	// ErrNotFound means the definitions directory has no file with the name.
	ErrNotFound = errors.New("backup definition not found")
	// ErrInvalid means the definition name or file content is unusable.
	ErrInvalid = errors.New("invalid backup definition")
)

// Definition is an immutable set of archiver options loaded for one run.
type Definition struct {
	Name string
	Path string
	// Tokens are the option tokens in file order, ready to pass to dar.
	Tokens       []string
	Roots        []string
	Prunes       []string
	Excludes     []string
	Includes     []string
	Compression  Compression
	SliceSize    int64
	CacheTagging bool
}

// Args returns a copy of the option tokens.
func (d *Definition) Args() []string {
	return append([]string(nil), d.Tokens...)
}

// Store reads definitions from a directory.
type Store struct {
	dir string
}

// NewStore returns a store over dir. The directory is not touched until
// a definition is resolved.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the definitions directory.
func (s *Store) Dir() string { return s.dir }

// Resolve loads the named definition; an empty name means DefaultName.
func (s *Store) Resolve(name string) (*Definition, error) {
	if name == "" {
		name = DefaultName
	}
	clean, err := safety.CleanName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	path, err := safety.SafeJoinUnder(s.dir, clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, clean, s.dir)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalid, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	defer f.Close()

	def, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("definition %q: %w", clean, err)
	}
	def.Name = clean
	def.Path = path
	return def, nil
}

// List returns the names of all definitions, sorted. A missing directory
// yields an empty list.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read definitions directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, err := safety.CleanName(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteDefault creates the definitions directory and the default definition
// unless it already exists. It reports whether a file was written.
func (s *Store) WriteDefault() (string, bool, error) {
	path := filepath.Join(s.dir, DefaultName)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create definitions directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return path, false, nil
		}
		return "", false, fmt.Errorf("failed to create default definition: %w", err)
	}
	if _, err := f.WriteString(DefaultContent); err != nil {
		f.Close()
		return "", false, fmt.Errorf("failed to write default definition: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", false, fmt.Errorf("failed to write default definition: %w", err)
	}
	return path, true, nil
}
