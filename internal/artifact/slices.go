package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

var (
	// ErrNoSlices means the engine finished without leaving any slice file.
	ErrNoSlices = errors.New("no archive slices produced")
	// ErrSliceGap means slice indices are not the contiguous run 1..n.
	ErrSliceGap = errors.New("archive slices are not contiguous")
	// ErrSliceCountMismatch means the engine reported a different slice count
	// than found on disk.
	ErrSliceCountMismatch = errors.New("slice count does not match engine report")
)

// Slice is one slice file on disk.
type Slice struct {
	Index int
	Path  string
	Size  int64
}

// Set is every slice of one archive base name in a directory.
type Set struct {
	Dir       string
	Base      string
	Ext       string
	Slices    []Slice
	TotalSize int64
}

// Enumerate lists the slices "<base>.<n>.<ext>" present in dir, ordered by index.
func Enumerate(dir, base, ext string) (*Set, error) {
	if ext == "" {
		ext = DefaultExtension
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + `\.([0-9]+)\.` + regexp.QuoteMeta(ext) + `$`)
	set := &Set{Dir: dir, Base: base, Ext: ext}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat slice %s: %w", e.Name(), err)
		}
		set.Slices = append(set.Slices, Slice{
			Index: idx,
			Path:  filepath.Join(dir, e.Name()),
			Size:  info.Size(),
		})
		set.TotalSize += info.Size()
	}

	sort.Slice(set.Slices, func(i, j int) bool {
		return set.Slices[i].Index < set.Slices[j].Index
	})
	return set, nil
}

// Count returns the number of slices found.
func (s *Set) Count() int { return len(s.Slices) }

// Validate rejects an empty set and any gap or duplicate in the 1..n indices.
func (s *Set) Validate() error {
	if len(s.Slices) == 0 {
		return fmt.Errorf("%w: %s.*.%s in %s", ErrNoSlices, s.Base, s.Ext, s.Dir)
	}
	for i, sl := range s.Slices {
		if sl.Index != i+1 {
			return fmt.Errorf("%w: expected slice %d, found %d", ErrSliceGap, i+1, sl.Index)
		}
	}
	return nil
}

// Expect checks the set against a slice count reported by the engine.
// A zero report means the engine does not report counts.
func (s *Set) Expect(reported int) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if reported > 0 && reported != len(s.Slices) {
		return fmt.Errorf("%w: engine reported %d, found %d", ErrSliceCountMismatch, reported, len(s.Slices))
	}
	return nil
}

// CatalogSlices converts the set into catalog slice rows.
func (s *Set) CatalogSlices() []catalog.Slice {
	out := make([]catalog.Slice, len(s.Slices))
	for i, sl := range s.Slices {
		out[i] = catalog.Slice{
			Index: sl.Index,
			Name:  filepath.Base(sl.Path),
			Size:  sl.Size,
		}
	}
	return out
}
