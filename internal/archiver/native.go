package archiver

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/definition"
)

// CacheDirTag is the file marking a cache directory, and CacheDirSignature
// the header it must start with (https://bford.info/cachedir/).
const (
	CacheDirTag       = "CACHEDIR.TAG"
	CacheDirSignature = "Signature: 8a477f597d28d172789f06886806bc55"
)

// Native writes tar archives compressed and sliced in-process. It is used on
// hosts without dar; it honours -R, -P, -X, -I, -z, --slice and cache
// directory tagging from the definition.
type Native struct {
	logger *slog.Logger
}

// NewNative returns the in-process engine.
func NewNative(logger *slog.Logger) *Native {
	if logger == nil {
		logger = slog.Default()
	}
	return &Native{logger: logger}
}

// Name implements Engine.
func (n *Native) Name() string { return EngineNative }

// Run implements Engine. DIFF and INCR archives hold every directory but only
// the files modified after the antecedent was recorded.
func (n *Native) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	def := req.Definition

	start := time.Now()
	sw := newSliceWriter(req.Dir, req.Base, req.ext(), def.SliceSize)
	comp, err := newCompressor(sw, def.Compression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(comp)

	w := &walker{
		tw:        tw,
		def:       def,
		cacheTags: req.ExcludeCacheTagged || def.CacheTagging,
	}
	if abs, err := filepath.Abs(req.Dir); err == nil {
		w.skip = abs
	}
	if req.Antecedent != nil {
		w.since = req.Antecedent.CreatedAt
	}

	for _, root := range def.Roots {
		if err := w.walk(ctx, root); err != nil {
			_ = tw.Close()
			_ = comp.Close()
			n.discard(sw, req.Base)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("native archive interrupted: %w", err)
			}
			return nil, &ExitError{Engine: EngineNative, Code: 1, Output: err.Error()}
		}
	}

	if err := tw.Close(); err != nil {
		_ = comp.Close()
		n.discard(sw, req.Base)
		return nil, fmt.Errorf("closing tar stream: %w", err)
	}
	if err := comp.Close(); err != nil {
		n.discard(sw, req.Base)
		return nil, fmt.Errorf("closing compressor: %w", err)
	}
	if err := sw.Close(); err != nil {
		n.discard(sw, req.Base)
		return nil, err
	}

	duration := time.Since(start)
	n.logger.Info("native archive completed",
		"definition", def.Name,
		"type", req.Type,
		"files", w.files,
		"bytes", humanize.IBytes(uint64(w.bytes)),
		"slices", sw.Slices(),
		"skipped_cache_dirs", w.cacheDirs,
		"duration", duration,
	)
	return &Result{
		Engine:   EngineNative,
		Slices:   sw.Slices(),
		Output:   fmt.Sprintf("%d files, %d bytes", w.files, w.bytes),
		Duration: duration,
	}, nil
}

// discard removes the slices of a failed run so the same archive name can be
// written again.
func (n *Native) discard(sw *sliceWriter, base string) {
	if err := sw.discard(); err != nil {
		n.logger.Warn("failed to remove partial archive", "archive", base, "error", err)
		return
	}
	n.logger.Debug("removed partial archive", "archive", base)
}

type walker struct {
	tw        *tar.Writer
	def       *definition.Definition
	cacheTags bool
	since     time.Time
	skip      string // backup directory, never archived into itself

	files     int
	bytes     int64
	cacheDirs int
}

func (w *walker) walk(ctx context.Context, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel != "." && w.pruned(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := archiveName(root, rel)
		switch {
		case d.IsDir() && w.skipped(path):
			return filepath.SkipDir
		case d.IsDir():
			if err := w.addEntry(path, name+"/"); err != nil {
				return err
			}
			if w.cacheTags && rel != "." && isCacheDir(path) {
				w.cacheDirs++
				if err := w.addEntry(filepath.Join(path, CacheDirTag), name+"/"+CacheDirTag); err != nil {
					return err
				}
				return filepath.SkipDir
			}
			return nil
		case d.Type().IsRegular(), d.Type()&fs.ModeSymlink != 0:
			if !w.selected(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if !w.since.IsZero() && !info.ModTime().After(w.since) {
				return nil
			}
			return w.addEntry(path, name)
		default:
			// sockets, devices and pipes are not archived
			return nil
		}
	})
}

func (w *walker) pruned(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range w.def.Prunes {
		p = strings.Trim(filepath.ToSlash(filepath.Clean(p)), "/")
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

func (w *walker) skipped(path string) bool {
	if w.skip == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	return err == nil && abs == w.skip
}

// selected applies -X exclude and -I include filename masks.
func (w *walker) selected(name string) bool {
	for _, mask := range w.def.Excludes {
		if ok, _ := filepath.Match(mask, name); ok {
			return false
		}
	}
	if len(w.def.Includes) == 0 {
		return true
	}
	for _, mask := range w.def.Includes {
		if ok, _ := filepath.Match(mask, name); ok {
			return true
		}
	}
	return false
}

func (w *walker) addEntry(path, name string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}
	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", path, err)
	}
	header.Name = name
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("writing header for %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	n, err := io.Copy(w.tw, f)
	if err != nil {
		return fmt.Errorf("archiving %s: %w", path, err)
	}
	w.files++
	w.bytes += n
	return nil
}

// archiveName maps a walked path to its name inside the archive: the absolute
// source path without the leading separator.
func archiveName(root, rel string) string {
	abs, err := filepath.Abs(filepath.Join(root, rel))
	if err != nil {
		abs = filepath.Join(root, rel)
	}
	return strings.TrimPrefix(filepath.ToSlash(abs), "/")
}

// isCacheDir reports whether dir holds a CACHEDIR.TAG with a valid signature.
func isCacheDir(dir string) bool {
	f, err := os.Open(filepath.Join(dir, CacheDirTag))
	if err != nil {
		return false
	}
	defer func() {
		_ = f.Close()
	}()
	buf := make([]byte, len(CacheDirSignature))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, []byte(CacheDirSignature))
}

// Entry is one member of a native archive.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	Dir     bool
}

// List reads back the members of the native archive base in dir.
func (n *Native) List(ctx context.Context, dir, base, ext string, c definition.Compression) ([]Entry, error) {
	set, err := artifact.Enumerate(dir, base, ext)
	if err != nil {
		return nil, err
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, 0, len(set.Slices))
	for _, s := range set.Slices {
		f, err := os.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("opening slice: %w", err)
		}
		defer f.Close()
		readers = append(readers, f)
	}

	dec, err := newDecompressor(io.MultiReader(readers...), c)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var entries []Entry
	tr := tar.NewReader(dec)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive %s: %w", base, err)
		}
		entries = append(entries, Entry{
			Name:    h.Name,
			Size:    h.Size,
			ModTime: h.ModTime,
			Dir:     h.Typeflag == tar.TypeDir,
		})
	}
	return entries, nil
}
