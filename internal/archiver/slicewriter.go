package archiver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BadgerOps/darbackup/internal/artifact"
)

// sliceWriter spreads a byte stream over <base>.<n>.<ext> files of at most
// limit bytes each. A zero limit writes a single slice.
type sliceWriter struct {
	dir   string
	base  string
	ext   string
	limit int64

	file    *os.File
	written int64
	count   int
	created []string
}

func newSliceWriter(dir, base, ext string, limit int64) *sliceWriter {
	return &sliceWriter{dir: dir, base: base, ext: ext, limit: limit}
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if w.file == nil || (w.limit > 0 && w.written >= w.limit) {
			if err := w.next(); err != nil {
				return total, err
			}
		}

		chunk := p
		if w.limit > 0 {
			if room := w.limit - w.written; int64(len(chunk)) > room {
				chunk = chunk[:room]
			}
		}
		n, err := w.file.Write(chunk)
		total += n
		w.written += int64(n)
		if err != nil {
			return total, fmt.Errorf("writing slice %d: %w", w.count, err)
		}
		p = p[n:]
	}
	return total, nil
}

// next closes the current slice and opens the following one. Existing slice
// files are never overwritten.
func (w *sliceWriter) next() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	w.count++
	path := filepath.Join(w.dir, artifact.SliceName(w.base, w.count, w.ext))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("creating slice: %w", err)
	}
	w.file = f
	w.written = 0
	w.created = append(w.created, path)
	return nil
}

func (w *sliceWriter) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("closing slice %d: %w", w.count, err)
	}
	return nil
}

// Close finishes the last slice. A stream that never wrote a byte still
// produces one empty slice so the archive exists on disk.
func (w *sliceWriter) Close() error {
	if w.count == 0 {
		if err := w.next(); err != nil {
			return err
		}
	}
	return w.closeCurrent()
}

// discard closes the open slice and removes every slice this writer created.
// Slices opened with O_EXCL did not exist before, so nothing else is lost.
func (w *sliceWriter) discard() error {
	errs := []error{w.closeCurrent()}
	for _, path := range w.created {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("removing slice: %w", err))
		}
	}
	w.created = nil
	return errors.Join(errs...)
}

// Slices returns the number of slices opened so far.
func (w *sliceWriter) Slices() int { return w.count }
