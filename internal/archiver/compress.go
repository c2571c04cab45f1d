package archiver

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/BadgerOps/darbackup/internal/definition"
)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// newCompressor wraps w with the definition's compression. The caller closes
// the returned writer before closing w.
func newCompressor(w io.Writer, c definition.Compression) (io.WriteCloser, error) {
	if !c.Enabled() {
		return nopWriteCloser{w}, nil
	}
	switch c.Algo {
	case "zstd":
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.Level)))
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return enc, nil
	case "gzip":
		gz, err := gzip.NewWriterLevel(w, c.Level)
		if err != nil {
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
		return gz, nil
	case "xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	case "lzma":
		lw, err := lzma.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating lzma writer: %w", err)
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("%w: native engine cannot write %s compression", ErrEngineUnavailable, c.Algo)
	}
}

// newDecompressor is the reading side of newCompressor.
func newDecompressor(r io.Reader, c definition.Compression) (io.ReadCloser, error) {
	if !c.Enabled() {
		return io.NopCloser(r), nil
	}
	switch c.Algo {
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gz, nil
	case "xz":
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case "lzma":
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating lzma reader: %w", err)
		}
		return io.NopCloser(lr), nil
	default:
		return nil, fmt.Errorf("%w: native engine cannot read %s compression", ErrEngineUnavailable, c.Algo)
	}
}
