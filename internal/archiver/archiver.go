// Package archiver runs the archiving engine that turns a definition into
// slice files. The orchestrator only relies on the exit status and on the
// slice files left in the backup directory.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/darbackup/internal/artifact"
	"github.com/BadgerOps/darbackup/internal/catalog"
	"github.com/BadgerOps/darbackup/internal/definition"
)

// Engine names accepted by New.
const (
	EngineDar    = "dar"
	EngineNative = "native"
)

// ErrEngineUnavailable means the engine cannot run on this host.
var ErrEngineUnavailable = errors.New("archiving engine unavailable")

// Antecedent identifies the archive a DIFF or INCR is computed against.
type Antecedent struct {
	Ref       string
	Type      catalog.BackupType
	Base      string
	Template  string
	CreatedAt time.Time
}

// Request is everything the engine needs for one archive.
type Request struct {
	Definition *definition.Definition
	Type       catalog.BackupType
	// Antecedent is nil for FULL.
	Antecedent *Antecedent
	// Dir is the backup directory and Base the archive base name; slices are
	// written as Dir/Base.<n>.Extension.
	Dir                string
	Base               string
	Extension          string
	ExcludeCacheTagged bool
}

// Template is the output path template handed to the engine.
func (r *Request) Template() string {
	return artifact.Template(r.Dir, r.Base)
}

func (r *Request) ext() string {
	if r.Extension == "" {
		return artifact.DefaultExtension
	}
	return r.Extension
}

func (r *Request) validate() error {
	if r.Definition == nil {
		return errors.New("request has no definition")
	}
	if r.Dir == "" || r.Base == "" {
		return errors.New("request has no output template")
	}
	if r.Type != catalog.TypeFull && r.Antecedent == nil {
		return fmt.Errorf("%s request has no antecedent", r.Type)
	}
	return nil
}

// Result is what an engine reports after a zero exit.
type Result struct {
	Engine string
	// Slices is the slice count the engine claims to have written, or 0 when
	// the engine does not report one.
	Slices   int
	Output   string
	Duration time.Duration
}

// Engine produces the slices of one archive.
type Engine interface {
	Name() string
	Run(ctx context.Context, req Request) (*Result, error)
}

// ExitError reports a non-zero engine exit.
type ExitError struct {
	Engine string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with status %d", e.Engine, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Engine, e.Code, e.Output)
}

// Options configures New.
type Options struct {
	Engine string
	// Binary is the dar executable; empty means "dar" on PATH.
	Binary string
}

// New returns the engine named in opts.
func New(opts Options, logger *slog.Logger) (Engine, error) {
	switch opts.Engine {
	case "", EngineDar:
		return NewDar(opts.Binary, logger), nil
	case EngineNative:
		return NewNative(logger), nil
	default:
		return nil, fmt.Errorf("unknown archiver engine %q (want %s or %s)", opts.Engine, EngineDar, EngineNative)
	}
}
