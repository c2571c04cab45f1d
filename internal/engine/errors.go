package engine

import (
	"errors"
	"fmt"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

// Kind classifies why a run failed.
type Kind string

const (
	KindForbidden          Kind = "Forbidden"
	KindDefinitionNotFound Kind = "DefinitionNotFound"
	KindDefinitionInvalid  Kind = "DefinitionInvalid"
	KindChainBroken        Kind = "ChainBroken"
	KindCatalogUnavailable Kind = "CatalogUnavailable"
	KindArchiveFailed      Kind = "ArchiveFailed"
	KindCatalogWriteFailed Kind = "CatalogWriteFailed"
)

// Exit codes of the dar-backup command. Every failure kind has its own.
const (
	ExitOK                 = 0
	ExitError              = 1
	ExitUsage              = 2
	ExitForbidden          = 3
	ExitDefinitionNotFound = 4
	ExitDefinitionInvalid  = 5
	ExitChainBroken        = 6
	ExitArchiveFailed      = 7
	ExitCatalogWriteFailed = 8
	ExitCatalogUnavailable = 9
)

var exitCodes = map[Kind]int{
	KindForbidden:          ExitForbidden,
	KindDefinitionNotFound: ExitDefinitionNotFound,
	KindDefinitionInvalid:  ExitDefinitionInvalid,
	KindChainBroken:        ExitChainBroken,
	KindArchiveFailed:      ExitArchiveFailed,
	KindCatalogWriteFailed: ExitCatalogWriteFailed,
	KindCatalogUnavailable: ExitCatalogUnavailable,
}

// ErrInvalidRequest marks a request rejected before the state machine ran.
var ErrInvalidRequest = errors.New("invalid backup request")

// ErrArtifactExists means slices for the target archive name are already on
// disk; they are never overwritten.
var ErrArtifactExists = errors.New("archive slices already exist")

// ErrNoCatalog means a backup directory has no catalog database yet.
var ErrNoCatalog = errors.New("no catalog in backup directory")

// RunError is the single failure result of a run.
type RunError struct {
	Kind       Kind
	State      State // state the run was in when it failed
	Definition string
	Type       catalog.BackupType
	// Base is set once the archive name is known; for CatalogWriteFailed it
	// names the slices left on disk without a catalog record.
	Base string
	Err  error
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s backup of %q failed (%s)", e.Type, e.Definition, e.Kind)
	if e.Base != "" {
		msg += " [" + e.Base + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf returns the failure kind carried by err.
func KindOf(err error) (Kind, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// ExitCode maps a run result to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if kind, ok := KindOf(err); ok {
		return exitCodes[kind]
	}
	if errors.Is(err, ErrInvalidRequest) {
		return ExitUsage
	}
	return ExitError
}
