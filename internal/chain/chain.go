// Package chain decides whether a backup of a given type can be taken for a
// definition, using the catalog as the only source of truth.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

// ErrChainBroken matches every *BrokenError.
var ErrChainBroken = errors.New("backup chain broken")

// Missing antecedent descriptions carried by BrokenError.
const (
	MissingFull       = "FULL"
	MissingFullOrDiff = "FULL-or-DIFF"
)

// BrokenError reports the antecedent type a requested backup lacks.
type BrokenError struct {
	Definition string
	Requested  catalog.BackupType
	Missing    string
}

func (e *BrokenError) Error() string {
	return fmt.Sprintf("%s backup of %q requires a prior %s backup in the catalog",
		e.Requested, e.Definition, e.Missing)
}

// Is makes errors.Is(err, ErrChainBroken) hold.
func (e *BrokenError) Is(target error) bool {
	return target == ErrChainBroken
}

// Querier is the subset of the catalog the resolver reads.
type Querier interface {
	LatestFull(ctx context.Context, definition string) (*catalog.Record, error)
	LatestFullOrDiff(ctx context.Context, definition string) (*catalog.Record, error)
}

// Context is a validated position in a definition's chain.
type Context struct {
	Definition string
	Type       catalog.BackupType
	// Antecedent is nil for FULL.
	Antecedent *catalog.Record
}

// IsRoot reports whether the backup starts a new chain.
func (c *Context) IsRoot() bool {
	return c.Antecedent == nil
}

// AntecedentRef returns the catalog reference of the antecedent, or "".
func (c *Context) AntecedentRef() string {
	if c.Antecedent == nil {
		return ""
	}
	return c.Antecedent.Ref
}

// Resolve returns the chain context for a backup of type t of definition.
// FULL always succeeds. DIFF needs a FULL and anchors on the latest one. INCR
// needs a FULL or DIFF and anchors on the latest of either.
func Resolve(ctx context.Context, q Querier, definition string, t catalog.BackupType) (*Context, error) {
	cc := &Context{Definition: definition, Type: t}

	var (
		rec     *catalog.Record
		err     error
		missing string
	)
	switch t {
	case catalog.TypeFull:
		return cc, nil
	case catalog.TypeDiff:
		rec, err = q.LatestFull(ctx, definition)
		missing = MissingFull
	case catalog.TypeIncr:
		rec, err = q.LatestFullOrDiff(ctx, definition)
		missing = MissingFullOrDiff
	default:
		return nil, fmt.Errorf("unknown backup type %q", t)
	}

	if err != nil {
		if errors.Is(err, catalog.ErrNoRecord) {
			return nil, &BrokenError{Definition: definition, Requested: t, Missing: missing}
		}
		return nil, fmt.Errorf("querying catalog for %s antecedent: %w", missing, err)
	}

	cc.Antecedent = rec
	return cc, nil
}

// Violation is one record that breaks the chain invariant.
type Violation struct {
	Record catalog.Record
	Reason string
}

// Validate checks records of a single definition, in catalog order, against
// the chain invariant: every DIFF/INCR is anchored on the latest qualifying
// record before it, and timestamps never decrease.
func Validate(records []catalog.Record) []Violation {
	var (
		violations []Violation
		lastFull   *catalog.Record
		lastAnchor *catalog.Record
		prev       *catalog.Record
	)

	for i := range records {
		rec := &records[i]

		if prev != nil && rec.CreatedAt.Before(prev.CreatedAt) {
			violations = append(violations, Violation{
				Record: *rec,
				Reason: fmt.Sprintf("timestamp %s precedes previous record %s", rec.CreatedAt, prev.CreatedAt),
			})
		}

		var expected *catalog.Record
		switch rec.Type {
		case catalog.TypeDiff:
			expected = lastFull
		case catalog.TypeIncr:
			expected = lastAnchor
		}

		switch {
		case rec.Type == catalog.TypeFull && rec.AntecedentRef != "":
			violations = append(violations, Violation{Record: *rec, Reason: "FULL record has an antecedent"})
		case rec.Type != catalog.TypeFull && expected == nil:
			violations = append(violations, Violation{
				Record: *rec,
				Reason: fmt.Sprintf("%s record has no qualifying antecedent", rec.Type),
			})
		case rec.Type != catalog.TypeFull && rec.AntecedentRef != expected.Ref:
			violations = append(violations, Violation{
				Record: *rec,
				Reason: fmt.Sprintf("%s record anchored on %q, expected %q", rec.Type, rec.AntecedentRef, expected.Ref),
			})
		}

		switch rec.Type {
		case catalog.TypeFull:
			lastFull = rec
			lastAnchor = rec
		case catalog.TypeDiff:
			lastAnchor = rec
		}
		prev = rec
	}

	return violations
}
