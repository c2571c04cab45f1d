package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

var baseTime = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// newTestStore creates an in-memory catalog for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create test catalog: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustAppend appends a record of typ for def at baseTime+offset.
func mustAppend(t *testing.T, s *Store, def string, typ BackupType, antecedent string, offset time.Duration) *Record {
	t.Helper()
	at := baseTime.Add(offset)
	rec := &Record{
		Definition:    def,
		Type:          typ,
		CreatedAt:     at,
		Date:          at.Format(time.DateOnly),
		ArchiveBase:   fmt.Sprintf("%s_%s_%s_%d", def, typ, at.Format(time.DateOnly), offset),
		SliceCount:    1,
		TotalSize:     1024,
		AntecedentRef: antecedent,
		Slices: []Slice{
			{Index: 1, Name: fmt.Sprintf("%s_%s_%d.1.dar", def, typ, offset), Size: 1024},
		},
	}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append(%s %s) failed: %v", def, typ, err)
	}
	return rec
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestOpenInMemory(t *testing.T) {
	s := newTestStore(t)

	if s.db == nil {
		t.Error("Expected db to be initialized")
	}
	if !s.Created() {
		t.Error("Expected in-memory catalog to report Created")
	}

	count, err := s.Count(context.Background(), "")
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestCreateOrOpenIdempotent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := filepath.Join(t.TempDir(), "backups", "nested")

	first, err := CreateOrOpen(dir, "", logger)
	if err != nil {
		t.Fatalf("first CreateOrOpen failed: %v", err)
	}
	if !first.Created() {
		t.Error("first CreateOrOpen should report Created")
	}
	if got, want := first.Path(), filepath.Join(dir, DefaultName); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
	full := mustAppend(t, first, "default", TypeFull, "", 0)
	mustAppend(t, first, "default", TypeDiff, full.Ref, time.Hour)
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		again, err := CreateOrOpen(dir, "", logger)
		if err != nil {
			t.Fatalf("CreateOrOpen #%d failed: %v", i+2, err)
		}
		if again.Created() {
			t.Errorf("CreateOrOpen #%d should not report Created", i+2)
		}
		records, err := again.List(context.Background(), ListFilter{})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records after reopen = %d, want 2", len(records))
		}
		if records[0].Type != TypeFull || records[1].Type != TypeDiff {
			t.Errorf("unexpected record order: %s, %s", records[0].Type, records[1].Type)
		}
		again.Close()
	}
}

func TestClose(t *testing.T) {
	s, err := Open(":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := s.List(context.Background(), ListFilter{}); err == nil {
		t.Error("Expected error when using closed catalog, but got nil")
	}
}

// ============================================================================
// Append
// ============================================================================

func TestAppendAssignsIdentity(t *testing.T) {
	s := newTestStore(t)

	rec := mustAppend(t, s, "default", TypeFull, "", 0)
	if rec.ID == 0 {
		t.Error("Expected ID to be set after Append")
	}
	if rec.Ref == "" {
		t.Error("Expected Ref to be generated")
	}

	got, err := s.Get(context.Background(), rec.Ref)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Definition != "default" || got.Type != TypeFull {
		t.Errorf("Get() = %s/%s, want default/FULL", got.Definition, got.Type)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	if len(got.Slices) != 1 || got.Slices[0].Index != 1 {
		t.Errorf("Slices = %+v, want one slice with index 1", got.Slices)
	}
	if got.AntecedentRef != "" {
		t.Errorf("AntecedentRef = %q, want empty", got.AntecedentRef)
	}
}

func TestAppendRejectsBrokenChain(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s *Store) string
		typ   BackupType
	}{
		{
			name:  "diff without full",
			setup: func(t *testing.T, s *Store) string { return "" },
			typ:   TypeDiff,
		},
		{
			name:  "incr without full or diff",
			setup: func(t *testing.T, s *Store) string { return "" },
			typ:   TypeIncr,
		},
		{
			name: "full with antecedent",
			setup: func(t *testing.T, s *Store) string {
				return mustAppend(t, s, "default", TypeFull, "", 0).Ref
			},
			typ: TypeFull,
		},
		{
			name: "diff against superseded full",
			setup: func(t *testing.T, s *Store) string {
				old := mustAppend(t, s, "default", TypeFull, "", 0)
				mustAppend(t, s, "default", TypeFull, "", time.Hour)
				return old.Ref
			},
			typ: TypeDiff,
		},
		{
			name: "incr against full after a diff",
			setup: func(t *testing.T, s *Store) string {
				full := mustAppend(t, s, "default", TypeFull, "", 0)
				mustAppend(t, s, "default", TypeDiff, full.Ref, time.Hour)
				return full.Ref
			},
			typ: TypeIncr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			antecedent := tt.setup(t, s)
			before, _ := s.Count(context.Background(), "")

			err := s.Append(context.Background(), &Record{
				Definition:    "default",
				Type:          tt.typ,
				CreatedAt:     baseTime.Add(2 * time.Hour),
				ArchiveBase:   "default_" + string(tt.typ) + "_rejected",
				SliceCount:    1,
				AntecedentRef: antecedent,
			})
			if !errors.Is(err, ErrWriteFailed) {
				t.Fatalf("Append error = %v, want ErrWriteFailed", err)
			}

			after, _ := s.Count(context.Background(), "")
			if after != before {
				t.Errorf("record count changed from %d to %d on failed append", before, after)
			}
		})
	}
}

func TestAppendStaleAntecedent(t *testing.T) {
	s := newTestStore(t)
	old := mustAppend(t, s, "default", TypeFull, "", 0)
	mustAppend(t, s, "default", TypeFull, "", time.Hour)

	err := s.Append(context.Background(), &Record{
		Definition:    "default",
		Type:          TypeDiff,
		CreatedAt:     baseTime.Add(2 * time.Hour),
		ArchiveBase:   "default_DIFF_stale",
		AntecedentRef: old.Ref,
	})
	if !errors.Is(err, ErrStaleAntecedent) {
		t.Fatalf("Append error = %v, want ErrStaleAntecedent", err)
	}
}

func TestAppendRejectsNonMonotonic(t *testing.T) {
	s := newTestStore(t)
	mustAppend(t, s, "default", TypeFull, "", time.Hour)

	err := s.Append(context.Background(), &Record{
		Definition:  "default",
		Type:        TypeFull,
		CreatedAt:   baseTime,
		ArchiveBase: "default_FULL_older",
	})
	if !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("Append error = %v, want ErrNonMonotonic", err)
	}

	// Other definitions keep their own ordering.
	mustAppend(t, s, "other", TypeFull, "", 0)
}

func TestAppendEqualTimestampAllowed(t *testing.T) {
	s := newTestStore(t)
	full := mustAppend(t, s, "default", TypeFull, "", 0)

	rec := &Record{
		Definition:    "default",
		Type:          TypeDiff,
		CreatedAt:     full.CreatedAt,
		ArchiveBase:   "default_DIFF_same_instant",
		AntecedentRef: full.Ref,
	}
	if err := s.Append(context.Background(), rec); err != nil {
		t.Fatalf("Append with equal timestamp failed: %v", err)
	}
}

func TestAppendDuplicateArchiveBase(t *testing.T) {
	s := newTestStore(t)
	first := &Record{Definition: "default", Type: TypeFull, CreatedAt: baseTime, ArchiveBase: "default_FULL_2026-10-17"}
	if err := s.Append(context.Background(), first); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	dup := &Record{Definition: "default", Type: TypeFull, CreatedAt: baseTime.Add(time.Minute), ArchiveBase: "default_FULL_2026-10-17"}
	if err := s.Append(context.Background(), dup); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("duplicate Append error = %v, want ErrWriteFailed", err)
	}
}

func TestAppendConcurrentDefinitions(t *testing.T) {
	s, err := CreateOrOpen(t.TempDir(), "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("CreateOrOpen failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	defs := []string{"alpha", "beta", "gamma", "delta"}
	g, ctx := errgroup.WithContext(context.Background())
	for _, def := range defs {
		def := def
		g.Go(func() error {
			full := &Record{Definition: def, Type: TypeFull, CreatedAt: baseTime, ArchiveBase: def + "_FULL"}
			if err := s.Append(ctx, full); err != nil {
				return err
			}
			prev := full.Ref
			for i := 1; i <= 5; i++ {
				incr := &Record{
					Definition:    def,
					Type:          TypeIncr,
					CreatedAt:     baseTime.Add(time.Duration(i) * time.Minute),
					ArchiveBase:   fmt.Sprintf("%s_INCR_%d", def, i),
					AntecedentRef: prev,
				}
				if err := s.Append(ctx, incr); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent Append failed: %v", err)
	}

	for _, def := range defs {
		count, err := s.Count(context.Background(), def)
		if err != nil {
			t.Fatalf("Count(%s) failed: %v", def, err)
		}
		if count != 6 {
			t.Errorf("Count(%s) = %d, want 6", def, count)
		}
	}
}

// ============================================================================
// Chain queries
// ============================================================================

func TestLatestFullNoRecord(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LatestFull(context.Background(), "default"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("LatestFull error = %v, want ErrNoRecord", err)
	}
	if _, err := s.LatestFullOrDiff(context.Background(), "default"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("LatestFullOrDiff error = %v, want ErrNoRecord", err)
	}
}

func TestLatestQueries(t *testing.T) {
	s := newTestStore(t)
	full1 := mustAppend(t, s, "default", TypeFull, "", 0)
	diff1 := mustAppend(t, s, "default", TypeDiff, full1.Ref, time.Hour)
	mustAppend(t, s, "default", TypeIncr, diff1.Ref, 2*time.Hour)
	otherFull := mustAppend(t, s, "other", TypeFull, "", 3*time.Hour)

	gotFull, err := s.LatestFull(context.Background(), "default")
	if err != nil {
		t.Fatalf("LatestFull failed: %v", err)
	}
	if gotFull.Ref != full1.Ref {
		t.Errorf("LatestFull = %s, want %s", gotFull.Ref, full1.Ref)
	}

	gotAny, err := s.LatestFullOrDiff(context.Background(), "default")
	if err != nil {
		t.Fatalf("LatestFullOrDiff failed: %v", err)
	}
	if gotAny.Ref != diff1.Ref {
		t.Errorf("LatestFullOrDiff = %s (%s), want DIFF %s", gotAny.Ref, gotAny.Type, diff1.Ref)
	}

	gotOther, err := s.LatestFullOrDiff(context.Background(), "other")
	if err != nil {
		t.Fatalf("LatestFullOrDiff(other) failed: %v", err)
	}
	if gotOther.Ref != otherFull.Ref {
		t.Errorf("LatestFullOrDiff(other) = %s, want %s", gotOther.Ref, otherFull.Ref)
	}
}

func TestLatestFullOrDiffTieBreaksByInsertion(t *testing.T) {
	s := newTestStore(t)
	full := mustAppend(t, s, "default", TypeFull, "", 0)
	diff := mustAppend(t, s, "default", TypeDiff, full.Ref, 0)

	got, err := s.LatestFullOrDiff(context.Background(), "default")
	if err != nil {
		t.Fatalf("LatestFullOrDiff failed: %v", err)
	}
	if got.Ref != diff.Ref {
		t.Errorf("tie break chose %s (%s), want later insert %s", got.Ref, got.Type, diff.Ref)
	}
}

// ============================================================================
// Listing
// ============================================================================

func TestListFilter(t *testing.T) {
	s := newTestStore(t)
	full := mustAppend(t, s, "default", TypeFull, "", 0)
	mustAppend(t, s, "default", TypeDiff, full.Ref, time.Hour)
	mustAppend(t, s, "default", TypeDiff, full.Ref, 2*time.Hour)
	mustAppend(t, s, "custom", TypeFull, "", 0)

	tests := []struct {
		name   string
		filter ListFilter
		want   int
	}{
		{"all", ListFilter{}, 4},
		{"by definition", ListFilter{Definition: "default"}, 3},
		{"by type", ListFilter{Type: TypeFull}, 2},
		{"by definition and type", ListFilter{Definition: "default", Type: TypeDiff}, 2},
		{"limit", ListFilter{Limit: 1}, 1},
		{"unknown definition", ListFilter{Definition: "nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List(%+v) returned %d records, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestDefinitionsAndSlices(t *testing.T) {
	s := newTestStore(t)
	rec := mustAppend(t, s, "zeta", TypeFull, "", 0)
	mustAppend(t, s, "alpha", TypeFull, "", 0)

	names, err := s.Definitions(context.Background())
	if err != nil {
		t.Fatalf("Definitions failed: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Errorf("Definitions = %v, want [alpha zeta]", names)
	}

	slices, err := s.Slices(context.Background(), rec.Ref)
	if err != nil {
		t.Fatalf("Slices failed: %v", err)
	}
	if len(slices) != 1 || slices[0].Size != 1024 {
		t.Errorf("Slices = %+v, want one 1024-byte slice", slices)
	}

	if _, err := s.Slices(context.Background(), "missing"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("Slices(missing) error = %v, want ErrNoRecord", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNoRecord) {
		t.Errorf("Get(missing) error = %v, want ErrNoRecord", err)
	}
}

func TestParseBackupType(t *testing.T) {
	tests := []struct {
		input   string
		want    BackupType
		wantErr bool
	}{
		{"FULL", TypeFull, false},
		{"diff", TypeDiff, false},
		{" Incr ", TypeIncr, false},
		{"invalid", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseBackupType(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBackupType(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBackupType(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseBackupType(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestAntecedentTypes(t *testing.T) {
	if got := AntecedentTypes(TypeFull); got != nil {
		t.Errorf("AntecedentTypes(FULL) = %v, want nil", got)
	}
	if got := AntecedentTypes(TypeDiff); len(got) != 1 || got[0] != TypeFull {
		t.Errorf("AntecedentTypes(DIFF) = %v, want [FULL]", got)
	}
	if got := AntecedentTypes(TypeIncr); len(got) != 2 {
		t.Errorf("AntecedentTypes(INCR) = %v, want [FULL DIFF]", got)
	}
}
