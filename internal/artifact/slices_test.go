package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSlices(t *testing.T, dir string, names map[string]int) {
	t.Helper()
	for name, size := range names {
		if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
}

func TestEnumerate(t *testing.T) {
	dir := t.TempDir()
	writeSlices(t, dir, map[string]int{
		"default_FULL_2026-10-17.1.dar":  100,
		"default_FULL_2026-10-17.2.dar":  50,
		"default_FULL_2026-10-17.10.dar": 5,
		"default_FULL_2026-10-17.3.tmp":  999,
		"default_DIFF_2026-10-17.1.dar":  999,
		"xdefault_FULL_2026-10-17.1.dar": 999,
		"dar-backup.db":                  999,
	})
	if err := os.Mkdir(filepath.Join(dir, "default_FULL_2026-10-17.4.dar"), 0o755); err != nil {
		t.Fatal(err)
	}

	set, err := Enumerate(dir, "default_FULL_2026-10-17", "dar")
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if set.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", set.Count())
	}
	if set.TotalSize != 155 {
		t.Errorf("TotalSize = %d, want 155", set.TotalSize)
	}
	wantOrder := []int{1, 2, 10}
	for i, sl := range set.Slices {
		if sl.Index != wantOrder[i] {
			t.Errorf("slice %d index = %d, want %d", i, sl.Index, wantOrder[i])
		}
	}
	if err := set.Validate(); !errors.Is(err, ErrSliceGap) {
		t.Errorf("Validate() = %v, want ErrSliceGap", err)
	}
}

func TestEnumerateMissingDir(t *testing.T) {
	if _, err := Enumerate(filepath.Join(t.TempDir(), "nope"), "base", "dar"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSetValidate(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]int
		report  int
		wantErr error
	}{
		{"empty", map[string]int{}, 0, ErrNoSlices},
		{"single", map[string]int{"b.1.dar": 1}, 0, nil},
		{"contiguous", map[string]int{"b.1.dar": 1, "b.2.dar": 1, "b.3.dar": 1}, 3, nil},
		{"missing first", map[string]int{"b.2.dar": 1}, 0, ErrSliceGap},
		{"hole", map[string]int{"b.1.dar": 1, "b.3.dar": 1}, 0, ErrSliceGap},
		{"count mismatch", map[string]int{"b.1.dar": 1, "b.2.dar": 1}, 3, ErrSliceCountMismatch},
		{"zero sized slice still counts", map[string]int{"b.1.dar": 0}, 1, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeSlices(t, dir, tt.files)

			set, err := Enumerate(dir, "b", "dar")
			if err != nil {
				t.Fatalf("Enumerate failed: %v", err)
			}
			err = set.Expect(tt.report)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Expect(%d) unexpected error: %v", tt.report, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expect(%d) = %v, want %v", tt.report, err, tt.wantErr)
			}
		})
	}
}

func TestCatalogSlices(t *testing.T) {
	dir := t.TempDir()
	writeSlices(t, dir, map[string]int{"b.1.dar": 10, "b.2.dar": 20})

	set, err := Enumerate(dir, "b", "dar")
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	rows := set.CatalogSlices()
	if len(rows) != 2 {
		t.Fatalf("CatalogSlices() len = %d, want 2", len(rows))
	}
	if rows[0].Name != "b.1.dar" || rows[0].Size != 10 || rows[1].Index != 2 {
		t.Errorf("CatalogSlices() = %+v", rows)
	}
}
