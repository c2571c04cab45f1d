package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/BadgerOps/darbackup/internal/catalog"
)

func TestAudit(t *testing.T) {
	env := newTestEnv(t, &fakeEngine{run: writeSlices(2)})
	ctx := context.Background()

	full, err := env.mgr.Run(ctx, env.request(catalog.TypeFull, ""))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.mgr.Run(ctx, env.request(catalog.TypeDiff, "")); err != nil {
		t.Fatal(err)
	}

	report, err := env.mgr.Audit(ctx, env.backup)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if !report.Clean() || report.Records != 2 || report.Definitions != 1 {
		t.Fatalf("fresh audit = %+v", report)
	}

	// A lost slice and a leftover archive without a record.
	if err := os.Remove(filepath.Join(env.backup, full.Record.ArchiveBase+".2.dar")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"default_INCR_2026-10-16.1.dar", "default_INCR_2026-10-16.2.dar", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(env.backup, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	report, err = env.mgr.Audit(ctx, env.backup)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if report.Clean() {
		t.Fatal("audit should report problems")
	}
	if len(report.Violations) != 0 {
		t.Errorf("Violations = %+v", report.Violations)
	}
	if len(report.Missing) != 1 || report.Missing[0].Record.Ref != full.Record.Ref || report.Missing[0].Found != 1 {
		t.Errorf("Missing = %+v", report.Missing)
	}
	if len(report.Orphans) != 1 {
		t.Fatalf("Orphans = %+v", report.Orphans)
	}
	if o := report.Orphans[0]; o.Base != "default_INCR_2026-10-16" || len(o.Slices) != 2 || o.TotalSize != 2 {
		t.Errorf("orphan = %+v", o)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, &fakeEngine{run: writeSlices(1)})
	env.writeDefinition(t, "media", "-R "+env.src+"\n")
	ctx := context.Background()

	for _, typ := range []catalog.BackupType{catalog.TypeFull, catalog.TypeIncr} {
		if _, err := env.mgr.Run(ctx, env.request(typ, "")); err != nil {
			t.Fatal(err)
		}
	}

	statuses, err := env.mgr.Status(ctx, env.backup, env.defs)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2: %+v", len(statuses), statuses)
	}

	def, media := statuses[0], statuses[1]
	if def.Definition != "default" || media.Definition != "media" {
		t.Fatalf("unexpected order: %s, %s", def.Definition, media.Definition)
	}
	if def.Records != 2 || def.LastFull == nil || def.LastDiff != nil || def.LastIncr == nil {
		t.Errorf("default status = %+v", def)
	}
	if def.LastBackup() != def.LastIncr {
		t.Error("LastBackup should be the INCR")
	}
	if len(def.Allowed) != 3 {
		t.Errorf("default allows %v", def.Allowed)
	}
	if media.Records != 0 || !media.Configured || len(media.Allowed) != 1 || media.Allowed[0] != catalog.TypeFull {
		t.Errorf("media status = %+v", media)
	}
	if media.Age(env.clock.Now()) != 0 {
		t.Error("definition without records has no age")
	}
}
