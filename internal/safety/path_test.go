package safety

import (
	"strings"
	"testing"
)

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "a/b/c.txt")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestCleanName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "default", "default", false},
		{"trimmed", "  media \n", "media", false},
		{"with dash and dot", "home-dirs.v2", "home-dirs.v2", false},
		{"empty", "", "", true},
		{"dot", ".", "", true},
		{"parent", "..", "", true},
		{"nested", "a/b", "", true},
		{"traversal", "../etc", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"hidden", ".secret", "", true},
		{"control char", "bad\x01name", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CleanName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("CleanName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
