package logreader

import (
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
)

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.log", "a.log", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.log"), 0o755); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name   string
		filter *regexp.Regexp
		want   []string
	}{
		{
			name:   "no filter",
			filter: nil,
			want:   []string{"a.log", "b.log", "notes.txt"},
		},
		{
			name:   "log files only",
			filter: regexp.MustCompile(`\.log$`),
			want:   []string{"a.log", "b.log"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScanDirectory(dir, tt.filter)
			if err != nil {
				t.Fatalf("ScanDirectory() error = %v", err)
			}
			var want []string
			for _, name := range tt.want {
				want = append(want, filepath.Join(dir, name))
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("expected %v, got %v", want, got)
			}
		})
	}
}

func TestScanDirectorySingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to create file: %v", err)
	}

	got, err := ScanDirectory(path, regexp.MustCompile(`never`))
	if err != nil {
		t.Fatalf("ScanDirectory() error = %v", err)
	}
	if !reflect.DeepEqual(got, []string{path}) {
		t.Errorf("expected [%s], got %v", path, got)
	}
}

func TestScanDirectoryMissing(t *testing.T) {
	if _, err := ScanDirectory(filepath.Join(t.TempDir(), "nope"), nil); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
