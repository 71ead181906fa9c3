package objstore

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeObject(t *testing.T, root, key, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirListAndGet(t *testing.T) {
	root := t.TempDir()
	writeObject(t, root, "20240115/02768986.txt", "header")
	writeObject(t, root, "20240115/02768986.pdf", "pdf")
	writeObject(t, root, "20240116/02769001.txt", "other day")

	d := NewDir(root)
	ctx := context.Background()

	keys, err := d.List(ctx, "20240115/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"20240115/02768986.pdf", "20240115/02768986.txt"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}

	data, err := d.Get(ctx, "20240115/02768986.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "header" {
		t.Errorf("data = %q", data)
	}

	if _, err := d.Get(ctx, "20240115/missing.txt"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestFilingID(t *testing.T) {
	tests := []struct{ key, want string }{
		{"20240115/02768986.pdf", "20240115/02768986"},
		{"20240115/02768986.txt", "20240115/02768986"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := FilingID(tt.key); got != tt.want {
			t.Errorf("FilingID(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestKeyDate(t *testing.T) {
	if d, ok := KeyDate("20240115/02768986.pdf"); !ok || d.Year() != 2024 || d.Month() != 1 || d.Day() != 15 {
		t.Errorf("KeyDate = %v, %v", d, ok)
	}
	if _, ok := KeyDate("notadate/x.pdf"); ok {
		t.Error("non-date prefix accepted")
	}
	if _, ok := KeyDate("x"); ok {
		t.Error("short key accepted")
	}
}
