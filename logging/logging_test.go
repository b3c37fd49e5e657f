package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRotateKeepsBoundedBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.log")

	w, err := SetupWithSize(path, 64)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer w.Close()

	line := make([]byte, 40)
	for i := range line {
		line[i] = 'x'
	}
	for i := 0; i < 6; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected first backup: %v", err)
	}
	if _, err := os.Stat(path + ".2"); err != nil {
		t.Fatalf("expected second backup: %v", err)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatal("backups must stop at two")
	}
}

func TestSetupRotatesOversizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvester.log")

	big := make([]byte, 200)
	if err := os.WriteFile(path, big, 0644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w, err := SetupWithSize(path, 64)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer w.Close()

	info, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("old log should be rotated, not truncated: %v", err)
	}
	if info.Size() != 200 {
		t.Fatalf("backup lost data: %d bytes", info.Size())
	}
}
