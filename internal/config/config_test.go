package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreUsableAsIs(t *testing.T) {
	d := Defaults()
	if d.DataDir == "" || d.BlockSize == 0 || d.BufferPoolSlots == 0 {
		t.Fatalf("Defaults() = %+v, want every tunable populated", d)
	}
}

func TestLoadWithMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Defaults() {
		t.Errorf("Load(missing) = %+v, want %+v", cfg, Defaults())
	}
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg != Defaults() {
		t.Errorf("Load(\"\") = %+v, want %+v", cfg, Defaults())
	}
}

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aquadb.yaml")
	yaml := "data_dir: /var/lib/aquadb\nblock_size: 8192\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/var/lib/aquadb" {
		t.Errorf("DataDir = %q, want /var/lib/aquadb", cfg.DataDir)
	}
	if cfg.BlockSize != 8192 {
		t.Errorf("BlockSize = %d, want 8192", cfg.BlockSize)
	}
	if cfg.BufferPoolSlots != Defaults().BufferPoolSlots {
		t.Errorf("BufferPoolSlots = %d, want the untouched default %d", cfg.BufferPoolSlots, Defaults().BufferPoolSlots)
	}
}
