package configfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sat.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadYAMLFlatKeys(t *testing.T) {
	path := writeFixture(t, "name: tlu1\nthreshold: 3\nratio: 1.5\nchannels: [1, 2, 3]\n")

	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if got, err := cfg.GetString("name"); err != nil || got != "tlu1" {
		t.Fatalf("name = %q, %v", got, err)
	}
	if got, err := cfg.GetInt("threshold"); err != nil || got != 3 {
		t.Fatalf("threshold = %d, %v", got, err)
	}
	if got, err := cfg.GetFloat("ratio"); err != nil || got != 1.5 {
		t.Fatalf("ratio = %v, %v", got, err)
	}
	seq, err := cfg.GetSequence("channels")
	if err != nil || len(seq) != 3 {
		t.Fatalf("channels = %v, %v", seq, err)
	}
}

func TestLoadYAMLRejectsNestedMapping(t *testing.T) {
	path := writeFixture(t, "nested:\n  a: 1\n")
	if _, err := LoadYAML(path); err == nil {
		t.Fatal("expected an error for a nested mapping")
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	if _, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
