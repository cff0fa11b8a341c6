package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestApplyModeOverwritesBucketingKnobs(t *testing.T) {
	c := Default()
	c.Mode = "fast3"
	c.ApplyMode()
	if c.MaxSplats != 1<<16 || c.MaxCells != 32 || c.MaxSplit != 512 {
		t.Fatalf("fast3 preset not applied: %+v", c)
	}
}

func TestApplyModeUnknownNameLeavesConfigUnchanged(t *testing.T) {
	c := Default()
	want := c
	c.Mode = "bogus"
	c.ApplyMode()
	c.Mode = want.Mode
	if !reflect.DeepEqual(c, want) {
		t.Fatalf("unknown mode mutated config: got %+v, want %+v", c, want)
	}
}

func TestParseJSONFileOverridesFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	if err := os.WriteFile(path, []byte(`{"mode":"fast","output":"/tmp/out"}`), 0644); err != nil {
		t.Fatal(err)
	}
	c := Default()
	if err := ParseJSONFile(&c, path); err != nil {
		t.Fatal(err)
	}
	if c.Mode != "fast" || c.Output != "/tmp/out" {
		t.Fatalf("JSON override not applied: %+v", c)
	}
}
