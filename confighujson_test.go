package shmcache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOptionsFileOverlaysFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shmcache.hujson")
	contents := `{
		// comments and trailing commas are fine, this is HuJSON
		num_pages: 17,
		page_size: "16k",
		expire_time: "5m",
		raw_values: true,
		write_action: "write_back",
	}`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	base := DefaultOptions()
	o, err := LoadOptionsFile(path, base)
	if err != nil {
		t.Fatalf("LoadOptionsFile: %v", err)
	}
	if o.NumPages != 17 {
		t.Fatalf("NumPages = %d, want 17", o.NumPages)
	}
	if o.PageSize != 16<<10 {
		t.Fatalf("PageSize = %d, want %d", o.PageSize, 16<<10)
	}
	if o.ExpireTime.Minutes() != 5 {
		t.Fatalf("ExpireTime = %v, want 5m", o.ExpireTime)
	}
	if !o.RawValues {
		t.Fatal("RawValues should be true")
	}
	if o.WriteAction != WriteBack {
		t.Fatalf("WriteAction = %v, want WriteBack", o.WriteAction)
	}
}

func TestLoadOptionsFileRejectsBadWriteAction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "shmcache.hujson")
	os.WriteFile(path, []byte(`{write_action: "sideways"}`), 0o644)

	if _, err := LoadOptionsFile(path, DefaultOptions()); err == nil {
		t.Fatal("expected an error for an unrecognised write_action")
	}
}

func TestLoadOptionsFileMissingLeavesBaseUntouched(t *testing.T) {
	base := DefaultOptions()
	base.NumPages = 41
	o, err := LoadOptionsFile(filepath.Join(t.TempDir(), "missing.hujson"), base)
	if err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if o.NumPages != 41 {
		t.Fatalf("NumPages = %d, want base's 41", o.NumPages)
	}
}
