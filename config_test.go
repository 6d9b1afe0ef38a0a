package shmcache

import "testing"

func TestParseSizeShorthands(t *testing.T) {
	cases := map[string]uint64{
		"1024": 1024,
		"4k":   4 << 10,
		"4K":   4 << 10,
		"16m":  16 << 20,
		"1g":   1 << 30,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSizeRejectsGarbage(t *testing.T) {
	if _, err := ParseSize("not-a-size"); err == nil {
		t.Fatal("expected an error for an unparsable size")
	}
	if _, err := ParseSize(""); err == nil {
		t.Fatal("expected an error for an empty size")
	}
}

func TestParseDurationShorthands(t *testing.T) {
	d, err := ParseDuration("30s")
	if err != nil || d.Seconds() != 30 {
		t.Fatalf("ParseDuration(30s) = %v, %v", d, err)
	}
	d, err = ParseDuration("5m")
	if err != nil || d.Minutes() != 5 {
		t.Fatalf("ParseDuration(5m) = %v, %v", d, err)
	}
	d, err = ParseDuration("2h")
	if err != nil || d.Hours() != 2 {
		t.Fatalf("ParseDuration(2h) = %v, %v", d, err)
	}
	d, err = ParseDuration("1d")
	if err != nil || d.Hours() != 24 {
		t.Fatalf("ParseDuration(1d) = %v, %v", d, err)
	}
	d, err = ParseDuration("45") // bare integer defaults to seconds
	if err != nil || d.Seconds() != 45 {
		t.Fatalf("ParseDuration(45) = %v, %v", d, err)
	}
}

func TestOptionsNormaliseFillsDefaults(t *testing.T) {
	o, err := Options{}.normalise()
	if err != nil {
		t.Fatalf("normalise of zero-value Options: %v", err)
	}
	if o.SharePath != defaultSharePath || o.PageSize != defaultPageSize || o.NumPages != defaultNumPages {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	if o.Logger == nil {
		t.Fatal("normalise must install a no-op logger by default")
	}
	if o.Codec == nil {
		t.Fatal("normalise must install RawCodec by default")
	}
}

func TestOptionsNormaliseRejectsBadPageSize(t *testing.T) {
	_, err := Options{PageSize: 1000}.normalise() // not a power of two
	if err == nil {
		t.Fatal("expected a KindConfigInvalid error for a non-power-of-two page size")
	}
	var serr *Error
	if !asError(err, &serr) || serr.Kind != KindConfigInvalid {
		t.Fatalf("expected KindConfigInvalid, got %v", err)
	}
}

func TestOptionsNormaliseRejectsTinyStartSlots(t *testing.T) {
	_, err := Options{StartSlots: 3}.normalise()
	if err == nil {
		t.Fatal("expected an error for start_slots below minNumSlots")
	}
}

// asError is a small errors.As helper kept local to avoid importing errors
// in every test file that just wants to pull out the *Error.
func asError(err error, target **Error) bool {
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	return false
}
