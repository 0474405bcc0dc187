package db

import (
	"testing"
	"time"
)

func TestTimeScanVariants(t *testing.T) {
	want := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		value interface{}
	}{
		{"time", want},
		{"rfc3339", "2025-03-01T10:30:00Z"},
		{"rfc3339_nano", "2025-03-01T10:30:00.000000000Z"},
		{"sqlite_text", "2025-03-01 10:30:00+00:00"},
		{"sqlite_text_frac", "2025-03-01 10:30:00.000000000+00:00"},
		{"go_string", "2025-03-01 10:30:00 +0000 UTC"},
		{"bytes", []byte("2025-03-01T10:30:00Z")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Time
			if err := got.Scan(tc.value); err != nil {
				t.Fatalf("scan: %v", err)
			}
			if !got.Valid {
				t.Fatal("expected valid time")
			}
			if !got.Time.Equal(want) {
				t.Fatalf("got %v, want %v", got.Time, want)
			}
		})
	}
}

func TestTimeScanNull(t *testing.T) {
	got := Time{Time: time.Now(), Valid: true}
	if err := got.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if got.Valid {
		t.Fatal("null column should not be valid")
	}
	if got.Ptr() != nil {
		t.Fatal("null column should yield nil pointer")
	}
}

func TestTimeScanRejectsGarbage(t *testing.T) {
	var got Time
	if err := got.Scan("not a timestamp"); err == nil {
		t.Fatal("expected an error")
	}
	if err := got.Scan(42); err == nil {
		t.Fatal("expected an error for unsupported type")
	}
}
