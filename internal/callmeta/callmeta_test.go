package callmeta

import (
	"errors"
	"testing"
	"time"
)

func eastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("EST5EDT")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	return loc
}

func TestParse(t *testing.T) {
	loc := eastern(t)
	cases := []struct {
		file     string
		agency   string
		callType string
		category string
		when     time.Time
	}{
		{"Glenwood-Pochuck_EMS_2025_11_27_19_58_13.mp3", "Glenwood-Pochuck", "EMS", "ems", time.Date(2025, 11, 27, 19, 58, 13, 0, loc)},
		{"Sussex_County_FM_2025_11_27_20_02_27.mp3", "Sussex County", "FM", "other", time.Date(2025, 11, 27, 20, 2, 27, 0, loc)},
		{"Stanhope_FD_2025_12_02_15_45_30_proc.mp3", "Stanhope", "FD", "fire", time.Date(2025, 12, 2, 15, 45, 30, 0, loc)},
		{"Newton_EMS__Duty__2025_11_27_20_02_59.mp3", "Newton EMS", "DUTY", "other", time.Date(2025, 11, 27, 20, 2, 59, 0, loc)},
		{"/calls/SpartaTWP_Fire_2024_07_04_09_05_00.wav", "Sparta TWP", "FIRE", "fire", time.Date(2024, 7, 4, 9, 5, 0, 0, loc)},
	}
	for _, tc := range cases {
		meta, err := Parse(tc.file, loc)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.file, err)
		}
		if meta.Agency != tc.agency {
			t.Fatalf("%s: unexpected agency %q", tc.file, meta.Agency)
		}
		if meta.CallType != tc.callType {
			t.Fatalf("%s: unexpected call type %q", tc.file, meta.CallType)
		}
		if meta.Category != tc.category {
			t.Fatalf("%s: unexpected category %q", tc.file, meta.Category)
		}
		if !meta.Time.Equal(tc.when) {
			t.Fatalf("%s: unexpected time %v", tc.file, meta.Time)
		}
	}
}

func TestParseWithoutTimestamp(t *testing.T) {
	meta, err := Parse("dir/upload.wav", time.UTC)
	if !errors.Is(err, ErrNoTimestamp) {
		t.Fatalf("expected ErrNoTimestamp, got %v", err)
	}
	if meta.FileName != "upload.wav" || meta.Agency != "upload" {
		t.Fatalf("unexpected fallback meta: %+v", meta)
	}
	if got := meta.Title(); got != "upload" {
		t.Fatalf("unexpected title %q", got)
	}
}

func TestTitle(t *testing.T) {
	loc := eastern(t)
	meta, err := Parse("Glenwood-Pochuck_EMS_2025_11_27_19_58_13.mp3", loc)
	if err != nil {
		t.Fatal(err)
	}
	want := "Glenwood-Pochuck EMS at 19:58 on 11/27/2025"
	if got := meta.Title(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
