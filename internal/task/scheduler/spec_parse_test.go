package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw   string
		cron  string
		every time.Duration
	}{
		{raw: "* * * * *", cron: "* * * * *"},
		{raw: " 0 */5 * * * * ", cron: "0 */5 * * * *"},
		{raw: "@hourly", cron: "@hourly"},
		{raw: "@every 2m", every: 2 * time.Minute},
		{raw: "90s", every: 90 * time.Second},
	}
	for _, tc := range cases {
		got, err := ParseSchedule(tc.raw)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tc.raw, err)
		}
		if got.Cron != tc.cron || got.Every != tc.every {
			t.Fatalf("ParseSchedule(%q) = %+v", tc.raw, got)
		}
	}
	if s, _ := ParseSchedule("90s"); s.String() != "@every 1m30s" {
		t.Fatalf("String() = %q", s.String())
	}
}

func TestParseScheduleRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "every minute", "61 * * * *", "@sometimes", "0s", "500ms", "@every soon"} {
		if s, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) = %+v, want error", raw, s)
		}
	}
}
