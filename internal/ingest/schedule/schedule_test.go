package schedule

import (
	"errors"
	"testing"
	"time"

	"ingestd/internal/ingest/job"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron"},
		{name: "cron with seconds", raw: "0 */30 * * * *", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron"},
		{name: "every descriptor", raw: "@every 90s", kind: KindInterval, source: "duration", every: 90 * time.Second},
		{name: "duration", raw: "10m", kind: KindInterval, source: "duration", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute},
		{name: "cadence 5m", raw: "every 5 minutes", kind: KindInterval, source: "cadence", every: 5 * time.Minute},
		{name: "cadence 30m", raw: "Every  30 Minutes", kind: KindInterval, source: "cadence", every: 30 * time.Minute},
		{name: "cadence hourly", raw: "hourly", kind: KindInterval, source: "cadence", every: time.Hour},
		{name: "cadence 2h", raw: "every 2 hours", kind: KindInterval, source: "cadence", every: 2 * time.Hour},
		{name: "cadence 6h", raw: "every 6 hours", kind: KindInterval, source: "cadence", every: 6 * time.Hour},
		{name: "cadence generic", raw: "every 3 days", kind: KindInterval, source: "cadence", every: 72 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseInvalidIsConfigurationError(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "every 0 minutes", "61 * * * *", "cron:", "00:75", "@fortnightly"} {
		_, err := Parse(raw)
		if err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
		if !errors.Is(err, job.ErrConfiguration) {
			t.Fatalf("Parse(%q): err = %v, want ErrConfiguration", raw, err)
		}
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()
	s := MustParse("every 30 minutes")
	base := time.Date(2026, 3, 1, 10, 7, 13, 500, time.UTC)
	if got := s.Next(base); !got.Equal(base.Add(30 * time.Minute)) {
		t.Fatalf("Next = %v", got)
	}
}

func TestNextCronAndPreview(t *testing.T) {
	t.Parallel()
	s := MustParse("0 */2 * * *")
	base := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	got := s.Preview(base, 3)
	want := []time.Time{
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("Preview len = %d", len(got))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("Preview[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNextCronInLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+7", 7*3600)
	s := MustParse("0 0 * * *").In(loc)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // 19:00 local
	got := s.Next(base)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}
