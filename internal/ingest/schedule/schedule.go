// Package schedule parses job schedule strings into next-run calculators.
//
// Supported forms:
//   - Cron (robfig/cron): "*/5 * * * *", "0 */2 * * *", "30 0 * * * *" (with seconds),
//     descriptors "@hourly", "@daily", "@weekly", "@monthly", "@yearly"
//   - Fixed intervals: "@every 5m", "5m", "2h30m", HH:MM ("02:30" = 2h30m)
//   - Named cadences: "every 5 minutes", "every 30 minutes", "hourly",
//     "every 2 hours", "every 6 hours", "daily"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
// Anything else is a configuration error; nothing silently defaults.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ingestd/internal/ingest/job"
)

type Kind int

const (
	KindInterval Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindCron {
		return "cron"
	}
	return "interval"
}

// Spec is a parsed schedule.
type Spec struct {
	Kind  Kind
	Raw   string
	Every time.Duration // KindInterval only
	Cron  string        // KindCron only
	// Source records which syntax matched: "cron", "duration", "hhmm", "cadence".
	Source string

	loc   *time.Location
	sched cron.Schedule
}

// Next returns the first fire time strictly after t. For cron specs the
// calculation happens in the Spec's location (see In).
func (s Spec) Next(t time.Time) time.Time {
	switch s.Kind {
	case KindInterval:
		return t.Add(s.Every)
	case KindCron:
		if s.sched == nil {
			return time.Time{}
		}
		if s.loc != nil {
			return s.sched.Next(t.In(s.loc))
		}
		return s.sched.Next(t)
	default:
		return time.Time{}
	}
}

// In returns a copy evaluating cron fields in loc. Intervals are unaffected.
func (s Spec) In(loc *time.Location) Spec {
	s.loc = loc
	return s
}

// Preview returns the next n fire times after t.
func (s Spec) Preview(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

func (s Spec) String() string {
	if s.Kind == KindCron {
		return s.Cron
	}
	return "@every " + s.Every.String()
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	reHHMM    = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reCadence = regexp.MustCompile(`^every\s+(\d+)\s+(second|minute|hour|day)s?$`)
)

// cadences are the named cadences accepted verbatim.
var cadences = map[string]time.Duration{
	"every minute":     time.Minute,
	"every 5 minutes":  5 * time.Minute,
	"every 15 minutes": 15 * time.Minute,
	"every 30 minutes": 30 * time.Minute,
	"hourly":           time.Hour,
	"every hour":       time.Hour,
	"every 2 hours":    2 * time.Hour,
	"every 6 hours":    6 * time.Hour,
	"every 12 hours":   12 * time.Hour,
	"daily":            24 * time.Hour,
}

// Parse parses a schedule string. Failures are job.ErrConfiguration.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, job.ConfigErrorf("schedule", "schedule required")
	}
	low := strings.ToLower(s)

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalSpec(raw, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalSpec(raw, s[len("every:"):])
	case strings.HasPrefix(low, "@every"):
		return parseIntervalSpec(raw, s[len("@every"):])
	}

	if d, ok := cadences[collapseSpaces(low)]; ok {
		return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "cadence"}, nil
	}
	if m := reCadence.FindStringSubmatch(collapseSpaces(low)); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Spec{}, job.ConfigErrorf("schedule", "invalid cadence %q", raw)
		}
		unit := map[string]time.Duration{"second": time.Second, "minute": time.Minute, "hour": time.Hour, "day": 24 * time.Hour}[m[2]]
		return Spec{Kind: KindInterval, Raw: raw, Every: time.Duration(n) * unit, Source: "cadence"}, nil
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(raw, s)
	}
	// - HH:MM => interval duration
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "hhmm"}, nil
	}
	// - Go duration => interval duration
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Spec{}, job.ConfigErrorf("schedule", "interval must be > 0")
		}
		return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "duration"}, nil
	}

	return Spec{}, job.ConfigErrorf("schedule",
		"unsupported schedule %q (use cron like '*/5 * * * *', a cadence like 'every 30 minutes', HH:MM like '02:30', or a duration like '55m')",
		raw)
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Spec {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCron(raw, expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, job.ConfigErrorf("schedule", "cron expression required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, job.ConfigErrorf("schedule", "invalid cron %q: %v", expr, err)
	}
	// "@every" through the cron parser rounds to whole seconds; keep intervals exact.
	if cd, ok := sched.(cron.ConstantDelaySchedule); ok {
		return Spec{Kind: KindInterval, Raw: raw, Every: cd.Delay, Source: "duration"}, nil
	}
	return Spec{Kind: KindCron, Raw: raw, Cron: expr, Source: "cron", sched: sched}, nil
}

func parseIntervalSpec(raw, v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, job.ConfigErrorf("schedule", "interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, job.ConfigErrorf("schedule", "invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return Spec{}, job.ConfigErrorf("schedule", "interval must be > 0")
	}
	return Spec{Kind: KindInterval, Raw: raw, Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, job.ConfigErrorf("schedule", "invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, job.ConfigErrorf("schedule", "invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, job.ConfigErrorf("schedule", "interval must be > 0")
	}
	return d, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Describe renders a short human-readable form for logs and CLI output.
func Describe(s Spec) string {
	if s.Kind == KindInterval {
		return fmt.Sprintf("every %s", s.Every)
	}
	return fmt.Sprintf("cron %q", s.Cron)
}
