package source

import (
	"net/http"
	"time"

	"ingestd/internal/ingest/job"
)

// Settings are the per-kind connection parameters shared by every job of
// that kind. Job configs carry only what differs between jobs.
type Settings struct {
	BaseURL    string
	Token      string
	RatePerSec float64
	Burst      int
	// RequestTimeout bounds one HTTP round trip; the job timeout bounds the sync.
	RequestTimeout time.Duration
	MaxPages       int
	// Root confines the local adapter; relative job paths resolve against it.
	Root string

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

const (
	defaultRatePerSec     = 5
	defaultRequestTimeout = 30 * time.Second
	defaultMaxPages       = 200
)

func (s Settings) withDefaults() Settings {
	if s.RatePerSec <= 0 {
		s.RatePerSec = defaultRatePerSec
	}
	if s.Burst <= 0 {
		s.Burst = max(1, int(s.RatePerSec))
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = defaultRequestTimeout
	}
	if s.MaxPages <= 0 {
		s.MaxPages = defaultMaxPages
	}
	return s
}

// Build returns a Set with one adapter per supported kind. Kinds missing from
// settings get zero Settings (public defaults, no token).
func Build(settings map[job.Kind]Settings) *Set {
	tr := NewTracker()
	return NewSet(
		NewMailchimp(settings[job.KindMailchimp], tr),
		NewAirtable(settings[job.KindAirtable], tr),
		NewGitHub(settings[job.KindGitHub], tr),
		NewYouTube(settings[job.KindYouTube], tr),
		NewLocal(settings[job.KindLocal], tr),
	)
}
