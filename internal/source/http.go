package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ingestd/internal/ingest/job"
)

const maxResponseBytes = 16 << 20

// apiClient is the shared HTTP plumbing of the remote adapters: base URL
// joining, auth, a token-bucket limiter and error mapping.
type apiClient struct {
	kind    job.Kind
	base    string
	auth    func(r *http.Request)
	limiter *rate.Limiter
	http    *http.Client
	pages   int
}

func newAPIClient(kind job.Kind, s Settings, defaultBase string, auth func(r *http.Request)) *apiClient {
	s = s.withDefaults()
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = defaultBase
	}
	hc := s.Client
	if hc == nil {
		hc = &http.Client{Timeout: s.RequestTimeout}
	}
	return &apiClient{
		kind:    kind,
		base:    base,
		auth:    auth,
		limiter: rate.NewLimiter(rate.Limit(s.RatePerSec), s.Burst),
		http:    hc,
		pages:   s.MaxPages,
	}
}

// getJSON issues GET base+path?query and decodes the body into out.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", c.kind, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Source: c.kind, Message: fmt.Sprintf("%s: request failed: %v", c.kind, err), Err: err}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if err != nil {
		return fmt.Errorf("%s: read response: %w", c.kind, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{
			Source:     c.kind,
			Message:    fmt.Sprintf("%s: rate limited", c.kind),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	case resp.StatusCode >= 400:
		return Errorf(c.kind, "%s: http %d: %s", c.kind, resp.StatusCode, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return Errorf(c.kind, "%s: decode response: %v", c.kind, err)
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func bearer(token string) func(r *http.Request) {
	token = strings.TrimSpace(token)
	return func(r *http.Request) {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// snapshot collects item fingerprints for one sync.
type snapshot map[string]uint64

func (s snapshot) add(id string, item any) {
	if id == "" {
		id = strconv.FormatUint(hashValue(item), 16)
	}
	s[id] = hashValue(item)
}

func idOf(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// finishPaged is finish for paginated listings. A listing cut short by the
// page cap is partial, so the tracker keeps its last full snapshot and only
// the processed count is reported.
func finishPaged(tr *Tracker, scope string, snap snapshot, meta map[string]any, more bool) Result {
	if more {
		meta["truncated"] = true
		return Result{ItemsProcessed: len(snap), Metadata: meta}
	}
	return finish(tr, scope, snap, meta)
}

func finish(tr *Tracker, scope string, snap snapshot, meta map[string]any) Result {
	c := tr.Diff(scope, snap)
	return Result{
		ItemsProcessed: len(snap),
		ItemsAdded:     c.Added,
		ItemsUpdated:   c.Updated,
		ItemsRemoved:   c.Removed,
		Metadata:       meta,
	}
}
