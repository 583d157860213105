package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ingestd/internal/ingest/job"
)

// Mailchimp syncs list members (config "list_id") or, without a list,
// campaigns. Config "status" filters members (subscribed, unsubscribed, ...).
type Mailchimp struct {
	c  *apiClient
	tr *Tracker
}

func NewMailchimp(s Settings, tr *Tracker) *Mailchimp {
	key := strings.TrimSpace(s.Token)
	auth := func(r *http.Request) {
		if key != "" {
			r.SetBasicAuth("ingestd", key)
		}
	}
	return &Mailchimp{c: newAPIClient(job.KindMailchimp, s, mailchimpBase(key), auth), tr: tr}
}

// mailchimpBase derives the datacenter host from the "-us6" key suffix.
func mailchimpBase(key string) string {
	dc := "us1"
	if i := strings.LastIndex(key, "-"); i >= 0 && i < len(key)-1 {
		dc = key[i+1:]
	}
	return "https://" + dc + ".api.mailchimp.com/3.0"
}

func (m *Mailchimp) Kind() job.Kind { return job.KindMailchimp }

func (m *Mailchimp) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	path, field := "/campaigns", "campaigns"
	if list := stringField(cfg, "list_id"); list != "" {
		path, field = "/lists/"+url.PathEscape(list)+"/members", "members"
	}
	pageSize := intField(cfg, "page_size", 500)

	snap := snapshot{}
	offset, pages, more := 0, 0, false
	for pages < m.c.pages {
		q := url.Values{}
		q.Set("count", strconv.Itoa(pageSize))
		q.Set("offset", strconv.Itoa(offset))
		if st := stringField(cfg, "status"); st != "" && field == "members" {
			q.Set("status", st)
		}
		var page map[string]any
		if err := m.c.getJSON(ctx, path, q, &page); err != nil {
			return Result{}, err
		}
		pages++
		items, _ := page[field].([]any)
		for _, it := range items {
			obj, _ := it.(map[string]any)
			snap.add(idOf(obj, "id"), it)
		}
		offset += len(items)
		total := intField(page, "total_items", offset)
		if more = len(items) > 0 && offset < total; !more {
			break
		}
	}
	return finishPaged(m.tr, "mailchimp:"+path, snap, map[string]any{"resource": field, "pages": pages}, more), nil
}
