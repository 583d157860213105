package source

import (
	"context"
	"net/url"
	"strconv"

	"ingestd/internal/ingest/job"
)

// Airtable syncs the records of one table (config "base_id", "table",
// optional "view").
type Airtable struct {
	c  *apiClient
	tr *Tracker
}

func NewAirtable(s Settings, tr *Tracker) *Airtable {
	return &Airtable{c: newAPIClient(job.KindAirtable, s, "https://api.airtable.com/v0", bearer(s.Token)), tr: tr}
}

func (a *Airtable) Kind() job.Kind { return job.KindAirtable }

func (a *Airtable) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	base, err := requireString("airtable", cfg, "base_id")
	if err != nil {
		return Result{}, Errorf(job.KindAirtable, "%v", err)
	}
	table, err := requireString("airtable", cfg, "table")
	if err != nil {
		return Result{}, Errorf(job.KindAirtable, "%v", err)
	}
	path := "/" + url.PathEscape(base) + "/" + url.PathEscape(table)

	snap := snapshot{}
	offset, pages, more := "", 0, false
	for pages < a.c.pages {
		q := url.Values{}
		q.Set("pageSize", strconv.Itoa(min(intField(cfg, "page_size", 100), 100)))
		if v := stringField(cfg, "view"); v != "" {
			q.Set("view", v)
		}
		if offset != "" {
			q.Set("offset", offset)
		}
		var page struct {
			Records []map[string]any `json:"records"`
			Offset  string           `json:"offset"`
		}
		if err := a.c.getJSON(ctx, path, q, &page); err != nil {
			return Result{}, err
		}
		pages++
		for _, rec := range page.Records {
			snap.add(idOf(rec, "id"), rec)
		}
		if more = page.Offset != ""; !more {
			break
		}
		offset = page.Offset
	}
	return finishPaged(a.tr, "airtable:"+path, snap, map[string]any{"table": table, "pages": pages}, more), nil
}
