package source

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"ingestd/internal/ingest/job"
)

// GitHub syncs a repository's issues (default) or the files under a
// directory (config "resource": "contents", optional "path").
type GitHub struct {
	c  *apiClient
	tr *Tracker
}

func NewGitHub(s Settings, tr *Tracker) *GitHub {
	auth := bearer(s.Token)
	c := newAPIClient(job.KindGitHub, s, "https://api.github.com", func(r *http.Request) {
		auth(r)
		r.Header.Set("Accept", "application/vnd.github+json")
		r.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	})
	return &GitHub{c: c, tr: tr}
}

func (g *GitHub) Kind() job.Kind { return job.KindGitHub }

func (g *GitHub) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	owner, repo, err := g.repo(cfg)
	if err != nil {
		return Result{}, err
	}
	if strings.EqualFold(stringField(cfg, "resource"), "contents") {
		return g.contents(ctx, owner, repo, stringField(cfg, "path"))
	}
	return g.issues(ctx, owner, repo, cfg)
}

// repo accepts "owner"+"repo" or "repo": "owner/name".
func (g *GitHub) repo(cfg map[string]any) (string, string, error) {
	owner, repo := stringField(cfg, "owner"), stringField(cfg, "repo")
	if owner == "" {
		if o, r, ok := strings.Cut(repo, "/"); ok {
			owner, repo = o, r
		}
	}
	if owner == "" || repo == "" {
		return "", "", Errorf(job.KindGitHub, "github: config \"owner\" and \"repo\" required")
	}
	return owner, repo, nil
}

func (g *GitHub) issues(ctx context.Context, owner, repo string, cfg map[string]any) (Result, error) {
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/issues"
	perPage := min(intField(cfg, "page_size", 100), 100)
	state := stringField(cfg, "state")
	if state == "" {
		state = "all"
	}

	snap := snapshot{}
	pages, more := 0, false
	for pages < g.c.pages {
		q := url.Values{}
		q.Set("state", state)
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(pages+1))
		if labels := stringsField(cfg, "labels"); len(labels) > 0 {
			q.Set("labels", strings.Join(labels, ","))
		}
		var items []map[string]any
		if err := g.c.getJSON(ctx, path, q, &items); err != nil {
			return Result{}, err
		}
		pages++
		for _, it := range items {
			snap.add(idOf(it, "number"), map[string]any{
				"title":      it["title"],
				"state":      it["state"],
				"updated_at": it["updated_at"],
			})
		}
		if more = len(items) >= perPage; !more {
			break
		}
	}
	return finishPaged(g.tr, "github:"+path+"?state="+state, snap, map[string]any{"resource": "issues", "pages": pages}, more), nil
}

func (g *GitHub) contents(ctx context.Context, owner, repo, dir string) (Result, error) {
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/contents"
	if dir = strings.Trim(dir, "/"); dir != "" {
		path += "/" + dir
	}
	var entries []map[string]any
	if err := g.c.getJSON(ctx, path, nil, &entries); err != nil {
		return Result{}, err
	}
	snap := snapshot{}
	for _, e := range entries {
		if idOf(e, "type") != "file" {
			continue
		}
		snap[idOf(e, "path")] = hashString(idOf(e, "sha"))
	}
	return finish(g.tr, "github:"+path, snap, map[string]any{"resource": "contents", "entries": len(entries)}), nil
}
