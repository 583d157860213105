package source

import (
	"context"
	"net/url"
	"strconv"

	"ingestd/internal/ingest/job"
)

// YouTube syncs the items of a playlist (config "playlist_id") using the
// Data API v3; the settings token is the API key.
type YouTube struct {
	c   *apiClient
	key string
	tr  *Tracker
}

func NewYouTube(s Settings, tr *Tracker) *YouTube {
	return &YouTube{c: newAPIClient(job.KindYouTube, s, "https://www.googleapis.com/youtube/v3", nil), key: s.Token, tr: tr}
}

func (y *YouTube) Kind() job.Kind { return job.KindYouTube }

func (y *YouTube) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	playlist, err := requireString("youtube", cfg, "playlist_id")
	if err != nil {
		return Result{}, Errorf(job.KindYouTube, "%v", err)
	}

	snap := snapshot{}
	token, pages, more := "", 0, false
	for pages < y.c.pages {
		q := url.Values{}
		q.Set("part", "snippet,contentDetails")
		q.Set("playlistId", playlist)
		q.Set("maxResults", strconv.Itoa(min(intField(cfg, "page_size", 50), 50)))
		if y.key != "" {
			q.Set("key", y.key)
		}
		if token != "" {
			q.Set("pageToken", token)
		}
		var page struct {
			Items         []map[string]any `json:"items"`
			NextPageToken string           `json:"nextPageToken"`
		}
		if err := y.c.getJSON(ctx, "/playlistItems", q, &page); err != nil {
			return Result{}, err
		}
		pages++
		for _, it := range page.Items {
			snap.add(idOf(it, "id"), it["snippet"])
		}
		if more = page.NextPageToken != ""; !more {
			break
		}
		token = page.NextPageToken
	}
	return finishPaged(y.tr, "youtube:"+playlist, snap, map[string]any{"playlist": playlist, "pages": pages}, more), nil
}
