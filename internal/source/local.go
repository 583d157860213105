package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ingestd/internal/ingest/job"
)

// Local syncs a directory tree (config "path"). Files are fingerprinted by
// size and modification time; "pattern" filters by base name (filepath.Match)
// and "recursive": false limits the walk to the top level.
type Local struct {
	root string
	tr   *Tracker
}

func NewLocal(s Settings, tr *Tracker) *Local {
	return &Local{root: strings.TrimSpace(s.Root), tr: tr}
}

func (l *Local) Kind() job.Kind { return job.KindLocal }

func (l *Local) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	if l.root == "" {
		return filepath.Clean(p), nil
	}
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(l.root, p)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("local: path %q outside root %q", p, l.root)
		}
		return filepath.Clean(p), nil
	}
	joined := filepath.Join(l.root, p)
	if rel, err := filepath.Rel(l.root, joined); err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("local: path %q outside root %q", p, l.root)
	}
	return joined, nil
}

func (l *Local) Sync(ctx context.Context, cfg map[string]any) (Result, error) {
	if stringField(cfg, "path") == "" && l.root == "" {
		return Result{}, Errorf(job.KindLocal, "local: config \"path\" required")
	}
	dir, err := l.resolve(stringField(cfg, "path"))
	if err != nil {
		return Result{}, Errorf(job.KindLocal, "%v", err)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return Result{}, Wrap(job.KindLocal, err)
	}
	if !st.IsDir() {
		return Result{}, Errorf(job.KindLocal, "local: %s is not a directory", dir)
	}

	pattern := stringField(cfg, "pattern")
	if pattern != "" {
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return Result{}, Errorf(job.KindLocal, "local: bad pattern %q: %v", pattern, err)
		}
	}
	recursive := boolField(cfg, "recursive", true)

	snap := snapshot{}
	var bytes int64
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			if p != dir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, d.Name()); !ok {
				return nil
			}
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, p)
		snap[filepath.ToSlash(rel)] = hashString(fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()))
		bytes += info.Size()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, Wrap(job.KindLocal, err)
	}
	return finish(l.tr, "local:"+dir+"|"+pattern, snap, map[string]any{"path": dir, "bytes": bytes}), nil
}
