// Package tasks implements the work functions behind the seeded
// maintenance jobs. Each function is self-contained and safe to skip when
// its backing resource is not configured.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediarr/internal/scheduler"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

type Config struct {
	// MediaServerURL is the base URL of the media server (Jellyfin/Emby
	// compatible API). Empty disables the scan and sync jobs.
	MediaServerURL string
	// MediaServerKey authenticates scan and sync calls.
	MediaServerKey string
	// ImageCacheDir holds cached artwork; files older than ImageCacheTTL
	// are removed by the weekly cleanup.
	ImageCacheDir string
	ImageCacheTTL time.Duration
	// SessionDir holds file-backed sessions pruned after SessionTTL.
	SessionDir string
	SessionTTL time.Duration
	// HistoryRetention bounds the job_runs table; the nightly cleanup
	// deletes older entries.
	HistoryRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.ImageCacheTTL <= 0 {
		c.ImageCacheTTL = 30 * 24 * time.Hour
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 24 * time.Hour
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 90 * 24 * time.Hour
	}
	return c
}

type Tasks struct {
	cfg    Config
	store  storage.Store
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, store storage.Store, client *http.Client, log logx.Logger) *Tasks {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tasks{cfg: cfg.withDefaults(), store: store, client: client, log: log}
}

// Defs returns the seed job set wired to this instance's work functions.
func (t *Tasks) Defs() []scheduler.JobDef {
	return []scheduler.JobDef{
		{Name: "library-scan", IntervalSeconds: 3600, Timeout: 30 * time.Minute, Run: t.LibraryScan},
		{Name: "availability-sync", IntervalSeconds: 300, Timeout: 5 * time.Minute, Run: t.AvailabilitySync},
		{Name: "request-cleanup", Schedule: "0 3 * * *", Timeout: 10 * time.Minute, Run: t.RequestCleanup},
		{Name: "image-cache-cleanup", Schedule: "0 5 * * 1", Timeout: 30 * time.Minute, Run: t.ImageCacheCleanup},
		{Name: "session-prune", IntervalSeconds: 21600, Timeout: 5 * time.Minute, Run: t.SessionPrune},
	}
}

// LibraryScan asks the media server to refresh its libraries.
func (t *Tasks) LibraryScan(ctx context.Context) error {
	if t.cfg.MediaServerURL == "" {
		t.log.Debug("library-scan: no media server configured, skipping")
		return nil
	}
	return t.mediaServerPost(ctx, "/Library/Refresh")
}

// AvailabilitySync pulls item counts from the media server so availability
// flags on requests can be reconciled.
func (t *Tasks) AvailabilitySync(ctx context.Context) error {
	if t.cfg.MediaServerURL == "" {
		t.log.Debug("availability-sync: no media server configured, skipping")
		return nil
	}

	var counts struct {
		MovieCount   int `json:"MovieCount"`
		SeriesCount  int `json:"SeriesCount"`
		EpisodeCount int `json:"EpisodeCount"`
	}
	if err := t.mediaServerGet(ctx, "/Items/Counts", &counts); err != nil {
		return err
	}
	t.log.Info("availability sync complete",
		logx.Int("movies", counts.MovieCount),
		logx.Int("series", counts.SeriesCount),
		logx.Int("episodes", counts.EpisodeCount),
	)
	return nil
}

// RequestCleanup prunes job history beyond the retention window.
func (t *Tasks) RequestCleanup(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-t.cfg.HistoryRetention)
	n, err := t.store.PruneRuns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning run history: %w", err)
	}
	t.log.Info("run history pruned", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	return nil
}

// ImageCacheCleanup removes cached artwork not touched within the TTL.
func (t *Tasks) ImageCacheCleanup(ctx context.Context) error {
	return t.pruneDir(ctx, t.cfg.ImageCacheDir, t.cfg.ImageCacheTTL, "image-cache-cleanup")
}

// SessionPrune removes expired file-backed sessions.
func (t *Tasks) SessionPrune(ctx context.Context) error {
	return t.pruneDir(ctx, t.cfg.SessionDir, t.cfg.SessionTTL, "session-prune")
}

// pruneDir deletes regular files under dir older than ttl. A missing or
// unconfigured dir is a no-op, not an error.
func (t *Tasks) pruneDir(ctx context.Context, dir string, ttl time.Duration, job string) error {
	if dir == "" {
		t.log.Debug("no directory configured, skipping", logx.String("job", job))
		return nil
	}
	cutoff := time.Now().Add(-ttl)

	var removed int
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			t.log.Warn("removing stale file failed", logx.String("path", path), logx.Err(err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pruning %s: %w", dir, err)
	}
	t.log.Info("stale files pruned", logx.String("job", job), logx.Int("removed", removed))
	return nil
}

func (t *Tasks) mediaServerPost(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.mediaURL(path), nil)
	if err != nil {
		return err
	}
	return t.doMedia(req, nil)
}

func (t *Tasks) mediaServerGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.mediaURL(path), nil)
	if err != nil {
		return err
	}
	return t.doMedia(req, out)
}

func (t *Tasks) mediaURL(path string) string {
	return strings.TrimRight(t.cfg.MediaServerURL, "/") + path
}

func (t *Tasks) doMedia(req *http.Request, out any) error {
	req.Header.Set("X-Emby-Token", t.cfg.MediaServerKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("media server request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("media server status %d: %s", resp.StatusCode, strings.TrimSpace(string(preview)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode media server response: %w", err)
	}
	return nil
}
