package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediarr/internal/kit"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

func appendRun(t *testing.T, store storage.Store, finished time.Time) {
	t.Helper()
	_, err := store.AppendRun(context.Background(), kit.JobRun{
		JobName:    "library-scan",
		StartedAt:  finished.Add(-time.Second),
		FinishedAt: finished,
		Status:     kit.RunSuccess,
		DurationMS: 1000,
	})
	if err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
}

func TestRequestCleanupPrunesOldHistory(t *testing.T) {
	t.Parallel()
	store := storage.NewMemory()
	now := time.Now().UTC()
	appendRun(t, store, now.Add(-100*24*time.Hour))
	appendRun(t, store, now.Add(-1*time.Hour))

	tk := New(Config{HistoryRetention: 90 * 24 * time.Hour}, store, nil, logx.Nop())
	if err := tk.RequestCleanup(context.Background()); err != nil {
		t.Fatalf("RequestCleanup: %v", err)
	}

	page, err := store.ListRuns(context.Background(), "", 10, 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("runs after cleanup = %d, want 1", page.Total)
	}
}

func TestSessionPruneRemovesOnlyStaleFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.session")
	fresh := filepath.Join(dir, "fresh.session")
	for _, p := range []string{stale, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	tk := New(Config{SessionDir: dir, SessionTTL: 24 * time.Hour}, storage.NewMemory(), nil, logx.Nop())
	if err := tk.SessionPrune(context.Background()); err != nil {
		t.Fatalf("SessionPrune: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file still present (err=%v)", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh file removed: %v", err)
	}
}

func TestSessionPruneMissingDirIsNoop(t *testing.T) {
	t.Parallel()
	tk := New(Config{SessionDir: filepath.Join(t.TempDir(), "gone")}, storage.NewMemory(), nil, logx.Nop())
	if err := tk.SessionPrune(context.Background()); err != nil {
		t.Fatalf("SessionPrune on missing dir: %v", err)
	}
}

func TestLibraryScanSkipsWithoutMediaServer(t *testing.T) {
	t.Parallel()
	tk := New(Config{}, storage.NewMemory(), nil, logx.Nop())
	if err := tk.LibraryScan(context.Background()); err != nil {
		t.Fatalf("LibraryScan without server: %v", err)
	}
}

func TestAvailabilitySyncCallsMediaServer(t *testing.T) {
	t.Parallel()
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Emby-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MovieCount":12,"SeriesCount":3,"EpisodeCount":80}`))
	}))
	defer srv.Close()

	tk := New(Config{MediaServerURL: srv.URL + "/", MediaServerKey: "k3y"}, storage.NewMemory(), srv.Client(), logx.Nop())
	if err := tk.AvailabilitySync(context.Background()); err != nil {
		t.Fatalf("AvailabilitySync: %v", err)
	}
	if gotPath != "/Items/Counts" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotToken != "k3y" {
		t.Fatalf("token = %q", gotToken)
	}
}

func TestMediaServerErrorCarriesBodyPreview(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tk := New(Config{MediaServerURL: srv.URL}, storage.NewMemory(), srv.Client(), logx.Nop())
	err := tk.LibraryScan(context.Background())
	if err == nil {
		t.Fatal("LibraryScan: expected error on 401")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("error = %v, want status and body preview", err)
	}
}
