package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"mediarr/internal/eventbus"
	"mediarr/internal/kit"
	"mediarr/internal/notify"
	"mediarr/internal/notify/adapters"
	"mediarr/internal/ratelimit"
	"mediarr/internal/scheduler"
	"mediarr/internal/storage"
	logx "mediarr/pkg/logx"
)

// flakyAdapter stands in for the discord adapter so no request leaves the
// test process.
type flakyAdapter struct {
	err error
}

func (a *flakyAdapter) Kind() kit.EndpointKind           { return kit.KindDiscord }
func (a *flakyAdapter) Validate(map[string]string) error { return nil }
func (a *flakyAdapter) Send(context.Context, map[string]string, kit.Payload) error {
	return a.err
}

type testEnv struct {
	srv    *httptest.Server
	store  storage.Store
	notify *notify.Service
	flaky  *flakyAdapter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemory()
	bus := eventbus.New()

	flaky := &flakyAdapter{}
	reg := adapters.NewRegistry(nil)
	reg.Register(flaky)

	notifySvc := notify.New(notify.Config{}, store, reg, logx.Nop())

	sched := scheduler.New(scheduler.Config{TickInterval: time.Hour}, store, bus, logx.Nop())
	block := make(chan struct{})
	if err := sched.Register(scheduler.JobDef{
		Name:            "library-scan",
		IntervalSeconds: 3600,
		Run: func(ctx context.Context) error {
			<-block
			return nil
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		sched.Stop(sctx)
	})
	// Runs last-in-first-out: unblock the job before Stop waits on it.
	t.Cleanup(func() { close(block) })

	api := NewServer(Config{TestSendMax: 2, TestSendWindow: time.Minute}, sched, notifySvc, ratelimit.New(), logx.Nop())
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: store, notify: notifySvc, flaky: flaky}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestJobsListAndRunNow(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	resp := e.do(t, http.MethodGet, "/api/v1/jobs", "")
	var jobs []kit.Job
	decodeInto(t, resp, &jobs)
	if len(jobs) != 1 || jobs[0].Name != "library-scan" {
		t.Fatalf("jobs = %+v", jobs)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/jobs/library-scan/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("run status = %d, want 202", resp.StatusCode)
	}

	// The work function blocks, so a second trigger conflicts.
	resp = e.do(t, http.MethodPost, "/api/v1/jobs/library-scan/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second run status = %d, want 409", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/jobs/nope/run", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown job status = %d, want 404", resp.StatusCode)
	}
}

func TestUpdateScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	job, err := e.store.GetJobByName(context.Background(), "library-scan")
	if err != nil {
		t.Fatalf("GetJobByName: %v", err)
	}

	resp := e.do(t, http.MethodPut,
		"/api/v1/jobs/"+itoa(job.ID)+"/schedule",
		`{"schedule":"whenever","interval_seconds":0}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPut,
		"/api/v1/jobs/"+itoa(job.ID)+"/schedule",
		`{"schedule":"0 3 * * *","interval_seconds":0}`)
	var updated kit.Job
	decodeInto(t, resp, &updated)
	if updated.Schedule != "0 3 * * *" {
		t.Fatalf("schedule = %q", updated.Schedule)
	}
}

func TestEndpointCreateValidation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	// Slack endpoint missing its webhook_url is rejected at save time.
	resp := e.do(t, http.MethodPost, "/api/v1/endpoints",
		`{"name":"ops","kind":"slack","enabled":true,"config":{}}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/endpoints",
		`{"name":"ops","kind":"discord","enabled":true,"config":{"webhook_url":"https://discord.example/hook"}}`)
	var ep kit.Endpoint
	decodeInto(t, resp, &ep)
	if ep.ID.String() == "" || ep.Types != kit.EventAll {
		t.Fatalf("created endpoint = %+v", ep)
	}
}

func TestTestSendSurfacesAdapterErrorAndRateLimits(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/v1/endpoints",
		`{"name":"ops","kind":"discord","enabled":false,"config":{"webhook_url":"https://discord.example/hook"}}`)
	var ep kit.Endpoint
	decodeInto(t, resp, &ep)

	// Disabled endpoint still gets the test send.
	resp = e.do(t, http.MethodPost, "/api/v1/endpoints/"+ep.ID.String()+"/test", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test send status = %d, want 200", resp.StatusCode)
	}

	// Adapter failures surface their raw text.
	e.flaky.err = errors.New("401 unauthorized from discord")
	resp = e.do(t, http.MethodPost, "/api/v1/endpoints/"+ep.ID.String()+"/test", "")
	var body map[string]string
	status := resp.StatusCode
	decodeInto(t, resp, &body)
	if status != http.StatusBadGateway {
		t.Fatalf("failed test send status = %d, want 502", status)
	}
	if !strings.Contains(body["error"], "401 unauthorized") {
		t.Fatalf("error body = %v, want the raw adapter error", body)
	}

	// Third call exhausts the two-per-window budget.
	resp = e.do(t, http.MethodPost, "/api/v1/endpoints/"+ep.ID.String()+"/test", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("429 without Retry-After header")
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
