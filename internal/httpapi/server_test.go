package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/eventmerge/internal/ingest"
	"horse.fit/eventmerge/internal/model"
	"horse.fit/eventmerge/internal/store"
	"horse.fit/eventmerge/internal/store/memory"
)

const candidateJSON = `{
	"source_type":"rss",
	"source_url":"https://example.org/events/7",
	"data":{
		"title":"Laternenumzug",
		"start_at":"2026-11-11T17:00:00Z",
		"venue_name":"Marktplatz",
		"city":"Göttingen",
		"categories":["kids"]
	}
}`

type apiFixture struct {
	store  *memory.Store
	source store.Source
	server *Server
}

func newAPIFixture(t *testing.T, pinger Pinger) *apiFixture {
	t.Helper()

	st := memory.New()
	src := st.AddSource(store.Source{Name: "city feed", Type: model.SourceRSS, Enabled: true})
	proc := ingest.NewProcessor(st, ingest.DefaultOptions(), zerolog.Nop())
	coord := ingest.NewCoordinator(proc, st, zerolog.Nop())
	return &apiFixture{
		store:  st,
		source: src,
		server: NewServer(coord, st, pinger, zerolog.Nop(), Options{}),
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(path, "/api/") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestSubmitBatchCreatesRun(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	body := "[" + candidateJSON + `, {"data":{"title":5}}]`

	rec, env := f.do(t, http.MethodPost, "/api/v1/sources/1/batches", body)
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("expected success, got %d %s", rec.Code, rec.Body.String())
	}

	var resp batchResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	if resp.Summary.Found != 1 || resp.Summary.Created != 1 {
		t.Fatalf("unexpected summary: %+v", resp.Summary)
	}
	if len(resp.Rejected) != 1 || resp.Rejected[0].Index != 1 {
		t.Fatalf("expected item 1 to be rejected, got %+v", resp.Rejected)
	}
	if len(f.store.Events()) != 1 {
		t.Fatalf("expected one event, got %d", len(f.store.Events()))
	}

	rec, env = f.do(t, http.MethodGet, "/api/v1/runs/"+resp.RunID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected run lookup to succeed, got %d %s", rec.Code, rec.Body.String())
	}
	var run store.Run
	if err := json.Unmarshal(env.Data, &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Status != store.RunSuccess || run.Counts.Created != 1 || run.FinishedAt == nil {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestSubmitBatchNDJSONRepeatIsUnchanged(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	line := strings.Join(strings.Fields(candidateJSON), " ")

	for i, want := range []ingest.ItemStatus{ingest.ItemCreated, ingest.ItemUnchanged} {
		rec, env := f.do(t, http.MethodPost, "/api/v1/sources/1/batches", line+"\n")
		if rec.Code != http.StatusOK {
			t.Fatalf("submission %d: expected 200, got %d %s", i, rec.Code, rec.Body.String())
		}
		var resp batchResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			t.Fatalf("decode batch response: %v", err)
		}
		if len(resp.Results) != 1 || resp.Results[0].Status != want {
			t.Fatalf("submission %d: expected %s, got %+v", i, want, resp.Results)
		}
	}
}

func TestSubmitBatchValidationFailures(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{name: "bad source id", path: "/api/v1/sources/abc/batches", body: "[" + candidateJSON + "]", code: http.StatusBadRequest},
		{name: "unknown source", path: "/api/v1/sources/99/batches", body: "[" + candidateJSON + "]", code: http.StatusNotFound},
		{name: "empty", path: "/api/v1/sources/1/batches", body: "[]", code: http.StatusBadRequest},
		{name: "malformed", path: "/api/v1/sources/1/batches", body: "[{", code: http.StatusBadRequest},
		{name: "all invalid", path: "/api/v1/sources/1/batches", body: `[{"data":{"title":5}}]`, code: http.StatusBadRequest},
		{name: "strict", path: "/api/v1/sources/1/batches?strict=true", body: "[" + candidateJSON + `, {"data":{"title":5}}]`, code: http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec, env := f.do(t, http.MethodPost, tc.path, tc.body)
		if rec.Code != tc.code || env.Status != "fail" {
			t.Fatalf("%s: expected fail %d, got %d %s", tc.name, tc.code, rec.Code, rec.Body.String())
		}
	}
	if n := len(f.store.Events()); n != 0 {
		t.Fatalf("rejected batches must not write events, got %d", n)
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec, env := f.do(t, http.MethodGet, "/api/v1/runs/missing", "")
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected 404 fail, got %d %s", rec.Code, rec.Body.String())
	}
}

type pingerFunc func(context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

func TestHealth(t *testing.T) {
	t.Parallel()

	ok := newAPIFixture(t, pingerFunc(func(context.Context) error { return nil }))
	rec, env := ok.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK || env.Status != "success" {
		t.Fatalf("expected healthy, got %d %s", rec.Code, rec.Body.String())
	}

	down := newAPIFixture(t, pingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	rec, env = down.do(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusInternalServerError || env.Status != "error" {
		t.Fatalf("expected error envelope, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAndUnknownRoute(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil)
	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected prometheus exposition, got %d", rec.Code)
	}

	rec, env := f.do(t, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || env.Status != "fail" {
		t.Fatalf("expected jsend 404, got %d %s", rec.Code, rec.Body.String())
	}
}
