package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ojscraper/internal/scraper/model"
	"ojscraper/internal/testutil"
	appErr "ojscraper/pkg/errors"
	"ojscraper/pkg/utils/logger"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestFetcher(t *testing.T, srv *httptest.Server) *Fetcher {
	t.Helper()
	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/submission/{id}", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	return f
}

func TestFetchOutcomeByStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submission/1":
			_, _ = w.Write([]byte(samplePage))
		case "/submission/2":
			w.WriteHeader(http.StatusNotFound)
		case "/submission/3":
			w.WriteHeader(http.StatusInternalServerError)
		case "/submission/4":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/submission/5":
			_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()
	f := newTestFetcher(t, srv)

	tests := []struct {
		id   int64
		want model.Status
	}{
		{id: 1, want: model.StatusFound},
		{id: 2, want: model.StatusNotFound},
		{id: 3, want: model.StatusDropped},
		{id: 4, want: model.StatusDropped},
		{id: 5, want: model.StatusDropped},
		{id: 6, want: model.StatusDropped},
	}
	for _, tt := range tests {
		got := f.Fetch(context.Background(), tt.id)
		testutil.AssertEqual(t, got.ID, tt.id)
		testutil.AssertEqual(t, got.Status, tt.want)
		testutil.AssertEqual(t, got.Record != nil, tt.want == model.StatusFound)
	}
}

func TestFetchFoundUsesTemplateOrigin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()
	f := newTestFetcher(t, srv)

	out := f.Fetch(context.Background(), 77)
	if out.Status != model.StatusFound {
		t.Fatalf("expected found, got %s", out.Status)
	}
	testutil.AssertEqual(t, out.Record.ID, int64(77))
	testutil.AssertEqual(t, out.Record.ProblemLink, srv.URL+"/problem/42")
}

func TestFetchTransportErrorIsDropped(t *testing.T) {
	f, err := NewFetcher(Config{URLTemplate: "http://127.0.0.1:1/submission/{id}", Timeout: time.Second})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	out := f.Fetch(context.Background(), 9)
	testutil.AssertEqual(t, out.Status, model.StatusDropped)
}

func TestFetchTimeoutIsDropped(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{id}", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	out := f.Fetch(context.Background(), 10)
	testutil.AssertEqual(t, out.Status, model.StatusDropped)
}

func TestFetcherURL(t *testing.T) {
	f, err := NewFetcher(Config{})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	testutil.AssertEqual(t, f.URL(12345), "https://oj.uz/submission/12345")
}

func TestTemplateOrigin(t *testing.T) {
	origin, err := TemplateOrigin("https://oj.uz/submission/{id}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, origin, "https://oj.uz")

	for _, bad := range []string{"https://oj.uz/submission/", "/submission/{id}", "::{id}"} {
		_, err := TemplateOrigin(bad)
		if err == nil {
			t.Fatalf("expected error for %q", bad)
		}
		testutil.AssertTrue(t, appErr.Is(err, appErr.InvalidConfig), "bad template should be InvalidConfig: "+bad)
		testutil.AssertTrue(t, strings.Contains(err.Error(), "template"), "error names the template")
	}
}

func TestFetchOversizedPageIsDropped(t *testing.T) {
	filler := strings.Repeat("x", DefaultMaxPageBytes+1<<20)
	page := strings.Replace(samplePage, "b; }</div>", "b; }"+filler+"END</div>", 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()
	f := newTestFetcher(t, srv)

	out := f.Fetch(context.Background(), 1)
	testutil.AssertEqual(t, out.Status, model.StatusDropped)
	testutil.AssertTrue(t, out.Record == nil, "oversized page yields no record")
}

func TestFetchPageAtLimitIsParsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	exact, err := NewFetcher(Config{URLTemplate: srv.URL + "/{id}", MaxPageBytes: int64(len(samplePage))})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	testutil.AssertEqual(t, exact.Fetch(context.Background(), 1).Status, model.StatusFound)

	short, err := NewFetcher(Config{URLTemplate: srv.URL + "/{id}", MaxPageBytes: int64(len(samplePage) - 1)})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	testutil.AssertEqual(t, short.Fetch(context.Background(), 1).Status, model.StatusDropped)
}

func TestGetRejectsBodyOverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	f, err := NewFetcher(Config{URLTemplate: srv.URL + "/{id}", MaxPageBytes: 4})
	if err != nil {
		t.Fatalf("new fetcher failed: %v", err)
	}
	_, _, err = f.get(context.Background(), f.URL(1))
	testutil.AssertTrue(t, appErr.Is(err, appErr.BodyReadFailed), "over-limit body is BodyReadFailed")
}

func TestFetchUnexpectedStatusIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	prev := logger.SetGlobal(logger.NewWithCore(core))
	defer logger.SetGlobal(prev)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	out := newTestFetcher(t, srv).Fetch(context.Background(), 3)
	testutil.AssertEqual(t, out.Status, model.StatusDropped)

	entries := logs.FilterMessage("submission returned unexpected status").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	testutil.AssertEqual(t, fields["status"], int64(http.StatusBadGateway))
	testutil.AssertEqual(t, fields["error"], "unexpected status 502")
}
