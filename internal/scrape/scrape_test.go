package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

var articleHTML = `<html><head><title>Go Scheduler Notes</title></head><body>
<nav>Home | About</nav>
<article><h1>Go Scheduler Notes</h1>
<p>` + strings.Repeat("The Go scheduler multiplexes goroutines onto OS threads. ", 8) + `</p>
<p>` + strings.Repeat("Work stealing keeps processors busy when local queues drain. ", 8) + `</p>
</article></body></html>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/article", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	})
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>tiny</p></body></html>"))
	})
	mux.HandleFunc("/pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsArticle(t *testing.T) {
	srv := newTestServer(t)
	f := NewFetcherWithClient(srv.Client(), 4000)

	doc, err := f.Fetch(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(doc.Text, "Work stealing") {
		t.Errorf("expected article text, got %q", doc.Text)
	}
	if doc.Title == "" {
		t.Error("expected a title")
	}
}

func TestFetchTruncates(t *testing.T) {
	srv := newTestServer(t)
	f := NewFetcherWithClient(srv.Client(), 120)

	doc, err := f.Fetch(context.Background(), srv.URL+"/article")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n := utf8.RuneCountInString(doc.Text); n != 120 {
		t.Errorf("expected 120 runes, got %d", n)
	}
}

func TestFetchNoContent(t *testing.T) {
	srv := newTestServer(t)
	f := NewFetcherWithClient(srv.Client(), 4000)

	if _, err := f.Fetch(context.Background(), srv.URL+"/empty"); !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/pdf"); err == nil {
		t.Error("expected error for non-HTML content")
	}
}

func TestFetchSkipsFailedDomain(t *testing.T) {
	srv := newTestServer(t)
	f := NewFetcherWithClient(srv.Client(), 4000)

	if _, err := f.Fetch(context.Background(), srv.URL+"/gone"); err == nil {
		t.Fatal("expected HTTP error")
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/article"); !errors.Is(err, ErrDomainSkipped) {
		t.Errorf("expected ErrDomainSkipped after failure, got %v", err)
	}
}

func TestFetchRejectsBadScheme(t *testing.T) {
	f := NewFetcher(0, 0)
	if _, err := f.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("expected error for ftp URL")
	}
}
