package deliverable

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestProbeFetchExtractsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head>
			<title>Fallback Title</title>
			<meta property="og:title" content="Landing Page v2">
			<meta property="og:description" content="Final deliverable for review">
		</head><body>ok</body></html>`))
	}))
	defer srv.Close()

	p := NewProbe(2000, 0, zap.NewNop())
	snap, err := p.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !snap.Reachable {
		t.Fatal("expected reachable")
	}
	if snap.Title != "Landing Page v2" {
		t.Errorf("title = %q", snap.Title)
	}
	if snap.Description != "Final deliverable for review" {
		t.Errorf("description = %q", snap.Description)
	}
}

func TestProbeFetchFallsBackToTitleTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Plain Title</title></head><body></body></html>`))
	}))
	defer srv.Close()

	p := NewProbe(2000, 0, zap.NewNop())
	snap, err := p.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Title != "Plain Title" {
		t.Errorf("title = %q", snap.Title)
	}
}

func TestProbeFetchNon200IsNotReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewProbe(2000, 0, zap.NewNop())
	snap, err := p.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Reachable {
		t.Error("404 should not be reachable")
	}
	if snap.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", snap.StatusCode)
	}
}

func TestProbeFetchNonHTMLSkipsParsing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte{0x50, 0x4b, 0x03, 0x04})
	}))
	defer srv.Close()

	p := NewProbe(2000, 0, zap.NewNop())
	snap, err := p.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Reachable {
		t.Error("zip download should count as reachable")
	}
	if snap.Title != "" {
		t.Errorf("title should be empty for non-html, got %q", snap.Title)
	}
}

func TestProbeFetchRejectsBadScheme(t *testing.T) {
	p := NewProbe(2000, 0, zap.NewNop())
	if _, err := p.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("ftp url should be rejected")
	}
	if _, err := p.Fetch(context.Background(), "::not-a-url"); err == nil {
		t.Error("malformed url should be rejected")
	}
}

func TestProbeFetchDeadHostIsNotError(t *testing.T) {
	p := NewProbe(200, 0, zap.NewNop())
	snap, err := p.Fetch(context.Background(), "http://127.0.0.1:1")
	if err != nil {
		t.Fatalf("dead host must not error: %v", err)
	}
	if snap.Reachable {
		t.Error("dead host should not be reachable")
	}
}
