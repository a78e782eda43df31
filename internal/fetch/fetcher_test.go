package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "   \t\n  ", ""},
		{"collapses spaces", "great   product,\t\tfast support", "great product, fast support"},
		{"keeps single newlines", "line one\n\n\nline two", "line one\nline two"},
		{"strips control chars", "be\x07fore after\x01", "before after"},
		{"trims edges", "  padded  ", "padded"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := CleanText(tc.input); got != tc.want {
				t.Fatalf("CleanText(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeISO(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input string
		want  string
	}{
		{"en", "en"},
		{"EN-us", "en"},
		{"pt_BR", "pt"},
		{"  de-DE ", "de"},
		{"", ""},
		{"english", ""},
		{"e1", ""},
		{"-us", ""},
	}

	for _, tc := range cases {
		if got := NormalizeISO(tc.input); got != tc.want {
			t.Errorf("NormalizeISO(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFetchContent_PlainText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("  the checkout   flow is\t\tbroken  "))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Options{HTTPClient: srv.Client()})
	got, err := f.FetchContent(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if got != "the checkout flow is broken" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestFetchContent_HTMLFallsBackToDOMText(t *testing.T) {
	t.Parallel()

	page := `<html><head><script>var x=1;</script></head>` +
		`<body><div class="review">Support replied within an hour. Five stars.</div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Options{HTTPClient: srv.Client()})
	got, err := f.FetchContent(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchContent: %v", err)
	}
	if !strings.Contains(got, "Support replied within an hour") {
		t.Fatalf("extracted text missing review body: %q", got)
	}
	if strings.Contains(got, "var x=1") {
		t.Fatalf("script content leaked into extracted text: %q", got)
	}
}

func TestFetchContent_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Options{HTTPClient: srv.Client()})
	if _, err := f.FetchContent(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestFetchContent_EmptyURL(t *testing.T) {
	t.Parallel()

	f := NewHTTPFetcher(Options{})
	if _, err := f.FetchContent(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
