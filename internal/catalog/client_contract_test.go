package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(srv.URL, "testkey", 2*time.Second, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestLookup_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/titles" {
			t.Errorf("path = %s, want /titles", r.URL.Path)
		}
		if got := r.URL.Query().Get("id"); got != "tt0133093" {
			t.Errorf("id = %s, want tt0133093", got)
		}
		if got := r.Header.Get("X-Api-Key"); got != "testkey" {
			t.Errorf("api key = %s, want testkey", got)
		}
		_ = json.NewEncoder(w).Encode(Entry{
			ExternalID: "tt0133093",
			Title:      "The Matrix",
			Category:   "movie",
			Genres:     []string{"Action", "Sci-Fi"},
		})
	})

	entry, err := client.Lookup(context.Background(), "tt0133093")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.Title != "The Matrix" || entry.Category != "movie" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if len(entry.Genres) != 2 {
		t.Fatalf("genres = %v, want 2 entries", entry.Genres)
	}
}

func TestLookup_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	if _, err := client.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLookup_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	if _, err := client.Lookup(context.Background(), "tt1"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want upstream error", err)
	}
}

func TestLookup_FillsMissingID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Entry{Title: "Untitled", Category: "show"})
	})

	entry, err := client.Lookup(context.Background(), "tt42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.ExternalID != "tt42" {
		t.Fatalf("external id = %s, want tt42", entry.ExternalID)
	}
}
