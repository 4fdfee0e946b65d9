package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

func TestNewerVersion(t *testing.T) {
	tests := []struct {
		latest  string
		current string
		want    bool
	}{
		{"1.2.0", "1.1.0", true},
		{"1.1.0", "1.2.0", false},
		{"1.1.0", "1.1.0", false},
		{"2.0.0", "1.9.9", true},
		{"1.10.0", "1.9.0", true},
		{"1.1.1", "v1.1.0", true},
		{"1.2.0", "1.2.0-rc.1", false},
		{"1.2", "1.1.9", true},
		{"9.9.9", "dev", false},
		{"9.9.9", "", false},
	}
	for _, tt := range tests {
		if got := newerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("newerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestLatestRelease(t *testing.T) {
	tempDir := t.TempDir()
	originalHome := os.Getenv("HOME")
	os.Setenv("HOME", tempDir)
	defer os.Setenv("HOME", originalHome)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("User-Agent") == "" {
			t.Error("GitHub requires a User-Agent")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v1.4.2","html_url":"https://github.com/airframesio/data-differ/releases/tag/v1.4.2"}`))
	}))
	defer server.Close()

	t.Run("Fetch", func(t *testing.T) {
		release, err := latestRelease(context.Background(), server.Client(), server.URL)
		if err != nil {
			t.Fatal(err)
		}
		if release.Version != "1.4.2" {
			t.Fatalf("expected 1.4.2, got %s", release.Version)
		}
	})

	t.Run("Cached", func(t *testing.T) {
		if _, err := latestRelease(context.Background(), server.Client(), server.URL); err != nil {
			t.Fatal(err)
		}
		if n := calls.Load(); n != 1 {
			t.Fatalf("second check should be served from cache, got %d calls", n)
		}
	})

	t.Run("BadStatus", func(t *testing.T) {
		os.Remove(getVersionCachePath())
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer failing.Close()

		if _, err := latestRelease(context.Background(), failing.Client(), failing.URL); !errors.Is(err, ErrVersionCheckFailed) {
			t.Fatalf("expected ErrVersionCheckFailed, got %v", err)
		}
	})
}
