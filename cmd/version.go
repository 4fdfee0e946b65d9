package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var ErrVersionCheckFailed = errors.New("version check failed")

const (
	releasesURL         = "https://api.github.com/repos/airframesio/data-differ/releases/latest"
	versionCheckTimeout = 5 * time.Second
	versionCacheTTL     = 24 * time.Hour
)

var checkUpdates bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and optionally check for a newer release",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("data-differ %s\n", Version)
		if !checkUpdates {
			return
		}

		ctx, cancel := context.WithTimeout(commandContext(), versionCheckTimeout)
		defer cancel()
		release, err := latestRelease(ctx, &http.Client{Timeout: versionCheckTimeout}, releasesURL)
		if err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render("⚠️  "+err.Error()))
			return
		}
		if newerVersion(release.Version, Version) {
			fmt.Println(infoStyle.Render(fmt.Sprintf("⬆️  Update available: v%s → v%s (%s)", strings.TrimPrefix(Version, "v"), release.Version, release.URL)))
		} else {
			fmt.Println("✅ Up to date")
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&checkUpdates, "check", false, "check GitHub for a newer release")
}

// Release is the latest published release, cached between checks
type Release struct {
	Version   string    `json:"version"`
	URL       string    `json:"url"`
	CheckedAt time.Time `json:"checked_at"`
}

func getVersionCachePath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".data-differ", "version_check.json")
}

// latestRelease returns the newest release, served from cache when it is fresh
func latestRelease(ctx context.Context, client *http.Client, url string) (*Release, error) {
	if data, err := os.ReadFile(getVersionCachePath()); err == nil {
		var cached Release
		if json.Unmarshal(data, &cached) == nil && time.Since(cached.CheckedAt) < versionCacheTTL {
			return &cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "data-differ/"+Version)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVersionCheckFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrVersionCheckFailed, resp.StatusCode)
	}

	var payload struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVersionCheckFailed, err)
	}

	release := &Release{
		Version:   strings.TrimPrefix(payload.TagName, "v"),
		URL:       payload.HTMLURL,
		CheckedAt: time.Now(),
	}
	if data, err := json.Marshal(release); err == nil {
		_ = os.MkdirAll(filepath.Dir(getVersionCachePath()), 0o755)
		_ = os.WriteFile(getVersionCachePath(), data, 0o600)
	}
	return release, nil
}

// newerVersion reports whether latest is a higher major.minor.patch than current.
// Development builds never report updates.
func newerVersion(latest, current string) bool {
	if current == "" || current == "dev" {
		return false
	}
	l, c := versionParts(latest), versionParts(current)
	for i := range l {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return false
}

func versionParts(v string) [3]int {
	var parts [3]int
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	for i, s := range strings.SplitN(v, ".", 3) {
		parts[i], _ = strconv.Atoi(s)
	}
	return parts
}
