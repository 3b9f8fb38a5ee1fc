// Package upgrade looks up the latest published release and compares it with
// the running version.
package upgrade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-semver/semver"
)

const (
	// DefaultReleaseURL is the endpoint for fetching latest release info.
	DefaultReleaseURL = "https://api.github.com/repos/workerlink/workerlink/releases/latest"

	UserAgent = "workerlink-upgrade/1.0"

	// HTTPTimeout bounds one release lookup.
	HTTPTimeout = 30 * time.Second

	maxAPIResponseSize = 1 << 20
	maxErrorBodySize   = 4 << 10
)

// Release is the subset of a GitHub release this package reads.
type Release struct {
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

// Version returns the tag without its leading "v".
func (r *Release) Version() string {
	return strings.TrimPrefix(r.TagName, "v")
}

// Checker compares the running version against the latest release.
type Checker struct {
	url     string
	current string
	client  *http.Client
}

// NewChecker returns a checker using url, or DefaultReleaseURL when url is empty.
func NewChecker(url, current string) *Checker {
	if url == "" {
		url = DefaultReleaseURL
	}
	return &Checker{
		url:     url,
		current: current,
		client:  &http.Client{Timeout: HTTPTimeout},
	}
}

// Latest fetches the latest release.
func (c *Checker) Latest(ctx context.Context) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("release lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var release Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIResponseSize)).Decode(&release); err != nil {
		return nil, fmt.Errorf("parsing release info: %w", err)
	}
	return &release, nil
}

// Check returns the latest version when it is newer than the running one,
// or "" when the running version is current. Drafts and prereleases are ignored.
func (c *Checker) Check(ctx context.Context) (string, error) {
	release, err := c.Latest(ctx)
	if err != nil {
		return "", err
	}
	if release.Draft || release.Prerelease {
		return "", nil
	}
	newer, err := IsNewer(c.current, release.Version())
	if err != nil {
		return "", err
	}
	if !newer {
		return "", nil
	}
	return release.Version(), nil
}

// IsNewer reports whether latest is a higher semantic version than current.
// Both may carry a leading "v". A development build ("dev" or "") is never
// offered an upgrade.
func IsNewer(current, latest string) (bool, error) {
	current = strings.TrimPrefix(current, "v")
	if current == "" || current == "dev" {
		return false, nil
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false, fmt.Errorf("parsing current version %q: %w", current, err)
	}
	lat, err := semver.NewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return false, fmt.Errorf("parsing latest version %q: %w", latest, err)
	}
	return cur.LessThan(*lat), nil
}
