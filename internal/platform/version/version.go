// Package version reports the build version and checks it against the latest published release.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	goversion "github.com/hashicorp/go-version"
)

// Version is set at build time with -ldflags "-X .../version.Version=v1.2.3".
var Version = "v0.0.0"

const githubAPI = "https://api.github.com"

type release struct {
	TagName string `json:"tag_name"`
}

// Checker compares the running version with the latest GitHub release of Repo ("owner/name").
type Checker struct {
	Client  *http.Client
	BaseURL string
	Repo    string
}

// Latest returns the latest release tag and whether current is older than it.
func (c Checker) Latest(ctx context.Context, current string) (string, bool, error) {
	cur, err := goversion.NewVersion(current)
	if err != nil {
		return "", false, fmt.Errorf("invalid current version %q: %w", current, err)
	}

	base := c.BaseURL
	if base == "" {
		base = githubAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/repos/"+c.Repo+"/releases/latest", nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("release lookup returned %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", false, err
	}

	latest, err := goversion.NewVersion(rel.TagName)
	if err != nil {
		return "", false, fmt.Errorf("invalid release tag %q: %w", rel.TagName, err)
	}
	return rel.TagName, cur.LessThan(latest), nil
}
