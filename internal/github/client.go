// Package github fetches repository file content for reference resolution.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrFileNotFound is returned when the requested path does not exist on
// the requested branch.
var ErrFileNotFound = errors.New("github: file not found")

// ErrRateLimited is returned when GitHub rejects the request with 403/429.
var ErrRateLimited = errors.New("github: rate limited")

const maxFileBytes = 2 * 1024 * 1024

// Config holds client configuration.
type Config struct {
	RawBaseURL string // defaults to https://raw.githubusercontent.com
	APIBaseURL string // defaults to https://api.github.com
	Token      string // optional, raises rate limits and opens private repos
	Timeout    time.Duration
}

// Client talks to GitHub's raw content host and REST API.
type Client struct {
	rawBaseURL string
	apiBaseURL string
	token      string
	httpClient *http.Client
}

// NewClient creates a GitHub content client.
func NewClient(cfg Config) *Client {
	rawBase := strings.TrimSuffix(cfg.RawBaseURL, "/")
	if rawBase == "" {
		rawBase = "https://raw.githubusercontent.com"
	}
	apiBase := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		rawBaseURL: rawBase,
		apiBaseURL: apiBase,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchRawFile downloads one file from raw.githubusercontent.com. The
// path is escaped per segment so names with spaces resolve correctly.
func (c *Client) FetchRawFile(ctx context.Context, owner, repo, branch, path string) (string, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/%s",
		c.rawBaseURL,
		url.PathEscape(owner),
		url.PathEscape(repo),
		url.PathEscape(branch),
		escapePath(path),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrFileNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, path)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFileBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(body), nil
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// ListTree returns the blob paths of a branch via the git trees API.
func (c *Client) ListTree(ctx context.Context, owner, repo, branch string) ([]string, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1",
		c.apiBaseURL,
		url.PathEscape(owner),
		url.PathEscape(repo),
		url.PathEscape(branch),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list tree: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrFileNotFound
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d listing tree", resp.StatusCode)
	}

	var tree treeResponse
	if err := json.NewDecoder(resp.Body).Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree: %w", err)
	}

	paths := make([]string, 0, len(tree.Tree))
	for _, entry := range tree.Tree {
		if entry.Type == "blob" {
			paths = append(paths, entry.Path)
		}
	}
	return paths, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
