// Package github is a minimal client for the GitHub REST operations the
// runner needs: opening pull requests, resolving the default branch,
// and checking branch existence.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

const userAgent = "foreman"

// APIError reports a non-2xx GitHub response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github api error (%d): %s", e.StatusCode, e.Body)
}

// Client issues GitHub REST calls. The zero value is not usable; use
// NewClient.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client against baseURL, which may be empty for
// the public API.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// PullRequestOptions describes a pull request to create.
type PullRequestOptions struct {
	Token string
	Owner string
	Repo  string
	Title string
	Body  string
	Head  string
	Base  string
}

// CreatePullRequest opens a pull request and returns its canonical URL.
func (c *Client) CreatePullRequest(ctx context.Context, opts PullRequestOptions) (string, error) {
	payload := map[string]any{
		"title":                 opts.Title,
		"head":                  opts.Head,
		"base":                  opts.Base,
		"body":                  opts.Body,
		"maintainer_can_modify": true,
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", opts.Owner, opts.Repo)

	var pr struct {
		HTMLURL string `json:"html_url"`
		URL     string `json:"url"`
	}
	if err := c.do(ctx, http.MethodPost, path, opts.Token, payload, &pr); err != nil {
		return "", err
	}

	if pr.HTMLURL != "" {
		return pr.HTMLURL, nil
	}
	return pr.URL, nil
}

// DefaultBranch returns the repository's configured default branch.
func (c *Client) DefaultBranch(ctx context.Context, token, owner, repo string) (string, error) {
	var info struct {
		DefaultBranch string `json:"default_branch"`
	}
	path := fmt.Sprintf("/repos/%s/%s", owner, repo)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &info); err != nil {
		return "", err
	}
	return info.DefaultBranch, nil
}

// BranchExists reports whether the named branch exists on the remote.
// A 404 maps to false; any other non-2xx response is an error.
func (c *Client) BranchExists(ctx context.Context, token, owner, repo, branch string) (bool, error) {
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, branch)
	err := c.do(ctx, http.MethodGet, path, token, nil, nil)
	if err == nil {
		return true, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return false, nil
	}
	return false, err
}

func (c *Client) do(ctx context.Context, method, path, token string, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(details))}
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
