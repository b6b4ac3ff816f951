// Package githost adapts the agent's git/PR operations onto a repository
// hosting provider. The git plumbing itself (branch, commit, push) runs
// inside the sandbox via its run_command surface; this package covers only
// what must cross to the hosting API proper: pull request creation, review
// comments, and merges.
package githost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// githubAPIBase is a var (not a const) so tests can point it at an
// httptest server.
var githubAPIBase = "https://api.github.com"

// PullRequest is the result of creating or reading back a pull request.
type PullRequest struct {
	URL    string
	Number int
	State  string
}

// MergeResult reports the outcome of merging a pull request.
type MergeResult struct {
	Merged  bool
	SHA     string
	Message string
}

// Client is the repository-hosting capability. The orchestrator agent's
// create_pr tool uses DefaultBranch and CreatePR; no agent tool calls
// PostReviewComment or MergePR.
type Client interface {
	CreatePR(ctx context.Context, repoFullName, title, body, head, base string) (*PullRequest, error)
	PostReviewComment(ctx context.Context, repoFullName string, number int, body string) error
	MergePR(ctx context.Context, repoFullName string, number int) (*MergeResult, error)
	DefaultBranch(ctx context.Context, repoFullName string) (string, error)
}

// PATClient implements Client over the GitHub REST API using a personal
// access token, the only authentication mode observed anywhere in the
// retrieved corpus (no repo there pulls in a GitHub SDK).
type PATClient struct {
	token      string
	httpClient *http.Client
}

// NewPATClient builds a Client authenticating with a bearer token.
func NewPATClient(token string) *PATClient {
	return &PATClient{
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type patRepo struct {
	DefaultBranch string `json:"default_branch"`
}

func (c *PATClient) DefaultBranch(ctx context.Context, repoFullName string) (string, error) {
	var repo patRepo
	if err := c.get(ctx, "/repos/"+repoFullName, &repo); err != nil {
		return "", fmt.Errorf("get repo: %w", err)
	}
	return repo.DefaultBranch, nil
}

type patPR struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

func (c *PATClient) CreatePR(ctx context.Context, repoFullName, title, body, head, base string) (*PullRequest, error) {
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  base,
	})
	if err != nil {
		return nil, err
	}
	var raw patPR
	if err := c.post(ctx, "/repos/"+repoFullName+"/pulls", payload, &raw); err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	return &PullRequest{URL: raw.HTMLURL, Number: raw.Number, State: raw.State}, nil
}

func (c *PATClient) PostReviewComment(ctx context.Context, repoFullName string, number int, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("/repos/%s/issues/%d/comments", repoFullName, number)
	return c.post(ctx, endpoint, payload, nil)
}

type patMergeResult struct {
	Merged  bool   `json:"merged"`
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

func (c *PATClient) MergePR(ctx context.Context, repoFullName string, number int) (*MergeResult, error) {
	var raw patMergeResult
	endpoint := fmt.Sprintf("/repos/%s/pulls/%d/merge", repoFullName, number)
	if err := c.put(ctx, endpoint, nil, &raw); err != nil {
		return nil, fmt.Errorf("merge pull request: %w", err)
	}
	return &MergeResult{Merged: raw.Merged, SHA: raw.SHA, Message: raw.Message}, nil
}

func (c *PATClient) get(ctx context.Context, endpoint string, result any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, result)
}

func (c *PATClient) post(ctx context.Context, endpoint string, body []byte, result any) error {
	return c.do(ctx, http.MethodPost, endpoint, body, result)
}

func (c *PATClient) put(ctx context.Context, endpoint string, body []byte, result any) error {
	return c.do(ctx, http.MethodPut, endpoint, body, result)
}

func (c *PATClient) do(ctx context.Context, method, endpoint string, body []byte, result any) error {
	url := githubAPIBase + endpoint
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("github api %s %s returned %d: %s", method, endpoint, resp.StatusCode, string(respBody))
	}
	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

var repoFullNamePattern = regexp.MustCompile(`github\.com[/:](.+?)(?:\.git)?$`)

// ExtractRepoFullName pulls "owner/repo" out of a GitHub clone URL.
func ExtractRepoFullName(repoURL string) (string, error) {
	match := repoFullNamePattern.FindStringSubmatch(repoURL)
	if match == nil {
		return "", fmt.Errorf("githost: cannot parse repo name from url %q", repoURL)
	}
	return strings.Trim(match[1], "/"), nil
}
