package bitbucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// NewClient creates a new Bitbucket Server client using basic auth.
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  normalizeBaseURL(baseURL),
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		BaseURL:    c.BaseURL,
		Username:   c.Username,
		Password:   c.Password,
		HTTPClient: httpClient,
	}
}

// WithBaseURL returns a new client pointed at another server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		BaseURL:    normalizeBaseURL(baseURL),
		Username:   c.Username,
		Password:   c.Password,
		HTTPClient: c.HTTPClient,
	}
}

func normalizeBaseURL(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

func repoPath(api string, r RepoRef) string {
	return fmt.Sprintf("rest/%s/projects/%s/repos/%s", api, url.PathEscape(r.Project), url.PathEscape(r.Repo))
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}
	return u
}

// doRequest performs one authenticated request. Non-2xx responses become
// *APIError carrying the status code.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.Username, c.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &APIError{HTTPCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{HTTPCode: resp.StatusCode, Message: errorMessage(respBody, resp.Status)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts the first server error message, falling back to the
// HTTP status line.
func errorMessage(body []byte, status string) string {
	var er errorsResponse
	if err := json.Unmarshal(body, &er); err == nil && len(er.Errors) > 0 && er.Errors[0].Message != "" {
		return er.Errors[0].Message
	}
	return status
}

// DeleteBranch removes refs/heads/<branch>.
func (c *Client) DeleteBranch(ctx context.Context, r RepoRef, branch string) error {
	urlStr := c.buildURL(repoPath("branch-utils/1.0", r)+"/branches", nil)
	body := deleteBranchBody{Name: "refs/heads/" + branch, DryRun: false}
	if err := c.doRequest(ctx, http.MethodDelete, urlStr, body, nil); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	return nil
}

// PullRequestVersion returns the current version of a pull request, needed
// to merge it.
func (c *Client) PullRequestVersion(ctx context.Context, r RepoRef, pr int) (int, error) {
	urlStr := c.buildURL(repoPath("api/1.0", r)+"/pull-requests/"+strconv.Itoa(pr), nil)
	var resp pullRequestResponse
	if err := c.doRequest(ctx, http.MethodGet, urlStr, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to get pull request #%d: %w", pr, err)
	}
	return resp.Version, nil
}

// MergePullRequest reads the pull request version and merges at that
// version. A concurrent update between the two calls is rejected by the
// server and returned as is.
func (c *Client) MergePullRequest(ctx context.Context, r MergePRRequest) error {
	version, err := c.PullRequestVersion(ctx, r.RepoRef, r.PR)
	if err != nil {
		return err
	}
	urlStr := c.buildURL(repoPath("api/1.0", r.RepoRef)+"/pull-requests/"+strconv.Itoa(r.PR)+"/merge",
		map[string]string{"version": strconv.Itoa(version)})

	var body interface{}
	if r.Message != "" || r.Strategy != "" {
		body = mergeBody{Message: r.Message, StrategyID: r.Strategy}
	}
	if err := c.doRequest(ctx, http.MethodPost, urlStr, body, nil); err != nil {
		return fmt.Errorf("failed to merge pull request #%d: %w", r.PR, err)
	}
	return nil
}

// CanMerge asks the server whether a pull request can be merged now.
func (c *Client) CanMerge(ctx context.Context, r RepoRef, pr int) (bool, error) {
	urlStr := c.buildURL(repoPath("api/1.0", r)+"/pull-requests/"+strconv.Itoa(pr)+"/merge", nil)
	var resp canMergeResponse
	if err := c.doRequest(ctx, http.MethodGet, urlStr, nil, &resp); err != nil {
		return false, fmt.Errorf("failed to check pull request #%d: %w", pr, err)
	}
	return resp.CanMerge, nil
}

func ref(branch string, r RepoRef) refJSON {
	return refJSON{
		ID: "refs/heads/" + branch,
		Repository: repositoryJSON{
			Slug:    r.Repo,
			Project: projectJSON{Key: r.Project},
		},
	}
}

// RaisePullRequest opens a pull request and returns its id.
func (c *Client) RaisePullRequest(ctx context.Context, r RaisePRRequest) (int, error) {
	urlStr := c.buildURL(repoPath("api/1.0", r.RepoRef)+"/pull-requests", nil)
	body := pullRequestBody{
		Title:       r.Title,
		Description: r.Body,
		State:       "OPEN",
		Open:        true,
		Closed:      false,
		FromRef:     ref(r.Origin, r.RepoRef),
		ToRef:       ref(r.Target, r.RepoRef),
		Locked:      false,
	}
	var resp pullRequestResponse
	if err := c.doRequest(ctx, http.MethodPost, urlStr, body, &resp); err != nil {
		return 0, fmt.Errorf("failed to raise pull request %s -> %s: %w", r.Origin, r.Target, err)
	}
	return resp.ID, nil
}

// CreateTag creates an annotated tag at r.SHA.
func (c *Client) CreateTag(ctx context.Context, r CreateTagRequest) error {
	urlStr := c.buildURL(repoPath("git/1.0", r.RepoRef)+"/tags", nil)
	body := tagBody{
		Message:    r.Message,
		Name:       r.Name,
		StartPoint: r.SHA,
		Type:       "ANNOTATED",
	}
	if err := c.doRequest(ctx, http.MethodPost, urlStr, body, nil); err != nil {
		return fmt.Errorf("failed to create tag %s: %w", r.Name, err)
	}
	return nil
}
