// Package graph queries the lifecycle graph, the secondary data source that
// holds the current state of branches, pull requests, tags and goals.
//
// Reads are uncached and retried on transient failures. Mutations are sent
// once.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/debug"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Client configuration constants.
const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 15 * time.Second

	// DefaultReadMaxElapsed bounds how long a read is retried.
	DefaultReadMaxElapsed = 10 * time.Second

	maxResponseSize = 10 * 1024 * 1024
)

// Querier is the read-only view of the graph used while rendering.
type Querier interface {
	// Branch returns the current state of a branch, or nil when the graph
	// does not know it.
	Branch(ctx context.Context, owner, repo, branch string) (*types.Branch, error)
	// LatestTag returns the most recent tag name of a repo, or "".
	LatestTag(ctx context.Context, owner, repo string) (string, error)
}

// Mutator applies goal commands.
type Mutator interface {
	UpdateGoalState(ctx context.Context, cmd types.UpdateGoalState) error
	UpdateGoalDisplayState(ctx context.Context, cmd types.UpdateGoalDisplayState) error
	CancelGoalSet(ctx context.Context, cmd types.CancelGoalSets) error
}

// Client talks GraphQL over HTTP.
type Client struct {
	URL            string
	Token          string
	HTTPClient     *http.Client
	ReadMaxElapsed time.Duration
	// OnReadError is called once a read has failed for good.
	OnReadError func(name string, err error)
}

var (
	_ Querier = (*Client)(nil)
	_ Mutator = (*Client)(nil)
)

// NewClient creates a graph client for the endpoint at url.
func NewClient(url, token string) *Client {
	return &Client{
		URL:            url,
		Token:          token,
		HTTPClient:     &http.Client{Timeout: DefaultTimeout},
		ReadMaxElapsed: DefaultReadMaxElapsed,
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	cp := *c
	cp.HTTPClient = httpClient
	return &cp
}

// Error is a failed graph request.
type Error struct {
	StatusCode int
	Messages   []string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("graph request failed (status %d): %v", e.StatusCode, e.Messages)
	}
	return fmt.Sprintf("graph errors: %v", e.Messages)
}

type request struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do sends one GraphQL request. Transport failures and 5xx responses are
// returned as retryable; everything else is wrapped in backoff.Permanent.
func (c *Client) do(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(request{Query: query, Variables: vars})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to marshal graph request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read graph response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return &Error{StatusCode: resp.StatusCode, Messages: []string{resp.Status}}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backoff.Permanent(&Error{StatusCode: resp.StatusCode, Messages: []string{resp.Status}})
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to parse graph response: %w", err))
	}
	if len(r.Errors) > 0 {
		ge := &Error{}
		for _, e := range r.Errors {
			ge.Messages = append(ge.Messages, e.Message)
		}
		return backoff.Permanent(ge)
	}
	if out != nil && len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode graph data: %w", err))
		}
	}
	return nil
}

func (c *Client) readBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = c.ReadMaxElapsed
	return bo
}

// query runs a read with retries on transient failures.
func (c *Client) query(ctx context.Context, name, query string, vars map[string]interface{}, out interface{}) error {
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.do(ctx, query, vars, out)
		if err != nil {
			debug.Logf("graph: %s attempt %d: %v", name, attempt, err)
		}
		return err
	}, backoff.WithContext(c.readBackoff(), ctx))
	if err != nil {
		err = fmt.Errorf("graph query %s: %w", name, unwrapPermanent(err))
		if c.OnReadError != nil {
			c.OnReadError(name, err)
		}
		return err
	}
	return nil
}

// mutate sends a mutation once.
func (c *Client) mutate(ctx context.Context, name, query string, vars map[string]interface{}) error {
	if err := c.do(ctx, query, vars, nil); err != nil {
		return fmt.Errorf("graph mutation %s: %w", name, unwrapPermanent(err))
	}
	return nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
