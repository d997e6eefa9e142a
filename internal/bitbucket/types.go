// Package bitbucket provides a client for the Bitbucket Server REST API.
//
// The client covers the mutations offered by lifecycle actions: deleting
// branches, raising and merging pull requests and creating tags. Requests
// are made once; failures surface as *APIError and are never retried.
package bitbucket

import (
	"fmt"
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// Client provides methods to interact with the Bitbucket Server REST API.
type Client struct {
	BaseURL    string       // Server URL, always ending in "/"
	Username   string       // Basic auth user
	Password   string       // Basic auth password or personal access token
	HTTPClient *http.Client // HTTP client with timeout
}

// APIError is a failed REST call. HTTPCode is zero when no response was
// received.
type APIError struct {
	HTTPCode int
	Message  string
	Err      error
}

func (e *APIError) Error() string {
	if e.HTTPCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("bitbucket API error (status %d): %s", e.HTTPCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// RepoRef addresses a repository by project key and slug.
type RepoRef struct {
	Project string
	Repo    string
}

// RaisePRRequest describes a pull request to open from Origin into Target.
type RaisePRRequest struct {
	RepoRef
	Title  string
	Body   string
	Origin string
	Target string
}

// MergePRRequest describes a pull request merge. Message and Strategy are
// optional.
type MergePRRequest struct {
	RepoRef
	PR       int
	Message  string
	Strategy string
}

// CreateTagRequest describes an annotated tag.
type CreateTagRequest struct {
	RepoRef
	Name    string
	SHA     string
	Message string
}

// Merge strategy ids understood by Bitbucket Server.
const (
	StrategyNoFastForward = "no-ff"
	StrategySquash        = "squash"
	StrategyRebase        = "rebase-no-ff"
)

type projectJSON struct {
	Key string `json:"key"`
}

type repositoryJSON struct {
	Slug    string      `json:"slug"`
	Project projectJSON `json:"project"`
}

type refJSON struct {
	ID         string         `json:"id"`
	Repository repositoryJSON `json:"repository"`
}

type pullRequestBody struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	State       string  `json:"state"`
	Open        bool    `json:"open"`
	Closed      bool    `json:"closed"`
	FromRef     refJSON `json:"fromRef"`
	ToRef       refJSON `json:"toRef"`
	Locked      bool    `json:"locked"`
}

type pullRequestResponse struct {
	ID      int `json:"id"`
	Version int `json:"version"`
}

type mergeBody struct {
	Message    string `json:"message,omitempty"`
	StrategyID string `json:"strategyId,omitempty"`
}

type canMergeResponse struct {
	CanMerge bool `json:"canMerge"`
}

type deleteBranchBody struct {
	Name   string `json:"name"`
	DryRun bool   `json:"dryRun"`
}

type tagBody struct {
	Message    string `json:"message"`
	Name       string `json:"name"`
	StartPoint string `json:"startPoint"`
	Type       string `json:"type"`
}

type errorsResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
