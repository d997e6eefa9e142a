package main

import (
	"context"
	"fmt"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/bitbucket"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/telemetry"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// newGraphClient builds the graph client from config. Failed reads are
// counted on in when it is non-nil.
func newGraphClient(in *telemetry.Instruments) (*graph.Client, error) {
	url := config.GetString(config.KeyGraphURL)
	if url == "" {
		return nil, fmt.Errorf("%s is not set", config.KeyGraphURL)
	}
	c := graph.NewClient(url, config.GetString(config.KeyGraphToken))
	if in != nil {
		c.OnReadError = func(name string, err error) {
			in.ReadFailed(context.Background(), name)
		}
	}
	return c, nil
}

func newBitbucketClient() (*bitbucket.Client, error) {
	url := config.GetString(config.KeyBitbucketURL)
	if url == "" {
		return nil, fmt.Errorf("%s is not set", config.KeyBitbucketURL)
	}
	return bitbucket.NewClient(url,
		config.GetString(config.KeyBitbucketUsername),
		config.GetString(config.KeyBitbucketPassword)), nil
}

// contributorIDs lists the ids of the contributors held by r.
func contributorIDs(r *lifecycle.Registry) []string {
	cs := r.Contributors()
	ids := make([]string, 0, len(cs))
	seen := make(map[string]bool, len(cs))
	for _, c := range cs {
		if !seen[c.ID()] {
			seen[c.ID()] = true
			ids = append(ids, c.ID())
		}
	}
	return ids
}

// offlineGraph answers graph reads with nothing so events can be rendered
// without a graph endpoint.
type offlineGraph struct{}

func (offlineGraph) Branch(ctx context.Context, owner, repo, branch string) (*types.Branch, error) {
	return nil, nil
}

func (offlineGraph) LatestTag(ctx context.Context, owner, repo string) (string, error) {
	return "", nil
}
