package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/commands"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/config"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

const pushYAML = `
node:
  kind: push
  push:
    branch: feature/x
    repo:
      owner: PRJ
      name: svc
      defaultBranch: master
      providerType: bitbucket
    after:
      sha: abc1234
      message: Add x
channel: svc-builds
`

func TestDecodeEvent(t *testing.T) {
	jsonEvent, err := json.Marshal(lifecycle.Event{
		Node: types.PushNode(&types.Push{
			Branch: "feature/x",
			Repo:   &types.Repo{Owner: "PRJ", Name: "svc"},
			After:  &types.Commit{SHA: "abc1234"},
		}),
		Channel: "svc-builds",
	})
	if err != nil {
		t.Fatal(err)
	}

	for name, data := range map[string]string{"json": string(jsonEvent), "yaml": pushYAML} {
		t.Run(name, func(t *testing.T) {
			e, err := decodeEvent([]byte(data))
			if err != nil {
				t.Fatalf("decodeEvent: %v", err)
			}
			if e.Node.Kind != types.KindPush || e.Node.Push == nil {
				t.Fatalf("node = %+v, want a push", e.Node)
			}
			if e.Node.Push.Branch != "feature/x" || e.Channel != "svc-builds" {
				t.Errorf("decoded branch %q channel %q", e.Node.Push.Branch, e.Channel)
			}
			if e.Node.Push.After == nil || e.Node.Push.After.SHA != "abc1234" {
				t.Errorf("After = %+v, want sha abc1234", e.Node.Push.After)
			}
		})
	}
}

func TestDecodeEventErrors(t *testing.T) {
	for _, data := range []string{"", "   \n", "{not json", "node: [unclosed"} {
		if _, err := decodeEvent([]byte(data)); err == nil {
			t.Errorf("decodeEvent(%q) succeeded, want error", data)
		}
	}
}

func TestReadEventFromStdin(t *testing.T) {
	e, err := readEvent(strings.NewReader(pushYAML), []string{"-"})
	if err != nil {
		t.Fatalf("readEvent: %v", err)
	}
	if e.Channel != "svc-builds" {
		t.Errorf("Channel = %q, want svc-builds", e.Channel)
	}
}

func TestWriteResult(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	e, err := decodeEvent([]byte(pushYAML))
	if err != nil {
		t.Fatal(err)
	}
	reg := lifecycle.NewBitbucketRegistry(lifecycle.DefaultConfig(), offlineGraph{})
	res, err := reg.RenderEvent(context.Background(), e, nil)
	if err != nil {
		t.Fatalf("RenderEvent: %v", err)
	}

	var text bytes.Buffer
	if err := writeResult(&text, "text", e, res); err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.HasPrefix(text.String(), "PUSH\n") || !strings.Contains(text.String(), "Raise PR") {
		t.Errorf("text output = %q", text.String())
	}

	var js bytes.Buffer
	if err := writeResult(&js, "json", e, res); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded lifecycle.Result
	if err := json.Unmarshal(js.Bytes(), &decoded); err != nil {
		t.Fatalf("json output does not decode: %v", err)
	}
	if len(decoded.Buttons) != len(res.Buttons) {
		t.Errorf("json buttons = %d, want %d", len(decoded.Buttons), len(res.Buttons))
	}

	var y bytes.Buffer
	if err := writeResult(&y, "yaml", e, res); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(y.String(), "buttons:") || !strings.Contains(y.String(), "command: "+types.CmdRaisePullRequest) {
		t.Errorf("yaml output = %q", y.String())
	}

	if err := writeResult(&y, "xml", e, res); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"repo=svc", "owner=PRJ", "message=a=b"})
	if err != nil {
		t.Fatalf("parseParams: %v", err)
	}
	if got["repo"] != "svc" || got["owner"] != "PRJ" || got["message"] != "a=b" {
		t.Errorf("parseParams = %v", got)
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseParams([]string{bad}); err == nil {
			t.Errorf("parseParams(%q) succeeded, want error", bad)
		}
	}
}

func TestPrintReply(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	if err := printReply(&buf, commands.Reply{Kind: commands.ReplyError, Title: "Merge", Text: "conflicts"}); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "✗ Merge\n  conflicts\n"; got != want {
		t.Errorf("printReply = %q, want %q", got, want)
	}
}

func TestRedact(t *testing.T) {
	settings := map[string]interface{}{
		"bitbucket": map[string]interface{}{"url": "https://bb", "password": "hunter2"},
		"webhook":   map[string]interface{}{"secret": ""},
	}
	redact(settings)
	bb := settings["bitbucket"].(map[string]interface{})
	if bb["password"] != "********" || bb["url"] != "https://bb" {
		t.Errorf("bitbucket = %v", bb)
	}
	if settings["webhook"].(map[string]interface{})["secret"] != "" {
		t.Error("empty secret should stay empty")
	}
}

func TestContributorIDs(t *testing.T) {
	ids := contributorIDs(lifecycle.NewBitbucketRegistry(config.Lifecycle(), offlineGraph{}))
	for _, want := range []string{
		lifecycle.IDRaisePullRequest, lifecycle.IDMerge, lifecycle.IDDeleteBranch, lifecycle.IDTag,
	} {
		if !containsString(ids, want) {
			t.Errorf("contributorIDs() = %v, missing %q", ids, want)
		}
	}
}
