// Package commands executes the commands bound to lifecycle actions. Rest
// calls go to Bitbucket, goal changes to the graph. Failures are classified
// and reported back to chat; nothing is retried.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/bitbucket"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/debug"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/graph"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/telemetry"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

// Bitbucket is the subset of the REST client used by commands.
type Bitbucket interface {
	RaisePullRequest(ctx context.Context, r bitbucket.RaisePRRequest) (int, error)
	MergePullRequest(ctx context.Context, r bitbucket.MergePRRequest) error
	CanMerge(ctx context.Context, r bitbucket.RepoRef, pr int) (bool, error)
	DeleteBranch(ctx context.Context, r bitbucket.RepoRef, branch string) error
	CreateTag(ctx context.Context, r bitbucket.CreateTagRequest) error
}

var _ Bitbucket = (*bitbucket.Client)(nil)

// ReplyKind selects how a reply is presented.
type ReplyKind string

// Reply kinds
const (
	ReplySuccess ReplyKind = "success"
	ReplyWarning ReplyKind = "warning"
	ReplyError   ReplyKind = "error"
)

// Reply is a chat message sent in response to a command.
type Reply struct {
	Kind  ReplyKind
	Title string
	Text  string
	// MsgID threads the reply under an existing message.
	MsgID string
}

// Responder delivers replies to chat.
type Responder interface {
	Respond(ctx context.Context, r Reply) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, r Reply) error

func (f ResponderFunc) Respond(ctx context.Context, r Reply) error { return f(ctx, r) }

// Dispatcher runs commands.
type Dispatcher struct {
	bb          Bitbucket
	graph       graph.Mutator
	responder   Responder
	instruments *telemetry.Instruments
}

// NewDispatcher creates a dispatcher. A nil responder drops replies.
func NewDispatcher(bb Bitbucket, g graph.Mutator, r Responder) *Dispatcher {
	return &Dispatcher{bb: bb, graph: g, responder: r}
}

// SetInstruments attaches telemetry; nil disables it.
func (d *Dispatcher) SetInstruments(in *telemetry.Instruments) {
	d.instruments = in
}

// ExecuteParams rebuilds a command from an action's name and parameters
// and executes it. Invalid parameters are reported as a validation error.
func (d *Dispatcher) ExecuteParams(ctx context.Context, name string, params map[string]string, actor string) error {
	cmd, err := types.ParseCommand(name, params)
	if err != nil {
		ce := &CommandError{Kind: KindValidation, Title: name, Message: MsgValidation, Err: err}
		d.respondError(ctx, ce)
		return ce
	}
	return d.Execute(ctx, cmd, actor)
}

// Execute runs cmd on behalf of actor. Classified failures are replied to
// chat and returned as *CommandError; any other error is fatal.
func (d *Dispatcher) Execute(ctx context.Context, cmd types.Command, actor string) error {
	err := d.run(ctx, cmd)
	if d.instruments != nil {
		d.instruments.CommandDone(ctx, cmd.CommandName(), err)
	}
	debug.LogEvent(cmd.CommandName(), subject(cmd), actor, outcome(err))
	if err == nil {
		return nil
	}

	classified := Classify(cmd.DisplayName(), err)
	var ce *CommandError
	if errors.As(classified, &ce) {
		log.Printf("commands: %s failed: %v", cmd.CommandName(), err)
		d.respondError(ctx, ce)
	}
	return classified
}

func (d *Dispatcher) run(ctx context.Context, cmd types.Command) error {
	if err := cmd.Validate(); err != nil {
		return &CommandError{Kind: KindValidation, Title: cmd.DisplayName(), Message: MsgValidation, Err: err}
	}
	switch c := cmd.(type) {
	case types.RaisePullRequest:
		return d.raisePullRequest(ctx, c)
	case types.MergePullRequest:
		return d.mergePullRequest(ctx, c)
	case types.DeleteBranch:
		return d.bb.DeleteBranch(ctx, bitbucket.RepoRef{Project: c.Owner, Repo: c.Repo}, c.Branch)
	case types.CreateTag:
		return d.createTag(ctx, c)
	case types.UpdateGoalState:
		return d.graph.UpdateGoalState(ctx, c)
	case types.UpdateGoalDisplayState:
		return d.graph.UpdateGoalDisplayState(ctx, c)
	case types.CancelGoalSets:
		return d.graph.CancelGoalSet(ctx, c)
	}
	return fmt.Errorf("unsupported command %s", cmd.CommandName())
}

func (d *Dispatcher) raisePullRequest(ctx context.Context, c types.RaisePullRequest) error {
	id, err := d.bb.RaisePullRequest(ctx, bitbucket.RaisePRRequest{
		RepoRef: bitbucket.RepoRef{Project: c.Owner, Repo: c.Repo},
		Title:   c.Title,
		Body:    c.Body,
		Origin:  c.Head,
		Target:  c.Base,
	})
	if err != nil {
		return err
	}
	debug.Logf("commands: raised pull request #%d on %s/%s", id, c.Owner, c.Repo)
	return nil
}

var strategies = map[string]string{
	types.MethodMerge:  bitbucket.StrategyNoFastForward,
	types.MethodSquash: bitbucket.StrategySquash,
	types.MethodRebase: bitbucket.StrategyRebase,
}

// MergeMessage joins a merge title and message into one commit message.
func MergeMessage(title, message string) string {
	switch {
	case title == "":
		return message
	case message == "" || message == title:
		return title
	}
	return title + "\n\n" + message
}

func (d *Dispatcher) mergePullRequest(ctx context.Context, c types.MergePullRequest) error {
	ref := bitbucket.RepoRef{Project: c.Project, Repo: c.Repo}
	ok, err := d.bb.CanMerge(ctx, ref, c.PR)
	if err != nil {
		return err
	}
	if !ok {
		d.respond(ctx, Reply{
			Kind:  ReplyWarning,
			Title: c.DisplayName(),
			Text: fmt.Sprintf("Pull request #%d can not be merged at this time. "+
				"Please review the pull request for potential conflicts.", c.PR),
		})
		return nil
	}
	return d.bb.MergePullRequest(ctx, bitbucket.MergePRRequest{
		RepoRef:  ref,
		PR:       c.PR,
		Message:  MergeMessage(c.Title, c.Message),
		Strategy: strategies[c.Method],
	})
}

func (d *Dispatcher) createTag(ctx context.Context, c types.CreateTag) error {
	err := d.bb.CreateTag(ctx, bitbucket.CreateTagRequest{
		RepoRef: bitbucket.RepoRef{Project: c.Owner, Repo: c.Repo},
		Name:    c.Tag,
		SHA:     c.SHA,
		Message: c.TagMessage(),
	})
	if err != nil {
		return err
	}
	if c.MsgID != "" {
		d.respond(ctx, Reply{
			Kind:  ReplySuccess,
			Title: c.DisplayName(),
			Text:  fmt.Sprintf("Successfully created new tag `%s` on commit `%s`", c.Tag, shortSHA(c.SHA)),
			MsgID: c.MsgID,
		})
	}
	return nil
}

func (d *Dispatcher) respondError(ctx context.Context, ce *CommandError) {
	d.respond(ctx, Reply{Kind: ReplyError, Title: ce.Title, Text: ce.Message})
}

func (d *Dispatcher) respond(ctx context.Context, r Reply) {
	if d.responder == nil {
		return
	}
	if err := d.responder.Respond(ctx, r); err != nil {
		log.Printf("commands: reply %q failed: %v", r.Title, err)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// subject names what a command acted on, for the event log.
func subject(cmd types.Command) string {
	switch c := cmd.(type) {
	case types.RaisePullRequest:
		return c.Owner + "/" + c.Repo + ":" + c.Head
	case types.MergePullRequest:
		return fmt.Sprintf("%s/%s#%d", c.Project, c.Repo, c.PR)
	case types.DeleteBranch:
		return c.Owner + "/" + c.Repo + ":" + c.Branch
	case types.CreateTag:
		return c.Owner + "/" + c.Repo + "@" + c.Tag
	case types.UpdateGoalState:
		return c.ID
	case types.UpdateGoalDisplayState:
		return c.Owner + "/" + c.Name + "@" + shortSHA(c.SHA)
	case types.CancelGoalSets:
		return c.GoalSetID
	}
	return ""
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "failed: " + strings.TrimSpace(err.Error())
}
