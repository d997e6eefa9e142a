package types

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Command names bound to actions.
const (
	CmdRaisePullRequest       = "RaiseBitbucketPullRequest"
	CmdMergePullRequest       = "MergeBitbucketPullRequest"
	CmdDeleteBranch           = "DeleteBitbucketBranch"
	CmdCreateTag              = "CreateBitbucketTag"
	CmdUpdateGoalState        = "UpdateGoalState"
	CmdUpdateGoalDisplayState = "UpdateGoalDisplayState"
	CmdCancelGoalSets         = "CancelGoalSets"
)

// Command is an immutable parameter set for one chat command. Commands are
// passed by value; Parameters always returns a fresh map.
type Command interface {
	CommandName() string
	// DisplayName is the user facing name used when reporting failures.
	DisplayName() string
	Parameters() map[string]string
	Validate() error
}

// Merge methods offered on pull requests.
const (
	MethodMerge  = "merge"
	MethodSquash = "squash"
	MethodRebase = "rebase"
)

// Parameter limits
const (
	MaxTagLength        = 100
	MaxTagMessageLength = 200
	MaxPRNumberLength   = 10
	MaxMergeTitleLength = 100
	MaxMergeMessage     = 1000
	MinSHALength        = 7
	MaxSHALength        = 40
)

var (
	tagPattern = regexp.MustCompile(`^\w(?:[-.\w/]*\w)*$`)
	shaPattern = regexp.MustCompile(`^[a-f0-9]+$`)
	prPattern  = regexp.MustCompile(`^[0-9]+$`)
)

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func validateSHA(sha string) error {
	if len(sha) < MinSHALength || len(sha) > MaxSHALength || !shaPattern.MatchString(sha) {
		return fmt.Errorf("sha must be %d to %d lowercase hex characters", MinSHALength, MaxSHALength)
	}
	return nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// RaisePullRequest opens a pull request from Head into Base.
type RaisePullRequest struct {
	Title string
	Body  string
	Base  string
	Head  string
	Repo  string
	Owner string
}

func (RaisePullRequest) CommandName() string { return CmdRaisePullRequest }
func (RaisePullRequest) DisplayName() string { return "Raise Pull Request" }

func (c RaisePullRequest) Parameters() map[string]string {
	return map[string]string{
		"title": c.Title,
		"body":  c.Body,
		"base":  c.Base,
		"head":  c.Head,
		"repo":  c.Repo,
		"owner": c.Owner,
	}
}

func (c RaisePullRequest) Validate() error {
	return firstError(
		required("title", c.Title),
		required("base", c.Base),
		required("head", c.Head),
		required("repo", c.Repo),
		required("owner", c.Owner),
	)
}

// MergePullRequest merges pull request PR of Project/Repo. SHA pins the head
// commit the merge was offered for.
type MergePullRequest struct {
	PR      int
	Title   string
	Message string
	SHA     string
	Repo    string
	Project string
	Method  string
}

func (MergePullRequest) CommandName() string { return CmdMergePullRequest }
func (MergePullRequest) DisplayName() string { return "Merge Pull Request" }

func (c MergePullRequest) Parameters() map[string]string {
	p := map[string]string{
		"pr":      strconv.Itoa(c.PR),
		"title":   c.Title,
		"message": c.Message,
		"sha":     c.SHA,
		"repo":    c.Repo,
		"project": c.Project,
	}
	if c.Method != "" {
		p["mergeMethod"] = c.Method
	}
	return p
}

func (c MergePullRequest) Validate() error {
	if c.PR <= 0 || len(strconv.Itoa(c.PR)) > MaxPRNumberLength {
		return fmt.Errorf("pr must be a positive number of at most %d digits", MaxPRNumberLength)
	}
	if len(c.Title) > MaxMergeTitleLength {
		return fmt.Errorf("title must be %d characters or less", MaxMergeTitleLength)
	}
	if len(c.Message) > MaxMergeMessage {
		return fmt.Errorf("message must be %d characters or less", MaxMergeMessage)
	}
	switch c.Method {
	case "", MethodMerge, MethodSquash, MethodRebase:
	default:
		return fmt.Errorf("unknown merge method %q", c.Method)
	}
	return firstError(
		required("sha", c.SHA),
		required("repo", c.Repo),
		required("project", c.Project),
	)
}

// DeleteBranch removes a branch.
type DeleteBranch struct {
	Branch string
	Repo   string
	Owner  string
}

func (DeleteBranch) CommandName() string { return CmdDeleteBranch }
func (DeleteBranch) DisplayName() string { return "Delete Branch" }

func (c DeleteBranch) Parameters() map[string]string {
	return map[string]string{
		"branch": c.Branch,
		"repo":   c.Repo,
		"owner":  c.Owner,
	}
}

func (c DeleteBranch) Validate() error {
	return firstError(
		required("branch", c.Branch),
		required("repo", c.Repo),
		required("owner", c.Owner),
	)
}

// DefaultTagMessage is used when a tag is created without a message.
const DefaultTagMessage = "Tag created by Atomist Lifecycle Automation"

// CreateTag creates an annotated tag on SHA. MsgID, when set, names the chat
// message that receives the success reply.
type CreateTag struct {
	Tag     string
	SHA     string
	Message string
	Repo    string
	Owner   string
	MsgID   string
}

func (CreateTag) CommandName() string { return CmdCreateTag }
func (CreateTag) DisplayName() string { return "Create Tag" }

func (c CreateTag) Parameters() map[string]string {
	p := map[string]string{
		"tag":     c.Tag,
		"sha":     c.SHA,
		"message": c.Message,
		"repo":    c.Repo,
		"owner":   c.Owner,
	}
	if c.MsgID != "" {
		p["msgId"] = c.MsgID
	}
	return p
}

// TagMessage returns the tag annotation, falling back to DefaultTagMessage.
func (c CreateTag) TagMessage() string {
	if c.Message == "" {
		return DefaultTagMessage
	}
	return c.Message
}

func (c CreateTag) Validate() error {
	if c.Tag == "" || len(c.Tag) > MaxTagLength || !tagPattern.MatchString(c.Tag) {
		return fmt.Errorf("invalid tag name %q", c.Tag)
	}
	if err := validateSHA(c.SHA); err != nil {
		return err
	}
	if len(c.Message) > MaxTagMessageLength {
		return fmt.Errorf("message must be %d characters or less", MaxTagMessageLength)
	}
	return firstError(
		required("repo", c.Repo),
		required("owner", c.Owner),
	)
}

// UpdateGoalState moves one goal to State.
type UpdateGoalState struct {
	ID    string
	State GoalState
}

func (UpdateGoalState) CommandName() string { return CmdUpdateGoalState }
func (UpdateGoalState) DisplayName() string { return "Update Goal" }

func (c UpdateGoalState) Parameters() map[string]string {
	return map[string]string{
		"id":    c.ID,
		"state": string(c.State),
	}
}

func (c UpdateGoalState) Validate() error {
	if err := required("id", c.ID); err != nil {
		return err
	}
	if !c.State.IsValid() {
		return fmt.Errorf("invalid goal state %q", c.State)
	}
	return nil
}

// UpdateGoalDisplayState records how goals of one push are displayed.
type UpdateGoalDisplayState struct {
	State      DisplayState
	Format     DisplayFormat
	Owner      string
	Name       string
	ProviderID string
	Branch     string
	SHA        string
}

func (UpdateGoalDisplayState) CommandName() string { return CmdUpdateGoalDisplayState }
func (UpdateGoalDisplayState) DisplayName() string { return "Update Goal Display" }

func (c UpdateGoalDisplayState) Parameters() map[string]string {
	return map[string]string{
		"state":      string(c.State),
		"format":     string(c.Format),
		"owner":      c.Owner,
		"name":       c.Name,
		"providerId": c.ProviderID,
		"branch":     c.Branch,
		"sha":        c.SHA,
	}
}

func (c UpdateGoalDisplayState) Validate() error {
	if !c.State.IsValid() {
		return fmt.Errorf("invalid display state %q", c.State)
	}
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid display format %q", c.Format)
	}
	return firstError(
		required("owner", c.Owner),
		required("name", c.Name),
		required("branch", c.Branch),
		required("sha", c.SHA),
	)
}

// CancelGoalSets cancels every pending goal of a goal set.
type CancelGoalSets struct {
	GoalSetID string
}

func (CancelGoalSets) CommandName() string { return CmdCancelGoalSets }
func (CancelGoalSets) DisplayName() string { return "Cancel Goal Set" }

func (c CancelGoalSets) Parameters() map[string]string {
	return map[string]string{"goalSetId": c.GoalSetID}
}

func (c CancelGoalSets) Validate() error {
	return required("goalSetId", c.GoalSetID)
}

// ParseCommand rebuilds a command from its name and parameter mapping and
// validates it.
func ParseCommand(name string, params map[string]string) (Command, error) {
	var cmd Command
	switch name {
	case CmdRaisePullRequest:
		cmd = RaisePullRequest{
			Title: params["title"],
			Body:  params["body"],
			Base:  params["base"],
			Head:  params["head"],
			Repo:  params["repo"],
			Owner: params["owner"],
		}
	case CmdMergePullRequest:
		raw := params["pr"]
		if len(raw) == 0 || len(raw) > MaxPRNumberLength || !prPattern.MatchString(raw) {
			return nil, fmt.Errorf("invalid pull request number %q", raw)
		}
		pr, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid pull request number %q: %w", raw, err)
		}
		cmd = MergePullRequest{
			PR:      pr,
			Title:   params["title"],
			Message: params["message"],
			SHA:     params["sha"],
			Repo:    params["repo"],
			Project: params["project"],
			Method:  params["mergeMethod"],
		}
	case CmdDeleteBranch:
		cmd = DeleteBranch{
			Branch: params["branch"],
			Repo:   params["repo"],
			Owner:  params["owner"],
		}
	case CmdCreateTag:
		cmd = CreateTag{
			Tag:     params["tag"],
			SHA:     params["sha"],
			Message: params["message"],
			Repo:    params["repo"],
			Owner:   params["owner"],
			MsgID:   params["msgId"],
		}
	case CmdUpdateGoalState:
		cmd = UpdateGoalState{
			ID:    params["id"],
			State: GoalState(params["state"]),
		}
	case CmdUpdateGoalDisplayState:
		cmd = UpdateGoalDisplayState{
			State:      DisplayState(params["state"]),
			Format:     DisplayFormat(params["format"]),
			Owner:      params["owner"],
			Name:       params["name"],
			ProviderID: params["providerId"],
			Branch:     params["branch"],
			SHA:        params["sha"],
		}
	case CmdCancelGoalSets:
		cmd = CancelGoalSets{GoalSetID: params["goalSetId"]}
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cmd, nil
}
