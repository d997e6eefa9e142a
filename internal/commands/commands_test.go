package commands

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/bitbucket"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
)

type fakeBitbucket struct {
	canMerge    bool
	canMergeErr error
	err         error

	raised  []bitbucket.RaisePRRequest
	merged  []bitbucket.MergePRRequest
	deleted []string
	tags    []bitbucket.CreateTagRequest
}

func (f *fakeBitbucket) RaisePullRequest(ctx context.Context, r bitbucket.RaisePRRequest) (int, error) {
	f.raised = append(f.raised, r)
	return 12, f.err
}

func (f *fakeBitbucket) MergePullRequest(ctx context.Context, r bitbucket.MergePRRequest) error {
	f.merged = append(f.merged, r)
	return f.err
}

func (f *fakeBitbucket) CanMerge(ctx context.Context, r bitbucket.RepoRef, pr int) (bool, error) {
	return f.canMerge, f.canMergeErr
}

func (f *fakeBitbucket) DeleteBranch(ctx context.Context, r bitbucket.RepoRef, branch string) error {
	f.deleted = append(f.deleted, r.Project+"/"+r.Repo+":"+branch)
	return f.err
}

func (f *fakeBitbucket) CreateTag(ctx context.Context, r bitbucket.CreateTagRequest) error {
	f.tags = append(f.tags, r)
	return f.err
}

type fakeMutator struct {
	goals    []types.UpdateGoalState
	displays []types.UpdateGoalDisplayState
	canceled []string
}

func (f *fakeMutator) UpdateGoalState(ctx context.Context, cmd types.UpdateGoalState) error {
	f.goals = append(f.goals, cmd)
	return nil
}

func (f *fakeMutator) UpdateGoalDisplayState(ctx context.Context, cmd types.UpdateGoalDisplayState) error {
	f.displays = append(f.displays, cmd)
	return nil
}

func (f *fakeMutator) CancelGoalSet(ctx context.Context, cmd types.CancelGoalSets) error {
	f.canceled = append(f.canceled, cmd.GoalSetID)
	return nil
}

type recorder struct {
	replies []Reply
}

func (r *recorder) Respond(ctx context.Context, reply Reply) error {
	r.replies = append(r.replies, reply)
	return nil
}

func newTestDispatcher(bb *fakeBitbucket) (*Dispatcher, *fakeMutator, *recorder) {
	m := &fakeMutator{}
	rec := &recorder{}
	return NewDispatcher(bb, m, rec), m, rec
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    ErrorKind
		message string
		fatal   bool
	}{
		{"bad request", &bitbucket.APIError{HTTPCode: http.StatusBadRequest, Message: "bad"}, KindValidation, MsgValidation, false},
		{"unprocessable", &bitbucket.APIError{HTTPCode: http.StatusUnprocessableEntity}, KindValidation, MsgValidation, false},
		{"forbidden", &bitbucket.APIError{HTTPCode: http.StatusForbidden, Message: "no"}, KindAuthorization, MsgAuthorization, false},
		{"not found wrapped", errors.Join(errors.New("ctx"), &bitbucket.APIError{HTTPCode: http.StatusNotFound}), KindAuthorization, MsgAuthorization, false},
		{"conflict", &bitbucket.APIError{HTTPCode: http.StatusConflict, Message: "stale version"}, KindGeneric, MsgGeneric, false},
		{"transport", &bitbucket.APIError{Message: "request failed: refused"}, KindGeneric, MsgGeneric, false},
		{"plain error", errors.New("boom"), KindGeneric, MsgGeneric, false},
		{"api error without message", &bitbucket.APIError{HTTPCode: http.StatusInternalServerError}, "", "", true},
		{"empty error", errors.New(""), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("Merge Pull Request", tt.err)
			if tt.fatal {
				assert.True(t, IsFatal(got))
				assert.Same(t, tt.err, got)
				return
			}
			var ce *CommandError
			require.True(t, errors.As(got, &ce), "Classify() = %v, want *CommandError", got)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.message, ce.Message)
			assert.Equal(t, "Merge Pull Request", ce.Title)
			assert.False(t, IsFatal(got))
		})
	}
	assert.Nil(t, Classify("x", nil))
}

func TestMergeChecksCanMergeFirst(t *testing.T) {
	bb := &fakeBitbucket{canMerge: false}
	d, _, rec := newTestDispatcher(bb)
	cmd := types.MergePullRequest{PR: 5, SHA: "abc1234", Repo: "svc", Project: "PRJ"}

	require.NoError(t, d.Execute(context.Background(), cmd, "jo"))
	assert.Empty(t, bb.merged)
	require.Len(t, rec.replies, 1)
	assert.Equal(t, ReplyWarning, rec.replies[0].Kind)
	assert.Equal(t, "Pull request #5 can not be merged at this time. Please review the pull request for potential conflicts.", rec.replies[0].Text)
}

func TestMergeSubmitsStrategyAndMessage(t *testing.T) {
	bb := &fakeBitbucket{canMerge: true}
	d, _, rec := newTestDispatcher(bb)
	cmd := types.MergePullRequest{
		PR: 5, Title: "Add x (#5)", Message: "* Add x", SHA: "abc1234",
		Repo: "svc", Project: "PRJ", Method: types.MethodSquash,
	}

	require.NoError(t, d.Execute(context.Background(), cmd, "jo"))
	require.Len(t, bb.merged, 1)
	assert.Equal(t, bitbucket.MergePRRequest{
		RepoRef:  bitbucket.RepoRef{Project: "PRJ", Repo: "svc"},
		PR:       5,
		Message:  "Add x (#5)\n\n* Add x",
		Strategy: bitbucket.StrategySquash,
	}, bb.merged[0])
	assert.Empty(t, rec.replies)
}

func TestMergeStaleVersionIsGenericFailure(t *testing.T) {
	bb := &fakeBitbucket{canMerge: true, err: &bitbucket.APIError{HTTPCode: http.StatusConflict, Message: "out of date"}}
	d, _, rec := newTestDispatcher(bb)

	err := d.Execute(context.Background(), types.MergePullRequest{PR: 1, SHA: "abc1234", Repo: "svc", Project: "PRJ"}, "")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindGeneric, ce.Kind)
	assert.Len(t, bb.merged, 1)
	require.Len(t, rec.replies, 1)
	assert.Equal(t, Reply{Kind: ReplyError, Title: "Merge Pull Request", Text: MsgGeneric}, rec.replies[0])
}

func TestRaisePullRequest(t *testing.T) {
	bb := &fakeBitbucket{}
	d, _, _ := newTestDispatcher(bb)
	cmd := types.RaisePullRequest{Title: "Add x", Body: "details", Base: "master", Head: "feature/x", Repo: "svc", Owner: "PRJ"}

	require.NoError(t, d.Execute(context.Background(), cmd, "jo"))
	assert.Equal(t, []bitbucket.RaisePRRequest{{
		RepoRef: bitbucket.RepoRef{Project: "PRJ", Repo: "svc"},
		Title:   "Add x",
		Body:    "details",
		Origin:  "feature/x",
		Target:  "master",
	}}, bb.raised)
}

func TestDeleteBranchAuthorizationFailure(t *testing.T) {
	bb := &fakeBitbucket{err: &bitbucket.APIError{HTTPCode: http.StatusForbidden, Message: "denied"}}
	d, _, rec := newTestDispatcher(bb)

	err := d.Execute(context.Background(), types.DeleteBranch{Branch: "feature/x", Repo: "svc", Owner: "PRJ"}, "jo")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindAuthorization, ce.Kind)
	assert.Equal(t, []string{"PRJ/svc:feature/x"}, bb.deleted)
	require.Len(t, rec.replies, 1)
	assert.Equal(t, "Delete Branch", rec.replies[0].Title)
	assert.Equal(t, MsgAuthorization, rec.replies[0].Text)
}

func TestCreateTag(t *testing.T) {
	bb := &fakeBitbucket{}
	d, _, rec := newTestDispatcher(bb)

	cmd := types.CreateTag{Tag: "v1.2.0", SHA: "0123456789abcdef", Repo: "svc", Owner: "PRJ", MsgID: "msg-1"}
	require.NoError(t, d.Execute(context.Background(), cmd, "jo"))
	require.Len(t, bb.tags, 1)
	assert.Equal(t, types.DefaultTagMessage, bb.tags[0].Message)
	assert.Equal(t, "0123456789abcdef", bb.tags[0].SHA)
	require.Len(t, rec.replies, 1)
	assert.Equal(t, Reply{
		Kind:  ReplySuccess,
		Title: "Create Tag",
		Text:  "Successfully created new tag `v1.2.0` on commit `0123456`",
		MsgID: "msg-1",
	}, rec.replies[0])

	cmd.MsgID = ""
	cmd.Message = "Release"
	require.NoError(t, d.Execute(context.Background(), cmd, "jo"))
	assert.Equal(t, "Release", bb.tags[1].Message)
	assert.Len(t, rec.replies, 1)
}

func TestGoalCommandsGoToGraph(t *testing.T) {
	d, m, _ := newTestDispatcher(&fakeBitbucket{})
	ctx := context.Background()

	require.NoError(t, d.Execute(ctx, types.UpdateGoalState{ID: "g1", State: types.GoalRequested}, ""))
	require.NoError(t, d.Execute(ctx, types.CancelGoalSets{GoalSetID: "gs-1"}, ""))
	require.NoError(t, d.Execute(ctx, types.UpdateGoalDisplayState{
		State: types.ShowAll, Format: types.FormatFull, Owner: "PRJ", Name: "svc", Branch: "main", SHA: "abc1234",
	}, ""))

	assert.Equal(t, []types.UpdateGoalState{{ID: "g1", State: types.GoalRequested}}, m.goals)
	assert.Equal(t, []string{"gs-1"}, m.canceled)
	assert.Len(t, m.displays, 1)
}

func TestExecuteParamsValidation(t *testing.T) {
	bb := &fakeBitbucket{}
	d, _, rec := newTestDispatcher(bb)

	err := d.ExecuteParams(context.Background(), types.CmdCreateTag, map[string]string{
		"tag": "not a tag!", "sha": "abc1234", "repo": "svc", "owner": "PRJ",
	}, "jo")
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, KindValidation, ce.Kind)
	assert.Empty(t, bb.tags)
	require.Len(t, rec.replies, 1)
	assert.Equal(t, MsgValidation, rec.replies[0].Text)

	require.NoError(t, d.ExecuteParams(context.Background(), types.CmdDeleteBranch, map[string]string{
		"branch": "feature/x", "repo": "svc", "owner": "PRJ",
	}, "jo"))
	assert.Len(t, bb.deleted, 1)
}

func TestMergeMessage(t *testing.T) {
	tests := []struct {
		title, message, want string
	}{
		{"", "", ""},
		{"T", "", "T"},
		{"", "M", "M"},
		{"T", "T", "T"},
		{"T", "M", "T\n\nM"},
	}
	for _, tt := range tests {
		if got := MergeMessage(tt.title, tt.message); got != tt.want {
			t.Errorf("MergeMessage(%q, %q) = %q, want %q", tt.title, tt.message, got, tt.want)
		}
	}
}
