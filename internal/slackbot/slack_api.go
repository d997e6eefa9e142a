package slackbot

import (
	"context"

	"github.com/slack-go/slack"
)

// SlackAPI abstracts the subset of slack.Client methods used by the bot.
// This allows tests to substitute a mock implementation without a live Slack connection.
type SlackAPI interface {
	AuthTest() (response *slack.AuthTestResponse, err error)

	// Messaging
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
}

// Executor runs the command bound to a clicked action.
type Executor interface {
	ExecuteParams(ctx context.Context, name string, params map[string]string, actor string) error
}

// Preferences is the channel preference store behind /lifecycle.
type Preferences interface {
	Disabled(channel string) map[string]bool
	SetDisabled(channel, id string, disabled bool) error
}
