// Package slackbot posts rendered lifecycle actions to Slack as Block Kit
// buttons and menus, and runs the bound commands when they are clicked.
// It uses the slack-go/slack library with Socket Mode for WebSocket-based communication.
package slackbot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/commands"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/lifecycle"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/types"
	"github.com/atomist/sdm-pack-lifecycle-bitbucket/internal/webhook"
)

// Block action id prefixes. Buttons carry their token as the value; menus
// carry a reference to a stored token in the action id.
const (
	buttonActionPrefix = "lifecycle_button_"
	menuActionPrefix   = "lifecycle_menu_"
)

// maxActionsPerBlock is Slack's element limit for an actions block.
const maxActionsPerBlock = 25

// Bot posts lifecycle messages and handles their interactions.
type Bot struct {
	client     SlackAPI
	socketMode *socketmode.Client
	signer     *webhook.Signer
	executor   Executor
	prefs      Preferences
	knownIDs   []string
	channelID  string // Default channel for events without one
	debug      bool

	state     *StateManager
	connected atomic.Bool

	// Bot identity, for logging
	botUserID string
}

// BotConfig holds configuration for the Slack bot.
type BotConfig struct {
	BotToken  string // xoxb-... Slack bot token
	AppToken  string // xapp-... Slack app-level token (for Socket Mode)
	ChannelID string // Default channel for lifecycle messages
	StateDir  string // Where posted message references are persisted; empty keeps them in memory
	// KnownIDs are the contributor ids /lifecycle accepts.
	KnownIDs []string
	Debug    bool
}

// NewBot creates a new Slack bot. prefs may be nil, which disables the
// /lifecycle enable and disable commands.
func NewBot(cfg BotConfig, signer *webhook.Signer, exec Executor, prefs Preferences) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required for Socket Mode")
	}
	if !strings.HasPrefix(cfg.AppToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp-")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	client := slack.New(
		cfg.BotToken,
		slack.OptionDebug(cfg.Debug),
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	socketClient := socketmode.New(
		client,
		socketmode.OptionDebug(cfg.Debug),
	)

	bot := &Bot{
		client:     client,
		socketMode: socketClient,
		signer:     signer,
		executor:   exec,
		prefs:      prefs,
		knownIDs:   cfg.KnownIDs,
		channelID:  cfg.ChannelID,
		debug:      cfg.Debug,
		state:      NewStateManager(cfg.StateDir),
	}
	return bot, nil
}

// newBotForTest creates a Bot with injectable mock dependencies for testing.
// No Slack connection or token validation is performed.
func newBotForTest(slackAPI SlackAPI, signer *webhook.Signer, exec Executor, channelID string) *Bot {
	return &Bot{
		client:    slackAPI,
		signer:    signer,
		executor:  exec,
		channelID: channelID,
		state:     NewStateManager(""),
	}
}

// Run starts the bot event loop. Blocks until context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	authResp, err := b.client.AuthTest()
	if err != nil {
		log.Printf("slackbot: warning: failed to get bot user ID: %v", err)
	} else {
		b.botUserID = authResp.UserID
		log.Printf("slackbot: bot user ID: %s", b.botUserID)
	}

	go func() {
		for evt := range b.socketMode.Events {
			b.handleEvent(evt)
		}
	}()

	return b.socketMode.RunContext(ctx)
}

// ---------- Event dispatch ----------

func (b *Bot) handleEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("slackbot: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Println("slackbot: connected to Socket Mode")
		b.connected.Store(true)

	case socketmode.EventTypeConnectionError:
		log.Printf("slackbot: connection error: %v", evt.Data)
		b.connected.Store(false)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		b.socketMode.Ack(*evt.Request)
		b.handleSlashCommand(cmd)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			return
		}
		b.socketMode.Ack(*evt.Request)
		b.handleInteraction(context.Background(), callback)
	}
}

// ---------- Posting ----------

// Post renders the event's actions into its channel. A node that was
// posted before has its message updated in place. Without actions only an
// existing message is updated, which clears its controls.
func (b *Bot) Post(ctx context.Context, e lifecycle.Event, actions []webhook.SignedAction) error {
	channelID := b.channelFor(e)
	if channelID == "" {
		return fmt.Errorf("no channel for %s event", e.Node.Kind)
	}

	blocks, err := b.buildLifecycleBlocks(e, actions)
	if err != nil {
		return err
	}
	summary := summarize(e)
	opts := []slack.MsgOption{
		slack.MsgOptionText(summary, false),
		slack.MsgOptionBlocks(blocks...),
	}

	key := messageKey(e)
	if ch, ts, ok := b.state.GetMessage(key); ok && ch == channelID {
		_, _, _, err := b.client.UpdateMessage(ch, ts, opts...)
		if err == nil {
			return nil
		}
		if len(actions) == 0 {
			return fmt.Errorf("clear lifecycle message %s: %w", key, err)
		}
		log.Printf("slackbot: update of %s failed, posting anew: %v", key, err)
	}
	if len(actions) == 0 {
		return nil
	}

	_, ts, err := b.client.PostMessage(channelID, opts...)
	if err != nil {
		return fmt.Errorf("post lifecycle message: %w", err)
	}
	if err := b.state.SetMessage(key, channelID, ts); err != nil {
		log.Printf("slackbot: warning: failed to persist message for %s: %v", key, err)
	}
	return nil
}

var (
	_ webhook.Poster         = (*Bot)(nil)
	_ webhook.MessageTracker = (*Bot)(nil)
)

// HasMessage reports whether a lifecycle message was posted for the event's
// node in the channel it renders to.
func (b *Bot) HasMessage(e lifecycle.Event) bool {
	ch, _, ok := b.state.GetMessage(messageKey(e))
	return ok && ch == b.channelFor(e)
}

func (b *Bot) channelFor(e lifecycle.Event) string {
	if e.Channel != "" {
		return e.Channel
	}
	return b.channelID
}

func (b *Bot) buildLifecycleBlocks(e lifecycle.Event, actions []webhook.SignedAction) ([]slack.Block, error) {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", summarize(e), false, false),
			nil, nil),
	}

	var elements []slack.BlockElement
	for i, a := range actions {
		el, err := b.actionElement(i, a)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	for len(elements) > 0 {
		n := min(len(elements), maxActionsPerBlock)
		blocks = append(blocks, slack.NewActionBlock("", elements[:n]...))
		elements = elements[n:]
	}
	return blocks, nil
}

func (b *Bot) actionElement(i int, a webhook.SignedAction) (slack.BlockElement, error) {
	text := slack.NewTextBlockObject("plain_text", truncateForSlack(a.Text, 75), true, false)
	if !a.IsMenu() {
		btn := slack.NewButtonBlockElement(fmt.Sprintf("%s%d", buttonActionPrefix, i), a.Token, text)
		btn.Confirm = confirmObject(a.Confirm)
		return btn, nil
	}

	ref := menuRef(a.Token)
	claims, err := b.signer.Verify(a.Token)
	if err != nil {
		return nil, fmt.Errorf("menu %q: %w", a.Text, err)
	}
	if err := b.state.SetMenu(ref, a.Token, claims.Expiry); err != nil {
		log.Printf("slackbot: warning: failed to persist menu %s: %v", ref, err)
	}
	options := make([]*slack.OptionBlockObject, 0, len(a.Options))
	for _, o := range a.Options {
		options = append(options, slack.NewOptionBlockObject(o.Value,
			slack.NewTextBlockObject("plain_text", truncateForSlack(o.Text, 75), false, false), nil))
	}
	sel := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, text, menuActionPrefix+ref, options...)
	sel.Confirm = confirmObject(a.Confirm)
	return sel, nil
}

func confirmObject(c *types.Confirm) *slack.ConfirmationBlockObject {
	if c == nil {
		return nil
	}
	ok, dismiss := c.OkText, c.DismissText
	if ok == "" {
		ok = "Yes"
	}
	if dismiss == "" {
		dismiss = "No"
	}
	return slack.NewConfirmationBlockObject(
		slack.NewTextBlockObject("plain_text", truncateForSlack(c.Title, 100), false, false),
		slack.NewTextBlockObject("mrkdwn", c.Text, false, false),
		slack.NewTextBlockObject("plain_text", ok, false, false),
		slack.NewTextBlockObject("plain_text", dismiss, false, false),
	)
}

// menuRef names a menu token in action ids.
func menuRef(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

// ---------- Interactive handlers ----------

func (b *Bot) handleInteraction(ctx context.Context, callback slack.InteractionCallback) {
	if callback.Type != slack.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		switch {
		case strings.HasPrefix(action.ActionID, buttonActionPrefix):
			b.runAction(ctx, callback, action.Value, "")
		case strings.HasPrefix(action.ActionID, menuActionPrefix):
			ref := strings.TrimPrefix(action.ActionID, menuActionPrefix)
			token, ok := b.state.GetMenu(ref)
			if !ok {
				b.postEphemeral(callback.Channel.ID, callback.User.ID,
					"This menu has expired. Wait for the message to refresh and try again.")
				continue
			}
			b.runAction(ctx, callback, token, action.SelectedOption.Value)
		}
	}
}

func (b *Bot) runAction(ctx context.Context, callback slack.InteractionCallback, token, value string) {
	channelID, userID := callback.Channel.ID, callback.User.ID
	claims, err := b.signer.Verify(token)
	if err != nil {
		log.Printf("slackbot: rejected action from %s: %v", userID, err)
		b.postEphemeral(channelID, userID, "This action is no longer valid.")
		return
	}
	if claims.OptionParameter != "" && value == "" {
		b.postEphemeral(channelID, userID, "Please choose an option.")
		return
	}
	if !claims.Allows(value) {
		log.Printf("slackbot: rejected value %q for %s from %s", value, claims.Command, userID)
		b.postEphemeral(channelID, userID, "That option is no longer offered.")
		return
	}

	params := claims.Bind(value)
	msgTS := callback.Container.MessageTs
	if msgTS == "" {
		msgTS = callback.Message.Timestamp
	}
	if claims.Command == types.CmdCreateTag && params["msgId"] == "" && msgTS != "" {
		params["msgId"] = msgTS
	}

	if b.debug {
		log.Printf("slackbot: %s runs %s %v", userID, claims.Command, params)
	}
	ctx = withReplyTarget(ctx, replyTarget{channelID: channelID, userID: userID})
	err = b.executor.ExecuteParams(ctx, claims.Command, params, "slack:"+userID)
	if err == nil {
		return
	}
	// Classified failures have already been replied to.
	var ce *commands.CommandError
	if errors.As(err, &ce) {
		return
	}
	log.Printf("slackbot: command %s failed: %v", claims.Command, err)
	b.postErrorMessage(channelID, userID, claims.Command, err)
}

// ---------- Replies ----------

type replyTarget struct {
	channelID string
	userID    string
}

type replyTargetKey struct{}

func withReplyTarget(ctx context.Context, t replyTarget) context.Context {
	return context.WithValue(ctx, replyTargetKey{}, t)
}

func replyTargetFrom(ctx context.Context) replyTarget {
	t, _ := ctx.Value(replyTargetKey{}).(replyTarget)
	return t
}

// Respond delivers a command reply to the channel the command was run
// from. Errors go only to the user who clicked.
func (b *Bot) Respond(ctx context.Context, r commands.Reply) error {
	target := replyTargetFrom(ctx)
	channelID := target.channelID
	if channelID == "" {
		channelID = b.channelID
	}
	if channelID == "" {
		return fmt.Errorf("no channel for reply %q", r.Title)
	}

	text := fmt.Sprintf("%s *%s*", replyEmoji(r.Kind), r.Title)
	if r.Text != "" {
		text += "\n" + r.Text
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", text, false, false), nil, nil),
	}
	opts := []slack.MsgOption{slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...)}

	if r.Kind == commands.ReplyError && target.userID != "" {
		if _, err := b.client.PostEphemeral(channelID, target.userID, opts...); err != nil {
			return fmt.Errorf("post reply: %w", err)
		}
		return nil
	}
	if r.MsgID != "" {
		opts = append(opts, slack.MsgOptionTS(r.MsgID))
	}
	if _, _, err := b.client.PostMessage(channelID, opts...); err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

func replyEmoji(kind commands.ReplyKind) string {
	switch kind {
	case commands.ReplySuccess:
		return ":white_check_mark:"
	case commands.ReplyWarning:
		return ":warning:"
	default:
		return ":x:"
	}
}

// ---------- Slash commands ----------

func (b *Bot) handleSlashCommand(cmd slack.SlashCommand) {
	switch cmd.Command {
	case "/lifecycle":
		b.postEphemeral(cmd.ChannelID, cmd.UserID, b.lifecycleCommand(cmd.ChannelID, cmd.Text))
	default:
		b.postEphemeral(cmd.ChannelID, cmd.UserID,
			fmt.Sprintf("Unknown command: %s", cmd.Command))
	}
}

// lifecycleCommand handles "/lifecycle [status|enable <id>|disable <id>]"
// and returns the reply text.
func (b *Bot) lifecycleCommand(channelID, text string) string {
	if b.prefs == nil {
		return "Channel preferences are not configured."
	}
	fields := strings.Fields(text)
	if len(fields) == 0 || fields[0] == "status" {
		disabled := b.prefs.Disabled(channelID)
		if len(disabled) == 0 {
			return "All lifecycle actions are enabled in this channel."
		}
		ids := make([]string, 0, len(disabled))
		for id := range disabled {
			ids = append(ids, "`"+id+"`")
		}
		sort.Strings(ids)
		return "Disabled in this channel: " + strings.Join(ids, ", ")
	}

	if len(fields) != 2 || (fields[0] != "enable" && fields[0] != "disable") {
		return "Usage: /lifecycle [status | enable <id> | disable <id>]"
	}
	id := fields[1]
	if len(b.knownIDs) > 0 && !containsString(b.knownIDs, id) {
		return fmt.Sprintf("Unknown action `%s`. Known actions: %s", id, strings.Join(b.knownIDs, ", "))
	}
	disable := fields[0] == "disable"
	if err := b.prefs.SetDisabled(channelID, id, disable); err != nil {
		log.Printf("slackbot: preference update failed: %v", err)
		return fmt.Sprintf("Could not update preferences: %v", err)
	}
	return fmt.Sprintf("`%s` is now %sd in this channel.", id, fields[0])
}

// ---------- Rendering helpers ----------

// messageKey identifies the lifecycle message a node is rendered into.
func messageKey(e lifecycle.Event) string {
	n := e.Node
	repo := eventRepo(e).Slug()
	switch n.Kind {
	case types.KindBranch:
		return fmt.Sprintf("branch:%s:%s", repo, n.Branch.Name)
	case types.KindPullRequest:
		return fmt.Sprintf("pr:%s:%d", repo, n.PullRequest.Number)
	case types.KindPush:
		return fmt.Sprintf("push:%s:%s", repo, headSHA(n.Push))
	case types.KindGoalSet:
		return fmt.Sprintf("goals:%s:%s", repo, n.GoalSet.GoalSetID)
	}
	return string(n.Kind)
}

func eventRepo(e lifecycle.Event) *types.Repo {
	n := e.Node
	switch {
	case n.Branch != nil && n.Branch.Repo != nil:
		return n.Branch.Repo
	case n.PullRequest != nil && n.PullRequest.Repo != nil:
		return n.PullRequest.Repo
	case n.Push != nil && n.Push.Repo != nil:
		return n.Push.Repo
	}
	if e.Repo != nil {
		return e.Repo
	}
	if e.Push != nil {
		return e.Push.Repo
	}
	return nil
}

func headSHA(p *types.Push) string {
	if p == nil || p.After == nil {
		return ""
	}
	return p.After.SHA
}

// summarize is the mrkdwn headline of a lifecycle message.
func summarize(e lifecycle.Event) string {
	n := e.Node
	repo := eventRepo(e).Slug()
	switch n.Kind {
	case types.KindBranch:
		s := fmt.Sprintf("Branch `%s` in *%s*", n.Branch.Name, repo)
		if n.Branch.Deleted || e.Deleted {
			s += " was deleted"
		}
		return s
	case types.KindPullRequest:
		pr := n.PullRequest
		return fmt.Sprintf("Pull request #%d *%s* in *%s* is %s", pr.Number, pr.Title, repo, pr.State)
	case types.KindPush:
		p := n.Push
		s := fmt.Sprintf("`%s` pushed to `%s` in *%s*", shortSHA(headSHA(p)), p.Branch, repo)
		if p.After != nil && p.After.Message != "" {
			title, _ := lifecycle.SplitCommitMessage(p.After.Message)
			s += ": " + truncateForSlack(title, 120)
		}
		return s
	case types.KindGoalSet:
		gs := n.GoalSet
		return fmt.Sprintf("Goal set `%s` on `%s` in *%s*", shortSHA(gs.GoalSetID), shortSHA(gs.SHA), repo)
	}
	return string(n.Kind)
}

// ---------- Utility functions ----------

func (b *Bot) postEphemeral(channelID, userID, text string) {
	_, err := b.client.PostEphemeral(channelID, userID,
		slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("slackbot: error posting ephemeral: %v", err)
	}
}

func (b *Bot) postErrorMessage(channelID, userID, command string, err error) {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn",
				fmt.Sprintf("*Failed to run %s*\n\n*Error:* %s", command, err.Error()),
				false, false),
			nil, nil),
	}

	_, _ = b.client.PostEphemeral(channelID, userID,
		slack.MsgOptionBlocks(blocks...))
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateForSlack(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
