// Package slack implements the telegraph Adapter for Slack using a bot token.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/ember/internal/telegraph"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Adapter implements telegraph.Adapter for Slack.
type Adapter struct {
	client    slackClient
	botToken  string
	channelID string // default channel for messages without explicit channel
	logger    *slog.Logger
	retry     telegraph.RetryPolicy
	mu        sync.Mutex
	connected bool
	closed    bool
	botUserID string
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // default channel to post to
	Logger    *slog.Logger
	// For testing: inject a mock client instead of real Slack API.
	Client slackClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    opts.Client,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		logger:    logger,
		retry:     telegraph.DefaultRetry,
	}, nil
}

// Connect verifies the bot token.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create the real client if not injected (production path).
	if a.client == nil {
		a.client = slackapi.New(a.botToken)
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	a.logger.Info("slack connected", "bot", auth.UserID, "team", auth.Team)
	return nil
}

// Send posts msg. A digest is rendered as Block Kit inside an attachment
// carrying the outcome color; Text stays as the notification fallback.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.Digest != nil {
		options = append(options, slackapi.MsgOptionAttachments(digestAttachment(msg.Digest)))
	}

	err := telegraph.Deliver(ctx, a.retry, a.logger, func() error {
		_, _, err := a.client.PostMessage(channelID, options...)
		var rle *slackapi.RateLimitedError
		if errors.As(err, &rle) {
			return &telegraph.RateLimitError{Err: err, Wait: rle.RetryAfter}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// Close marks the adapter closed. The Web API client holds no connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func digestAttachment(d *telegraph.Digest) slackapi.Attachment {
	return slackapi.Attachment{
		Color:    d.Outcome.Hex(),
		Fallback: d.Headline(),
		Blocks:   slackapi.Blocks{BlockSet: digestBlocks(d)},
	}
}

// digestBlocks lays out a digest: header, tally, shipped work, one section
// per failure group and a context footer.
func digestBlocks(d *telegraph.Digest) []slackapi.Block {
	blocks := []slackapi.Block{
		slackapi.NewHeaderBlock(plain("Drain finished: " + d.Project)),
		slackapi.NewSectionBlock(nil, tally(d), nil),
	}

	if len(d.Shipped) > 0 {
		lines := make([]string, 0, len(d.Shipped)+1)
		for _, s := range d.Shipped {
			if s.PRURL != "" {
				lines = append(lines, fmt.Sprintf("• <%s|%s>", s.PRURL, escape(s.Subject)))
			} else {
				lines = append(lines, "• "+escape(s.Subject))
			}
		}
		if d.Unlisted > 0 {
			lines = append(lines, fmt.Sprintf("_and %d more_", d.Unlisted))
		}
		blocks = append(blocks, slackapi.NewSectionBlock(mrkdwn("*Shipped*\n"+strings.Join(lines, "\n")), nil, nil))
	}

	if len(d.Failures) > 0 {
		blocks = append(blocks, slackapi.NewDividerBlock())
	}
	for _, f := range d.Failures {
		marker := ":warning:"
		if f.Urgent {
			marker = ":rotating_light:"
		}
		text := fmt.Sprintf("%s *%s* (%d)  _%s_", marker, escape(f.Title), f.Count, f.Action)
		for _, subject := range f.Subjects {
			text += "\n• " + escape(subject)
		}
		if extra := f.Count - len(f.Subjects); extra > 0 {
			text += fmt.Sprintf("\n_and %d more_", extra)
		}
		blocks = append(blocks, slackapi.NewSectionBlock(mrkdwn(text), nil, nil))
	}

	footer := "Drain `" + d.DrainID + "`"
	if d.Elapsed != "" {
		footer += " · ran " + d.Elapsed
	}
	return append(blocks, slackapi.NewContextBlock("", mrkdwn(footer)))
}

func tally(d *telegraph.Digest) []*slackapi.TextBlockObject {
	return []*slackapi.TextBlockObject{
		mrkdwn(fmt.Sprintf("*Completed*\n%d/%d", d.Completed, d.Total)),
		mrkdwn(fmt.Sprintf("*Failed*\n%d", d.Failed)),
	}
}

func plain(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.PlainTextType, text, false, false)
}

func mrkdwn(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escape makes user text safe for mrkdwn.
func escape(s string) string { return escaper.Replace(s) }
