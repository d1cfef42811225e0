// Package discord implements the telegraph Adapter for Discord over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/ember/internal/telegraph"
)

// maxEmbeds is Discord's per-message embed limit.
const maxEmbeds = 10

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter implements telegraph.Adapter for Discord.
type Adapter struct {
	sess      session
	botToken  string
	channelID string // default channel for messages
	botUserID string
	logger    *slog.Logger
	retry     telegraph.RetryPolicy
	mu        sync.Mutex
	connected bool
	closed    bool
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // default channel to post to
	Logger    *slog.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		sess:      opts.Session,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		logger:    logger,
		retry:     telegraph.DefaultRetry,
	}, nil
}

// Connect verifies the bot token by looking up the bot user.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		a.sess = dg
	}

	me, err := a.sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: identify bot: %w", err)
	}
	a.botUserID = me.ID
	a.connected = true
	a.logger.Info("discord connected", "bot", me.Username, "id", me.ID)
	return nil
}

// Send posts msg. A digest becomes one overview embed plus one embed per
// failure group, within Discord's embed limit.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := &discordgo.MessageSend{Content: msg.Text}
	if msg.Digest != nil {
		data.Embeds = digestEmbeds(msg.Digest)
	}

	err := telegraph.Deliver(ctx, a.retry, a.logger, func() error {
		_, err := a.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusTooManyRequests {
			return &telegraph.RateLimitError{Err: err}
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Close marks the adapter closed. No gateway connection is held.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func digestEmbeds(d *telegraph.Digest) []*discordgo.MessageEmbed {
	overview := &discordgo.MessageEmbed{
		Title:       "Drain finished: " + d.Project,
		Description: shippedList(d),
		Color:       d.Outcome.Color(),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Completed", Value: fmt.Sprintf("%d/%d", d.Completed, d.Total), Inline: true},
			{Name: "Failed", Value: fmt.Sprintf("%d", d.Failed), Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "drain " + d.DrainID},
	}
	if d.Elapsed != "" {
		overview.Fields = append(overview.Fields, &discordgo.MessageEmbedField{Name: "Ran", Value: d.Elapsed, Inline: true})
	}

	embeds := []*discordgo.MessageEmbed{overview}
	for _, f := range d.Failures {
		if len(embeds) == maxEmbeds {
			break
		}
		embeds = append(embeds, failureEmbed(f))
	}
	return embeds
}

func shippedList(d *telegraph.Digest) string {
	lines := make([]string, 0, len(d.Shipped)+1)
	for _, s := range d.Shipped {
		if s.PRURL != "" {
			lines = append(lines, fmt.Sprintf("- [%s](%s)", s.Subject, s.PRURL))
		} else {
			lines = append(lines, "- "+s.Subject)
		}
	}
	if d.Unlisted > 0 {
		lines = append(lines, fmt.Sprintf("*and %d more*", d.Unlisted))
	}
	return strings.Join(lines, "\n")
}

func failureEmbed(f telegraph.FailureLine) *discordgo.MessageEmbed {
	color := telegraph.OutcomePartial.Color()
	if f.Urgent {
		color = telegraph.OutcomeFailed.Color()
	}
	lines := make([]string, 0, len(f.Subjects)+1)
	for _, s := range f.Subjects {
		lines = append(lines, "- "+s)
	}
	if extra := f.Count - len(f.Subjects); extra > 0 {
		lines = append(lines, fmt.Sprintf("*and %d more*", extra))
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s (%d)", f.Title, f.Count),
		Description: strings.Join(lines, "\n"),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: f.Action},
	}
}
