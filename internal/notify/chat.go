package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSink posts events to one Slack channel.
type SlackSink struct {
	client    *slack.Client
	channelID string
	logger    *zap.Logger
}

// NewSlackSink creates a sink for channelID. Extra options are passed to
// slack.New (for example slack.OptionAPIURL).
func NewSlackSink(botToken, channelID string, logger *zap.Logger, opts ...slack.Option) *SlackSink {
	return &SlackSink{
		client:    slack.New(botToken, opts...),
		channelID: channelID,
		logger:    logger,
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, e *Event) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slack.MsgOptionText(FormatEvent(e), false),
	)
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (s *SlackSink) Close() error { return nil }

// channelSender is the part of *discordgo.Session the sink uses.
type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts events to one Discord channel over the REST API. No
// gateway websocket is opened.
type DiscordSink struct {
	session   channelSender
	channelID string
	logger    *zap.Logger
}

// NewDiscordSink creates a bot session for token.
func NewDiscordSink(token, channelID string, logger *zap.Logger) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordSink{session: session, channelID: channelID, logger: logger}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Deliver(ctx context.Context, e *Event) error {
	if _, err := s.session.ChannelMessageSend(s.channelID, FormatEvent(e), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (s *DiscordSink) Close() error { return nil }
