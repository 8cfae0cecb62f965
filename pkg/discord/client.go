// Package discord adapts a discordgo session to the archive pipeline's chat
// platform interface.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/iconidentify/clipvault/internal/domain"
)

// session is the subset of *discordgo.Session the client uses.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
	GuildChannelCreate(guildID, name string, ctype discordgo.ChannelType, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Client is a bot connection to Discord.
type Client struct {
	session session
	logger  *slog.Logger
}

// New creates a bot client for token. The gateway is not opened until Open.
func New(token string, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	return newClient(s, logger), nil
}

func newClient(s session, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{session: s, logger: logger}
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.logger.Info("connected to discord gateway")
	return nil
}

// Close disconnects from the gateway.
func (c *Client) Close() error {
	return c.session.Close()
}

// OnMessage registers fn for guild messages written by humans. Bot messages
// and direct messages are dropped.
func (c *Client) OnMessage(fn func(domain.MessageEvent)) {
	c.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if event, ok := toMessageEvent(m); ok {
			fn(event)
		}
	})
}

func toMessageEvent(m *discordgo.MessageCreate) (domain.MessageEvent, bool) {
	if m == nil || m.Message == nil {
		return domain.MessageEvent{}, false
	}
	if m.GuildID == "" {
		return domain.MessageEvent{}, false
	}
	if m.Author == nil || m.Author.Bot {
		return domain.MessageEvent{}, false
	}
	return domain.MessageEvent{
		MessageID:   m.ID,
		Text:        m.Content,
		CommunityID: m.GuildID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		ReceivedAt:  m.Timestamp,
	}, true
}

// ListChannels returns the text channels of a guild.
func (c *Client) ListChannels(ctx context.Context, communityID string) ([]domain.Channel, error) {
	chans, err := c.session.GuildChannels(communityID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list guild channels: %w", err)
	}

	out := make([]domain.Channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, domain.Channel{ID: ch.ID, CommunityID: communityID, Name: ch.Name})
	}
	return out, nil
}

// CreateChannel creates a text channel. Discord allows duplicate names, so
// after creating, the guild is re-listed: when an older channel with the
// same name exists, another process won the race and ours is deleted.
func (c *Client) CreateChannel(ctx context.Context, communityID, name string) (*domain.Channel, error) {
	ch, err := c.session.GuildChannelCreate(communityID, name, discordgo.ChannelTypeGuildText, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	existing, err := c.ListChannels(ctx, communityID)
	if err != nil {
		// Creation succeeded; keep it rather than risk deleting the only copy.
		c.logger.Warn("could not verify new channel", "guild_id", communityID, "error", err)
		return &domain.Channel{ID: ch.ID, CommunityID: communityID, Name: ch.Name}, nil
	}

	for _, other := range existing {
		if other.ID == ch.ID || !strings.EqualFold(other.Name, ch.Name) {
			continue
		}
		if olderSnowflake(other.ID, ch.ID) {
			if _, err := c.session.ChannelDelete(ch.ID, discordgo.WithContext(ctx)); err != nil {
				c.logger.Warn("failed to delete duplicate channel", "channel_id", ch.ID, "error", err)
			}
			return nil, domain.ErrChannelRace
		}
	}

	return &domain.Channel{ID: ch.ID, CommunityID: communityID, Name: ch.Name}, nil
}

// olderSnowflake reports whether snowflake a was issued before b.
func olderSnowflake(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SendFile uploads the file at path to a channel.
func (c *Client) SendFile(ctx context.Context, channelID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	if _, err := c.session.ChannelFileSend(channelID, filepath.Base(path), f, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	return nil
}

// SendMessage posts a text message to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, text string) error {
	if _, err := c.session.ChannelMessageSend(channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
