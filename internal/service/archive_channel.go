package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
)

// ChatPlatform is the part of the chat platform the pipeline depends on.
type ChatPlatform interface {
	ListChannels(ctx context.Context, communityID string) ([]domain.Channel, error)
	// CreateChannel returns domain.ErrChannelRace when another creator won.
	CreateChannel(ctx context.Context, communityID, name string) (*domain.Channel, error)
	SendFile(ctx context.Context, channelID, path string) error
	SendMessage(ctx context.Context, channelID, text string) error
}

// ArchiveChannelManager resolves the archive channel of a community,
// creating it on first use. Channels are listed on every call so a channel
// created or renamed by moderators is picked up.
type ArchiveChannelManager struct {
	platform ChatPlatform
	name     string
	match    string
	locks    *keyLocker
	logger   *slog.Logger
}

// NewArchiveChannelManager creates a manager for the configured naming convention.
func NewArchiveChannelManager(platform ChatPlatform, cfg config.ArchiveConfig, logger *slog.Logger) *ArchiveChannelManager {
	return &ArchiveChannelManager{
		platform: platform,
		name:     cfg.ChannelName,
		match:    strings.ToLower(cfg.ArchiveMatch()),
		locks:    newKeyLocker(),
		logger:   logger,
	}
}

// Ensure returns the archive channel for communityID.
//
// Creation is serialized per community, and the listing is repeated inside
// the lock, so concurrent first posts in one process create a single
// channel. A conflict reported by the platform is resolved by listing again.
func (m *ArchiveChannelManager) Ensure(ctx context.Context, communityID string) (*domain.Channel, error) {
	unlock := m.locks.Lock(communityID)
	defer unlock()

	ch, err := m.find(ctx, communityID)
	if err != nil || ch != nil {
		return ch, err
	}

	ch, err = m.platform.CreateChannel(ctx, communityID, m.name)
	if err == nil {
		m.logger.Info("created archive channel",
			"community_id", communityID,
			"channel_id", ch.ID,
			"name", ch.Name,
		)
		return ch, nil
	}

	if !errors.Is(err, domain.ErrChannelRace) {
		return nil, fmt.Errorf("create archive channel: %w", err)
	}

	m.logger.Warn("archive channel creation raced, re-listing", "community_id", communityID)
	ch, err = m.find(ctx, communityID)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("community %s: %w", communityID, domain.ErrChannelNotFound)
	}
	return ch, nil
}

func (m *ArchiveChannelManager) find(ctx context.Context, communityID string) (*domain.Channel, error) {
	channels, err := m.platform.ListChannels(ctx, communityID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	for _, c := range channels {
		if strings.Contains(strings.ToLower(c.Name), m.match) {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}
