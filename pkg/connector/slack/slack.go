// Package slack implements the connector.Connector contract against the
// Slack Web API: users.list for automation enumeration, and
// conversations.list/conversations.history for an activity stream of the
// bot's channel messages.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/singura/singura/pkg/connector"
)

// Connector discovers Slack bot users and apps as automations and treats
// their message activity as ActivityEvents.
type Connector struct {
	tokens connector.TokenSource
	logger *slog.Logger
}

// New creates a Slack Connector. tokens supplies a fresh bearer token for
// every call, transparently refreshed by the OAuth lifecycle manager.
func New(tokens connector.TokenSource, logger *slog.Logger) *Connector {
	return &Connector{tokens: tokens, logger: logger}
}

func (c *Connector) Platform() connector.Platform { return connector.PlatformSlack }

func (c *Connector) client(ctx context.Context) (*slack.Client, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack connector: getting access token: %w", err)
	}
	return slack.New(token), nil
}

// ListAutomations enumerates bot users visible in the workspace's member
// list. Regular human users are excluded.
func (c *Connector) ListAutomations(ctx context.Context) ([]connector.CanonicalAutomation, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return nil, err
	}

	users, err := cl.GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack connector: listing users: %w", err)
	}

	var automations []connector.CanonicalAutomation
	for _, u := range users {
		if !u.IsBot && u.ID != "USLACKBOT" {
			continue
		}
		automations = append(automations, connector.CanonicalAutomation{
			ExternalID:  u.ID,
			Platform:    connector.PlatformSlack,
			Name:        u.RealName,
			Description: u.Profile.Title,
			CreatedAt:   time.Now(),
			Raw:         map[string]any{"team_id": u.TeamID},
		})
	}

	return automations, nil
}

// StreamActivity approximates automation activity from channel history in
// conversations the bot participates in, since Slack's admin APIs don't
// expose a dedicated per-bot audit trail on the standard plan.
func (c *Connector) StreamActivity(ctx context.Context, automationExternalID string, since, until time.Time) (connector.ActivityBatch, error) {
	cl, err := c.client(ctx)
	if err != nil {
		return connector.ActivityBatch{}, err
	}

	channels, _, err := cl.GetConversationsContext(ctx, &slack.GetConversationsParameters{
		Types: []string{"public_channel", "private_channel"},
	})
	if err != nil {
		return connector.ActivityBatch{}, fmt.Errorf("slack connector: listing conversations: %w", err)
	}

	var batch connector.ActivityBatch
	for _, ch := range channels {
		hist, err := cl.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: ch.ID,
			Oldest:    fmt.Sprintf("%d.000000", since.Unix()),
			Latest:    fmt.Sprintf("%d.000000", until.Unix()),
		})
		if err != nil {
			c.logger.Warn("slack connector: reading channel history", "channel", ch.ID, "error", err)
			continue
		}

		for _, msg := range hist.Messages {
			if msg.User != automationExternalID && msg.BotID != automationExternalID {
				continue
			}
			ev, ok := toActivityEvent(automationExternalID, ch.ID, msg)
			if !ok {
				batch.DroppedCount++
				continue
			}
			batch.Events = append(batch.Events, ev)
		}
	}

	return batch, nil
}

func toActivityEvent(automationExternalID, channelID string, msg slack.Message) (connector.ActivityEvent, bool) {
	if msg.User != automationExternalID && msg.BotID != automationExternalID {
		return connector.ActivityEvent{}, false
	}
	if msg.Timestamp == "" {
		return connector.ActivityEvent{}, false
	}

	var sec, nsec int64
	if _, err := fmt.Sscanf(msg.Timestamp, "%d.%d", &sec, &nsec); err != nil {
		return connector.ActivityEvent{}, false
	}

	return connector.ActivityEvent{
		ExternalID:           channelID + ":" + msg.Timestamp,
		AutomationExternalID: automationExternalID,
		Platform:             connector.PlatformSlack,
		Action:               connector.ActionMessageSent,
		OccurredAt:           time.Unix(sec, nsec),
		ActorExternalID:      automationExternalID,
		TargetResource:       channelID,
		DataVolumeBytes:      int64(len(msg.Text)),
	}, true
}
