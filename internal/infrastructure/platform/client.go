package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/verification-api/internal/config"
)

// Adapter is the messaging-platform collaborator: private channels for
// verification tickets, code delivery, and the post-redemption
// authorization grant. The core never talks to the platform except
// through this interface.
type Adapter interface {
	CreateChannel(ctx context.Context, ownerID string) (string, error)
	DeleteChannel(ctx context.Context, channelRef string) error
	SendMessage(ctx context.Context, channelRef, content string) error
	GrantAuthorization(ctx context.Context, requesterID string) error
}

type client struct {
	http     *http.Client
	baseURL  string
	token    string
	guildID  string
	roleID   string
	category string
}

// NewClient builds a REST adapter against a Discord-compatible API.
// Returns an error when no bot token is configured; main degrades to the
// disabled adapter in that case.
func NewClient(cfg *config.Config) (Adapter, error) {
	if cfg.PlatformToken == "" {
		return nil, fmt.Errorf("no platform token configured")
	}
	return &client{
		http:     &http.Client{Timeout: 10 * time.Second},
		baseURL:  cfg.PlatformBaseURL,
		token:    cfg.PlatformToken,
		guildID:  cfg.PlatformGuildID,
		roleID:   cfg.PlatformRoleID,
		category: cfg.PlatformCategory,
	}, nil
}

// CreateChannel creates a private text channel visible only to the owner
// (and the bot), parented under the configured verification category.
func (c *client) CreateChannel(ctx context.Context, ownerID string) (string, error) {
	body := map[string]interface{}{
		"name":      "verification-" + ownerID,
		"type":      0, // guild text channel
		"parent_id": c.category,
		"permission_overwrites": []map[string]interface{}{
			{"id": c.guildID, "type": 0, "deny": "1024"}, // @everyone: deny VIEW_CHANNEL
			{"id": ownerID, "type": 1, "allow": "1024"},  // owner: allow VIEW_CHANNEL
		},
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", c.guildID), body, &out); err != nil {
		return "", fmt.Errorf("create channel for %s: %w", ownerID, err)
	}
	return out.ID, nil
}

func (c *client) DeleteChannel(ctx context.Context, channelRef string) error {
	if err := c.do(ctx, http.MethodDelete, "/channels/"+channelRef, nil, nil); err != nil {
		return fmt.Errorf("delete channel %s: %w", channelRef, err)
	}
	return nil
}

func (c *client) SendMessage(ctx context.Context, channelRef, content string) error {
	body := map[string]interface{}{"content": content}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelRef), body, nil); err != nil {
		return fmt.Errorf("send message to %s: %w", channelRef, err)
	}
	return nil
}

// GrantAuthorization assigns the configured verified role to the member.
func (c *client) GrantAuthorization(ctx context.Context, requesterID string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/roles/%s", c.guildID, requesterID, c.roleID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("grant role to %s: %w", requesterID, err)
	}
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("platform returned %d: %s", resp.StatusCode, msg)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Disabled is the fallback adapter when no platform token is configured.
// Channel operations return synthetic refs so the core flows stay testable
// in local development; every call is logged.
type Disabled struct{}

func (Disabled) CreateChannel(_ context.Context, ownerID string) (string, error) {
	slog.Warn("platform disabled: skipping channel creation", "owner_id", ownerID)
	return "disabled-" + ownerID, nil
}

func (Disabled) DeleteChannel(_ context.Context, channelRef string) error {
	slog.Warn("platform disabled: skipping channel deletion", "channel_ref", channelRef)
	return nil
}

func (Disabled) SendMessage(_ context.Context, channelRef, _ string) error {
	slog.Warn("platform disabled: dropping message", "channel_ref", channelRef)
	return nil
}

func (Disabled) GrantAuthorization(_ context.Context, requesterID string) error {
	slog.Warn("platform disabled: skipping authorization grant", "requester_id", requesterID)
	return nil
}
