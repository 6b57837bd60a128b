package client

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
)

var authRoles = []struct {
	prefix string
	level  domain.AuthLevel
}{
	{"You logged in as 'User'.", domain.AuthLevelUser},
	{"You logged in as 'Emoji moderator'.", domain.AuthLevelEmojiModerator},
	{"You logged in as 'Moderator'.", domain.AuthLevelModerator},
	{"You logged in as 'Administrator'.", domain.AuthLevelAdministrator},
}

// parseAuthMessage extracts the granted level and the username from the
// message of an ok auth response. ok is false when the role is not known.
func parseAuthMessage(msg string) (level domain.AuthLevel, username string, ok bool) {
	for _, role := range authRoles {
		rest, found := strings.CutPrefix(msg, role.prefix)
		if !found {
			continue
		}
		rest = strings.TrimPrefix(rest, " (Username: ")
		rest = strings.TrimSuffix(rest, ")")
		return role.level, rest, true
	}
	return domain.AuthLevelNone, "", false
}

// Auth returns the current auth level and the logged in username.
func (c *Client) Auth() (domain.AuthLevel, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.auth, c.username
}

func (c *Client) setAuth(s *session, level domain.AuthLevel, username string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != s {
		return false
	}
	c.auth = level
	c.username = username
	return true
}

// Authenticate sends the access token and waits for the server's verdict.
// Emoji moderators and above trigger a full fetch when AutoFetch is set.
// Any failure leaves the client unauthenticated.
func (c *Client) Authenticate(ctx context.Context, token string) (domain.AuthLevel, error) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return domain.AuthLevelNone, fmt.Errorf("auth: %w", domain.ErrNotConnected)
	}

	c.setAuth(s, domain.AuthLevelAuthenticating, "")

	res, err := c.Request(ctx, protocol.Auth(token))
	if err != nil {
		c.setAuth(s, domain.AuthLevelNone, "")
		c.logger.Warn("Authentication failed", zap.Error(err))
		return domain.AuthLevelNone, err
	}

	level, username, ok := parseAuthMessage(res.Message())
	if !ok {
		level = domain.AuthLevelUser
		c.logger.Warn("Unrecognized auth response, assuming user level",
			zap.String("message", res.Message()),
		)
	}
	if !c.setAuth(s, level, username) {
		return domain.AuthLevelNone, fmt.Errorf("auth: %w", domain.ErrDisconnected)
	}

	c.logger.Info("Authenticated",
		zap.String("level", level.String()),
		zap.String("username", username),
	)

	if level.CanModerate() && c.opts.AutoFetch {
		if err := c.FetchAll(ctx); err != nil {
			c.logger.Warn("Failed to request initial data", zap.Error(err))
		}
	}
	return level, nil
}
