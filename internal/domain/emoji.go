package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Emoji is a snapshot of a custom emoji as known by the server.
// Snapshots are replaced wholesale; treat them as read-only.
type Emoji struct {
	ID         string    `json:"id"`
	MisskeyID  string    `json:"misskey_id"`
	Name       string    `json:"name"`
	Category   *string   `json:"category"`
	Tags       []string  `json:"tags"`
	URL        string    `json:"url"`
	IsSelfMade bool      `json:"is_self_made"`
	License    *string   `json:"license"`
	OwnerID    *string   `json:"owner_id"`
	RiskID     *string   `json:"risk_id"`
	CreatedAt  Timestamp `json:"created_at"`
	UpdatedAt  Timestamp `json:"updated_at"`
}

// Validate checks the fields required to index the emoji.
func (e Emoji) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: emoji id is required", ErrInvalidInput)
	}
	return nil
}

// JoinedTags returns the tags joined by a single space.
func (e Emoji) JoinedTags() string {
	return strings.Join(e.Tags, " ")
}

// DeletedEmoji is the terminal snapshot of an emoji removed on the server.
type DeletedEmoji struct {
	Emoji
	ImageBackup *string         `json:"image_backup,omitempty"`
	Info        json.RawMessage `json:"info"`
	DeletedAt   Timestamp       `json:"deleted_at"`
}

// User is the owner of one or more emojis.
type User struct {
	ID        string  `json:"id"`
	MisskeyID string  `json:"misskey_id"`
	Username  *string `json:"username"`
}

// UnknownUsername is displayed when a user has no known name.
const UnknownUsername = "unknown"

// Validate checks the fields required to index the user.
func (u User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return nil
}

// DisplayName returns the username or UnknownUsername when it is empty.
func (u User) DisplayName() string {
	if u.Username == nil || *u.Username == "" {
		return UnknownUsername
	}
	return *u.Username
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
