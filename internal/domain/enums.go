// Package domain contains the core domain models for Cotonestrum.
package domain

// CheckStatus represents the moderation check status of a risk.
type CheckStatus int

const (
	CheckStatusNeedCheck   CheckStatus = 0
	CheckStatusChecked     CheckStatus = 1
	CheckStatusNeedRecheck CheckStatus = 2
)

// IsValid returns true if the status is a valid CheckStatus.
func (s CheckStatus) IsValid() bool {
	switch s {
	case CheckStatusNeedCheck, CheckStatusChecked, CheckStatusNeedRecheck:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s CheckStatus) String() string {
	switch s {
	case CheckStatusNeedCheck:
		return "need_check"
	case CheckStatusChecked:
		return "checked"
	case CheckStatusNeedRecheck:
		return "need_recheck"
	default:
		return "unknown"
	}
}

// CheckStatusFromString converts a string to CheckStatus.
func CheckStatusFromString(s string) CheckStatus {
	switch s {
	case "checked":
		return CheckStatusChecked
	case "need_recheck":
		return CheckStatusNeedRecheck
	default:
		return CheckStatusNeedCheck
	}
}

// RiskLevel represents how dangerous an emoji is judged to be.
// A nil *RiskLevel means the level has not been set yet.
type RiskLevel int

const (
	RiskLevelLow    RiskLevel = 0
	RiskLevelMedium RiskLevel = 1
	RiskLevelHigh   RiskLevel = 2
	RiskLevelDanger RiskLevel = 3
)

// IsValid returns true if the level is a valid RiskLevel.
func (l RiskLevel) IsValid() bool {
	switch l {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelDanger:
		return true
	default:
		return false
	}
}

// String returns the string representation of the level.
func (l RiskLevel) String() string {
	switch l {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	case RiskLevelDanger:
		return "danger"
	default:
		return "unknown"
	}
}

// Ptr returns a pointer to a copy of l.
func (l RiskLevel) Ptr() *RiskLevel {
	return &l
}

// Kind identifies one of the entity kinds held by the registry.
type Kind string

const (
	KindEmoji        Kind = "emoji"
	KindDeletedEmoji Kind = "deleted_emoji"
	KindUser         Kind = "user"
	KindRisk         Kind = "risk"
	KindReason       Kind = "reason"
)

// IsValid returns true if the kind is a valid Kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindEmoji, KindDeletedEmoji, KindUser, KindRisk, KindReason:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// AuthLevel is the permission level granted by the server after auth.
type AuthLevel int

const (
	AuthLevelNone           AuthLevel = 0
	AuthLevelAuthenticating AuthLevel = 1
	AuthLevelUser           AuthLevel = 2
	AuthLevelEmojiModerator AuthLevel = 3
	AuthLevelModerator      AuthLevel = 4
	AuthLevelAdministrator  AuthLevel = 5
)

// String returns the string representation of the level.
func (a AuthLevel) String() string {
	switch a {
	case AuthLevelNone:
		return "none"
	case AuthLevelAuthenticating:
		return "authenticating"
	case AuthLevelUser:
		return "user"
	case AuthLevelEmojiModerator:
		return "emoji_moderator"
	case AuthLevelModerator:
		return "moderator"
	case AuthLevelAdministrator:
		return "administrator"
	default:
		return "unknown"
	}
}

// CanModerate reports whether the level is allowed to read and change
// moderation data.
func (a AuthLevel) CanModerate() bool {
	return a >= AuthLevelEmojiModerator
}

// IsAuthenticated returns true once the server has accepted a token.
func (a AuthLevel) IsAuthenticated() bool {
	return a >= AuthLevelUser
}
