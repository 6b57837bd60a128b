package filter

import (
	"strings"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// TextClause matches a textual field.
//
// With MatchEmpty set the clause matches only an empty or absent field and
// Query is ignored. Otherwise an empty Query matches everything, and a
// non-empty Query matches when every whitespace-separated token is a
// case-sensitive substring of the field.
type TextClause struct {
	Enabled    bool   `json:"enabled"`
	Query      string `json:"query"`
	MatchEmpty bool   `json:"match_empty"`
}

func (c TextClause) match(target *string) bool {
	if c.MatchEmpty {
		return target == nil || *target == ""
	}
	if c.Query == "" {
		return true
	}
	if target == nil {
		return false
	}
	for _, token := range strings.Fields(c.Query) {
		if !strings.Contains(*target, token) {
			return false
		}
	}
	return true
}

// SelfMadeClause selects emojis by their self-made flag.
type SelfMadeClause struct {
	Enabled bool `json:"enabled"`
	Yes     bool `json:"yes"`
	No      bool `json:"no"`
}

func (c SelfMadeClause) match(selfMade bool) bool {
	if selfMade {
		return c.Yes
	}
	return c.No
}

// RiskLevelClause is an inclusion set over the risk levels, where Unset
// stands for a risk without level.
type RiskLevelClause struct {
	Enabled bool `json:"enabled"`
	Unset   bool `json:"unset"`
	Low     bool `json:"low"`
	Medium  bool `json:"medium"`
	High    bool `json:"high"`
	Danger  bool `json:"danger"`
}

func (c RiskLevelClause) match(level *domain.RiskLevel) bool {
	if level == nil {
		return c.Unset
	}
	switch *level {
	case domain.RiskLevelLow:
		return c.Low
	case domain.RiskLevelMedium:
		return c.Medium
	case domain.RiskLevelHigh:
		return c.High
	case domain.RiskLevelDanger:
		return c.Danger
	default:
		return false
	}
}

// NoReason is the ReasonGenreClause key for risks without a reason.
const NoReason = ""

// ReasonGenreClause maps reason ids to inclusion. NoReason stands for "no
// reason assigned"; ids missing from the map are excluded.
type ReasonGenreClause struct {
	Enabled bool            `json:"enabled"`
	Include map[string]bool `json:"include"`
}

func (c ReasonGenreClause) match(reasonID *string) bool {
	key := NoReason
	if reasonID != nil {
		key = *reasonID
	}
	return c.Include[key]
}

// CheckStatusClause is an inclusion set over the check statuses.
type CheckStatusClause struct {
	Enabled     bool `json:"enabled"`
	NeedCheck   bool `json:"need_check"`
	Checked     bool `json:"checked"`
	NeedRecheck bool `json:"need_recheck"`
}

func (c CheckStatusClause) match(status domain.CheckStatus) bool {
	switch status {
	case domain.CheckStatusNeedCheck:
		return c.NeedCheck
	case domain.CheckStatusChecked:
		return c.Checked
	case domain.CheckStatusNeedRecheck:
		return c.NeedRecheck
	default:
		return false
	}
}
