// Package filter decides which emojis are visible under a composable filter
// specification. It is a pure function of registry snapshots and the spec
// and keeps no state; callers re-run it whenever either changes.
package filter

import "github.com/Secineralyr/Cotonestrum/internal/domain"

// Source is the read side of the registry used to resolve references.
type Source interface {
	GetEmoji(id string) (domain.Emoji, bool)
	GetDeletedEmoji(id string) (domain.DeletedEmoji, bool)
	GetUser(id string) (domain.User, bool)
	GetRisk(id string) (domain.Risk, bool)
}

// Spec is a filter specification: a master switch and ten clauses that are
// combined with AND. A disabled clause always passes, and with the master
// switch off every entity passes.
type Spec struct {
	Enabled bool `json:"enabled"`

	Name        TextClause        `json:"name"`
	Category    TextClause        `json:"category"`
	Tags        TextClause        `json:"tags"`
	SelfMade    SelfMadeClause    `json:"self_made"`
	License     TextClause        `json:"license"`
	Username    TextClause        `json:"username"`
	RiskLevel   RiskLevelClause   `json:"risk_level"`
	ReasonGenre ReasonGenreClause `json:"reason_genre"`
	Remark      TextClause        `json:"remark"`
	CheckStatus CheckStatusClause `json:"check_status"`
}

// NoFilter returns a spec that lets every entity through.
func NoFilter() Spec {
	return Spec{}
}

// Active reports whether the spec can exclude anything: the master switch
// is on and at least one clause is enabled.
func (s Spec) Active() bool {
	return s.Enabled && (s.Name.Enabled ||
		s.Category.Enabled ||
		s.Tags.Enabled ||
		s.SelfMade.Enabled ||
		s.License.Enabled ||
		s.Username.Enabled ||
		s.RiskLevel.Enabled ||
		s.ReasonGenre.Enabled ||
		s.Remark.Enabled ||
		s.CheckStatus.Enabled)
}

// subject is an emoji with its references resolved.
type subject struct {
	name     string
	category *string
	tags     string
	selfMade bool
	license  *string
	username string
	level    *domain.RiskLevel
	reason   *string
	remark   *string
	status   domain.CheckStatus
}

func resolve(src Source, e domain.Emoji) subject {
	s := subject{
		name:     e.Name,
		category: e.Category,
		tags:     e.JoinedTags(),
		selfMade: e.IsSelfMade,
		license:  e.License,
		status:   domain.CheckStatusNeedCheck,
	}

	if e.OwnerID != nil {
		if u, ok := src.GetUser(*e.OwnerID); ok {
			s.username = domain.StringValue(u.Username)
		}
	}

	if e.RiskID != nil {
		if r, ok := src.GetRisk(*e.RiskID); ok {
			s.level = r.Level
			s.status = r.Checked
			remark := r.Remark
			s.remark = &remark
			if id, ok := r.ReasonID(); ok {
				s.reason = &id
			}
		}
	}

	return s
}

func (s Spec) match(sub subject) bool {
	if !s.Enabled {
		return true
	}
	return (!s.Name.Enabled || s.Name.match(&sub.name)) &&
		(!s.Category.Enabled || s.Category.match(sub.category)) &&
		(!s.Tags.Enabled || s.Tags.match(&sub.tags)) &&
		(!s.SelfMade.Enabled || s.SelfMade.match(sub.selfMade)) &&
		(!s.License.Enabled || s.License.match(sub.license)) &&
		(!s.Username.Enabled || s.Username.match(&sub.username)) &&
		(!s.RiskLevel.Enabled || s.RiskLevel.match(sub.level)) &&
		(!s.Remark.Enabled || s.Remark.match(sub.remark)) &&
		(!s.CheckStatus.Enabled || s.CheckStatus.match(sub.status)) &&
		(!s.ReasonGenre.Enabled || s.ReasonGenre.match(sub.reason))
}

// MatchEmoji evaluates spec against an emoji snapshot.
func MatchEmoji(src Source, e domain.Emoji, spec Spec) bool {
	return spec.match(resolve(src, e))
}

// Matches evaluates spec against the cached emoji with the given id. An id
// that is not cached never matches.
func Matches(src Source, id string, spec Spec) bool {
	e, ok := src.GetEmoji(id)
	if !ok {
		return false
	}
	return MatchEmoji(src, e, spec)
}

// MatchesDeleted evaluates spec against the cached deleted emoji with the
// given id.
func MatchesDeleted(src Source, id string, spec Spec) bool {
	e, ok := src.GetDeletedEmoji(id)
	if !ok {
		return false
	}
	return MatchEmoji(src, e.Emoji, spec)
}

// FilterAll returns the ids of emojis matching spec, in input order.
func FilterAll(src Source, ids []string, spec Spec) []string {
	return filterIDs(ids, func(id string) bool { return Matches(src, id, spec) })
}

// FilterAllDeleted returns the ids of deleted emojis matching spec, in
// input order.
func FilterAllDeleted(src Source, ids []string, spec Spec) []string {
	return filterIDs(ids, func(id string) bool { return MatchesDeleted(src, id, spec) })
}

func filterIDs(ids []string, keep func(string) bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
