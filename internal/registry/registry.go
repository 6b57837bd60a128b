// Package registry is the client-local authoritative cache of moderation
// entities. Every put is the newest known truth and fully replaces the
// previous snapshot; absence is a normal state, never an error.
package registry

import (
	"maps"
	"slices"
	"sync"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
)

// Registry holds one map per entity kind. It is safe for concurrent use:
// the receive loop writes while callers read from other goroutines.
type Registry struct {
	mu      sync.RWMutex
	emojis  map[string]domain.Emoji
	deleted map[string]domain.DeletedEmoji
	users   map[string]domain.User
	risks   map[string]domain.Risk
	reasons map[string]domain.Reason
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.init()
	return r
}

func (r *Registry) init() {
	r.emojis = make(map[string]domain.Emoji)
	r.deleted = make(map[string]domain.DeletedEmoji)
	r.users = make(map[string]domain.User)
	r.risks = make(map[string]domain.Risk)
	r.reasons = make(map[string]domain.Reason)
}

// Reset drops every cached record.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init()
}

func put[T any](m map[string]T, id string, v T) bool {
	_, existed := m[id]
	m[id] = v
	return existed
}

func pop[T any](m map[string]T, id string) (T, bool) {
	v, ok := m[id]
	if ok {
		delete(m, id)
	}
	return v, ok
}

// PutEmoji inserts or replaces an emoji. It reports whether a previous
// snapshot was replaced.
func (r *Registry) PutEmoji(e domain.Emoji) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return put(r.emojis, e.ID, e)
}

// GetEmoji returns the emoji with the given id.
func (r *Registry) GetEmoji(id string) (domain.Emoji, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.emojis[id]
	return e, ok
}

// PopEmoji removes and returns the emoji with the given id.
func (r *Registry) PopEmoji(id string) (domain.Emoji, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(r.emojis, id)
}

// PutDeletedEmoji inserts or replaces a deleted emoji snapshot.
func (r *Registry) PutDeletedEmoji(e domain.DeletedEmoji) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return put(r.deleted, e.ID, e)
}

// GetDeletedEmoji returns the deleted emoji with the given id.
func (r *Registry) GetDeletedEmoji(id string) (domain.DeletedEmoji, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.deleted[id]
	return e, ok
}

// PopDeletedEmoji removes and returns the deleted emoji with the given id.
func (r *Registry) PopDeletedEmoji(id string) (domain.DeletedEmoji, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(r.deleted, id)
}

// PutUser inserts or replaces a user.
func (r *Registry) PutUser(u domain.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return put(r.users, u.ID, u)
}

// GetUser returns the user with the given id.
func (r *Registry) GetUser(id string) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	return u, ok
}

// PopUser removes and returns the user with the given id.
func (r *Registry) PopUser(id string) (domain.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(r.users, id)
}

// PutRisk inserts or replaces a risk.
func (r *Registry) PutRisk(k domain.Risk) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return put(r.risks, k.ID, k)
}

// GetRisk returns the risk with the given id.
func (r *Registry) GetRisk(id string) (domain.Risk, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.risks[id]
	return k, ok
}

// PopRisk removes and returns the risk with the given id.
func (r *Registry) PopRisk(id string) (domain.Risk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(r.risks, id)
}

// PutReason inserts or replaces a reason.
func (r *Registry) PutReason(rs domain.Reason) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return put(r.reasons, rs.ID, rs)
}

// GetReason returns the reason with the given id.
func (r *Registry) GetReason(id string) (domain.Reason, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.reasons[id]
	return rs, ok
}

// PopReason removes and returns the reason with the given id.
func (r *Registry) PopReason(id string) (domain.Reason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(r.reasons, id)
}

// Has reports whether a record of the given kind is cached.
func (r *Registry) Has(kind domain.Kind, id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ok bool
	switch kind {
	case domain.KindEmoji:
		_, ok = r.emojis[id]
	case domain.KindDeletedEmoji:
		_, ok = r.deleted[id]
	case domain.KindUser:
		_, ok = r.users[id]
	case domain.KindRisk:
		_, ok = r.risks[id]
	case domain.KindReason:
		_, ok = r.reasons[id]
	}
	return ok
}

// IDs returns the sorted ids cached for the given kind.
func (r *Registry) IDs(kind domain.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case domain.KindEmoji:
		return slices.Sorted(maps.Keys(r.emojis))
	case domain.KindDeletedEmoji:
		return slices.Sorted(maps.Keys(r.deleted))
	case domain.KindUser:
		return slices.Sorted(maps.Keys(r.users))
	case domain.KindRisk:
		return slices.Sorted(maps.Keys(r.risks))
	case domain.KindReason:
		return slices.Sorted(maps.Keys(r.reasons))
	default:
		return nil
	}
}

// Len returns the number of records cached for the given kind.
func (r *Registry) Len(kind domain.Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case domain.KindEmoji:
		return len(r.emojis)
	case domain.KindDeletedEmoji:
		return len(r.deleted)
	case domain.KindUser:
		return len(r.users)
	case domain.KindRisk:
		return len(r.risks)
	case domain.KindReason:
		return len(r.reasons)
	default:
		return 0
	}
}

// Reasons returns a snapshot of every cached reason, sorted by id.
func (r *Registry) Reasons() []domain.Reason {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Reason, 0, len(r.reasons))
	for _, id := range slices.Sorted(maps.Keys(r.reasons)) {
		out = append(out, r.reasons[id])
	}
	return out
}

// ResolveUsername returns the display name of the owner, or
// domain.UnknownUsername when the owner is unset or not cached yet.
func (r *Registry) ResolveUsername(ownerID *string) string {
	if ownerID == nil {
		return domain.UnknownUsername
	}
	u, ok := r.GetUser(*ownerID)
	if !ok {
		return domain.UnknownUsername
	}
	return u.DisplayName()
}

// ReasonText returns the label of a reason, or domain.DeletedReasonText for
// a dangling reference.
func (r *Registry) ReasonText(id string) string {
	rs, ok := r.GetReason(id)
	if !ok {
		return domain.DeletedReasonText
	}
	return rs.Text
}
