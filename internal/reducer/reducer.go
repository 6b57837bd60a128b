// Package reducer folds unsolicited server pushes into the registry and
// tells observers which ids changed.
package reducer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/journal"
	"github.com/Secineralyr/Cotonestrum/internal/metrics"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
)

const (
	subjectServerError    = "An error occurred in server-side processing"
	subjectInternalError  = "An internal error occurred in server-side processing"
	textServerMisbehaving = "This is most likely caused by a bug or a misconfiguration on the server. Please report it."
)

type waitKey struct {
	kind domain.Kind
	id   string
}

// Reducer applies pushes to a Registry. Apply is meant to be called from a
// single goroutine, the connection's read loop; observer registration and
// Await are safe from any goroutine.
type Reducer struct {
	reg     *registry.Registry
	sink    journal.Sink
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu              sync.Mutex
	nextID          uint64
	changeObservers map[uint64]func(ChangeSet)
	noticeObservers map[uint64]func(Notice)
	waiters         map[waitKey]map[uint64]chan struct{}
}

// New creates a new Reducer. sink and m may be nil.
func New(reg *registry.Registry, sink journal.Sink, m *metrics.Metrics, logger *zap.Logger) *Reducer {
	if sink == nil {
		sink = journal.Discard{}
	}
	return &Reducer{
		reg:             reg,
		sink:            sink,
		metrics:         m,
		logger:          logger.Named("reducer"),
		changeObservers: make(map[uint64]func(ChangeSet)),
		noticeObservers: make(map[uint64]func(Notice)),
		waiters:         make(map[waitKey]map[uint64]chan struct{}),
	}
}

// Registry returns the registry the reducer writes to.
func (r *Reducer) Registry() *registry.Registry {
	return r.reg
}

// Subscribe registers fn to receive every non-empty ChangeSet. fn runs on
// the goroutine calling Apply and must not block. The returned function
// removes the subscription.
func (r *Reducer) Subscribe(fn func(ChangeSet)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.changeObservers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.changeObservers, id)
	}
}

// OnNotice registers fn to receive server error notices.
func (r *Reducer) OnNotice(fn func(Notice)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.noticeObservers[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.noticeObservers, id)
	}
}

// Await returns a channel that is closed once the record kind/id is in the
// registry, immediately if it already is. cancel releases the subscription
// without closing the channel; calling it after the channel closed is a
// no-op.
func (r *Reducer) Await(kind domain.Kind, id string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reg.Has(kind, id) {
		close(ch)
		return ch, func() {}
	}

	key := waitKey{kind: kind, id: id}
	token := r.nextID
	r.nextID++
	if r.waiters[key] == nil {
		r.waiters[key] = make(map[uint64]chan struct{})
	}
	r.waiters[key][token] = ch

	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if set, ok := r.waiters[key]; ok {
			delete(set, token)
			if len(set) == 0 {
				delete(r.waiters, key)
			}
		}
	}
}

// Waiting returns the number of outstanding Await subscriptions.
func (r *Reducer) Waiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, set := range r.waiters {
		n += len(set)
	}
	return n
}

// Reset clears the registry and publishes one change set per kind listing
// the ids that were dropped.
func (r *Reducer) Reset() {
	kinds := []domain.Kind{
		domain.KindEmoji,
		domain.KindDeletedEmoji,
		domain.KindUser,
		domain.KindRisk,
		domain.KindReason,
	}

	removed := make(map[domain.Kind][]string, len(kinds))
	for _, kind := range kinds {
		removed[kind] = r.reg.IDs(kind)
	}
	r.reg.Reset()

	for _, kind := range kinds {
		r.metrics.RegistrySize(kind.String(), 0)
		if len(removed[kind]) == 0 {
			continue
		}
		r.publish(ChangeSet{Kind: kind, Op: OpReset, Removed: removed[kind]})
	}
	r.logger.Debug("Registry cleared")
}

// Apply interprets one push frame. Unknown ops and undecodable bodies are
// logged and leave the registry untouched.
func (r *Reducer) Apply(ctx context.Context, f *protocol.Frame) {
	r.metrics.PushApplied(pushLabel(f.Op))

	var (
		cs      ChangeSet
		subject string
		skipped int
		err     error
	)

	switch f.Op {
	case protocol.OpUserUpdate:
		cs, err = applyOne(f, domain.KindUser, userID, domain.User.Validate, r.reg.PutUser)
		subject = "User data received"
	case protocol.OpUsersUpdate:
		cs, skipped, err = applyMany(f, domain.KindUser, userID, domain.User.Validate, r.reg.PutUser)
		subject = "Multiple users' data received"
	case protocol.OpEmojiUpdate:
		cs, err = applyOne(f, domain.KindEmoji, emojiID, domain.Emoji.Validate, r.reg.PutEmoji)
		subject = "Emoji data received"
	case protocol.OpEmojisUpdate:
		cs, skipped, err = applyMany(f, domain.KindEmoji, emojiID, domain.Emoji.Validate, r.reg.PutEmoji)
		subject = "Emoji data received"
	case protocol.OpEmojiDelete:
		cs, err = r.removeOne(f, domain.KindEmoji)
		subject = "Emoji data deleted"
	case protocol.OpEmojisDelete:
		cs, err = r.removeMany(f, domain.KindEmoji)
		subject = "Emoji data deleted"
	case protocol.OpDeletedEmojiUpdate:
		cs, err = applyOne(f, domain.KindDeletedEmoji, deletedEmojiID, validateDeleted, r.reg.PutDeletedEmoji)
		subject = "Deleted emoji data received"
	case protocol.OpDeletedEmojisUpdate:
		cs, skipped, err = applyMany(f, domain.KindDeletedEmoji, deletedEmojiID, validateDeleted, r.reg.PutDeletedEmoji)
		subject = "Deleted emoji data received"
	case protocol.OpRiskUpdate:
		cs, err = applyOne(f, domain.KindRisk, riskID, domain.Risk.Validate, r.reg.PutRisk)
		subject = "Risk data received"
	case protocol.OpRisksUpdate:
		cs, skipped, err = applyMany(f, domain.KindRisk, riskID, domain.Risk.Validate, r.reg.PutRisk)
		subject = "Risk data received"
	case protocol.OpReasonUpdate:
		cs, err = applyOne(f, domain.KindReason, reasonID, domain.Reason.Validate, r.reg.PutReason)
		subject = "Reason data received"
	case protocol.OpReasonsUpdate:
		cs, skipped, err = applyMany(f, domain.KindReason, reasonID, domain.Reason.Validate, r.reg.PutReason)
		subject = "Reason data received"
	case protocol.OpReasonDelete:
		cs, err = r.removeOne(f, domain.KindReason)
		subject = "Reason data deleted"
	case protocol.OpReasonsDelete:
		cs, err = r.removeMany(f, domain.KindReason)
		subject = "Reason data deleted"

	case protocol.OpMisskeyAPIError, protocol.OpMisskeyUnknownError, protocol.OpError:
		r.notice(ctx, f, subjectServerError)
		return
	case protocol.OpInternalError:
		r.notice(ctx, f, subjectInternalError)
		return

	default:
		r.metrics.UnknownPush()
		r.logger.Warn("Unknown push", zap.String("op", f.Op.String()))
		r.sink.Write(ctx, domain.NewJournalEntry(f.Op.String(), "<"+f.Op.String()+">", "", f.Raw, false))
		return
	}

	if err != nil {
		r.logger.Error("Failed to apply push",
			zap.String("op", f.Op.String()),
			zap.Error(err),
		)
		r.sink.Write(ctx, domain.NewJournalEntry(f.Op.String(), "Received data could not be applied", err.Error(), f.Raw, true))
		return
	}

	text := ""
	if skipped > 0 {
		text = fmt.Sprintf("%d invalid record(s) skipped", skipped)
		r.logger.Warn("Skipped invalid records in batch push",
			zap.String("op", f.Op.String()),
			zap.Int("skipped", skipped),
		)
	}
	r.sink.Write(ctx, domain.NewJournalEntry(f.Op.String(), subject, text, f.Raw, skipped > 0))
	r.metrics.RegistrySize(cs.Kind.String(), r.reg.Len(cs.Kind))

	if cs.Empty() {
		return
	}

	r.logger.Debug("Registry changed",
		zap.String("op", f.Op.String()),
		zap.String("kind", cs.Kind.String()),
		zap.Int("added", len(cs.Added)),
		zap.Int("updated", len(cs.Updated)),
		zap.Int("removed", len(cs.Removed)),
	)
	r.resolveWaiters(cs)
	r.publish(cs)
}

func (r *Reducer) notice(ctx context.Context, f *protocol.Frame, subject string) {
	n := Notice{
		Op:      f.Op,
		Subject: subject,
		Text:    textServerMisbehaving,
		Body:    f.Body,
	}

	r.logger.Error("Server reported an error",
		zap.String("op", f.Op.String()),
		zap.ByteString("body", f.Body),
	)
	r.sink.Write(ctx, domain.NewJournalEntry(f.Op.String(), n.Subject, n.Text, f.Raw, true))

	r.mu.Lock()
	observers := make([]func(Notice), 0, len(r.noticeObservers))
	for _, fn := range r.noticeObservers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(n)
	}
}

func (r *Reducer) publish(cs ChangeSet) {
	r.mu.Lock()
	observers := make([]func(ChangeSet), 0, len(r.changeObservers))
	for _, fn := range r.changeObservers {
		observers = append(observers, fn)
	}
	r.mu.Unlock()

	for _, fn := range observers {
		fn(cs)
	}
}

func (r *Reducer) resolveWaiters(cs ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.waiters) == 0 {
		return
	}
	for _, ids := range [][]string{cs.Added, cs.Updated} {
		for _, id := range ids {
			key := waitKey{kind: cs.Kind, id: id}
			for _, ch := range r.waiters[key] {
				close(ch)
			}
			delete(r.waiters, key)
		}
	}
}

func (r *Reducer) removeOne(f *protocol.Frame, kind domain.Kind) (ChangeSet, error) {
	var body protocol.IDBody
	if err := f.DecodeBody(&body); err != nil {
		return ChangeSet{}, err
	}
	return r.remove(f.Op, kind, []string{body.ID}), nil
}

func (r *Reducer) removeMany(f *protocol.Frame, kind domain.Kind) (ChangeSet, error) {
	var body protocol.IDsBody
	if err := f.DecodeBody(&body); err != nil {
		return ChangeSet{}, err
	}
	return r.remove(f.Op, kind, body.IDs), nil
}

func (r *Reducer) remove(op protocol.Op, kind domain.Kind, ids []string) ChangeSet {
	cs := ChangeSet{Kind: kind, Op: op}
	for _, id := range ids {
		var ok bool
		switch kind {
		case domain.KindEmoji:
			_, ok = r.reg.PopEmoji(id)
		case domain.KindReason:
			_, ok = r.reg.PopReason(id)
		}
		if ok {
			cs.Removed = append(cs.Removed, id)
		}
	}
	return cs
}

func applyOne[T any](f *protocol.Frame, kind domain.Kind, id func(T) string, validate func(T) error, put func(T) bool) (ChangeSet, error) {
	var item T
	if err := f.DecodeBody(&item); err != nil {
		return ChangeSet{}, err
	}
	if err := validate(item); err != nil {
		return ChangeSet{}, err
	}
	return putAll(f.Op, kind, []T{item}, id, put), nil
}

// applyMany decodes a batch body, a JSON array of records. Each record is
// decoded and validated on its own; invalid ones are skipped and counted so
// one bad entry does not discard the batch.
func applyMany[T any](f *protocol.Frame, kind domain.Kind, id func(T) string, validate func(T) error, put func(T) bool) (ChangeSet, int, error) {
	var raws []json.RawMessage
	if err := f.DecodeBody(&raws); err != nil {
		return ChangeSet{}, 0, err
	}

	items := make([]T, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			skipped++
			continue
		}
		if err := validate(item); err != nil {
			skipped++
			continue
		}
		items = append(items, item)
	}
	return putAll(f.Op, kind, items, id, put), skipped, nil
}

func putAll[T any](op protocol.Op, kind domain.Kind, items []T, id func(T) string, put func(T) bool) ChangeSet {
	cs := ChangeSet{Kind: kind, Op: op}
	for _, item := range items {
		if put(item) {
			cs.Updated = append(cs.Updated, id(item))
		} else {
			cs.Added = append(cs.Added, id(item))
		}
	}
	return cs
}

// pushLabel bounds the op label to the known catalog.
func pushLabel(op protocol.Op) string {
	if op.IsMutationPush() || op.IsErrorPush() {
		return op.String()
	}
	return "unknown"
}

func userID(u domain.User) string                 { return u.ID }
func emojiID(e domain.Emoji) string               { return e.ID }
func deletedEmojiID(e domain.DeletedEmoji) string { return e.ID }
func riskID(k domain.Risk) string                 { return k.ID }
func reasonID(rs domain.Reason) string            { return rs.ID }

func validateDeleted(e domain.DeletedEmoji) error { return e.Emoji.Validate() }
