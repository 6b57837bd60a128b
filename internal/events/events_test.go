package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
)

// recordingPublisher captures published events by routing key.
type recordingPublisher struct {
	NoOpPublisher

	mu     sync.Mutex
	keys   []string
	events []any
	fail   error
}

func (p *recordingPublisher) record(key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishChanges(_ context.Context, cs reducer.ChangeSet) error {
	return p.record(RoutingKeyChanged(cs.Kind), NewRegistryChangedEvent(cs))
}

func (p *recordingPublisher) PublishNotice(_ context.Context, n reducer.Notice) error {
	return p.record(RoutingKeyNotice, NewNoticeEvent(n))
}

func (p *recordingPublisher) PublishConnection(_ context.Context, state, address string, cause error) error {
	return p.record(RoutingKeyConnection, NewConnectionEvent(state, address, cause))
}

func (p *recordingPublisher) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func TestRoutingKeyChanged(t *testing.T) {
	assert.Equal(t, "registry.emoji.changed", RoutingKeyChanged(domain.KindEmoji))
	assert.Equal(t, "registry.deleted_emoji.changed", RoutingKeyChanged(domain.KindDeletedEmoji))
}

func TestRegistryChangedEvent_JSON(t *testing.T) {
	event := NewRegistryChangedEvent(reducer.ChangeSet{
		Kind:    domain.KindRisk,
		Op:      protocol.OpRiskUpdate,
		Updated: []string{"r1"},
	})

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, EventTypeRegistryChanged, decoded["event_type"])
	assert.Equal(t, "cotonestrum", decoded["source"])
	assert.Equal(t, "risk", decoded["kind"])
	assert.Equal(t, "risk_update", decoded["op"])
	assert.Equal(t, []any{"r1"}, decoded["updated"])
	assert.NotContains(t, decoded, "added")
	assert.NotEmpty(t, decoded["event_id"])
}

func TestConnectionEvent_Error(t *testing.T) {
	assert.Empty(t, NewConnectionEvent("connected", "localhost:3005", nil).Error)
	assert.Equal(t, "boom", NewConnectionEvent("disconnected", "", errors.New("boom")).Error)
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 10*time.Second, nextBackoff(5*time.Second, 30*time.Second))
	assert.Equal(t, 30*time.Second, nextBackoff(20*time.Second, 30*time.Second))
}

func TestForwarder_PublishesReducerOutput(t *testing.T) {
	pub := &recordingPublisher{}
	fwd := NewForwarder(pub, 16, zap.NewNop())
	red := reducer.New(registry.New(), nil, nil, zap.NewNop())
	detach := fwd.Attach(red)
	defer detach()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go fwd.Run(ctx, &wg)

	push := func(raw string) {
		f, err := protocol.Decode([]byte(raw))
		require.NoError(t, err)
		red.Apply(context.Background(), f)
	}
	push(`{"op":"reason_update","body":{"id":"rs1","text":"spam","created_at":0,"updated_at":0}}`)
	push(`{"op":"internal_error","body":{"message":"db down"}}`)
	fwd.Connection("connected", "localhost:3005", nil)

	require.Eventually(t, func() bool {
		return len(pub.snapshot()) == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()

	assert.Equal(t, []string{"registry.reason.changed", RoutingKeyNotice, RoutingKeyConnection}, pub.snapshot())
}

func TestForwarder_FlushesOnShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	fwd := NewForwarder(pub, 16, zap.NewNop())

	fwd.Changes(reducer.ChangeSet{Kind: domain.KindUser, Op: protocol.OpUserUpdate, Added: []string{"u1"}})
	fwd.Changes(reducer.ChangeSet{Kind: domain.KindUser, Op: protocol.OpUserUpdate, Updated: []string{"u1"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	fwd.Run(ctx, &wg)

	assert.Len(t, pub.snapshot(), 2)
}

func TestForwarder_DropsWhenQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	fwd := NewForwarder(&recordingPublisher{}, 1, zap.New(core))

	fwd.Notice(reducer.Notice{Op: protocol.OpError})
	fwd.Notice(reducer.Notice{Op: protocol.OpError})

	assert.Equal(t, 1, logs.FilterMessage("Event queue full, dropping event").Len())
}

func TestForwarder_LogsPublishFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &recordingPublisher{fail: errors.New("channel not available")}
	fwd := NewForwarder(pub, 4, zap.New(core))

	fwd.Connection("disconnected", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	fwd.Run(ctx, &wg)

	assert.Equal(t, 1, logs.FilterMessage("Failed to publish event").Len())
}

func TestNoOpPublisher(t *testing.T) {
	pub := NewNoOpPublisher()
	ctx := context.Background()

	assert.NoError(t, pub.Publish(ctx, "any", struct{}{}))
	assert.NoError(t, pub.PublishChanges(ctx, reducer.ChangeSet{}))
	assert.NoError(t, pub.PublishNotice(ctx, reducer.Notice{}))
	assert.NoError(t, pub.PublishConnection(ctx, "connected", "", nil))
	assert.NoError(t, pub.Close())
}

var _ Publisher = (*recordingPublisher)(nil)
