package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Secineralyr/Cotonestrum/internal/domain"
	"github.com/Secineralyr/Cotonestrum/internal/journal"
	"github.com/Secineralyr/Cotonestrum/internal/metrics"
	"github.com/Secineralyr/Cotonestrum/internal/protocol"
	"github.com/Secineralyr/Cotonestrum/internal/reducer"
	"github.com/Secineralyr/Cotonestrum/internal/registry"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeServer is a moderation server stand-in. handle is called for every
// frame the client sends.
type fakeServer struct {
	srv      *httptest.Server
	handle   func(s *fakeServer, env protocol.Envelope)
	received chan protocol.Envelope

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeServer(t *testing.T, handle func(s *fakeServer, env protocol.Envelope)) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		handle:   handle,
		received: make(chan protocol.Envelope, 64),
	}
	upgrader := websocket.Upgrader{}

	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			select {
			case fs.received <- env:
			default:
			}
			if fs.handle != nil {
				fs.handle(fs, env)
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) addr() string {
	return strings.TrimPrefix(fs.srv.URL, "http://")
}

func (fs *fakeServer) write(raw string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		_ = fs.conn.WriteMessage(websocket.TextMessage, []byte(raw))
	}
}

func (fs *fakeServer) reply(env protocol.Envelope, status protocol.Op, body string) {
	fs.write(fmt.Sprintf(`{"op":%q,"reqid":%q,"body":%s}`, status, env.ReqID, body))
}

func (fs *fakeServer) drop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.conn != nil {
		_ = fs.conn.Close()
	}
}

type testClient struct {
	*Client
	reg     *registry.Registry
	journal *journal.MemorySink
	prom    *prometheus.Registry
}

func newTestClient(t *testing.T, configure ...func(*Options)) *testClient {
	t.Helper()

	logger := zap.NewNop()
	prom := prometheus.NewRegistry()
	m := metrics.New(prom)
	reg := registry.New()
	sink := journal.NewMemorySink(100)
	red := reducer.New(reg, sink, m, logger)

	opts := DefaultOptions()
	opts.HandshakeTimeout = time.Second
	opts.AutoFetch = true
	for _, fn := range configure {
		fn(&opts)
	}

	c := New(red, sink, m, opts, logger)
	t.Cleanup(func() { _ = c.Disconnect() })

	return &testClient{Client: c, reg: reg, journal: sink, prom: prom}
}

func (tc *testClient) connect(t *testing.T, fs *fakeServer) {
	t.Helper()
	require.NoError(t, tc.Connect(context.Background(), fs.addr()))
	require.Equal(t, StateConnected, tc.State())
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.conn != nil
	}, waitFor, tick)
}

// metricValue sums every sample of the named counter or gauge.
func (tc *testClient) metricValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := tc.prom.Gather()
	require.NoError(t, err)

	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				sum += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				sum += g.GetValue()
			}
		}
	}
	return sum
}

func (tc *testClient) lastJournal(t *testing.T) *domain.JournalEntry {
	t.Helper()
	entries, _ := tc.journal.List(domain.JournalQuery{PageSize: 1})
	require.NotEmpty(t, entries)
	return entries[0]
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

const emojisBody = `[
	{"id":"e1","name":"blob_cat","tags":[],"url":"https://example.com/e1.png","is_self_made":false,"owner_id":"u1","risk_id":"r1","created_at":0,"updated_at":0},
	{"id":"e2","name":"blob_dog","tags":[],"url":"https://example.com/e2.png","is_self_made":true,"owner_id":"u2","risk_id":"r2","created_at":0,"updated_at":0}
]`

func TestClient_ConnectAndDisconnect(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)

	var mu sync.Mutex
	var states []State
	tc.OnStateChange(func(s State, err error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	tc.connect(t, fs)
	assert.Equal(t, fs.addr(), tc.Address().String())
	assert.Equal(t, float64(2), tc.metricValue(t, "cotonestrum_client_connection_state"))

	require.NoError(t, tc.Disconnect())
	assert.Equal(t, StateDisconnected, tc.State())
	require.NoError(t, tc.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateConnected, StateDisconnected}, states)
}

func TestClient_ConnectWhileConnectedIsNoop(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	require.NoError(t, tc.Connect(context.Background(), "127.0.0.1:1"))
	assert.Equal(t, StateConnected, tc.State())
	assert.Equal(t, fs.addr(), tc.Address().String())
}

func TestClient_ConnectFailure(t *testing.T) {
	fs := newFakeServer(t, nil)
	addr := fs.addr()
	fs.srv.Close()

	tc := newTestClient(t)
	var observed error
	tc.OnStateChange(func(s State, err error) {
		if s == StateDisconnected {
			observed = err
		}
	})

	err := tc.Connect(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, tc.State())
	assert.Error(t, observed)
	assert.Equal(t, float64(1), tc.metricValue(t, "cotonestrum_client_connect_attempts_total"))
}

func TestClient_ConnectInvalidAddress(t *testing.T) {
	tc := newTestClient(t)

	err := tc.Connect(context.Background(), "example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, StateDisconnected, tc.State())
}

func TestClient_FetchAllEmojisScenario(t *testing.T) {
	fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
		if env.Op != protocol.OpFetchAllEmojis {
			return
		}
		s.write(`{"op":"emojis_update","body":` + emojisBody + `}`)
		s.reply(env, protocol.OpOK, `{"op":"fetch_all_emojis","message":""}`)
		// A duplicate response must be dropped.
		s.reply(env, protocol.OpOK, `{"op":"fetch_all_emojis","message":""}`)
	})
	tc := newTestClient(t)
	tc.connect(t, fs)

	res, err := tc.Request(context.Background(), protocol.FetchAllEmojis())
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, protocol.OpFetchAllEmojis, res.Op)
	assert.Equal(t, protocol.OpOK, res.Status)

	assert.ElementsMatch(t, []string{"e1", "e2"}, tc.reg.IDs(domain.KindEmoji))

	require.Eventually(t, func() bool {
		return tc.metricValue(t, "cotonestrum_client_orphan_responses_total") == 1
	}, waitFor, tick)
	assert.Equal(t, 0, tc.Pending())

	entry := tc.lastJournal(t)
	assert.Equal(t, "Operation completed", entry.Subject)
	assert.Equal(t, "Operation: fetch_all_emojis", entry.Text)
	assert.False(t, entry.IsError)
}

func TestClient_DeniedRiskChangeLeavesRegistryUnchanged(t *testing.T) {
	fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
		if env.Op == protocol.OpSetRiskProp {
			s.reply(env, protocol.OpDenied, `{"op":"set_risk_prop","message":"Permission denied."}`)
		}
	})
	tc := newTestClient(t)
	tc.connect(t, fs)

	fs.write(`{"op":"risk_update","body":{"id":"r1","checked":0,"level":1,"reason_genre":null,"remark":"","created_at":0,"updated_at":0}}`)
	require.Eventually(t, func() bool {
		_, ok := tc.reg.GetRisk("r1")
		return ok
	}, waitFor, tick)
	before, _ := tc.reg.GetRisk("r1")

	ch, err := tc.ChangeRiskLevel(context.Background(), "r1", domain.RiskLevelDanger.Ptr())
	require.NoError(t, err)
	res := await(t, ch)

	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, domain.ErrDenied)
	assert.Equal(t, "Permission denied.", res.Message())

	after, _ := tc.reg.GetRisk("r1")
	assert.Equal(t, before, after)

	entry := tc.lastJournal(t)
	assert.Equal(t, "Operation denied", entry.Subject)
	assert.Contains(t, entry.Text, "Permission denied.")
	assert.True(t, entry.IsError)
}

func TestClient_ResponseStatuses(t *testing.T) {
	tests := []struct {
		status  protocol.Op
		subject string
		target  error
	}{
		{protocol.OpInternalError, "An internal error occurred", domain.ErrServerFault},
		{protocol.OpError, "An error occurred", domain.ErrServerFault},
		{protocol.Op("not_found"), "An error occurred", domain.ErrRequestFailed},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
				s.reply(env, tt.status, `{"op":"create_reason","message":"boom"}`)
			})
			tc := newTestClient(t)
			tc.connect(t, fs)

			ch, err := tc.CreateReason(context.Background(), "spam")
			require.NoError(t, err)
			res := await(t, ch)

			assert.ErrorIs(t, res.Err, tt.target)
			var reqErr domain.RequestError
			require.True(t, errors.As(res.Err, &reqErr))
			assert.Equal(t, "create_reason", reqErr.Op)
			assert.Equal(t, "boom", reqErr.Message)
			assert.Equal(t, tt.subject, tc.lastJournal(t).Subject)
		})
	}
}

func TestClient_MalformedFrameDoesNotStopReadLoop(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	fs.write(`not json at all`)
	fs.write(`{"reqid":"x","body":{}}`)
	fs.write(`{"op":"emojis_update","body":` + emojisBody + `}`)

	require.Eventually(t, func() bool {
		return tc.reg.Len(domain.KindEmoji) == 2
	}, waitFor, tick)
	assert.Equal(t, float64(2), tc.metricValue(t, "cotonestrum_client_decode_errors_total"))
	assert.Equal(t, StateConnected, tc.State())
}

func TestClient_UnknownReqIDIsDropped(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	fs.write(`{"op":"ok","reqid":"nobody-asked","body":{}}`)

	require.Eventually(t, func() bool {
		return tc.metricValue(t, "cotonestrum_client_orphan_responses_total") == 1
	}, waitFor, tick)
	assert.Equal(t, 0, tc.reg.Len(domain.KindEmoji))
}

func TestClient_DisconnectFailsPending(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	var failed Result
	done := make(chan struct{})
	err := tc.SendFunc(context.Background(), protocol.FetchAllUsers(),
		func(Result) { t.Error("unexpected success") },
		func(r Result) { failed = r; close(done) },
	)
	require.NoError(t, err)

	ch, err := tc.Send(context.Background(), protocol.FetchAllRisks())
	require.NoError(t, err)
	assert.Equal(t, 2, tc.Pending())

	require.NoError(t, tc.Disconnect())

	res := await(t, ch)
	assert.ErrorIs(t, res.Err, domain.ErrDisconnected)
	<-done
	assert.ErrorIs(t, failed.Err, domain.ErrDisconnected)
	assert.Equal(t, 0, tc.Pending())
	assert.Equal(t, float64(2), tc.metricValue(t, "cotonestrum_client_requests_abandoned_total"))
	assert.Equal(t, float64(0), tc.metricValue(t, "cotonestrum_client_pending_requests"))
}

func TestClient_ServerCloseFailsPending(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	lost := make(chan error, 1)
	tc.OnStateChange(func(s State, err error) {
		if s == StateDisconnected {
			lost <- err
		}
	})

	ch, err := tc.Send(context.Background(), protocol.FetchAllReasons())
	require.NoError(t, err)
	<-fs.received
	fs.drop()

	res := await(t, ch)
	assert.ErrorIs(t, res.Err, domain.ErrDisconnected)

	select {
	case <-lost:
	case <-time.After(waitFor):
		t.Fatal("state observer was not notified")
	}
	assert.Equal(t, StateDisconnected, tc.State())
	level, _ := tc.Auth()
	assert.Equal(t, domain.AuthLevelNone, level)
}

func TestClient_SendWhenNotConnected(t *testing.T) {
	tc := newTestClient(t)

	_, err := tc.Send(context.Background(), protocol.FetchAllEmojis())
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = tc.ChangeReason(context.Background(), "r1", "")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	_, err = tc.Authenticate(context.Background(), "token")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	assert.ErrorIs(t, tc.FetchAll(context.Background()), domain.ErrNotConnected)
	assert.Equal(t, 0, tc.Pending())
}

func TestClient_RequestContextCancelled(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req := protocol.FetchAllEmojis()
	_, err := tc.Request(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, tc.Pending())

	env := <-fs.received
	fs.reply(env, protocol.OpOK, `{}`)
	require.Eventually(t, func() bool {
		return tc.metricValue(t, "cotonestrum_client_orphan_responses_total") == 1
	}, waitFor, tick)
}

func TestClient_ChangeReasonSendsNullForEmpty(t *testing.T) {
	fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
		s.reply(env, protocol.OpOK, `{}`)
	})
	tc := newTestClient(t)
	tc.connect(t, fs)

	ch, err := tc.ChangeReason(context.Background(), "r1", "")
	require.NoError(t, err)
	await(t, ch)

	env := <-fs.received
	assert.Equal(t, protocol.OpSetRiskProp, env.Op)
	assert.JSONEq(t, `{"id":"r1","props":{"reason_id":null}}`, string(env.Body))
}

func TestClient_ReconnectResetsRegistry(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	fs.write(`{"op":"emojis_update","body":` + emojisBody + `}`)
	require.Eventually(t, func() bool {
		return tc.reg.Len(domain.KindEmoji) == 2
	}, waitFor, tick)

	require.NoError(t, tc.Disconnect())
	assert.Equal(t, 2, tc.reg.Len(domain.KindEmoji))

	var mu sync.Mutex
	var changes []reducer.ChangeSet
	tc.Reducer().Subscribe(func(cs reducer.ChangeSet) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, cs)
	})

	require.NoError(t, tc.Connect(context.Background(), fs.addr()))
	assert.Equal(t, 0, tc.reg.Len(domain.KindEmoji))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, reducer.ChangeSet{
		Kind:    domain.KindEmoji,
		Op:      reducer.OpReset,
		Removed: []string{"e1", "e2"},
	}, changes[0])
	assert.Equal(t, float64(0), tc.metricValue(t, "cotonestrum_registry_entities"))
}

func TestClient_DisconnectBeforeRequestIsRegistered(t *testing.T) {
	fs := newFakeServer(t, nil)
	tc := newTestClient(t)
	tc.connect(t, fs)

	var once sync.Once
	tc.beforeRegister = func() {
		once.Do(func() { require.NoError(t, tc.Disconnect()) })
	}

	for range 20 {
		ch, err := tc.Send(context.Background(), protocol.FetchAllEmojis())
		assert.ErrorIs(t, err, domain.ErrNotConnected)
		assert.Nil(t, ch)
		assert.Equal(t, 0, tc.Pending())
	}
}

func TestClient_RequestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
		switch env.Op {
		case protocol.OpFetchAllEmojis:
			s.reply(env, protocol.OpOK, `{"op":"fetch_all_emojis","message":""}`)
		default:
			s.reply(env, protocol.OpDenied, `{"op":"delete_reason","message":"no"}`)
		}
	})
	tc := newTestClient(t, func(o *Options) { o.TracerProvider = tp })
	tc.connect(t, fs)

	okReq := protocol.FetchAllEmojis()
	_, err := tc.Request(context.Background(), okReq)
	require.NoError(t, err)

	deniedReq := protocol.DeleteReason("rs1")
	_, err = tc.Request(context.Background(), deniedReq)
	require.ErrorIs(t, err, domain.ErrDenied)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	attrs := func(s sdktrace.ReadOnlySpan) map[string]string {
		m := make(map[string]string)
		for _, kv := range s.Attributes() {
			m[string(kv.Key)] = kv.Value.Emit()
		}
		return m
	}

	assert.Equal(t, "cotonestrum.request fetch_all_emojis", spans[0].Name())
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, map[string]string{
		"cotonestrum.op":     "fetch_all_emojis",
		"cotonestrum.reqid":  okReq.ReqID,
		"cotonestrum.status": "ok",
	}, attrs(spans[0]))

	assert.Equal(t, "cotonestrum.request delete_reason", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "denied", attrs(spans[1])["cotonestrum.status"])
	assert.Equal(t, deniedReq.ReqID, attrs(spans[1])["cotonestrum.reqid"])
}

func TestClient_Authenticate(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		wantLevel domain.AuthLevel
		wantUser  string
		wantFetch bool
	}{
		{"user", "You logged in as 'User'. (Username: alice)", domain.AuthLevelUser, "alice", false},
		{"emoji moderator", "You logged in as 'Emoji moderator'. (Username: bob)", domain.AuthLevelEmojiModerator, "bob", true},
		{"moderator", "You logged in as 'Moderator'. (Username: carol)", domain.AuthLevelModerator, "carol", true},
		{"administrator", "You logged in as 'Administrator'. (Username: dave)", domain.AuthLevelAdministrator, "dave", true},
		{"unrecognized", "Welcome.", domain.AuthLevelUser, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
				if env.Op == protocol.OpAuth {
					body, _ := json.Marshal(protocol.StatusBody{Op: protocol.OpAuth, Message: tt.message})
					s.reply(env, protocol.OpOK, string(body))
				}
			})
			tc := newTestClient(t)
			tc.connect(t, fs)

			level, err := tc.Authenticate(context.Background(), "secret")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, level)

			gotLevel, gotUser := tc.Auth()
			assert.Equal(t, tt.wantLevel, gotLevel)
			assert.Equal(t, tt.wantUser, gotUser)

			auth := <-fs.received
			assert.Equal(t, protocol.OpAuth, auth.Op)
			assert.JSONEq(t, `{"token":"secret"}`, string(auth.Body))

			if !tt.wantFetch {
				assert.Equal(t, 0, tc.Pending())
				return
			}
			var ops []protocol.Op
			for range 4 {
				select {
				case env := <-fs.received:
					ops = append(ops, env.Op)
				case <-time.After(waitFor):
					t.Fatal("timed out waiting for fetch requests")
				}
			}
			assert.Equal(t, []protocol.Op{
				protocol.OpFetchAllEmojis,
				protocol.OpFetchAllUsers,
				protocol.OpFetchAllRisks,
				protocol.OpFetchAllReasons,
			}, ops)
		})
	}
}

func TestClient_AuthenticateDenied(t *testing.T) {
	fs := newFakeServer(t, func(s *fakeServer, env protocol.Envelope) {
		s.reply(env, protocol.OpDenied, `{"op":"auth","message":"Invalid token."}`)
	})
	tc := newTestClient(t)
	tc.connect(t, fs)

	level, err := tc.Authenticate(context.Background(), "bad")
	assert.ErrorIs(t, err, domain.ErrDenied)
	assert.Equal(t, domain.AuthLevelNone, level)

	gotLevel, _ := tc.Auth()
	assert.Equal(t, domain.AuthLevelNone, gotLevel)
}

func TestParseAuthMessage(t *testing.T) {
	level, user, ok := parseAuthMessage("You logged in as 'Moderator'. (Username: mod_1)")
	assert.True(t, ok)
	assert.Equal(t, domain.AuthLevelModerator, level)
	assert.Equal(t, "mod_1", user)

	_, _, ok = parseAuthMessage("You logged in as 'Guest'.")
	assert.False(t, ok)
}
