package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/room-engine/pkg/config"
	"github.com/txn2/room-engine/pkg/plugin"
	"github.com/txn2/room-engine/pkg/plugins/mines"
	"github.com/txn2/room-engine/pkg/protocol"
	"github.com/txn2/room-engine/pkg/session"
	"github.com/txn2/room-engine/pkg/store/memory"
)

// recordingSender collects sent messages.
type recordingSender struct {
	mu   sync.Mutex
	msgs []protocol.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
	return s.err
}

func (s *recordingSender) messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// counter keeps a count in its payload and finishes after finishAt calls.
type counter struct {
	trigger  string
	finishAt int
	calls    int
}

func (c *counter) Trigger() string { return c.trigger }

func (c *counter) Handle(_ context.Context, call *plugin.Call) (plugin.Result, error) {
	c.calls++
	var n int
	if !call.Fresh {
		if err := plugin.Decode(call.Payload, &n); err != nil {
			n = 0
		}
	}
	n++
	call.Tools.SendText(fmt.Sprintf("%s %d", c.trigger, n))
	if c.finishAt > 0 && n >= c.finishAt {
		return plugin.Finish(), nil
	}
	return plugin.Continue(n)
}

type failing struct{ calls int }

func (*failing) Trigger() string { return "!fail" }

func (f *failing) Handle(_ context.Context, call *plugin.Call) (plugin.Result, error) {
	f.calls++
	call.Tools.SendText("partial output")
	return plugin.Result{}, errors.New("boom")
}

type panicking struct{}

func (panicking) Trigger() string { return "!panic" }

func (panicking) Handle(context.Context, *plugin.Call) (plugin.Result, error) {
	panic("nil map write")
}

type fixture struct {
	table  *session.Table
	reg    *plugin.Registry
	sender *recordingSender
	router *Router
	clock  time.Time
}

func newFixture(t *testing.T, cfg Config, handlers ...plugin.Handler) *fixture {
	t.Helper()
	f := &fixture{
		table:  session.NewTable(),
		reg:    plugin.NewRegistry(),
		sender: &recordingSender{},
		clock:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, h := range handlers {
		require.NoError(t, f.reg.Register(h))
	}
	f.router = New(f.table, f.reg, memory.New(), f.sender, cfg)
	f.router.now = func() time.Time { return f.clock }
	f.router.SetSelf("RoomBot")
	return f
}

// send dispatches a text event and advances the clock past the rate limit.
func (f *fixture) send(room, user, body string) Outcome {
	out := f.router.Dispatch(context.Background(), protocol.Event{
		Kind: protocol.EventText, From: user, Room: room, Body: body,
	})
	f.clock = f.clock.Add(time.Second)
	return out
}

func (f *fixture) session(room, user string) (session.Session, bool) {
	var (
		s  session.Session
		ok bool
	)
	f.table.Do(func(tx *session.Tx) { s, ok = tx.Get(session.Key{Room: room, User: user}) })
	return s, ok
}

func (f *fixture) assertInvariant(t *testing.T) {
	t.Helper()
	f.table.Do(func(tx *session.Tx) {
		tx.Range(func(s session.Session) bool {
			assert.True(t, s.Active, "session %s stored inactive", s.Key)
			return true
		})
	})
}

func defaultConfig() Config {
	return Config{RateLimit: 800 * time.Millisecond, RateLimitScope: config.ScopeUser, HandlerTimeout: time.Second}
}

func TestDispatch_Filters(t *testing.T) {
	a := &counter{trigger: "!a"}
	f := newFixture(t, defaultConfig(), a)
	ctx := context.Background()

	assert.Equal(t, Ignored, f.router.Dispatch(ctx, protocol.Event{Kind: protocol.EventError, Reason: "kicked"}))
	assert.Equal(t, Ignored, f.router.Dispatch(ctx, protocol.Event{Kind: protocol.EventOther}))
	assert.Equal(t, FromSelf, f.send("lobby", "roombot", "!a"))
	assert.Equal(t, NoRoute, f.send("lobby", "alice", "hello"))
	assert.Equal(t, NoRoute, f.send("lobby", "alice", "   "))

	assert.Zero(t, a.calls)
	assert.Zero(t, f.table.Len(), "unrouted messages leave no session")
	assert.Empty(t, f.sender.messages())
}

func TestDispatch_StartContinueFinish(t *testing.T) {
	a := &counter{trigger: "!a", finishAt: 3}
	f := newFixture(t, defaultConfig(), a)

	assert.Equal(t, Started, f.send("lobby", "alice", "!A"))
	s, ok := f.session("lobby", "alice")
	require.True(t, ok)
	assert.Equal(t, "!a", s.HandlerID)
	assert.JSONEq(t, `1`, string(s.Payload))

	assert.Equal(t, Continued, f.send("lobby", "alice", "anything"))
	f.assertInvariant(t)

	assert.Equal(t, Finished, f.send("lobby", "alice", "more"))
	_, ok = f.session("lobby", "alice")
	assert.False(t, ok, "finished sessions are removed")

	assert.Equal(t, []protocol.Message{
		protocol.SendText("lobby", "!a 1"),
		protocol.SendText("lobby", "!a 2"),
		protocol.SendText("lobby", "!a 3"),
	}, f.sender.messages())
}

func TestDispatch_LastActivityRefreshed(t *testing.T) {
	f := newFixture(t, defaultConfig(), &counter{trigger: "!a"})

	start := f.clock
	f.send("lobby", "alice", "!a")
	f.clock = f.clock.Add(time.Minute)
	f.send("lobby", "alice", "again")

	s, ok := f.session("lobby", "alice")
	require.True(t, ok)
	assert.True(t, s.LastActivity.After(start))
	assert.True(t, s.LastActivity.Equal(start.Add(time.Second+time.Minute)))
}

func TestDispatch_AtMostOneSession(t *testing.T) {
	a := &counter{trigger: "!a"}
	b := &counter{trigger: "!b"}
	f := newFixture(t, defaultConfig(), a, b)

	assert.Equal(t, Started, f.send("lobby", "alice", "!a"))
	assert.Equal(t, Continued, f.send("lobby", "alice", "!b"))

	assert.Equal(t, 2, a.calls)
	assert.Zero(t, b.calls, "a second trigger is input to the active session")
	assert.Equal(t, 1, f.table.Len())

	s, _ := f.session("lobby", "alice")
	assert.Equal(t, "!a", s.HandlerID)

	assert.Equal(t, Started, f.send("arcade", "alice", "!b"), "sessions are per room")
	assert.Equal(t, 2, f.table.Len())
}

func TestDispatch_RateLimit(t *testing.T) {
	a := &counter{trigger: "!a"}
	f := newFixture(t, defaultConfig(), a)
	ctx := context.Background()
	ev := func(room, body string) protocol.Event {
		return protocol.Event{Kind: protocol.EventText, From: "alice", Room: room, Body: body}
	}

	assert.Equal(t, Started, f.router.Dispatch(ctx, ev("lobby", "!a")))

	f.clock = f.clock.Add(500 * time.Millisecond)
	assert.Equal(t, RateLimited, f.router.Dispatch(ctx, ev("lobby", "x")))
	assert.Equal(t, RateLimited, f.router.Dispatch(ctx, ev("arcade", "!a")), "user scope spans rooms")
	assert.Equal(t, 1, a.calls, "dropped messages have no side effects")

	f.clock = f.clock.Add(301 * time.Millisecond)
	assert.Equal(t, Continued, f.router.Dispatch(ctx, ev("lobby", "x")))

	f.clock = f.clock.Add(799 * time.Millisecond)
	assert.Equal(t, RateLimited, f.router.Dispatch(ctx, ev("lobby", "x")))
	assert.Equal(t, 2, a.calls)

	other := protocol.Event{Kind: protocol.EventText, From: "bob", Room: "lobby", Body: "!a"}
	assert.Equal(t, Started, f.router.Dispatch(ctx, other), "limits are per user")
}

func TestDispatch_RateLimitRoomUserScope(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimitScope = config.ScopeRoomUser
	f := newFixture(t, cfg, &counter{trigger: "!a"})
	ctx := context.Background()

	assert.Equal(t, Started, f.router.Dispatch(ctx, protocol.Event{Kind: protocol.EventText, From: "alice", Room: "lobby", Body: "!a"}))
	assert.Equal(t, Started, f.router.Dispatch(ctx, protocol.Event{Kind: protocol.EventText, From: "alice", Room: "arcade", Body: "!a"}))
	assert.Equal(t, RateLimited, f.router.Dispatch(ctx, protocol.Event{Kind: protocol.EventText, From: "alice", Room: "lobby", Body: "x"}))
}

func TestDispatch_PluginIsolation(t *testing.T) {
	bad := &failing{}
	good := &counter{trigger: "!a"}
	f := newFixture(t, defaultConfig(), bad, good)

	assert.Equal(t, Started, f.send("lobby", "bob", "!a"))
	assert.Equal(t, Failed, f.send("lobby", "alice", "!fail"))
	assert.Equal(t, Failed, f.send("lobby", "alice", "!fail"))

	assert.Equal(t, 2, bad.calls, "one destruction per failing invocation")
	_, ok := f.session("lobby", "alice")
	assert.False(t, ok)

	s, ok := f.session("lobby", "bob")
	require.True(t, ok, "other sessions are unaffected")
	assert.Equal(t, "!a", s.HandlerID)
	assert.Equal(t, Continued, f.send("lobby", "bob", "next"))

	msgs := f.sender.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, fmt.Sprintf(DefaultFailureMessage, "alice"), msgs[1].Body)
	for _, m := range msgs {
		assert.NotEqual(t, "partial output", m.Body, "output of a failed call is discarded")
	}
}

func TestDispatch_PanicIsContained(t *testing.T) {
	f := newFixture(t, defaultConfig(), panicking{})

	assert.Equal(t, Failed, f.send("lobby", "alice", "!panic"))
	assert.Zero(t, f.table.Len())
	require.Len(t, f.sender.messages(), 1)
}

func TestDispatch_OrphanedSessionIsReplaced(t *testing.T) {
	a := &counter{trigger: "!a"}
	f := newFixture(t, defaultConfig(), a)
	f.table.Do(func(tx *session.Tx) {
		tx.Put(session.Session{
			Key:          session.Key{Room: "lobby", User: "alice"},
			Active:       true,
			HandlerID:    "!retired",
			LastActivity: f.clock,
		})
	})

	assert.Equal(t, NoRoute, f.send("lobby", "alice", "hello"))
	assert.Zero(t, f.table.Len())

	f.table.Do(func(tx *session.Tx) {
		tx.Put(session.Session{Key: session.Key{Room: "lobby", User: "alice"}, Active: true, HandlerID: "!retired"})
	})
	assert.Equal(t, Started, f.send("lobby", "alice", "!a"))
	s, _ := f.session("lobby", "alice")
	assert.Equal(t, "!a", s.HandlerID)
}

func TestDispatch_GlobalDataIsShared(t *testing.T) {
	h := handlerFunc{trigger: "!ban", fn: func(call *plugin.Call) (plugin.Result, error) {
		var banned []string
		if _, err := call.Global.Get("banned", &banned); err != nil {
			return plugin.Result{}, err
		}
		banned = append(banned, call.Args...)
		return plugin.Finish(), call.Global.Set("banned", banned)
	}}
	f := newFixture(t, defaultConfig(), h)

	f.send("lobby", "alice", "!ban mallory")
	f.send("arcade", "bob", "!ban eve")

	f.table.Do(func(tx *session.Tx) {
		var banned []string
		ok, err := tx.Global().Get("banned", &banned)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"mallory", "eve"}, banned)
	})
}

func TestDispatch_HandlerTimeout(t *testing.T) {
	h := handlerFunc{trigger: "!slow", ctxFn: func(ctx context.Context, _ *plugin.Call) (plugin.Result, error) {
		<-ctx.Done()
		return plugin.Result{}, ctx.Err()
	}}
	cfg := defaultConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, h)

	assert.Equal(t, Failed, f.send("lobby", "alice", "!slow"))
}

func TestDispatch_LateResultIsDiscarded(t *testing.T) {
	h := handlerFunc{trigger: "!sleepy", fn: func(call *plugin.Call) (plugin.Result, error) {
		time.Sleep(60 * time.Millisecond)
		call.Tools.SendText("too late")
		return plugin.Continue(1)
	}}
	cfg := defaultConfig()
	cfg.HandlerTimeout = 20 * time.Millisecond
	f := newFixture(t, cfg, h)

	assert.Equal(t, Failed, f.send("lobby", "alice", "!sleepy"))
	_, ok := f.session("lobby", "alice")
	assert.False(t, ok)

	msgs := f.sender.messages()
	require.Len(t, msgs, 1)
	assert.NotContains(t, msgs[0].String(), "too late")
}

func TestDispatch_RepliesSentWithoutLock(t *testing.T) {
	f := newFixture(t, defaultConfig(), &counter{trigger: "!a"})
	f.router.sender = senderFunc(func(context.Context, protocol.Message) error {
		_ = f.table.Len() // deadlocks if the table is still locked
		return nil
	})

	done := make(chan Outcome, 1)
	go func() { done <- f.send("lobby", "alice", "!a") }()

	select {
	case out := <-done:
		assert.Equal(t, Started, out)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch held the table lock while sending")
	}
}

func TestDispatch_SendErrorsAreSwallowed(t *testing.T) {
	f := newFixture(t, defaultConfig(), &counter{trigger: "!a"})
	f.sender.err = errors.New("not connected")

	assert.Equal(t, Started, f.send("lobby", "alice", "!a"))
	assert.Equal(t, 1, f.table.Len())
}

func TestDispatch_ConcurrentKeys(t *testing.T) {
	a := &counter{trigger: "!a"}
	f := newFixture(t, Config{}, a)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := "user" + strconv.Itoa(i)
			for range 5 {
				f.router.Dispatch(context.Background(), protocol.Event{
					Kind: protocol.EventText, From: user, Room: "lobby", Body: "!a",
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, f.table.Len())
	assert.Equal(t, 100, a.calls)
	f.table.Do(func(tx *session.Tx) {
		tx.Range(func(s session.Session) bool {
			assert.JSONEq(t, `5`, string(s.Payload))
			return true
		})
	})
}

func TestScenario_AliceMines(t *testing.T) {
	f := newFixture(t, defaultConfig(), mines.New(mines.WithRand(rand.New(rand.NewPCG(7, 7)))))

	assert.Equal(t, Started, f.send("lobby", "alice", "!mines"))
	s, ok := f.session("lobby", "alice")
	require.True(t, ok)
	assert.True(t, s.Active)

	var b struct {
		Bombs []int `json:"bombs"`
		Eaten []int `json:"eaten"`
	}
	require.NoError(t, json.Unmarshal(s.Payload, &b))
	require.Len(t, b.Bombs, 2)
	assert.Empty(t, b.Eaten)

	if !slices.Contains(b.Bombs, 3) {
		assert.Equal(t, Continued, f.send("lobby", "alice", "!eat 3"))
		s, ok = f.session("lobby", "alice")
		require.True(t, ok)
		assert.True(t, s.Active)
		require.NoError(t, json.Unmarshal(s.Payload, &b))
		assert.Equal(t, []int{3}, b.Eaten)
	}

	assert.Equal(t, Finished, f.send("lobby", "alice", "!eat "+strconv.Itoa(b.Bombs[0])))
	_, ok = f.session("lobby", "alice")
	assert.False(t, ok, "a lost game deletes the session")

	msgs := f.sender.messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, "lobby", last.Room)
	assert.True(t, strings.Contains(last.Body, "BOOM"), last.Body)
}

func TestRoundTrip_SnapshotThenReplay(t *testing.T) {
	events := []struct{ room, user, body string }{
		{"lobby", "alice", "!a"},
		{"lobby", "bob", "!a"},
		{"arcade", "carol", "!b"},
		{"lobby", "alice", "x"},
		{"lobby", "bob", "x"},
		{"lobby", "bob", "x"},
		{"arcade", "carol", "x"},
		{"arcade", "dave", "!a"},
		{"lobby", "alice", "x"},
	}
	newHandlers := func() []plugin.Handler {
		return []plugin.Handler{&counter{trigger: "!a", finishAt: 3}, &counter{trigger: "!b"}}
	}
	finalState := func(f *fixture) map[session.Key]string {
		out := make(map[session.Key]string)
		f.table.Do(func(tx *session.Tx) {
			tx.Range(func(s session.Session) bool {
				out[s.Key] = s.HandlerID + "=" + string(s.Payload)
				return true
			})
		})
		return out
	}

	// Straight run.
	straight := newFixture(t, defaultConfig(), newHandlers()...)
	for _, e := range events {
		straight.send(e.room, e.user, e.body)
	}

	// Checkpoint after the head, restore into a fresh engine, replay the tail.
	const split = 4
	head := newFixture(t, defaultConfig(), newHandlers()...)
	for _, e := range events[:split] {
		head.send(e.room, e.user, e.body)
	}
	_, data, err := head.table.Snapshot(head.clock)
	require.NoError(t, err)

	tail := newFixture(t, defaultConfig(), newHandlers()...)
	tail.clock = head.clock
	_, err = tail.table.Restore(data)
	require.NoError(t, err)
	for _, e := range events[split:] {
		tail.send(e.room, e.user, e.body)
	}

	assert.Equal(t, finalState(straight), finalState(tail))
	tail.assertInvariant(t)
}

type handlerFunc struct {
	trigger string
	fn      func(call *plugin.Call) (plugin.Result, error)
	ctxFn   func(ctx context.Context, call *plugin.Call) (plugin.Result, error)
}

func (h handlerFunc) Trigger() string { return h.trigger }

func (h handlerFunc) Handle(ctx context.Context, call *plugin.Call) (plugin.Result, error) {
	if h.ctxFn != nil {
		return h.ctxFn(ctx, call)
	}
	return h.fn(call)
}

type senderFunc func(ctx context.Context, m protocol.Message) error

func (f senderFunc) Send(ctx context.Context, m protocol.Message) error { return f(ctx, m) }
