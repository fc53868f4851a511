// Package transport owns the websocket connection to the chat network:
// authentication, room membership, keepalive, reconnect and rejoin after a
// kick or idle timeout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/txn2/room-engine/pkg/activity"
	"github.com/txn2/room-engine/pkg/protocol"
)

// State is the connection state.
type State int32

// Connection states.
const (
	Disconnected State = iota
	Connecting
	Authenticating
	JoinedRooms
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case JoinedRooms:
		return "joined_rooms"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotConnected is returned by Send when there is no live connection.
var ErrNotConnected = errors.New("transport: not connected")

// Credentials identify the bot account and the rooms it joins.
type Credentials struct {
	Username string
	Password string
	Rooms    []string
}

// EventHandler receives inbound text events. It is called from the read
// loop, one event at a time.
type EventHandler func(ctx context.Context, ev protocol.Event)

// Config configures a Client.
type Config struct {
	URL            string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PingTimeout    time.Duration
	ReconnectDelay time.Duration

	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Client is a reconnecting chat connection. It is safe for concurrent use.
type Client struct {
	cfg     Config
	handler EventHandler

	mu     sync.Mutex
	conn   *websocket.Conn
	creds  Credentials
	rooms  []string
	cancel context.CancelFunc
	done   chan struct{}

	writeMu   sync.Mutex
	state     atomic.Int32
	reconnect atomic.Bool
}

// New creates a disconnected client.
func New(cfg Config, handler EventHandler) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if handler == nil {
		handler = func(context.Context, protocol.Event) {}
	}
	return &Client{cfg: cfg, handler: handler}
}

// Connect starts the connection loop with creds, replacing any running
// loop. It returns once the loop is started; the first connection attempt
// happens in the background. The loop outlives ctx's cancellation and runs
// until Disconnect.
func (c *Client) Connect(ctx context.Context, creds Credentials) error {
	if creds.Username == "" {
		return errors.New("transport: username is required")
	}
	c.Disconnect()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	c.creds = creds
	c.rooms = slices.Clone(creds.Rooms)
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.reconnect.Store(true)
	go c.run(runCtx, done)

	slog.Info("connecting", activity.KindKey, activity.KindSystem,
		"url", c.cfg.URL, "username", creds.Username, "rooms", creds.Rooms)
	return nil
}

// Disconnect stops the connection loop and closes the connection. It is a
// no-op when not connected.
func (c *Client) Disconnect() {
	c.reconnect.Store(false)

	c.mu.Lock()
	cancel, done, conn := c.cancel, c.done, c.conn
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-done

	c.setState(Disconnected)
	slog.Info("disconnected", activity.KindKey, activity.KindSystem)
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Connected reports whether the client is streaming events.
func (c *Client) Connected() bool {
	return c.State() == Streaming
}

// Rooms returns the rooms the bot should be in.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rooms)
}

// Send writes m to the connection. Join and leave messages update the
// room set used for reconnects and rejoins.
func (c *Client) Send(ctx context.Context, m protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}
	if err := c.write(ctx, conn, m); err != nil {
		return err
	}

	switch m.Type {
	case protocol.TypeJoinRoom:
		c.mu.Lock()
		if !slices.Contains(c.rooms, m.Name) {
			c.rooms = append(c.rooms, m.Name)
		}
		c.mu.Unlock()
	case protocol.TypeLeaveRoom:
		c.mu.Lock()
		c.rooms = slices.DeleteFunc(c.rooms, func(r string) bool { return r == m.Name })
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s: %w", m.Type, err)
	}
	return nil
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// run reconnects after every failed session, waiting ReconnectDelay
// between attempts, until ctx is cancelled or reconnect is cleared.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	op := func() (struct{}, error) {
		err := c.session(ctx)
		if ctx.Err() != nil || !c.reconnect.Load() {
			return struct{}{}, backoff.Permanent(context.Canceled)
		}
		return struct{}{}, err
	}

	_, _ = backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.ReconnectDelay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("connection lost, reconnecting", activity.KindKey, activity.KindError,
				"error", err, "retry_in", d)
		}),
	)
}

// session runs one connection from dial to failure.
func (c *Client) session(ctx context.Context) error {
	c.setState(Connecting)
	defer c.setState(Disconnected)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, resp, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	creds := c.creds
	rooms := slices.Clone(c.rooms)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	c.setState(Authenticating)
	if err := c.write(ctx, conn, protocol.Login(creds.Username, creds.Password)); err != nil {
		return err
	}

	c.setState(JoinedRooms)
	for _, room := range rooms {
		if err := c.write(ctx, conn, protocol.JoinRoom(room)); err != nil {
			return err
		}
	}

	readWait := c.cfg.PingInterval + c.cfg.PingTimeout
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	c.setState(Streaming)
	slog.Info("connected", activity.KindKey, activity.KindSystem, "username", creds.Username, "rooms", rooms)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading: %w", err)
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("ignoring malformed event", "error", err)
			continue
		}

		switch {
		case ev.RequiresRejoin():
			slog.Warn("removed from rooms, rejoining", activity.KindKey, activity.KindError, "reason", ev.Reason)
			go c.rejoin()
		case ev.Kind == protocol.EventText:
			c.handler(ctx, ev)
		}
	}
}

// pingLoop sends keepalive pings. A failed ping closes the connection so
// the read loop fails and the client reconnects.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingTimeout))
			c.writeMu.Unlock()
			if err != nil {
				slog.Warn("ping failed", "error", err)
				_ = conn.Close()
				return
			}
		}
	}
}

// rejoin re-sends a join for every room. Failures are logged and dropped.
func (c *Client) rejoin() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
	defer cancel()

	for _, room := range c.Rooms() {
		if err := c.Send(ctx, protocol.JoinRoom(room)); err != nil {
			slog.Warn("rejoin failed", "room", room, "error", err)
		}
	}
}
