package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/internal/commentsync"
	"github.com/baduk1/threadsync/pkg/thread"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 90 * time.Second
	defaultJoinTimeout  = 10 * time.Second
	writeWait           = 10 * time.Second
)

// WSTransport connects to a Gateway over a websocket. A dropped connection
// is redialled with exponential backoff and every joined room is joined
// again, so subscribers only ever see a gap in events.
type WSTransport struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	// NewBackOff builds the reconnect policy. Defaults to exponential
	// backoff that retries until the connection is closed.
	NewBackOff func() backoff.BackOff

	PingInterval time.Duration
	PongWait     time.Duration
	JoinTimeout  time.Duration
	Buffer       int
}

// NewWSTransport creates a transport for the gateway at rawURL, for example
// ws://localhost:8080/ws.
func NewWSTransport(rawURL string, logger zerolog.Logger) *WSTransport {
	return &WSTransport{
		url:    rawURL,
		dialer: &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With().Str("component", "ws_transport").Logger(),
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
		PingInterval: defaultPingInterval,
		PongWait:     defaultPongWait,
		JoinTimeout:  defaultJoinTimeout,
		Buffer:       DefaultBuffer,
	}
}

// Connect dials the gateway once. A failure here is returned to the caller;
// only established connections reconnect on their own.
func (t *WSTransport) Connect(ctx context.Context, credential string) (commentsync.Conn, error) {
	ws, err := t.dial(ctx, credential)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		t:          t,
		credential: credential,
		ws:         ws,
		rooms:      make(map[string]bool),
		acks:       make(map[string]chan error),
		events:     make(chan thread.Event, t.Buffer),
		errs:       make(chan error, t.Buffer),
		ctx:        connCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go c.run(ws)
	return c, nil
}

func (t *WSTransport) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("token", credential)
	u.RawQuery = q.Encode()

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, fmt.Errorf("authentication failed: missing or invalid token")
			case http.StatusForbidden:
				return nil, fmt.Errorf("access denied by gateway")
			}
		}
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}
	return ws, nil
}

type wsConn struct {
	t          *WSTransport
	credential string

	mu    sync.Mutex
	ws    *websocket.Conn
	rooms map[string]bool
	acks  map[string]chan error

	writeMu sync.Mutex

	events chan thread.Event
	errs   chan error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Join asks the gateway for a room and waits for its answer. The room is
// remembered even while disconnected and joined again after reconnecting.
func (c *wsConn) Join(ctx context.Context, projectID string) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}

	ack := make(chan error, 1)
	c.mu.Lock()
	c.rooms[projectID] = true
	c.acks[projectID] = ack
	ws := c.ws
	c.mu.Unlock()

	if err := c.send(ws, Frame{Type: FrameJoin, Project: projectID}); err != nil {
		c.dropAck(projectID, ack)
		c.mu.Lock()
		delete(c.rooms, projectID)
		c.mu.Unlock()
		return fmt.Errorf("failed to send join for %s: %w", projectID, err)
	}

	timer := time.NewTimer(c.t.JoinTimeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		if err != nil {
			c.mu.Lock()
			delete(c.rooms, projectID)
			c.mu.Unlock()
		}
		return err
	case <-timer.C:
		c.dropAck(projectID, ack)
		return fmt.Errorf("timed out joining %s", projectID)
	case <-ctx.Done():
		c.dropAck(projectID, ack)
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Leave forgets the room and tells the gateway. It does not wait for "left".
func (c *wsConn) Leave(ctx context.Context, projectID string) error {
	c.mu.Lock()
	delete(c.rooms, projectID)
	ws := c.ws
	c.mu.Unlock()

	if err := c.send(ws, Frame{Type: FrameLeave, Project: projectID}); err != nil {
		return fmt.Errorf("failed to send leave for %s: %w", projectID, err)
	}
	return nil
}

func (c *wsConn) Events() <-chan thread.Event { return c.events }

func (c *wsConn) Errors() <-chan error { return c.errs }

// Close stops reconnecting, closes the socket and waits for the reader.
func (c *wsConn) Close() error {
	c.once.Do(func() {
		c.cancel()

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		ws.Close()

		<-c.done
	})
	return nil
}

// run reads from the current socket and reconnects whenever it fails, until
// the connection is closed.
func (c *wsConn) run(ws *websocket.Conn) {
	defer close(c.done)
	defer close(c.events)
	defer close(c.errs)

	for {
		err := c.readLoop(ws)
		if c.ctx.Err() != nil {
			return
		}
		c.report(fmt.Errorf("connection lost: %w", err))
		c.t.logger.Warn().Err(err).Msg("Gateway connection lost, reconnecting")

		next, err := c.reconnect()
		if err != nil {
			return
		}
		ws = next
		c.rejoin(ws)
	}
}

func (c *wsConn) reconnect() (*websocket.Conn, error) {
	var ws *websocket.Conn
	operation := func() error {
		next, err := c.t.dial(c.ctx, c.credential)
		if err != nil {
			return err
		}
		ws = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.t.logger.Debug().Err(err).Dur("retry_in", wait).Msg("Reconnect attempt failed")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(c.t.NewBackOff(), c.ctx), notify); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		ws.Close()
		return nil, c.ctx.Err()
	}
	c.ws = ws
	c.t.logger.Info().Msg("Reconnected to gateway")
	return ws, nil
}

// rejoin re-sends join for every remembered room. Answers arrive through the
// read loop like any other.
func (c *wsConn) rejoin(ws *websocket.Conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for projectID := range c.rooms {
		rooms = append(rooms, projectID)
	}
	c.mu.Unlock()

	for _, projectID := range rooms {
		if err := c.send(ws, Frame{Type: FrameJoin, Project: projectID}); err != nil {
			c.report(fmt.Errorf("failed to rejoin %s: %w", projectID, err))
		}
	}
}

func (c *wsConn) readLoop(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(c.t.PongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.t.PongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.ping(ws, pingDone)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(c.t.PongWait))

		frame, err := DecodeFrame(data)
		if err != nil {
			c.report(err)
			continue
		}
		c.handle(frame)
	}
}

func (c *wsConn) handle(frame *Frame) {
	switch frame.Type {
	case FrameEvent:
		select {
		case c.events <- *frame.Event:
		case <-c.ctx.Done():
		}
	case FrameJoined:
		c.resolve(frame.Project, nil)
	case FrameError:
		err := fmt.Errorf("gateway: %s", frame.Error)
		if frame.Project != "" && c.resolve(frame.Project, err) {
			return
		}
		c.report(err)
	case FrameLeft:
	default:
		c.report(fmt.Errorf("unexpected %s frame from gateway", frame.Type))
	}
}

func (c *wsConn) ping(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.t.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *wsConn) send(ws *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

// resolve delivers a join answer to its waiter, reporting whether one was
// waiting.
func (c *wsConn) resolve(projectID string, err error) bool {
	c.mu.Lock()
	ack, ok := c.acks[projectID]
	delete(c.acks, projectID)
	if err != nil && !ok {
		delete(c.rooms, projectID)
	}
	c.mu.Unlock()

	if ok {
		ack <- err
	}
	return ok
}

func (c *wsConn) dropAck(projectID string, ack chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acks[projectID] == ack {
		delete(c.acks, projectID)
	}
}

// report queues a non-fatal error, dropping it if nobody keeps up.
func (c *wsConn) report(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
