package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/baduk1/threadsync/internal/commentsync"
)

// AuthenticateFunc resolves a session token to a user id.
type AuthenticateFunc func(token string) (userID string, err error)

// AuthorizeFunc decides whether userID may listen to projectID's room.
type AuthorizeFunc func(ctx context.Context, userID, projectID string) error

// Gateway serves project rooms to websocket clients. Each client gets its
// own transport connection; join and leave frames map onto its rooms and
// every event is relayed as an event frame.
type Gateway struct {
	transport    commentsync.Transport
	authenticate AuthenticateFunc
	authorize    AuthorizeFunc
	upgrader     websocket.Upgrader
	logger       zerolog.Logger

	mu      sync.Mutex
	clients int
}

// NewGateway creates a gateway relaying rooms from transport. authorize may
// be nil to allow every authenticated user into every room.
func NewGateway(transport commentsync.Transport, authenticate AuthenticateFunc, authorize AuthorizeFunc, logger zerolog.Logger) *Gateway {
	return &Gateway{
		transport:    transport,
		authenticate: authenticate,
		authorize:    authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Clients returns the number of connected websocket clients.
func (g *Gateway) Clients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clients
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	userID, err := g.authenticate(token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid or missing token"})
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	conn, err := g.transport.Connect(r.Context(), token)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to open room transport")
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "push unavailable"),
			time.Now().Add(writeWait))
		ws.Close()
		return
	}

	g.mu.Lock()
	g.clients++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.clients--
		g.mu.Unlock()
	}()

	s := &session{
		gateway: g,
		ws:      ws,
		conn:    conn,
		userID:  userID,
		logger:  g.logger.With().Str("user_id", userID).Logger(),
	}
	s.serve()
}

type session struct {
	gateway *Gateway
	ws      *websocket.Conn
	conn    commentsync.Conn
	userID  string
	logger  zerolog.Logger
	writeMu sync.Mutex
}

// serve relays events until the client goes away.
func (s *session) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		s.relay(ctx)
	}()

	s.logger.Debug().Msg("Client connected")
	s.readFrames(ctx)

	cancel()
	s.conn.Close()
	s.ws.Close()
	<-relayDone
	s.logger.Debug().Msg("Client disconnected")
}

func (s *session) readFrames(ctx context.Context) {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			s.write(Frame{Type: FrameError, Error: err.Error()})
			continue
		}

		switch frame.Type {
		case FrameJoin:
			s.join(ctx, frame.Project)
		case FrameLeave:
			if err := s.conn.Leave(ctx, frame.Project); err != nil {
				s.write(Frame{Type: FrameError, Project: frame.Project, Error: err.Error()})
				continue
			}
			s.write(Frame{Type: FrameLeft, Project: frame.Project})
		default:
			s.write(Frame{Type: FrameError, Error: "unexpected frame type " + string(frame.Type)})
		}
	}
}

func (s *session) join(ctx context.Context, projectID string) {
	if authorize := s.gateway.authorize; authorize != nil {
		if err := authorize(ctx, s.userID, projectID); err != nil {
			s.logger.Info().Err(err).Str("project", projectID).Msg("Join refused")
			s.write(Frame{Type: FrameError, Project: projectID, Error: err.Error()})
			return
		}
	}
	if err := s.conn.Join(ctx, projectID); err != nil {
		s.write(Frame{Type: FrameError, Project: projectID, Error: err.Error()})
		return
	}
	s.write(Frame{Type: FrameJoined, Project: projectID})
}

func (s *session) relay(ctx context.Context) {
	events := s.conn.Events()
	errs := s.conn.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn().Err(err).Msg("Room transport error")
		case event, ok := <-events:
			if !ok {
				return
			}
			ev := event
			if err := s.write(Frame{Type: FrameEvent, Project: ev.ProjectID, Event: &ev}); err != nil {
				return
			}
		}
	}
}

func (s *session) write(frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}
