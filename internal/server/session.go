package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
	cleanupAfter = 5 * time.Second
)

// Session is one client connection joined to one room. It authenticates the
// connection, replays the room history, then relays frames between the client
// and the room's bus until either side goes away.
type Session struct {
	id     string
	room   chat.Room
	conn   *websocket.Conn
	remote string
	srv    *Server
	log    zerolog.Logger

	stateMu sync.Mutex
	state   State
	user    string

	mu     sync.Mutex
	closed bool
	send   chan []byte

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	writerDone chan struct{}
}

func newSession(srv *Server, conn *websocket.Conn, room chat.Room, remote string) *Session {
	ctx, cancel := context.WithCancel(srv.ctx)
	id := uuid.NewString()

	if conn != nil && srv.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(srv.cfg.MaxMessageSize)
	}

	return &Session{
		id:     id,
		room:   room,
		conn:   conn,
		remote: remote,
		srv:    srv,
		log: srv.log.With().
			Str("session_id", id).
			Str("room", room.Name()).
			Str("remote_addr", remote).
			Logger(),
		state:  StateConnecting,
		send:   make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID identifies the session on the bus.
func (s *Session) ID() string {
	return s.id
}

// User returns the authenticated username, or "" before authentication.
func (s *Session) User() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.user
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(next State) {
	s.stateMu.Lock()
	prev := s.state
	if prev.Terminal() {
		s.stateMu.Unlock()
		return
	}
	s.state = next
	s.stateMu.Unlock()

	s.log.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("session state changed")
}

// Deliver queues payload for the client. It never blocks; a full queue drops
// the frame.
func (s *Session) Deliver(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Run drives the session until the connection ends. token is the credential
// the client presented in the upgrade request.
func (s *Session) Run(token string) {
	defer s.cleanup()

	s.setState(StateAuthenticating)
	id, err := s.srv.deps.Resolver.Resolve(s.ctx, token)
	if err != nil {
		s.reject(err)
		return
	}

	s.stateMu.Lock()
	s.user = id.Username
	s.stateMu.Unlock()
	s.log = s.log.With().Str("user", id.Username).Logger()

	s.setState(StateJoining)
	if err := s.srv.deps.Bus.Subscribe(s.ctx, s.room.Key(), s); err != nil {
		s.log.Warn().Err(err).Msg("room subscription degraded")
	}

	if !s.replay() {
		return
	}

	s.setState(StateActive)
	s.log.Info().Msg("joined room")

	s.writerDone = make(chan struct{})
	go s.writePump()
	s.readPump()
}

func (s *Session) reject(cause error) {
	s.setState(StateRejected)
	s.log.Info().Err(cause).Msg("connection rejected")

	msg := websocket.FormatCloseMessage(CloseAuthRejected, "authentication rejected")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error writing rejection close frame")
	}
}

// replay writes the stored history straight to the connection. The write
// pump has not started yet, so live frames wait in the send queue and follow
// the replayed ones.
func (s *Session) replay() bool {
	entries := s.srv.deps.History.Replay(s.ctx, s.room.Key())

	for _, entry := range entries {
		if _, err := chat.DecodeMessage(entry); err != nil {
			s.log.Error().Err(err).Msg("skipping undecodable history entry")
			continue
		}

		if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			s.log.Debug().Err(err).Msg("error setting write deadline for replay")
			return false
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, entry); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Warn().Err(err).Msg("error replaying history")
			}
			return false
		}
	}

	if len(entries) > 0 {
		s.log.Debug().Int("messages", len(entries)).Msg("replayed room history")
	}
	return true
}

func (s *Session) cleanup() {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		s.cancel()

		if s.User() != "" {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupAfter)
			if err := s.srv.deps.Bus.Unsubscribe(ctx, s.room.Key(), s); err != nil {
				s.log.Warn().Err(err).Msg("error leaving room")
			}
			cancel()
		}

		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()

		if s.writerDone != nil {
			<-s.writerDone
		}

		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error closing connection")
		}

		s.setState(StateClosed)
		s.log.Info().Msg("session closed")
	})
}

// closeConn asks the client to go away and closes the connection, ending
// readPump.
func (s *Session) closeConn() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error sending close frame on shutdown")
	}
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error closing connection on shutdown")
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (s *Session) readPump() {
	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		s.processFrame(raw)
	}
}

// handleReadError logs why the read loop ended at a level matching how
// ordinary the cause is.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn().Int64("limit", s.srv.cfg.MaxMessageSize).Msg("frame exceeded maximum message size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err, websocket.CloseAbnormalClosure):
		s.log.Warn().Err(err).Msg("unexpected websocket close")
	default:
		s.log.Debug().Err(err).Msg("websocket read ended")
	}
}

// processFrame handles one inbound frame: parse, throttle, stamp, store and
// broadcast.
func (s *Session) processFrame(raw []byte) {
	body, err := chat.ParseInbound(raw)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return
	case err != nil:
		s.log.Debug().Err(err).Msg("dropping malformed frame")
		return
	}

	limiter := s.srv.deps.Limiter
	if !limiter.Allow(s.ctx, s.user) {
		s.log.Info().Int("limit", limiter.Limit()).Dur("window", limiter.Window()).Msg("rate limit exceeded")
		frame, err := chat.RateLimitError(limiter.Limit(), limiter.Window()).Encode()
		if err != nil {
			s.log.Error().Err(err).Msg("error encoding rate limit frame")
			return
		}
		if err := s.Deliver(frame); err != nil {
			s.log.Debug().Err(err).Msg("rate limit frame dropped")
		}
		return
	}

	msg, err := chat.NewMessage(s.user, body, s.srv.now())
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping invalid message")
		return
	}
	payload, err := msg.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("error encoding message")
		return
	}

	roomKey := s.room.Key()
	s.srv.deps.History.Append(s.ctx, roomKey, payload)
	if err := s.srv.deps.Bus.Publish(s.ctx, roomKey, payload); err != nil {
		s.log.Warn().Err(err).Msg("error broadcasting message")
		return
	}
	s.log.Info().Int("bytes", len(payload)).Msg("message broadcast")
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
		close(s.writerDone)
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleMessage(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

// closeConnection unblocks readPump when the writer gives up first.
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (s *Session) handleMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error writing close message")
		}
		return false
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (s *Session) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Debug().Err(err).Msg("error writing ping")
		return false
	}
	return true
}
