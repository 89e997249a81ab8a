package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/bus"
	"github.com/Tyrowin/roomchat/internal/config"
)

// RateLimiter decides whether a user may send another message.
type RateLimiter interface {
	Allow(ctx context.Context, userKey string) bool
	Limit() int
	Window() time.Duration
}

// HistoryStore retains and replays a room's recent messages.
type HistoryStore interface {
	Append(ctx context.Context, roomKey string, payload []byte)
	Replay(ctx context.Context, roomKey string) [][]byte
}

// HealthCheck is a named readiness probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators a Server relays messages through.
type Deps struct {
	Limiter  RateLimiter
	History  HistoryStore
	Bus      bus.Bus
	Resolver auth.Resolver
	Checks   []HealthCheck
}

// Server accepts chat connections and runs one Session per connection.
type Server struct {
	cfg      config.Config
	deps     Deps
	log      zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mutex    sync.Mutex
	sessions map[*Session]struct{}
	wg       sync.WaitGroup
}

// New creates a Server for cfg.
func New(cfg config.Config, deps Deps, log zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	origins := newOriginPolicy(cfg.AllowedOrigins, cfg.AllowMissingOrigin, log)

	return &Server{
		cfg:  cfg,
		deps: deps,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*Session]struct{}),
	}
}

// Bus returns the broadcast bus sessions subscribe to.
func (s *Server) Bus() bus.Bus {
	return s.deps.Bus
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.sessions)
}

func (s *Server) track(sess *Session) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mutex.Lock()
	delete(s.sessions, sess)
	s.mutex.Unlock()
	s.wg.Done()
}

// Shutdown closes every open connection and waits for their sessions to
// finish cleaning up, or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down all chat sessions")

	s.mutex.Lock()
	s.cancel()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mutex.Unlock()

	for _, sess := range sessions {
		sess.closeConn()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Int("sessions", len(sessions)).Msg("chat sessions closed")
		return nil
	case <-ctx.Done():
		s.log.Warn().Msg("shutdown timeout reached, some sessions may still be running")
		return ctx.Err()
	}
}
