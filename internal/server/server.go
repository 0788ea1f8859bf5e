// Package server implements the TCP front door for one match: it owns the
// two listening sockets, accepts exactly one connection per team, and
// wires each accepted connection's Session to the shared Game, funneling
// any fatal error from either side into one Stop that tears the whole
// match down.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"example.com/curling-match-server/internal/config"
	"example.com/curling-match-server/internal/curling"
	"example.com/curling-match-server/internal/history"
	"example.com/curling-match-server/internal/logsink"
	"example.com/curling-match-server/internal/match"
	"example.com/curling-match-server/internal/session"
)

// Server accepts the two peer connections a match needs, one per
// configured port, and supervises their sessions for the lifetime of one
// Game.
type Server struct {
	cfg  *config.Config
	log  *logsink.Sink
	game *match.Game

	recorder history.Recorder
	registry history.Registry

	listeners [2]net.Listener

	mu       sync.Mutex
	sessions [2]*session.Session
	stopped  bool
	stopOnce sync.Once

	accepted chan struct{} // closed once both teams have a session
	acceptWg sync.WaitGroup
}

// Options configures optional match-history composition; either field
// left nil yields a no-op.
type Options struct {
	Recorder history.Recorder
	Registry history.Registry
}

// New binds both of cfg.Server.Port's listening sockets. It does not
// accept connections until Start is called.
func New(cfg *config.Config, game *match.Game, log *logsink.Sink, opts Options) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		log:      log,
		game:     game,
		recorder: opts.Recorder,
		registry: opts.Registry,
		accepted: make(chan struct{}),
	}
	if s.recorder == nil {
		s.recorder = history.NoopRecorder{}
	}
	if s.registry == nil {
		s.registry = history.NoopRegistry{}
	}

	for i, port := range cfg.Server.Port {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			s.closeListeners()
			return nil, fmt.Errorf("server: listen team%d on port %d: %w", i, port, err)
		}
		s.listeners[i] = l
	}

	s.game.OnGameOver = s.onGameOver
	s.game.OnUpdate = s.onUpdate

	return s, nil
}

// Start launches one accept goroutine per port and returns immediately.
func (s *Server) Start() {
	for i := range s.listeners {
		team := curling.Team(i)
		s.acceptWg.Add(1)
		go s.acceptOnce(team)
	}
}

// Wait blocks until both listeners have either accepted a connection or
// failed, then until Stop has been called.
func (s *Server) Wait() {
	s.acceptWg.Wait()
	for !s.isStopped() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Server) acceptOnce(team curling.Team) {
	defer s.acceptWg.Done()

	conn, err := s.listeners[team].Accept()
	if err != nil {
		if !s.isStopped() {
			s.HandleError(fmt.Errorf("server: %s: accept: %w", team, err))
		}
		return
	}

	handler := s.game.HandlerFor(team)
	sess := session.New(conn, handler, s.HandleError)

	s.mu.Lock()
	s.sessions[team] = sess
	bothPresent := s.sessions[curling.Team0] != nil && s.sessions[curling.Team1] != nil
	s.mu.Unlock()

	if err := s.game.OnSessionStart(team, sess); err != nil {
		s.HandleError(fmt.Errorf("server: %s: session start: %w", team, err))
		return
	}

	sess.Open()

	if bothPresent {
		close(s.accepted)
	}
}

// DeliverMessage pushes a raw line directly to one team's session,
// bypassing Game. It exists for parity with the protocol's description
// of the server's external surface; ordinary play never needs it, since
// Game talks to sessions through the PeerSession interface it was handed
// at OnSessionStart.
func (s *Server) DeliverMessage(team curling.Team, message []byte, inputTimeout *time.Duration) error {
	s.mu.Lock()
	sess := s.sessions[team]
	s.mu.Unlock()

	if sess == nil || sess.IsClosed() {
		return fmt.Errorf("server: %s: no active session", team)
	}
	sess.Deliver(message, inputTimeout)
	return nil
}

// HandleError is the fatal-error funnel every session and the game wire
// into: log it, then tear the whole match down.
func (s *Server) HandleError(err error) {
	if err == nil {
		return
	}
	s.log.Error(err.Error())
	s.Stop()
}

// Stop closes both listeners and both sessions. It is idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		sessions := s.sessions
		s.mu.Unlock()

		s.closeListeners()
		for _, sess := range sessions {
			if sess != nil {
				sess.Close()
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.registry.MarkFinished(ctx, s.game.MatchID()); err != nil {
			s.log.Warning(fmt.Sprintf("server: mark match finished: %v", err))
		}
	})
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) closeListeners() {
	for _, l := range s.listeners {
		if l != nil {
			l.Close()
		}
	}
}

func (s *Server) onGameOver(state *curling.GameState) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary := s.game.Summary(state)
	if err := s.recorder.RecordMatch(ctx, summary); err != nil {
		s.log.Warning(fmt.Sprintf("server: record match history: %v", err))
	}
	if err := s.registry.MarkFinished(ctx, s.game.MatchID()); err != nil {
		s.log.Warning(fmt.Sprintf("server: mark match finished: %v", err))
	}

	go s.Stop()
}

func (s *Server) onUpdate(state *curling.GameState) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	live := history.LiveState{CurrentEnd: state.CurrentEnd, Shot: state.Shot}
	if err := s.registry.MarkLive(ctx, s.game.MatchID(), live); err != nil {
		s.log.Warning(fmt.Sprintf("server: mark match live: %v", err))
	}
}
