package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/danieljhkim/deltaserve/internal/protocol"
)

// State is where a session is in the command exchange.
type State int32

const (
	// StateIdle accepts dispatch commands between requests.
	StateIdle State = iota
	StateAwaitingReport
	StateReporting
	StateReportFinished
	StateAuthenticating
	StateEditing
	StateResponded
	StateTornDown
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateAwaitingReport: "awaiting-report",
	StateReporting:      "reporting",
	StateReportFinished: "report-finished",
	StateAuthenticating: "authenticating",
	StateEditing:        "editing",
	StateResponded:      "responded",
	StateTornDown:       "torn-down",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// SessionInfo describes a session for status reporting.
type SessionInfo struct {
	ID        string    `json:"id"`
	User      string    `json:"user,omitempty"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Requests  int64     `json:"requests"`
}

// Session is one client connection's command exchange. Sessions share
// nothing but the engine's read-only collaborators.
type Session struct {
	ID        ulid.ULID
	StartedAt time.Time

	engine   *Engine
	conn     Conn
	state    atomic.Int32
	requests atomic.Int64

	mu   sync.Mutex
	user string
}

// NewSession creates an idle session on conn.
func (e *Engine) NewSession(conn Conn) *Session {
	return &Session{
		ID:        ulid.Make(),
		StartedAt: e.clock.Now(),
		engine:    e,
		conn:      conn,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if glog.V(2) && prev != st {
		glog.Infof("session %s: %s -> %s", s.ID, prev, st)
	}
}

// User returns the authenticated user of the last request.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) setUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Info returns a snapshot of the session for status reporting.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:        s.ID.String(),
		User:      s.User(),
		State:     s.State().String(),
		StartedAt: s.StartedAt,
		Requests:  s.requests.Load(),
	}
}

// Run reads dispatch commands until the client disconnects or an error
// tears the session down. A clean disconnect returns nil.
func (s *Session) Run(ctx context.Context) error {
	glog.Infof("session %s: started", s.ID)

	handlers := map[string]handler{
		protocol.CmdGetLatestRev: s.handleLatestRev,
		protocol.CmdUpdate:       s.serveRequest,
		protocol.CmdSwitch:       s.serveRequest,
		protocol.CmdStatus:       s.serveRequest,
		protocol.CmdDiff:         s.serveRequest,
	}

	for {
		msg, err := s.receive(ctx)
		if errors.Is(err, io.EOF) {
			s.setState(StateTornDown)
			glog.Infof("session %s: client disconnected after %d requests", s.ID, s.requests.Load())
			return nil
		}
		if err == nil {
			err = s.dispatch(ctx, handlers, msg)
		}
		if err == nil {
			continue
		}

		out := classify(err)
		if out.respond {
			if sendErr := s.Send(ctx, out.failure.Response()); sendErr != nil {
				out.fatal = true
				err = errors.Join(err, sendErr)
			}
		}
		if out.fatal {
			s.setState(StateTornDown)
			glog.Infof("session %s: torn down: %v", s.ID, err)
			return err
		}
		glog.Infof("session %s: request failed: %v", s.ID, err)
		s.setState(StateIdle)
	}
}

func (s *Session) dispatch(ctx context.Context, handlers map[string]handler, msg protocol.Message) error {
	h, ok := handlers[msg.Command]
	if !ok {
		if protocol.IsKnownCommand(msg.Command) {
			return fmt.Errorf("%w: %s in state %s", ErrProtocolSequence, msg.Command, s.State())
		}
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
	return h(ctx, msg)
}

func (s *Session) handleLatestRev(ctx context.Context, msg protocol.Message) error {
	var none struct{}
	if err := msg.Decode(&none); err != nil {
		return err
	}
	rev, err := s.engine.repo.Youngest(ctx)
	if err != nil {
		return err
	}
	return s.Send(ctx, protocol.Success(protocol.LatestRevResponse{Rev: rev}))
}

// Send delivers msg to the client.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	if err := s.conn.Send(ctx, msg); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: send %s: %w", ErrConnection, msg.Command, err)
	}
	return nil
}

func (s *Session) receive(ctx context.Context) (protocol.Message, error) {
	msg, err := s.conn.Receive(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Message{}, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return protocol.Message{}, io.EOF
		}
		if errors.Is(err, protocol.ErrMalformed) {
			return protocol.Message{}, err
		}
		return protocol.Message{}, fmt.Errorf("%w: receive: %w", ErrConnection, err)
	}
	if glog.V(2) {
		glog.Infof("session %s: <- %s %s", s.ID, msg.Command, msg.Params)
	}
	return msg, nil
}
