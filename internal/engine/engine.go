// Package engine runs client sessions.
//
// The engine is the orchestration layer between the transport and the
// lower-level packages. Each connection gets a Session that reads commands
// from the dispatch set. An update-like command starts a request, which
// walks a fixed sequence of states, each with its own handler table:
//
//	AwaitingReport -> Reporting -> ReportFinished -> Authenticating -> Editing -> Responded
//
// and TornDown from anywhere. The revision is resolved, the report validated
// and the plan computed in ReportFinished, so no edit is sent for a request
// that cannot complete.
package engine

import (
	"context"

	"github.com/danieljhkim/deltaserve/internal/ancestry"
	"github.com/danieljhkim/deltaserve/internal/auth"
	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/editor"
	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/revision"
)

// Conn is one client connection. Receive blocks until a message arrives,
// the context is done or the connection fails.
type Conn interface {
	Receive(ctx context.Context) (protocol.Message, error)
	Send(ctx context.Context, msg protocol.Message) error
}

// Observer is told about session lifecycle events.
type Observer interface {
	SessionStarted(s *Session)
	SessionEnded(s *Session)
}

// Engine holds what every session shares.
type Engine struct {
	repo      repo.Repository
	resolver  *revision.Resolver
	validator *ancestry.Validator
	planner   *planner.Planner
	auth      auth.Authenticator
	clock     clock.Clock
	observer  Observer
	chunkSize int
}

// New creates an Engine serving r.
func New(r repo.Repository, a auth.Authenticator, clk clock.Clock) *Engine {
	return &Engine{
		repo:      r,
		resolver:  revision.NewResolver(r),
		validator: ancestry.NewValidator(r),
		planner:   planner.New(r),
		auth:      a,
		clock:     clk,
		chunkSize: editor.DefaultChunkSize,
	}
}

// WithObserver registers o for session events.
func (e *Engine) WithObserver(o Observer) *Engine {
	e.observer = o
	return e
}

// WithChunkSize sets the text delta chunk size used by editor drives.
func (e *Engine) WithChunkSize(n int) *Engine {
	if n > 0 {
		e.chunkSize = n
	}
	return e
}

// Serve runs a session on conn until the client disconnects, ctx is done or
// a fatal error tears the session down.
func (e *Engine) Serve(ctx context.Context, conn Conn) error {
	s := e.NewSession(conn)
	if e.observer != nil {
		e.observer.SessionStarted(s)
		defer e.observer.SessionEnded(s)
	}
	return s.Run(ctx)
}
