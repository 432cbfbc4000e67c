package engine

import (
	"context"
	"errors"
	"io"

	"github.com/danieljhkim/deltaserve/internal/ancestry"
	"github.com/danieljhkim/deltaserve/internal/auth"
	"github.com/danieljhkim/deltaserve/internal/editor"
	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/report"
	"github.com/danieljhkim/deltaserve/internal/revision"
)

var (
	// ErrProtocolSequence indicates a command the current state has no handler for.
	ErrProtocolSequence = errors.New("protocol sequence error")

	// ErrUnknownCommand indicates a dispatch command the server does not implement.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrConnection indicates the connection failed while sending or receiving.
	ErrConnection = errors.New("connection failed")
)

// outcome is what the session does about a request error.
type outcome struct {
	// failure is sent to the client unless respond is false
	failure protocol.Failure
	respond bool

	// fatal tears the session down
	fatal bool
}

// classify maps an error to its failure response and whether the session
// survives it.
func classify(err error) outcome {
	failure := func(code int) protocol.Failure {
		return protocol.Failure{Code: code, Message: err.Error()}
	}

	switch {
	case errors.Is(err, ErrProtocolSequence),
		errors.Is(err, ErrConnection),
		errors.Is(err, io.EOF),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return outcome{fatal: true}

	case errors.Is(err, report.ErrReportProtocol), errors.Is(err, protocol.ErrMalformed), errors.Is(err, protocol.ErrUnknownDepth):
		return outcome{failure: failure(protocol.CodeMalformedData), respond: true, fatal: true}

	case errors.Is(err, auth.ErrDenied), errors.Is(err, auth.ErrUnsupportedMechanism):
		return outcome{failure: failure(protocol.CodeNotAuthorized), respond: true, fatal: true}

	case errors.Is(err, ErrUnknownCommand):
		return outcome{failure: failure(protocol.CodeUnknownCommand), respond: true}

	case errors.Is(err, revision.ErrInvalidRevision), errors.Is(err, repo.ErrNoSuchRevision):
		return outcome{failure: failure(protocol.CodeNoSuchRevision), respond: true}

	case errors.Is(err, ancestry.ErrRejected):
		return outcome{failure: failure(protocol.CodeUnrelatedHistory), respond: true}

	case errors.Is(err, planner.ErrTargetNotFound):
		return outcome{failure: failure(protocol.CodePathNotFound), respond: true}

	case errors.Is(err, planner.ErrTargetNotDirectory):
		return outcome{failure: failure(protocol.CodeNotDirectory), respond: true}

	case errors.Is(err, planner.ErrPlanning), errors.Is(err, repo.ErrStorage):
		return outcome{failure: failure(protocol.CodeStorage), respond: true}

	case errors.Is(err, editor.ErrBracketing):
		return outcome{failure: failure(protocol.CodeAssertion), respond: true}

	default:
		return outcome{failure: failure(protocol.CodeGeneral), respond: true, fatal: true}
	}
}
