package report

import (
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/protocol"
)

var (
	// ErrReportProtocol indicates a malformed report message.
	ErrReportProtocol = errors.New("report protocol error")

	// ErrAborted indicates the client abandoned the report.
	ErrAborted = errors.New("report aborted")
)

// Collector builds a State from report messages.
type Collector struct {
	state    *State
	finished bool
}

// NewCollector creates a Collector with no entries.
func NewCollector() *Collector {
	return &Collector{state: NewState()}
}

// Handle applies one report message. It returns done once finish-report has
// been received, and ErrAborted on abort-report.
func (c *Collector) Handle(msg protocol.Message) (done bool, err error) {
	if c.finished {
		return true, fmt.Errorf("%w: %s after finish-report", ErrReportProtocol, msg.Command)
	}

	switch msg.Command {
	case protocol.CmdSetPath:
		var p protocol.SetPathParams
		if err := msg.Decode(&p); err != nil {
			return false, fmt.Errorf("%w: %w", ErrReportProtocol, err)
		}
		e, err := newEntry(p.Path, p.Rev, p.Depth, p.StartEmpty, p.LockToken)
		if err != nil {
			return false, err
		}
		c.state.Set(e)

	case protocol.CmdLinkPath:
		var p protocol.LinkPathParams
		if err := msg.Decode(&p); err != nil {
			return false, fmt.Errorf("%w: %w", ErrReportProtocol, err)
		}
		if p.URL == "" {
			return false, fmt.Errorf("%w: empty link target for %q", ErrReportProtocol, p.Path)
		}
		if err := fsops.ValidateRelPath(p.URL); err != nil {
			return false, fmt.Errorf("%w: link target: %w", ErrReportProtocol, err)
		}
		e, err := newEntry(p.Path, p.Rev, p.Depth, p.StartEmpty, p.LockToken)
		if err != nil {
			return false, err
		}
		e.IsSwitched = true
		e.LinkPath = p.URL
		c.state.Set(e)

	case protocol.CmdDeletePath:
		var p protocol.DeletePathParams
		if err := msg.Decode(&p); err != nil {
			return false, fmt.Errorf("%w: %w", ErrReportProtocol, err)
		}
		if err := fsops.ValidateRelPath(p.Path); err != nil {
			return false, fmt.Errorf("%w: %w", ErrReportProtocol, err)
		}
		c.state.Set(Entry{Path: p.Path, Depth: protocol.DepthInfinity, Deleted: true})

	case protocol.CmdFinishReport:
		c.finished = true
		return true, nil

	case protocol.CmdAbortReport:
		return false, ErrAborted

	default:
		return false, fmt.Errorf("%w: unknown command %q", ErrReportProtocol, msg.Command)
	}

	glog.V(2).Infof("report: %s", msg.Command)
	return false, nil
}

func newEntry(path string, rev int64, depthWord string, startEmpty bool, lockToken string) (Entry, error) {
	if err := fsops.ValidateRelPath(path); err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrReportProtocol, err)
	}
	if rev < 0 {
		return Entry{}, fmt.Errorf("%w: negative revision %d for %q", ErrReportProtocol, rev, path)
	}
	depth, err := protocol.ParseDepth(depthWord)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrReportProtocol, err)
	}
	if !depth.Known() {
		depth = protocol.DepthInfinity
	}
	return Entry{
		Path:       path,
		Revision:   rev,
		Depth:      depth,
		StartEmpty: startEmpty,
		LockToken:  lockToken,
	}, nil
}

// Finish returns the collected state. A target the client did not report,
// or reported as missing, is filled in as revision 0 and start-empty: the
// client has nothing.
func (c *Collector) Finish() *State {
	if root, ok := c.state.Get(""); !ok || root.Deleted {
		c.state.Set(Entry{Path: "", Revision: 0, Depth: protocol.DepthInfinity, StartEmpty: true})
	}
	return c.state
}
