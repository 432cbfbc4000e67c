package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/ancestry"
	"github.com/danieljhkim/deltaserve/internal/auth"
	"github.com/danieljhkim/deltaserve/internal/editor"
	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/report"
)

// handler processes one client command in some state.
type handler func(ctx context.Context, msg protocol.Message) error

// request is one update-like command from start to response.
type request struct {
	s         *Session
	command   string
	params    protocol.DeltaParams
	depth     protocol.Depth
	collector *report.Collector
	plan      *planner.Plan
	mechs     []string
	handlers  map[State]map[string]handler
	done      bool
}

// DecodeDeltaParams decodes the parameters of update, switch, status or diff.
func DecodeDeltaParams(msg protocol.Message) (protocol.DeltaParams, error) {
	switch msg.Command {
	case protocol.CmdUpdate:
		var p protocol.UpdateParams
		err := msg.Decode(&p)
		return p.Delta(), err
	case protocol.CmdSwitch:
		var p protocol.SwitchParams
		if err := msg.Decode(&p); err != nil {
			return protocol.DeltaParams{}, err
		}
		if p.URL == "" {
			return protocol.DeltaParams{}, fmt.Errorf("%w: switch without a url", protocol.ErrMalformed)
		}
		return p.Delta(), nil
	case protocol.CmdStatus:
		var p protocol.StatusParams
		err := msg.Decode(&p)
		return p.Delta(), err
	case protocol.CmdDiff:
		var p protocol.DiffParams
		err := msg.Decode(&p)
		return p.Delta(), err
	default:
		return protocol.DeltaParams{}, fmt.Errorf("%w: %q is not an update-like command", ErrProtocolSequence, msg.Command)
	}
}

// ResolveDepth returns the depth of a request. An explicit depth wins over
// the legacy recurse flag.
func ResolveDepth(p protocol.DeltaParams) (protocol.Depth, error) {
	d, err := protocol.ParseDepth(p.Depth)
	if err != nil {
		return protocol.DepthUnknown, err
	}
	if !d.Known() {
		return protocol.FromRecurse(p.Recurse), nil
	}
	if implied := protocol.FromRecurse(p.Recurse); implied != d {
		glog.Warningf("depth %s conflicts with recurse=%t (implies %s); using %s", d, p.Recurse, implied, d)
	}
	return d, nil
}

func (s *Session) newRequest(msg protocol.Message) (*request, error) {
	params, err := DecodeDeltaParams(msg)
	if err != nil {
		return nil, err
	}
	if params, err = NormalizeParams(params); err != nil {
		return nil, err
	}
	depth, err := ResolveDepth(params)
	if err != nil {
		return nil, err
	}

	r := &request{
		s:         s,
		command:   msg.Command,
		params:    params,
		depth:     depth,
		collector: report.NewCollector(),
	}
	reportHandlers := map[string]handler{
		protocol.CmdSetPath:      r.handleReport,
		protocol.CmdLinkPath:     r.handleReport,
		protocol.CmdDeletePath:   r.handleReport,
		protocol.CmdFinishReport: r.handleReport,
		protocol.CmdAbortReport:  r.handleReport,
	}
	r.handlers = map[State]map[string]handler{
		StateAwaitingReport: reportHandlers,
		StateReporting:      reportHandlers,
		StateAuthenticating: {
			protocol.CmdAuthResponse: r.handleAuthResponse,
		},
	}
	return r, nil
}

// serveRequest runs an update-like command through its states.
func (s *Session) serveRequest(ctx context.Context, msg protocol.Message) error {
	r, err := s.newRequest(msg)
	if err != nil {
		return err
	}
	s.requests.Add(1)
	s.setState(StateAwaitingReport)
	glog.V(1).Infof("session %s: %s %q depth=%s", s.ID, r.command, r.params.PlanPath(), r.depth)

	for !r.done {
		in, err := s.receive(ctx)
		if err != nil {
			return err
		}
		state := s.State()
		h, ok := r.handlers[state][in.Command]
		if !ok {
			if (state == StateAwaitingReport || state == StateReporting) && !protocol.IsKnownCommand(in.Command) {
				return fmt.Errorf("%w: unknown command %q", report.ErrReportProtocol, in.Command)
			}
			return fmt.Errorf("%w: %s in state %s", ErrProtocolSequence, in.Command, state)
		}
		if err := h(ctx, in); err != nil {
			return err
		}
	}

	s.setState(StateIdle)
	return nil
}

func (r *request) handleReport(ctx context.Context, msg protocol.Message) error {
	r.s.setState(StateReporting)
	done, err := r.collector.Handle(msg)
	if errors.Is(err, report.ErrAborted) {
		glog.Infof("session %s: client aborted the report", r.s.ID)
		r.done = true
		return nil
	}
	if err != nil {
		return err
	}
	if !done {
		return nil
	}
	return r.reportFinished(ctx)
}

// reportFinished plans the edit, then offers authentication.
func (r *request) reportFinished(ctx context.Context) error {
	r.s.setState(StateReportFinished)
	e := r.s.engine

	plan, err := e.PlanRequest(ctx, r.params, r.depth, r.collector.Finish())
	if err != nil {
		return err
	}
	r.plan = plan

	r.s.setState(StateAuthenticating)
	r.mechs = e.auth.Mechanisms()
	return r.s.Send(ctx, protocol.MustMessage(protocol.CmdAuthRequest, protocol.AuthRequest{
		Mechs: r.mechs,
		Realm: e.auth.Realm(),
	}))
}

// PlanRequest resolves the target revision, validates the finished report
// against it and computes the edit plan. No edit may be sent for a request
// that fails here.
func (e *Engine) PlanRequest(ctx context.Context, params protocol.DeltaParams, depth protocol.Depth, state *report.State) (*planner.Plan, error) {
	youngest, err := e.repo.Youngest(ctx)
	if err != nil {
		return nil, err
	}
	for _, entry := range state.Entries() {
		if entry.Revision > youngest {
			return nil, fmt.Errorf("%w: %q reported at r%d, youngest is r%d", report.ErrReportProtocol, entry.Path, entry.Revision, youngest)
		}
	}

	rev, err := e.resolver.Resolve(ctx, params.Rev)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("planning %q -> %q at r%d, %d reported entries", params.Target, params.PlanPath(), rev, state.Len())

	err = e.validator.Validate(ctx, state, ancestry.Request{
		SourceBase:     params.Target,
		TargetBase:     params.PlanPath(),
		TargetRev:      rev,
		IgnoreAncestry: params.IgnoreAncestry,
	})
	if err != nil {
		return nil, err
	}

	return e.planner.Plan(ctx, planner.Request{
		State:            state,
		SourceBase:       params.Target,
		TargetBase:       params.PlanPath(),
		TargetRev:        rev,
		Depth:            depth,
		SendCopyFromArgs: params.SendCopyFromArgs,
		TextDeltas:       params.TextDeltas,
		IgnoreAncestry:   params.IgnoreAncestry,
	})
}

func (r *request) handleAuthResponse(ctx context.Context, msg protocol.Message) error {
	var p protocol.AuthResponse
	if err := msg.Decode(&p); err != nil {
		return err
	}
	if !slices.Contains(r.mechs, p.Mech) {
		return fmt.Errorf("%w: %q was not offered", auth.ErrUnsupportedMechanism, p.Mech)
	}
	user, err := r.s.engine.auth.Authenticate(ctx, p.Mech, p.Token)
	if err != nil {
		return err
	}
	r.s.setUser(user)
	if err := r.s.Send(ctx, protocol.Success(nil)); err != nil {
		return err
	}

	r.s.setState(StateEditing)
	if err := editor.NewDriver(r.s).WithChunkSize(r.s.engine.chunkSize).Drive(ctx, r.plan); err != nil {
		return err
	}
	r.s.setState(StateResponded)
	r.done = true

	if glog.V(1) {
		st := r.plan.Stats()
		glog.Infof("session %s: %s by %s to r%d done: %d adds, %d deletes, %d opens",
			r.s.ID, r.command, user, r.plan.TargetRev, st.Adds, st.Deletes, st.Opens)
	}
	return nil
}
