package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/danieljhkim/deltaserve/internal/auth"
	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/repo/repotest"
)

// scriptConn replays client messages and records what the server sends.
// Receive returns io.EOF once the script is exhausted.
type scriptConn struct {
	in      []protocol.Message
	out     []protocol.Message
	failAt  int
	sendErr error
}

func script(msgs ...protocol.Message) *scriptConn {
	return &scriptConn{in: msgs, failAt: -1}
}

func (c *scriptConn) Receive(ctx context.Context) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Message{}, err
	}
	if len(c.in) == 0 {
		return protocol.Message{}, io.EOF
	}
	m := c.in[0]
	c.in = c.in[1:]
	return m, nil
}

func (c *scriptConn) Send(_ context.Context, msg protocol.Message) error {
	if c.sendErr != nil && len(c.out) == c.failAt {
		return c.sendErr
	}
	c.out = append(c.out, msg)
	return nil
}

func (c *scriptConn) commands() []string {
	cmds := make([]string, len(c.out))
	for i, m := range c.out {
		cmds[i] = m.Command
	}
	return cmds
}

func (c *scriptConn) failure(t *testing.T, i int) protocol.Failure {
	t.Helper()
	if i >= len(c.out) || c.out[i].Command != protocol.CmdFailure {
		t.Fatalf("message %d is not a failure; sent %v", i, c.commands())
	}
	var f protocol.Failure
	if err := c.out[i].Decode(&f); err != nil {
		t.Fatalf("Decode failure failed: %v", err)
	}
	return f
}

func msg(cmd string, params any) protocol.Message {
	return protocol.MustMessage(cmd, params)
}

func rev(n int64) *int64 {
	return &n
}

func newTestEngine(t *testing.T) (*Engine, *repo.FileRepository) {
	t.Helper()
	r := repotest.Standard(t)
	a, err := auth.NewStatic("test", true, nil)
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}
	return New(r, a, clock.NewFakeClock(repotest.Epoch)), r
}

func anonymous() protocol.Message {
	return msg(protocol.CmdAuthResponse, protocol.AuthResponse{Mech: auth.MechAnonymous})
}

func TestSession_LatestRev(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(msg(protocol.CmdGetLatestRev, nil))
	s := e.NewSession(conn)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(conn.out) != 1 || conn.out[0].Command != protocol.CmdSuccess {
		t.Fatalf("sent %v, want one success", conn.commands())
	}
	var resp protocol.LatestRevResponse
	if err := conn.out[0].Decode(&resp); err != nil || resp.Rev != 4 {
		t.Errorf("latest rev = %+v (%v), want 4", resp, err)
	}
	if s.State() != StateTornDown {
		t.Errorf("state = %s, want torn-down after disconnect", s.State())
	}
}

func TestSession_Update(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Rev: rev(2), Target: "trunk", Recurse: true}),
		msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1}),
		msg(protocol.CmdFinishReport, nil),
		anonymous(),
		msg(protocol.CmdGetLatestRev, nil),
	)
	s := e.NewSession(conn)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := strings.Join(conn.commands(), " ")
	wantPrefix := "auth-request success target-rev open-root add-dir add-file apply-textdelta textdelta-chunk textdelta-end close-file close-dir open-dir"
	wantSuffix := "close-file close-dir close-dir close-edit success success"
	if !strings.HasPrefix(got, wantPrefix) || !strings.HasSuffix(got, wantSuffix) {
		t.Fatalf("sent:\n  %s\nwant prefix:\n  %s\nand suffix:\n  %s", got, wantPrefix, wantSuffix)
	}

	var req protocol.AuthRequest
	if err := conn.out[0].Decode(&req); err != nil {
		t.Fatalf("Decode auth-request failed: %v", err)
	}
	if len(req.Mechs) != 1 || req.Mechs[0] != auth.MechAnonymous || req.Realm != "test" {
		t.Errorf("auth-request = %+v", req)
	}

	info := s.Info()
	if info.User != auth.AnonymousUser || info.Requests != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestSession_UpToDate(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "/trunk/", Recurse: true}),
		msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 4}),
		msg(protocol.CmdFinishReport, nil),
		anonymous(),
	)
	if err := e.NewSession(conn).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := strings.Join(conn.commands(), " ")
	if want := "auth-request success target-rev open-root close-dir close-edit success"; got != want {
		t.Errorf("sent %s, want %s", got, want)
	}
}

func TestSession_Status(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(
		msg(protocol.CmdStatus, protocol.StatusParams{Target: "trunk", Recurse: true}),
		msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1}),
		msg(protocol.CmdFinishReport, nil),
		anonymous(),
	)
	if err := e.NewSession(conn).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, cmd := range conn.commands() {
		if cmd == protocol.CmdTextDeltaChunk {
			t.Fatal("status must not send text delta chunks")
		}
	}
}

func TestSession_RequestFailuresKeepSession(t *testing.T) {
	tests := []struct {
		name     string
		request  protocol.Message
		report   []protocol.Message
		wantCode int
	}{
		{
			name:     "invalid revision",
			request:  msg(protocol.CmdUpdate, protocol.UpdateParams{Rev: rev(99), Target: "trunk", Recurse: true}),
			report:   []protocol.Message{msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1})},
			wantCode: protocol.CodeNoSuchRevision,
		},
		{
			name:     "missing target",
			request:  msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "tags", Recurse: true}),
			report:   []protocol.Message{msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1, StartEmpty: true})},
			wantCode: protocol.CodePathNotFound,
		},
		{
			name:     "file target",
			request:  msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk/src/main.go", Recurse: true}),
			report:   []protocol.Message{msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1, StartEmpty: true})},
			wantCode: protocol.CodeNotDirectory,
		},
		{
			name:     "unrelated switch",
			request:  msg(protocol.CmdSwitch, protocol.SwitchParams{Target: "branches/b1", URL: "trunk", Recurse: true}),
			report:   []protocol.Message{msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 3})},
			wantCode: protocol.CodeUnrelatedHistory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			msgs := append([]protocol.Message{tt.request}, tt.report...)
			msgs = append(msgs, msg(protocol.CmdFinishReport, nil), msg(protocol.CmdGetLatestRev, nil))
			conn := script(msgs...)

			if err := e.NewSession(conn).Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if f := conn.failure(t, 0); f.Code != tt.wantCode {
				t.Errorf("failure code = %d (%s), want %d", f.Code, f.Message, tt.wantCode)
			}
			if len(conn.out) != 2 || conn.out[1].Command != protocol.CmdSuccess {
				t.Errorf("sent %v, want the session to answer the next command", conn.commands())
			}
		})
	}
}

func TestSession_SwitchToBranch(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(
		msg(protocol.CmdSwitch, protocol.SwitchParams{Target: "trunk", URL: "branches/b1", Recurse: true}),
		msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 4}),
		msg(protocol.CmdFinishReport, nil),
		anonymous(),
	)
	if err := e.NewSession(conn).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := conn.commands()
	if got[len(got)-1] != protocol.CmdSuccess || got[len(got)-2] != protocol.CmdCloseEdit {
		t.Errorf("sent %v, want a completed edit", got)
	}
}

func TestSession_FatalErrors(t *testing.T) {
	tests := []struct {
		name     string
		msgs     []protocol.Message
		wantErr  error
		wantCode int // 0 means no response
	}{
		{
			name:    "report command while idle",
			msgs:    []protocol.Message{msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1})},
			wantErr: ErrProtocolSequence,
		},
		{
			name: "dispatch command during report",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdGetLatestRev, nil),
			},
			wantErr: ErrProtocolSequence,
		},
		{
			name: "editor command while reporting",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1}),
				msg(protocol.CmdOpenRoot, nil),
			},
			wantErr: ErrProtocolSequence,
		},
		{
			name: "close-edit before the report finishes",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdCloseEdit, nil),
			},
			wantErr: ErrProtocolSequence,
		},
		{
			name: "report command during auth",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdFinishReport, nil),
				msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1}),
			},
			wantErr: ErrProtocolSequence,
		},
		{
			name: "path escapes the target",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "../etc", Rev: 1}),
			},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name: "unknown command during report",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg("rename-path", nil),
			},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name: "revision from the future",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 7}),
				msg(protocol.CmdFinishReport, nil),
			},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name:     "bad depth word",
			msgs:     []protocol.Message{msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Depth: "deep"})},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name:     "undecodable params",
			msgs:     []protocol.Message{{Command: protocol.CmdUpdate, Params: []byte(`{"target": 7}`)}},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name:     "switch without url",
			msgs:     []protocol.Message{msg(protocol.CmdSwitch, protocol.SwitchParams{Target: "trunk"})},
			wantCode: protocol.CodeMalformedData,
		},
		{
			name: "mechanism not offered",
			msgs: []protocol.Message{
				msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
				msg(protocol.CmdFinishReport, nil),
				msg(protocol.CmdAuthResponse, protocol.AuthResponse{Mech: auth.MechPlain, Token: auth.EncodePlain("a", "b")}),
			},
			wantCode: protocol.CodeNotAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			msgs := append(tt.msgs, msg(protocol.CmdGetLatestRev, nil))
			conn := script(msgs...)
			s := e.NewSession(conn)

			err := s.Run(context.Background())
			if err == nil {
				t.Fatal("Run succeeded, want the session torn down")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Run error = %v, want %v", err, tt.wantErr)
			}
			if s.State() != StateTornDown {
				t.Errorf("state = %s, want torn-down", s.State())
			}

			// Anything sent before the fatal error is the auth offer.
			var sent []protocol.Message
			for _, m := range conn.out {
				if m.Command != protocol.CmdAuthRequest {
					sent = append(sent, m)
				}
			}
			if tt.wantCode == 0 {
				if len(sent) != 0 {
					t.Errorf("sent %v, want no response", conn.commands())
				}
				return
			}
			if len(sent) != 1 || sent[0].Command != protocol.CmdFailure {
				t.Fatalf("sent %v, want exactly one failure", conn.commands())
			}
			var f protocol.Failure
			if err := sent[0].Decode(&f); err != nil {
				t.Fatalf("Decode failure failed: %v", err)
			}
			if f.Code != tt.wantCode {
				t.Errorf("failure code = %d (%s), want %d", f.Code, f.Message, tt.wantCode)
			}
		})
	}
}

func TestSession_UnknownCommandWhileIdle(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(msg("commit", nil), msg(protocol.CmdGetLatestRev, nil))
	if err := e.NewSession(conn).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if f := conn.failure(t, 0); f.Code != protocol.CodeUnknownCommand {
		t.Errorf("failure code = %d, want %d", f.Code, protocol.CodeUnknownCommand)
	}
	if len(conn.out) != 2 {
		t.Errorf("sent %v, want the session to continue", conn.commands())
	}
}

func TestSession_AbortReport(t *testing.T) {
	e, _ := newTestEngine(t)
	conn := script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
		msg(protocol.CmdSetPath, protocol.SetPathParams{Path: "", Rev: 1}),
		msg(protocol.CmdAbortReport, nil),
		msg(protocol.CmdGetLatestRev, nil),
	)
	if err := e.NewSession(conn).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := conn.commands(); len(got) != 1 || got[0] != protocol.CmdSuccess {
		t.Errorf("sent %v, want only the get-latest-rev answer", got)
	}
}

func TestSession_AuthDenied(t *testing.T) {
	r := repotest.Standard(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}
	a, err := auth.NewStatic("test", false, map[string]string{"alice": string(hash)})
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}
	e := New(r, a, clock.NewFakeClock(repotest.Epoch))

	conn := script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
		msg(protocol.CmdFinishReport, nil),
		msg(protocol.CmdAuthResponse, protocol.AuthResponse{Mech: auth.MechPlain, Token: auth.EncodePlain("alice", "wrong")}),
	)
	err = e.NewSession(conn).Run(context.Background())
	if !errors.Is(err, auth.ErrDenied) {
		t.Fatalf("Run error = %v, want ErrDenied", err)
	}
	got := strings.Join(conn.commands(), " ")
	if got != "auth-request failure" {
		t.Errorf("sent %s, want no edit after a denied login", got)
	}

	// The right password gets the edit.
	conn = script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
		msg(protocol.CmdFinishReport, nil),
		msg(protocol.CmdAuthResponse, protocol.AuthResponse{Mech: auth.MechPlain, Token: auth.EncodePlain("alice", "right")}),
	)
	s := e.NewSession(conn)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if s.User() != "alice" {
		t.Errorf("user = %q, want alice", s.User())
	}
}

func TestSession_SendFailureTearsDown(t *testing.T) {
	e, _ := newTestEngine(t)
	boom := errors.New("broken pipe")
	conn := script(
		msg(protocol.CmdUpdate, protocol.UpdateParams{Target: "trunk", Recurse: true}),
		msg(protocol.CmdFinishReport, nil),
		anonymous(),
	)
	conn.failAt, conn.sendErr = 4, boom

	s := e.NewSession(conn)
	err := s.Run(context.Background())
	if !errors.Is(err, ErrConnection) || !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want a connection error", err)
	}
	if s.State() != StateTornDown {
		t.Errorf("state = %s, want torn-down", s.State())
	}
}

func TestSession_Cancelled(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := script(msg(protocol.CmdGetLatestRev, nil))
	s := e.NewSession(conn)
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(conn.out) != 0 {
		t.Errorf("sent %v after cancellation", conn.commands())
	}
}

func TestSession_SeesNewRevisions(t *testing.T) {
	e, r := newTestEngine(t)
	conn := script(msg(protocol.CmdGetLatestRev, nil))
	s := e.NewSession(conn)

	repotest.Commit(t, r, repo.NewTxn("carol", "more").PutFile("trunk/NEW", []byte("x"), nil))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var resp protocol.LatestRevResponse
	if err := conn.out[0].Decode(&resp); err != nil || resp.Rev != 5 {
		t.Errorf("latest rev = %+v (%v), want 5", resp, err)
	}
}

// recordingObserver counts lifecycle events.
type recordingObserver struct {
	mu      sync.Mutex
	started []string
	ended   []string
}

func (o *recordingObserver) SessionStarted(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, s.ID.String())
}

func (o *recordingObserver) SessionEnded(s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended = append(o.ended, s.ID.String())
}

func TestEngine_ServeNotifiesObserver(t *testing.T) {
	e, _ := newTestEngine(t)
	obs := &recordingObserver{}
	e.WithObserver(obs)

	if err := e.Serve(context.Background(), script()); err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if len(obs.started) != 1 || len(obs.ended) != 1 || obs.started[0] != obs.ended[0] {
		t.Errorf("observer saw started=%v ended=%v", obs.started, obs.ended)
	}
}

func TestResolveDepth(t *testing.T) {
	tests := []struct {
		depth   string
		recurse bool
		want    protocol.Depth
	}{
		{depth: "", recurse: true, want: protocol.DepthInfinity},
		{depth: "", recurse: false, want: protocol.DepthFiles},
		{depth: "unknown", recurse: true, want: protocol.DepthInfinity},
		{depth: "immediates", recurse: true, want: protocol.DepthImmediates},
		{depth: "infinity", recurse: false, want: protocol.DepthInfinity},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%t", tt.depth, tt.recurse), func(t *testing.T) {
			got, err := ResolveDepth(protocol.DeltaParams{Depth: tt.depth, Recurse: tt.recurse})
			if err != nil {
				t.Fatalf("ResolveDepth failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveDepth = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := ResolveDepth(protocol.DeltaParams{Depth: "sideways"}); !errors.Is(err, protocol.ErrUnknownDepth) {
		t.Errorf("ResolveDepth error = %v, want ErrUnknownDepth", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err     error
		code    int
		respond bool
		fatal   bool
	}{
		{err: ErrProtocolSequence, fatal: true},
		{err: io.EOF, fatal: true},
		{err: context.Canceled, fatal: true},
		{err: fmt.Errorf("%w: x", ErrConnection), fatal: true},
		{err: fmt.Errorf("%w: x", repo.ErrStorage), code: protocol.CodeStorage, respond: true},
		{err: fmt.Errorf("%w: x", ErrUnknownCommand), code: protocol.CodeUnknownCommand, respond: true},
		{err: errors.New("mystery"), code: protocol.CodeGeneral, respond: true, fatal: true},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			out := classify(tt.err)
			if out.respond != tt.respond || out.fatal != tt.fatal || (tt.respond && out.failure.Code != tt.code) {
				t.Errorf("classify(%v) = %+v", tt.err, out)
			}
		})
	}
}
