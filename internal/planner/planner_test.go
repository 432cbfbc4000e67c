package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/repo/repotest"
	"github.com/danieljhkim/deltaserve/internal/report"
)

// stateOf builds a report state; entries without a depth are at infinity.
func stateOf(entries ...report.Entry) *report.State {
	s := report.NewState()
	for _, e := range entries {
		if e.Depth == protocol.DepthUnknown {
			e.Depth = protocol.DepthInfinity
		}
		s.Set(e)
	}
	if _, ok := s.Get(""); !ok {
		s.Set(report.Entry{Path: "", Depth: protocol.DepthInfinity, StartEmpty: true})
	}
	return s
}

func trunkRequest(state *report.State, targetRev int64) Request {
	return Request{
		State:      state,
		SourceBase: "trunk",
		TargetBase: "trunk",
		TargetRev:  targetRev,
		Depth:      protocol.DepthInfinity,
		TextDeltas: true,
	}
}

// summarize renders operations as "type path" lines for comparison.
func summarize(ops []EditOperation) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		s := op.Type + " " + op.Path
		if op.CopyFrom != nil {
			s += fmt.Sprintf(" <- %s@%d", op.CopyFrom.Path, op.CopyFrom.Revision)
		}
		if op.PropName != "" {
			if op.PropValue == nil {
				s += " -" + op.PropName
			} else {
				s += " " + op.PropName + "=" + *op.PropValue
			}
		}
		out = append(out, s)
	}
	return out
}

func assertOps(t *testing.T, plan *Plan, want ...string) {
	t.Helper()
	got := summarize(plan.Operations())
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("operations:\n  %s\nwant:\n  %s", strings.Join(got, "\n  "), strings.Join(want, "\n  "))
	}
}

func mustPlan(t *testing.T, p *Planner, req Request) *Plan {
	t.Helper()
	plan, err := p.Plan(context.Background(), req)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	return plan
}

func TestPlan_NothingChanged(t *testing.T) {
	r := repotest.Standard(t)
	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 4))

	assertOps(t, plan, "open_dir ", "close_dir ")
	if plan.TargetRev != 4 {
		t.Errorf("TargetRev = %d, want 4", plan.TargetRev)
	}
}

func TestPlan_NothingChangedBetweenRevisions(t *testing.T) {
	r := repotest.Standard(t)
	// r3 only touched branches/, so trunk is identical.
	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 2}), 3))
	assertOps(t, plan, "open_dir ", "close_dir ")
}

func TestPlan_Update(t *testing.T) {
	r := repotest.Standard(t)
	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 1}), 2))

	assertOps(t, plan,
		"open_dir ",
		"add_dir docs",
		"add_file docs/guide.txt",
		"apply_textdelta docs/guide.txt",
		"close_file docs/guide.txt",
		"close_dir docs",
		"open_dir src",
		"open_file src/main.go",
		"apply_textdelta src/main.go",
		"close_file src/main.go",
		"close_dir src",
		"close_dir ",
	)

	ops := plan.Operations()
	if ops[0].BaseRevision != 1 {
		t.Errorf("root base revision = %d, want 1", ops[0].BaseRevision)
	}

	// The added file carries its full text.
	full := ops[3].Delta
	if full == nil || len(full.Ops) != 1 || string(full.Ops[0].Data) != "guide\n" {
		t.Errorf("add delta = %+v, want the full text", full)
	}
	if ops[4].Checksum == "" {
		t.Error("close_file should carry the result checksum")
	}

	// The modified file carries a delta against its base.
	d := ops[8].Delta
	if d == nil {
		t.Fatal("expected a text delta for src/main.go")
	}
	if d.NewDataSize() >= d.TargetLength {
		t.Errorf("delta sends %d new bytes of %d, want reuse of the base", d.NewDataSize(), d.TargetLength)
	}
	if ops[7].BaseChecksum == "" || ops[8].BaseChecksum != ops[7].BaseChecksum {
		t.Error("open_file and apply_textdelta should carry the base checksum")
	}
}

func TestPlan_DeleteAndPropertyChange(t *testing.T) {
	r := repotest.Standard(t)
	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 2}), 4))

	assertOps(t, plan,
		"open_dir ",
		"delete_entry README",
		"open_dir src",
		"open_file src/util.go",
		"change_file_prop src/util.go svn:eol-style=native",
		"close_file src/util.go",
		"close_dir src",
		"close_dir ",
	)
}

func TestPlan_Backdate(t *testing.T) {
	r := repotest.Standard(t)
	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 1))

	assertOps(t, plan,
		"open_dir ",
		"add_file README",
		"apply_textdelta README",
		"close_file README",
		"delete_entry docs",
		"open_dir src",
		"open_file src/main.go",
		"apply_textdelta src/main.go",
		"close_file src/main.go",
		"open_file src/util.go",
		"change_file_prop src/util.go -svn:eol-style",
		"close_file src/util.go",
		"close_dir src",
		"close_dir ",
	)
}

func TestPlan_Checkout(t *testing.T) {
	r := repotest.Standard(t)
	plan := mustPlan(t, New(r), trunkRequest(stateOf(), 4))

	assertOps(t, plan,
		"open_dir ",
		"add_dir docs",
		"add_file docs/guide.txt",
		"apply_textdelta docs/guide.txt",
		"close_file docs/guide.txt",
		"close_dir docs",
		"add_dir src",
		"add_file src/main.go",
		"apply_textdelta src/main.go",
		"close_file src/main.go",
		"add_file src/util.go",
		"change_file_prop src/util.go svn:eol-style=native",
		"apply_textdelta src/util.go",
		"close_file src/util.go",
		"close_dir src",
		"close_dir ",
	)
	if plan.Operations()[0].BaseRevision != 0 {
		t.Error("a client with nothing opens the root at revision 0")
	}
}

func TestPlan_Depth(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "top-level file").
		PutFile("trunk/NOTES", []byte("notes\n"), nil).
		SetProps("trunk", map[string]string{"owner": "carol"}))

	tests := []struct {
		name  string
		depth protocol.Depth
		state *report.State
		want  []string
	}{
		{
			name:  "empty sends only target properties",
			depth: protocol.DepthEmpty,
			state: stateOf(report.Entry{Path: "", Revision: 1}),
			want:  []string{"open_dir ", "change_dir_prop  owner=carol", "close_dir "},
		},
		{
			name:  "files skips directories",
			depth: protocol.DepthFiles,
			state: stateOf(report.Entry{Path: "", Revision: 1}),
			want: []string{
				"open_dir ",
				"change_dir_prop  owner=carol",
				"add_file NOTES",
				"apply_textdelta NOTES",
				"close_file NOTES",
				"delete_entry README",
				"close_dir ",
			},
		},
		{
			name:  "immediates adds child directories empty",
			depth: protocol.DepthImmediates,
			state: stateOf(report.Entry{Path: "", Revision: 1}),
			want: []string{
				"open_dir ",
				"change_dir_prop  owner=carol",
				"add_file NOTES",
				"apply_textdelta NOTES",
				"close_file NOTES",
				"delete_entry README",
				"add_dir docs",
				"close_dir docs",
				"close_dir ",
			},
		},
		{
			name:  "reported depth narrower than requested wins",
			depth: protocol.DepthInfinity,
			state: stateOf(report.Entry{Path: "", Revision: 1, Depth: protocol.DepthEmpty}),
			want:  []string{"open_dir ", "change_dir_prop  owner=carol", "close_dir "},
		},
		{
			name:  "reported subdirectory depth limits that subtree",
			depth: protocol.DepthInfinity,
			state: stateOf(
				report.Entry{Path: "", Revision: 4},
				report.Entry{Path: "src", Revision: 1, Depth: protocol.DepthEmpty},
			),
			want: []string{
				"open_dir ",
				"change_dir_prop  owner=carol",
				"add_file NOTES",
				"apply_textdelta NOTES",
				"close_file NOTES",
				"close_dir ",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := trunkRequest(tt.state, 5)
			req.Depth = tt.depth
			assertOps(t, mustPlan(t, New(r), req), tt.want...)
		})
	}
}

func TestPlan_DepthNeverDeletesUnvisited(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "drop src").Delete("trunk/src"))

	req := trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 5)
	req.Depth = protocol.DepthFiles
	plan := mustPlan(t, New(r), req)

	for _, op := range plan.Operations() {
		if op.Type == OpDeleteEntry {
			t.Fatalf("depth files must not delete directory %q", op.Path)
		}
	}
}

func TestPlan_ReportedEntries(t *testing.T) {
	r := repotest.Standard(t)

	t.Run("missing file is re-added", func(t *testing.T) {
		state := stateOf(
			report.Entry{Path: "", Revision: 4},
			report.Entry{Path: "docs/guide.txt", Deleted: true},
		)
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 4)),
			"open_dir ",
			"open_dir docs",
			"add_file docs/guide.txt",
			"apply_textdelta docs/guide.txt",
			"close_file docs/guide.txt",
			"close_dir docs",
			"close_dir ",
		)
	})

	t.Run("start-empty directory is filled", func(t *testing.T) {
		state := stateOf(
			report.Entry{Path: "", Revision: 4},
			report.Entry{Path: "src", Revision: 4, StartEmpty: true},
		)
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 4)),
			"open_dir ",
			"open_dir src",
			"add_file src/main.go",
			"apply_textdelta src/main.go",
			"close_file src/main.go",
			"add_file src/util.go",
			"change_file_prop src/util.go svn:eol-style=native",
			"apply_textdelta src/util.go",
			"close_file src/util.go",
			"close_dir src",
			"close_dir ",
		)
	})

	t.Run("mixed revisions", func(t *testing.T) {
		state := stateOf(
			report.Entry{Path: "", Revision: 4},
			report.Entry{Path: "src/main.go", Revision: 1},
		)
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 4)),
			"open_dir ",
			"open_dir src",
			"open_file src/main.go",
			"apply_textdelta src/main.go",
			"close_file src/main.go",
			"close_dir src",
			"close_dir ",
		)
	})

	t.Run("switched subtree is brought back", func(t *testing.T) {
		state := stateOf(
			report.Entry{Path: "", Revision: 4},
			report.Entry{Path: "src", Revision: 3, IsSwitched: true, LinkPath: "branches/b1/src"},
		)
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 4)),
			"open_dir ",
			"open_dir src",
			"open_file src/util.go",
			"change_file_prop src/util.go svn:eol-style=native",
			"close_file src/util.go",
			"close_dir src",
			"close_dir ",
		)
	})
}

func TestPlan_Switch(t *testing.T) {
	r := repotest.Standard(t)
	req := trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 4)
	req.TargetBase = "branches/b1"

	assertOps(t, mustPlan(t, New(r), req),
		"open_dir ",
		"add_file README",
		"apply_textdelta README",
		"close_file README",
		"open_dir src",
		"open_file src/util.go",
		"change_file_prop src/util.go -svn:eol-style",
		"close_file src/util.go",
		"close_dir src",
		"close_dir ",
	)
}

func TestPlan_CopyFrom(t *testing.T) {
	r := repotest.Standard(t)
	rootReq := func(state *report.State, rev int64, copyFrom bool) Request {
		return Request{
			State:            state,
			TargetRev:        rev,
			Depth:            protocol.DepthInfinity,
			SendCopyFromArgs: copyFrom,
			TextDeltas:       true,
		}
	}

	t.Run("directory copy is a reference", func(t *testing.T) {
		plan := mustPlan(t, New(r), rootReq(stateOf(report.Entry{Path: "", Revision: 2}), 3, true))
		assertOps(t, plan,
			"open_dir ",
			"add_dir branches",
			"add_dir branches/b1 <- trunk@2",
			"close_dir branches/b1",
			"close_dir branches",
			"close_dir ",
		)
		if s := plan.Stats(); s.Copies != 1 || s.NewBytes != 0 {
			t.Errorf("stats = %+v, want one copy and no new bytes", s)
		}
	})

	t.Run("without copy-from args the copy is sent in full", func(t *testing.T) {
		plan := mustPlan(t, New(r), rootReq(stateOf(report.Entry{Path: "", Revision: 2}), 3, false))
		if s := plan.Stats(); s.Copies != 0 || s.Adds != 8 {
			t.Errorf("stats = %+v, want 8 plain adds", s)
		}
	})

	t.Run("copy source older in the client is not used", func(t *testing.T) {
		state := stateOf(report.Entry{Path: "", Revision: 2}, report.Entry{Path: "trunk/src/main.go", Revision: 1})
		plan := mustPlan(t, New(r), rootReq(state, 3, true))
		if s := plan.Stats(); s.Copies != 0 {
			t.Errorf("stats = %+v, want no copies", s)
		}
	})

	t.Run("without a resolver the copy is sent in full", func(t *testing.T) {
		plan := mustPlan(t, New(r).WithCopyFromResolver(nil), rootReq(stateOf(report.Entry{Path: "", Revision: 2}), 3, true))
		if s := plan.Stats(); s.Copies != 0 {
			t.Errorf("stats = %+v, want no copies", s)
		}
	})

	t.Run("modified file copy sends a delta against the source", func(t *testing.T) {
		r := repotest.Standard(t)
		repotest.Commit(t, r, repo.NewTxn("carol", "copy and edit").
			Copy("trunk/src/main.go", 4, "trunk/src/main2.go").
			PutFile("trunk/src/main2.go", []byte("package main\n\nfunc main() {\n\tprintln(2)\n}\n"), nil))

		plan := mustPlan(t, New(r), rootReq(stateOf(report.Entry{Path: "", Revision: 4}), 5, true))
		assertOps(t, plan,
			"open_dir ",
			"open_dir trunk",
			"open_dir trunk/src",
			"add_file trunk/src/main2.go <- trunk/src/main.go@4",
			"apply_textdelta trunk/src/main2.go",
			"close_file trunk/src/main2.go",
			"close_dir trunk/src",
			"close_dir trunk",
			"close_dir ",
		)
		d := plan.Operations()[4].Delta
		if d == nil || d.NewDataSize() >= d.TargetLength {
			t.Errorf("delta = %+v, want a delta against the copy source", d)
		}
	})
}

func TestPlan_RenameSendsFullAdd(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "rename").
		Copy("trunk/src/main.go", 4, "trunk/src/zz.go").
		Delete("trunk/src/main.go"))

	req := trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 5)
	req.SendCopyFromArgs = true
	plan := mustPlan(t, New(r), req)

	assertOps(t, plan,
		"open_dir ",
		"open_dir src",
		"delete_entry src/main.go",
		"add_file src/zz.go",
		"apply_textdelta src/zz.go",
		"close_file src/zz.go",
		"close_dir src",
		"close_dir ",
	)
	if s := plan.Stats(); s.Copies != 0 {
		t.Errorf("stats = %+v, want no copies from a deleted source", s)
	}
}

func TestPlan_CopySourceModifiedInTarget(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "copy then edit source").
		Copy("trunk/src/main.go", 4, "trunk/src/main2.go").
		PutFile("trunk/src/main.go", []byte("package main\n"), nil))

	req := trunkRequest(stateOf(report.Entry{Path: "", Revision: 4}), 5)
	req.SendCopyFromArgs = true
	plan := mustPlan(t, New(r), req)

	for _, op := range plan.Operations() {
		if op.CopyFrom != nil {
			t.Errorf("%s %s copies from %s, which the same plan rewrites", op.Type, op.Path, op.CopyFrom.Path)
		}
	}
}

func TestPlan_MultiLineDirProps(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "ignore").
		SetProps("trunk/docs", map[string]string{"svn:ignore": "x\nP z=y"}))
	repotest.Commit(t, r, repo.NewTxn("carol", "split").
		SetProps("trunk/docs", map[string]string{"svn:ignore": "x", "z": "y"}))

	plan := mustPlan(t, New(r), trunkRequest(stateOf(report.Entry{Path: "", Revision: 5}), 6))
	assertOps(t, plan,
		"open_dir ",
		"open_dir docs",
		"change_dir_prop docs svn:ignore=x",
		"change_dir_prop docs z=y",
		"close_dir docs",
		"close_dir ",
	)
}

func TestPlan_Replacement(t *testing.T) {
	r := repotest.Standard(t)
	repotest.Commit(t, r, repo.NewTxn("carol", "remove").Delete("trunk/src/util.go"))
	repotest.Commit(t, r, repo.NewTxn("carol", "re-add").PutFile("trunk/src/util.go", []byte("package main\n"), nil))

	state := stateOf(report.Entry{Path: "", Revision: 4})

	t.Run("unrelated node is replaced", func(t *testing.T) {
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 6)),
			"open_dir ",
			"open_dir src",
			"delete_entry src/util.go",
			"add_file src/util.go",
			"apply_textdelta src/util.go",
			"close_file src/util.go",
			"close_dir src",
			"close_dir ",
		)
	})

	t.Run("ignoring ancestry compares content", func(t *testing.T) {
		req := trunkRequest(state, 6)
		req.IgnoreAncestry = true
		assertOps(t, mustPlan(t, New(r), req),
			"open_dir ",
			"open_dir src",
			"open_file src/util.go",
			"change_file_prop src/util.go -svn:eol-style",
			"close_file src/util.go",
			"close_dir src",
			"close_dir ",
		)
	})

	t.Run("kind change is replaced", func(t *testing.T) {
		r := repotest.Standard(t)
		repotest.Commit(t, r, repo.NewTxn("carol", "file to dir").
			Delete("trunk/docs").
			PutFile("trunk/docs", []byte("docs\n"), nil))
		assertOps(t, mustPlan(t, New(r), trunkRequest(state, 5)),
			"open_dir ",
			"delete_entry docs",
			"add_file docs",
			"apply_textdelta docs",
			"close_file docs",
			"close_dir ",
		)
	})
}

func TestPlan_NoTextDeltas(t *testing.T) {
	r := repotest.Standard(t)
	req := trunkRequest(stateOf(report.Entry{Path: "", Revision: 1}), 2)
	req.TextDeltas = false

	plan := mustPlan(t, New(r), req)
	n := 0
	for _, op := range plan.Operations() {
		if op.Type == OpApplyTextDelta {
			n++
			if op.Delta != nil {
				t.Errorf("%s: expected no delta body", op.Path)
			}
		}
	}
	if n != 2 {
		t.Errorf("got %d apply_textdelta operations, want 2", n)
	}
}

func TestPlan_TargetErrors(t *testing.T) {
	r := repotest.Standard(t)

	req := trunkRequest(stateOf(), 4)
	req.TargetBase = "nope"
	if _, err := New(r).Plan(context.Background(), req); !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("missing target error = %v, want ErrTargetNotFound", err)
	}

	req.TargetBase = "trunk/src/main.go"
	if _, err := New(r).Plan(context.Background(), req); !errors.Is(err, ErrTargetNotDirectory) {
		t.Errorf("file target error = %v, want ErrTargetNotDirectory", err)
	}
}

// failingRepo fails every delta read.
type failingRepo struct {
	repo.Repository
}

func (f failingRepo) ReadDelta(context.Context, string, string) (*repo.Delta, error) {
	return nil, fmt.Errorf("%w: disk on fire", repo.ErrStorage)
}

func TestPlan_StorageErrorIsPlanningError(t *testing.T) {
	r := repotest.Standard(t)
	_, err := New(failingRepo{r}).Plan(context.Background(), trunkRequest(stateOf(report.Entry{Path: "", Revision: 1}), 2))
	if !errors.Is(err, ErrPlanning) {
		t.Fatalf("error = %v, want ErrPlanning", err)
	}
	if !errors.Is(err, repo.ErrStorage) {
		t.Errorf("error = %v, want it to wrap ErrStorage", err)
	}
}

func TestPlan_Cancelled(t *testing.T) {
	r := repotest.Standard(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(r).Plan(ctx, trunkRequest(stateOf(report.Entry{Path: "", Revision: 1}), 2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestPlan_Deterministic(t *testing.T) {
	r := repotest.Standard(t)
	req := trunkRequest(stateOf(), 4)

	first := summarize(mustPlan(t, New(r), req).Operations())
	for i := 0; i < 5; i++ {
		again := summarize(mustPlan(t, New(r), req).Operations())
		if strings.Join(first, "\n") != strings.Join(again, "\n") {
			t.Fatalf("plan %d differs from the first", i)
		}
	}
}
