package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/emirpasic/gods/sets/treeset"
	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/report"
)

// Request is everything the planner needs to know about one request.
type Request struct {
	// State is what the client reported having
	State *report.State

	// SourceBase is the repository path the report is relative to
	SourceBase string

	// TargetBase is the repository path the client is brought to
	TargetBase string

	TargetRev int64

	// Depth is the requested depth, already resolved against the legacy
	// recurse flag
	Depth protocol.Depth

	SendCopyFromArgs bool
	TextDeltas       bool
	IgnoreAncestry   bool
}

// Planner computes edit plans against a repository.
type Planner struct {
	repo   repo.Repository
	copies repo.CopyFromResolver
}

// New creates a Planner. Copy-from optimization is enabled when r also
// implements repo.CopyFromResolver.
func New(r repo.Repository) *Planner {
	p := &Planner{repo: r}
	if c, ok := r.(repo.CopyFromResolver); ok {
		p.copies = c
	}
	return p
}

// WithCopyFromResolver replaces the copy-from capability. Nil disables it.
func (p *Planner) WithCopyFromResolver(c repo.CopyFromResolver) *Planner {
	p.copies = c
	return p
}

// run is the state of one Plan call.
type run struct {
	ctx      context.Context
	req      Request
	repo     repo.Repository
	copies   repo.CopyFromResolver
	roots    *rootCache
	target   repo.Root
	reported *reportedView
}

// Plan computes the edits that bring the client described by req.State to
// req.TargetBase at req.TargetRev. No edit is ever sent for a plan that
// fails: storage errors are returned wrapped in ErrPlanning.
func (p *Planner) Plan(ctx context.Context, req Request) (*Plan, error) {
	roots := newRootCache(p.repo)
	r := &run{
		ctx:      ctx,
		req:      req,
		repo:     p.repo,
		copies:   p.copies,
		roots:    roots,
		reported: &reportedView{state: req.State, base: req.SourceBase, roots: roots},
	}

	plan, err := r.plan()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrTargetNotDirectory) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	if glog.V(1) {
		s := plan.Stats()
		glog.Infof("plan r%d %s: %d adds (%d copies), %d deletes, %d opens, %d deltas, %d new bytes",
			req.TargetRev, req.TargetBase, s.Adds, s.Copies, s.Deletes, s.Opens, s.Deltas, s.NewBytes)
	}
	return plan, nil
}

func (r *run) plan() (*Plan, error) {
	target, err := r.roots.get(r.ctx, r.req.TargetRev)
	if err != nil {
		return nil, err
	}
	r.target = target

	tnode, err := lookup(target, r.req.TargetBase)
	if err != nil {
		return nil, err
	}
	if tnode == nil {
		return nil, fmt.Errorf("%w: %q at r%d", ErrTargetNotFound, r.req.TargetBase, r.req.TargetRev)
	}
	if !tnode.IsDir() {
		return nil, fmt.Errorf("%w: %q at r%d", ErrTargetNotDirectory, r.req.TargetBase, r.req.TargetRev)
	}

	rootEntry := r.req.State.Root()
	src, err := r.reported.entry(r.ctx, "")
	if err != nil {
		return nil, err
	}
	if !src.isDir() {
		// The client has nothing usable at the target: start from an empty directory.
		src = srcEntry{rev: rootEntry.Revision, depth: rootEntry.Depth, startEmpty: true}
	}

	root := &Node{Open: EditOperation{Type: OpOpenDir, Path: "", BaseRevision: rootEntry.Revision}}
	if !src.startEmpty && src.node.ContentID == tnode.ContentID && !r.reported.reportedBelow("") {
		return &Plan{TargetRev: r.req.TargetRev, Root: root}, nil
	}
	if err := r.planDir(root, "", r.req.Depth.Min(src.depth), r.reported, src, tnode); err != nil {
		return nil, err
	}
	return &Plan{TargetRev: r.req.TargetRev, Root: root}, nil
}

// planDir fills dir with the property changes and child edits of a
// directory visited at depth.
func (r *run) planDir(dir *Node, rel string, depth protocol.Depth, view sourceView, src srcEntry, tgt *repo.Node) error {
	var fromProps map[string]string
	if src.present() {
		fromProps = src.node.Props
	}
	if err := r.addPropChanges(dir, OpChangeDirProp, rel, fromProps, tgt.Props); err != nil {
		return err
	}

	if depth == protocol.DepthEmpty {
		return nil
	}

	names, err := r.childNames(rel, view, src, tgt)
	if err != nil {
		return err
	}

	for _, name := range names {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		crel := repo.JoinPath(rel, name)
		tchild, err := lookup(r.target, repo.JoinPath(tgt.Path, name))
		if err != nil {
			return err
		}
		schild, err := view.entry(r.ctx, crel)
		if err != nil {
			return err
		}

		if depth == protocol.DepthFiles && ((tchild != nil && tchild.IsDir()) || schild.isDir()) {
			continue
		}

		if err := r.planEntry(dir, crel, depth.Child(), view, schild, tchild); err != nil {
			return err
		}
	}
	return nil
}

// childNames returns the sorted union of the entry names on both sides.
func (r *run) childNames(rel string, view sourceView, src srcEntry, tgt *repo.Node) ([]string, error) {
	set := treeset.NewWithStringComparator()

	children, err := r.target.Children(tgt.Path)
	if err != nil {
		return nil, err
	}
	for _, name := range children {
		set.Add(name)
	}

	srcNames, err := view.names(r.ctx, rel, src)
	if err != nil {
		return nil, err
	}
	for _, name := range srcNames {
		set.Add(name)
	}

	names := make([]string, 0, set.Size())
	for _, v := range set.Values() {
		names = append(names, v.(string))
	}
	return names, nil
}

func (r *run) planEntry(parent *Node, rel string, depth protocol.Depth, view sourceView, s srcEntry, t *repo.Node) error {
	switch {
	case !s.present() && t == nil:
		return nil

	case t == nil:
		parent.Children = append(parent.Children, deleteNode(rel, s.rev))
		return nil

	case !s.present():
		return r.planAdd(parent, rel, depth, t)

	case s.node.Kind != t.Kind || (!r.req.IgnoreAncestry && !related(s.node, t)):
		// Replacement: the only edit allowed after a delete of the same path.
		parent.Children = append(parent.Children, deleteNode(rel, s.rev))
		return r.planAdd(parent, rel, depth, t)

	case t.IsDir():
		return r.planOpenDir(parent, rel, depth, view, s, t)

	default:
		return r.planOpenFile(parent, rel, s, t)
	}
}

func deleteNode(rel string, rev int64) *Node {
	return &Node{Open: EditOperation{Type: OpDeleteEntry, Path: rel, BaseRevision: rev}}
}

func (r *run) planOpenDir(parent *Node, rel string, depth protocol.Depth, view sourceView, s srcEntry, t *repo.Node) error {
	if !s.startEmpty && s.node.ContentID == t.ContentID && !view.reportedBelow(rel) {
		return nil
	}

	n := &Node{Open: EditOperation{Type: OpOpenDir, Path: rel, BaseRevision: s.rev}}
	if err := r.planDir(n, rel, depth.Min(s.depth), view, s, t); err != nil {
		return err
	}
	if !n.empty() {
		parent.Children = append(parent.Children, n)
	}
	return nil
}

func (r *run) planOpenFile(parent *Node, rel string, s srcEntry, t *repo.Node) error {
	textChanged := s.node.ContentID != t.ContentID
	if !textChanged && propsEqual(s.node.Props, t.Props) {
		return nil
	}

	n := &Node{
		Open: EditOperation{
			Type:         OpOpenFile,
			Path:         rel,
			BaseRevision: s.rev,
			BaseChecksum: s.node.Checksum,
		},
		closeChecksum: t.Checksum,
	}
	if err := r.addPropChanges(n, OpChangeFileProp, rel, s.node.Props, t.Props); err != nil {
		return err
	}
	if textChanged {
		if err := r.addTextDelta(n, rel, t.ContentID, s.node.ContentID, s.node.Checksum); err != nil {
			return err
		}
	}
	parent.Children = append(parent.Children, n)
	return nil
}

func (r *run) planAdd(parent *Node, rel string, depth protocol.Depth, t *repo.Node) error {
	cs, err := r.copySource(t, depth)
	if err != nil {
		return err
	}

	if t.IsDir() {
		n := &Node{Open: EditOperation{Type: OpAddDir, Path: rel}}
		if cs != nil {
			n.Open.CopyFrom = t.CopyFrom
			view := &copyView{root: cs.root, srcBase: cs.node.Path, dstRel: rel}
			src := srcEntry{node: cs.node, rev: cs.root.Revision(), depth: protocol.DepthInfinity, srcPath: cs.node.Path}
			if err := r.planDir(n, rel, depth, view, src, t); err != nil {
				return err
			}
		} else if err := r.planDir(n, rel, depth, emptyView{}, srcEntry{}, t); err != nil {
			return err
		}
		parent.Children = append(parent.Children, n)
		return nil
	}

	n := &Node{Open: EditOperation{Type: OpAddFile, Path: rel}, closeChecksum: t.Checksum}
	if cs != nil {
		n.Open.CopyFrom = t.CopyFrom
		if err := r.addPropChanges(n, OpChangeFileProp, rel, cs.node.Props, t.Props); err != nil {
			return err
		}
		if cs.node.ContentID != t.ContentID {
			if err := r.addTextDelta(n, rel, t.ContentID, cs.node.ContentID, cs.node.Checksum); err != nil {
				return err
			}
		}
	} else {
		if err := r.addPropChanges(n, OpChangeFileProp, rel, nil, t.Props); err != nil {
			return err
		}
		if err := r.addTextDelta(n, rel, t.ContentID, "", ""); err != nil {
			return err
		}
	}
	parent.Children = append(parent.Children, n)
	return nil
}

// copySourceInfo is a copy source the client already holds.
type copySourceInfo struct {
	node *repo.Node
	root repo.Root
}

// copySource returns the copy source of t if the client can use it: the
// client must hold the source path, unswitched, at a revision at or after
// the copy, with the same content, and the target tree must keep it
// unchanged. A directory source must also be held in full and be added at
// infinite depth.
func (r *run) copySource(t *repo.Node, depth protocol.Depth) (*copySourceInfo, error) {
	if !r.req.SendCopyFromArgs || r.copies == nil || !r.copies.HasCopyFromAncestry(t) {
		return nil, nil
	}
	cf := t.CopyFrom
	if cf == nil || !repo.IsAncestorPath(r.req.SourceBase, cf.Path) {
		return nil, nil
	}
	if t.IsDir() && depth != protocol.DepthInfinity {
		return nil, nil
	}

	src, err := r.copies.ResolveCopySource(r.ctx, t)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rel := repo.RelPath(r.req.SourceBase, cf.Path)
	have, err := r.reported.entry(r.ctx, rel)
	if err != nil {
		return nil, err
	}
	switch {
	case !have.present(),
		have.srcPath != cf.Path,
		have.rev < cf.Revision,
		have.node.Kind != src.Kind,
		have.node.ContentID != src.ContentID:
		return nil, nil
	}
	if src.IsDir() && (have.depth != protocol.DepthInfinity || have.startEmpty || r.req.State.HasDescendants(rel)) {
		return nil, nil
	}

	// The source must survive this plan untouched, or the client would be
	// told to copy from a path it has just deleted or rewritten.
	kept, err := lookup(r.target, repo.JoinPath(r.req.TargetBase, rel))
	if err != nil {
		return nil, err
	}
	if kept == nil || kept.Kind != have.node.Kind || kept.ContentID != have.node.ContentID || !related(kept, have.node) {
		return nil, nil
	}

	root, err := r.roots.get(r.ctx, cf.Revision)
	if err != nil {
		return nil, err
	}
	return &copySourceInfo{node: src, root: root}, nil
}

func (r *run) addPropChanges(n *Node, opType, rel string, from, to map[string]string) error {
	changes, err := diffProps(from, to)
	if err != nil {
		return err
	}
	for _, c := range changes {
		n.Body = append(n.Body, EditOperation{Type: opType, Path: rel, PropName: c.name, PropValue: c.value})
	}
	return nil
}

func (r *run) addTextDelta(n *Node, rel, contentID, baseID, baseChecksum string) error {
	op := EditOperation{Type: OpApplyTextDelta, Path: rel, BaseChecksum: baseChecksum}
	if r.req.TextDeltas {
		d, err := r.repo.ReadDelta(r.ctx, contentID, baseID)
		if err != nil {
			return err
		}
		op.Delta = d
	}
	n.Body = append(n.Body, op)
	return nil
}

// related reports whether two nodes share a line of history.
func related(a, b *repo.Node) bool {
	ids := make(map[string]bool, len(a.Predecessors)+1)
	ids[a.NodeID] = true
	for _, p := range a.Predecessors {
		ids[p] = true
	}
	if ids[b.NodeID] {
		return true
	}
	for _, p := range b.Predecessors {
		if ids[p] {
			return true
		}
	}
	return false
}

func propsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
