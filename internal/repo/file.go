package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/clock"
	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/hash"
)

const (
	revsDir  = "revs"
	blobsDir = "blobs"
)

// FileRepository implements Repository using revision snapshot files and
// content-addressed blobs on an fsops.FS.
//
// Layout:
//
//	revs/<n>.json     one RevisionFile per revision
//	blobs/<xx>/<id>   file texts addressed by content id
type FileRepository struct {
	fs     fsops.FS
	hasher hash.Hasher
	clock  clock.Clock

	youngest atomic.Int64
	commitMu sync.Mutex

	mu    sync.RWMutex
	roots map[int64]*fileRoot
}

var (
	_ Repository       = (*FileRepository)(nil)
	_ CopyFromResolver = (*FileRepository)(nil)
)

// OpenFileRepository opens the repository stored on fs, creating revision 0
// (an empty root directory) if the filesystem holds no revisions yet.
func OpenFileRepository(fs fsops.FS, hasher hash.Hasher, clk clock.Clock) (*FileRepository, error) {
	r := &FileRepository{
		fs:     fs,
		hasher: hasher,
		clock:  clk,
		roots:  make(map[int64]*fileRoot),
	}

	for _, dir := range []string{revsDir, blobsDir} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	youngest, found, err := r.scanYoungest()
	if err != nil {
		return nil, err
	}
	if !found {
		if err := r.writeInitialRevision(); err != nil {
			return nil, err
		}
		youngest = 0
	}
	r.youngest.Store(youngest)

	glog.V(1).Infof("opened repository at %s, youngest r%d", fs.Root(), youngest)
	return r, nil
}

func (r *FileRepository) scanYoungest() (int64, bool, error) {
	entries, err := r.fs.ReadDir(revsDir)
	if err != nil {
		return 0, false, fmt.Errorf("%w: listing revisions: %w", ErrStorage, err)
	}

	youngest := int64(-1)
	for _, entry := range entries {
		rev, ok := parseRevFileName(entry.Name())
		if ok && rev > youngest {
			youngest = rev
		}
	}
	return youngest, youngest >= 0, nil
}

func (r *FileRepository) writeInitialRevision() error {
	rf := &RevisionFile{
		SchemaVersion: SchemaVersion,
		Revision:      0,
		Date:          r.clock.Now(),
		Nodes: map[string]NodeRecord{
			"": {
				Kind:      KindDir,
				ContentID: hash.DirectoryID(r.hasher, nil, nil),
				NodeID:    "0.0",
			},
		},
	}
	return r.writeRevision(rf)
}

func parseRevFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	rev, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
	if err != nil || rev < 0 {
		return 0, false
	}
	return rev, true
}

func revPath(rev int64) string {
	return fmt.Sprintf("%s/%d.json", revsDir, rev)
}

func blobPath(id string) string {
	if len(id) < 2 {
		return blobsDir + "/" + id
	}
	return blobsDir + "/" + id[:2] + "/" + id
}

// Youngest returns the most recently committed revision.
func (r *FileRepository) Youngest(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.youngest.Load(), nil
}

// noteRevision raises the cached youngest revision to rev.
func (r *FileRepository) noteRevision(rev int64) {
	for {
		cur := r.youngest.Load()
		if rev <= cur {
			return
		}
		if r.youngest.CompareAndSwap(cur, rev) {
			return
		}
	}
}

// Root returns the tree of rev.
func (r *FileRepository) Root(ctx context.Context, rev int64) (Root, error) {
	return r.root(ctx, rev)
}

func (r *FileRepository) root(ctx context.Context, rev int64) (*fileRoot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rev < 0 || rev > r.youngest.Load() {
		return nil, fmt.Errorf("%w: r%d", ErrNoSuchRevision, rev)
	}

	r.mu.RLock()
	root, ok := r.roots[rev]
	r.mu.RUnlock()
	if ok {
		return root, nil
	}

	data, err := r.fs.ReadFile(revPath(rev))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: r%d", ErrNoSuchRevision, rev)
		}
		return nil, fmt.Errorf("%w: reading r%d: %w", ErrStorage, rev, err)
	}

	var rf RevisionFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: decoding r%d: %w", ErrStorage, rev, err)
	}
	if rf.Revision != rev {
		return nil, fmt.Errorf("%w: %s holds r%d", ErrStorage, revPath(rev), rf.Revision)
	}

	root = newFileRoot(&rf)

	r.mu.Lock()
	r.roots[rev] = root
	r.mu.Unlock()
	return root, nil
}

// RevisionInfo returns the metadata of rev.
func (r *FileRepository) RevisionInfo(ctx context.Context, rev int64) (*RevisionInfo, error) {
	root, err := r.root(ctx, rev)
	if err != nil {
		return nil, err
	}
	info := root.info
	return &info, nil
}

// AncestryOf returns the line of history of path at rev.
func (r *FileRepository) AncestryOf(ctx context.Context, path string, rev int64) (Lineage, error) {
	root, err := r.root(ctx, rev)
	if err != nil {
		return Lineage{}, err
	}
	node, err := root.Node(path)
	if err != nil {
		return Lineage{}, err
	}
	return Lineage{NodeID: node.NodeID, Predecessors: node.Predecessors}, nil
}

// ReadDelta diffs the base blob against the target blob.
func (r *FileRepository) ReadDelta(ctx context.Context, contentID, baseContentID string) (*Delta, error) {
	target, err := r.ReadContent(ctx, contentID)
	if err != nil {
		return nil, err
	}
	var base []byte
	if baseContentID != "" {
		base, err = r.ReadContent(ctx, baseContentID)
		if err != nil {
			return nil, err
		}
	}
	return ComputeDelta(base, target), nil
}

// ReadContent returns the blob stored under id.
func (r *FileRepository) ReadContent(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := r.fs.ReadFile(blobPath(id))
	if err != nil {
		return nil, fmt.Errorf("%w: reading blob %s: %w", ErrStorage, id, err)
	}
	return data, nil
}

// HasCopyFromAncestry reports whether node was created by a copy.
func (r *FileRepository) HasCopyFromAncestry(node *Node) bool {
	return node != nil && node.CopyFrom != nil
}

// ResolveCopySource returns the node a copy was made from.
func (r *FileRepository) ResolveCopySource(ctx context.Context, node *Node) (*Node, error) {
	if !r.HasCopyFromAncestry(node) {
		return nil, fmt.Errorf("%w: %q has no copy-from history", ErrNotFound, node.Path)
	}
	root, err := r.root(ctx, node.CopyFrom.Revision)
	if err != nil {
		return nil, err
	}
	return root.Node(node.CopyFrom.Path)
}

// Commit applies txn on top of the youngest revision and writes the result as
// a new revision.
func (r *FileRepository) Commit(ctx context.Context, txn *Txn) (int64, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	// Pick up revisions committed by other processes.
	base := r.youngest.Load()
	for {
		exists, err := r.fs.Exists(revPath(base + 1))
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrStorage, err)
		}
		if !exists {
			break
		}
		base++
	}
	r.noteRevision(base)

	baseRoot, err := r.root(ctx, base)
	if err != nil {
		return 0, err
	}

	b := &treeBuilder{
		repo:  r,
		ctx:   ctx,
		rev:   base + 1,
		nodes: make(map[string]NodeRecord, len(baseRoot.nodes)),
	}
	for p, rec := range baseRoot.nodes {
		b.nodes[p] = rec
	}

	for i, op := range txn.ops {
		if err := b.apply(op); err != nil {
			return 0, fmt.Errorf("txn op %d: %w", i, err)
		}
	}
	b.recomputeDirectories(baseRoot.nodes)

	rf := &RevisionFile{
		SchemaVersion: SchemaVersion,
		Revision:      b.rev,
		Author:        txn.Author,
		Date:          r.clock.Now(),
		Log:           txn.Log,
		Nodes:         b.nodes,
	}
	if err := r.writeRevision(rf); err != nil {
		return 0, err
	}
	r.noteRevision(b.rev)

	glog.V(1).Infof("committed r%d (%d ops) by %q", b.rev, txn.Len(), txn.Author)
	return b.rev, nil
}

func (r *FileRepository) writeRevision(rf *RevisionFile) error {
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal revision: %w", err)
	}
	if err := r.fs.AtomicWrite(revPath(rf.Revision), data, 0644); err != nil {
		return fmt.Errorf("%w: writing r%d: %w", ErrStorage, rf.Revision, err)
	}
	return nil
}

func (r *FileRepository) writeBlob(content []byte) (string, error) {
	id := r.hasher.ContentID(content)
	p := blobPath(id)
	exists, err := r.fs.Exists(p)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !exists {
		if err := r.fs.AtomicWrite(p, content, 0644); err != nil {
			return "", fmt.Errorf("%w: writing blob: %w", ErrStorage, err)
		}
	}
	return id, nil
}

// fileRoot is an immutable, indexed revision tree.
type fileRoot struct {
	rev      int64
	nodes    map[string]NodeRecord
	children map[string][]string
	info     RevisionInfo
}

func newFileRoot(rf *RevisionFile) *fileRoot {
	root := &fileRoot{
		rev:      rf.Revision,
		nodes:    rf.Nodes,
		children: indexChildren(rf.Nodes),
		info: RevisionInfo{
			Revision: rf.Revision,
			Author:   rf.Author,
			Date:     rf.Date,
			Log:      rf.Log,
			Paths:    len(rf.Nodes),
		},
	}
	return root
}

func indexChildren(nodes map[string]NodeRecord) map[string][]string {
	children := make(map[string][]string)
	for p := range nodes {
		if p == "" {
			continue
		}
		parent := ParentPath(p)
		children[parent] = append(children[parent], BaseName(p))
	}
	for _, names := range children {
		sort.Strings(names)
	}
	return children
}

func (r *fileRoot) Revision() int64 {
	return r.rev
}

func (r *fileRoot) Node(path string) (*Node, error) {
	rec, ok := r.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q at r%d", ErrNotFound, path, r.rev)
	}
	return rec.toNode(path), nil
}

func (r *fileRoot) Children(path string) ([]string, error) {
	rec, ok := r.nodes[path]
	if !ok {
		return nil, fmt.Errorf("%w: %q at r%d", ErrNotFound, path, r.rev)
	}
	if rec.Kind != KindDir {
		return nil, fmt.Errorf("%q at r%d is not a directory", path, r.rev)
	}
	return append([]string(nil), r.children[path]...), nil
}

// treeBuilder applies transaction operations to a mutable copy of a tree.
type treeBuilder struct {
	repo  *FileRepository
	ctx   context.Context
	rev   int64
	seq   int
	nodes map[string]NodeRecord
}

func (b *treeBuilder) newNodeID() string {
	b.seq++
	return fmt.Sprintf("%d.%d", b.rev, b.seq)
}

// touch marks rec as changed in the revision being built. A node copied
// earlier keeps its copy-from only if the copy happened in this revision.
func (b *treeBuilder) touch(rec *NodeRecord) {
	if rec.CreatedRev != b.rev {
		rec.CopyFrom = nil
	}
	rec.CreatedRev = b.rev
}

func (b *treeBuilder) requireParentDir(p string) error {
	parent, ok := b.nodes[ParentPath(p)]
	if !ok || parent.Kind != KindDir {
		return fmt.Errorf("%w: parent of %q is not a directory", ErrTxnConflict, p)
	}
	return nil
}

func (b *treeBuilder) apply(op txnOp) error {
	if err := fsops.ValidateRelPath(op.path); err != nil {
		return fmt.Errorf("%w: %w", ErrTxnConflict, err)
	}
	if op.path == "" && op.kind != txnSetProps {
		return fmt.Errorf("%w: operation not allowed on the root", ErrTxnConflict)
	}
	if _, ok := op.props[""]; ok {
		return fmt.Errorf("%w: empty property name on %q", ErrTxnConflict, op.path)
	}

	switch op.kind {
	case txnMkdir:
		if _, exists := b.nodes[op.path]; exists {
			return fmt.Errorf("%w: %q already exists", ErrTxnConflict, op.path)
		}
		if err := b.requireParentDir(op.path); err != nil {
			return err
		}
		b.nodes[op.path] = NodeRecord{
			Kind:       KindDir,
			Props:      op.props,
			NodeID:     b.newNodeID(),
			CreatedRev: b.rev,
		}

	case txnPut:
		if err := b.requireParentDir(op.path); err != nil {
			return err
		}
		id, err := b.repo.writeBlob(op.content)
		if err != nil {
			return err
		}
		rec, exists := b.nodes[op.path]
		if exists && rec.Kind != KindFile {
			return fmt.Errorf("%w: %q is a directory", ErrTxnConflict, op.path)
		}
		props := rec.Props
		if op.props != nil {
			props = op.props
		}
		if exists && rec.ContentID == id && propsEqual(rec.Props, props) {
			return nil
		}
		if !exists {
			rec = NodeRecord{Kind: KindFile, NodeID: b.newNodeID()}
		}
		rec.ContentID = id
		rec.Checksum = b.repo.hasher.Checksum(op.content)
		rec.Props = props
		b.touch(&rec)
		b.nodes[op.path] = rec

	case txnSetProps:
		rec, exists := b.nodes[op.path]
		if !exists {
			return fmt.Errorf("%w: %q", ErrNotFound, op.path)
		}
		if propsEqual(rec.Props, op.props) {
			return nil
		}
		rec.Props = op.props
		b.touch(&rec)
		b.nodes[op.path] = rec

	case txnDelete:
		if _, exists := b.nodes[op.path]; !exists {
			return fmt.Errorf("%w: %q", ErrNotFound, op.path)
		}
		for p := range b.nodes {
			if IsAncestorPath(op.path, p) {
				delete(b.nodes, p)
			}
		}

	case txnCopy:
		if _, exists := b.nodes[op.path]; exists {
			return fmt.Errorf("%w: %q already exists", ErrTxnConflict, op.path)
		}
		if err := b.requireParentDir(op.path); err != nil {
			return err
		}
		if op.srcPath == "" {
			return fmt.Errorf("%w: cannot copy the root", ErrTxnConflict)
		}
		src, err := b.repo.root(b.ctx, op.srcRev)
		if err != nil {
			return err
		}
		if _, ok := src.nodes[op.srcPath]; !ok {
			return fmt.Errorf("%w: copy source %q at r%d", ErrNotFound, op.srcPath, op.srcRev)
		}
		for p, rec := range src.nodes {
			if !IsAncestorPath(op.srcPath, p) {
				continue
			}
			dst := JoinPath(op.path, RelPath(op.srcPath, p))
			copied := rec
			copied.Predecessors = append([]string{rec.NodeID}, rec.Predecessors...)
			copied.NodeID = b.newNodeID()
			copied.CopyFrom = nil
			if p == op.srcPath {
				copied.CopyFrom = &CopySource{Path: op.srcPath, Revision: op.srcRev}
				copied.CreatedRev = b.rev
			}
			b.nodes[dst] = copied
		}
	}
	return nil
}

// recomputeDirectories derives directory content ids bottom-up and bumps the
// created revision of every directory whose subtree changed.
func (b *treeBuilder) recomputeDirectories(before map[string]NodeRecord) {
	children := indexChildren(b.nodes)

	dirs := make([]string, 0)
	for p, rec := range b.nodes {
		if rec.Kind == KindDir {
			dirs = append(dirs, p)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if dirs[i] == "" {
			di = -1
		}
		if dirs[j] == "" {
			dj = -1
		}
		if di != dj {
			return di > dj
		}
		return dirs[i] < dirs[j]
	})

	for _, dir := range dirs {
		entries := make(map[string]string, len(children[dir]))
		for _, name := range children[dir] {
			child := b.nodes[JoinPath(dir, name)]
			entries[name] = string(child.Kind) + ":" + child.ContentID
		}
		rec := b.nodes[dir]
		rec.ContentID = hash.DirectoryID(b.repo.hasher, entries, rec.Props)
		if prev, ok := before[dir]; ok && prev.ContentID != rec.ContentID && rec.CreatedRev < b.rev {
			rec.CreatedRev = b.rev
			rec.CopyFrom = nil
		}
		b.nodes[dir] = rec
	}
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
