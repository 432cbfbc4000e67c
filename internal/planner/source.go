package planner

import (
	"context"
	"errors"
	"strings"

	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
	"github.com/danieljhkim/deltaserve/internal/report"
)

// srcEntry is what the client has at one path.
type srcEntry struct {
	node       *repo.Node
	rev        int64
	depth      protocol.Depth
	startEmpty bool

	// srcPath is the repository path the client's copy came from
	srcPath string
}

func (e srcEntry) present() bool {
	return e.node != nil
}

func (e srcEntry) isDir() bool {
	return e.node != nil && e.node.IsDir()
}

// sourceView answers what the client has below the request target.
type sourceView interface {
	entry(ctx context.Context, rel string) (srcEntry, error)
	names(ctx context.Context, rel string, dir srcEntry) ([]string, error)
	reportedBelow(rel string) bool
}

// rootCache holds the revision roots read while planning one request.
type rootCache struct {
	repo  repo.Repository
	byRev map[int64]repo.Root
}

func newRootCache(r repo.Repository) *rootCache {
	return &rootCache{repo: r, byRev: make(map[int64]repo.Root)}
}

func (c *rootCache) get(ctx context.Context, rev int64) (repo.Root, error) {
	if root, ok := c.byRev[rev]; ok {
		return root, nil
	}
	root, err := c.repo.Root(ctx, rev)
	if err != nil {
		return nil, err
	}
	c.byRev[rev] = root
	return root, nil
}

// lookup returns the node at path, or nil if it does not exist.
func lookup(root repo.Root, path string) (*repo.Node, error) {
	node, err := root.Node(path)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return node, err
}

// reportedView is the client's working copy as described by its report.
type reportedView struct {
	state *report.State
	base  string
	roots *rootCache
}

func (v *reportedView) entry(ctx context.Context, rel string) (srcEntry, error) {
	e, ok := v.state.Nearest(rel)
	if !ok || e.Deleted {
		return srcEntry{}, nil
	}

	depth := e.Depth
	var dirDepth protocol.Depth
	if e.Path != rel {
		if e.StartEmpty {
			return srcEntry{}, nil
		}
		below := strings.Count(repo.RelPath(e.Path, rel), "/") + 1
		switch depth {
		case protocol.DepthEmpty:
			return srcEntry{}, nil
		case protocol.DepthFiles, protocol.DepthImmediates:
			if below > 1 {
				return srcEntry{}, nil
			}
			dirDepth = protocol.DepthEmpty
		default:
			dirDepth = protocol.DepthInfinity
		}
	}

	root, err := v.roots.get(ctx, e.Revision)
	if err != nil {
		return srcEntry{}, err
	}
	srcPath := v.state.SourcePath(v.base, rel)
	node, err := lookup(root, srcPath)
	if err != nil || node == nil {
		return srcEntry{}, err
	}

	if e.Path != rel {
		if node.IsDir() && e.Depth == protocol.DepthFiles {
			return srcEntry{}, nil
		}
		depth = dirDepth
	}

	return srcEntry{
		node:       node,
		rev:        e.Revision,
		depth:      depth,
		startEmpty: e.Path == rel && e.StartEmpty,
		srcPath:    srcPath,
	}, nil
}

func (v *reportedView) names(ctx context.Context, rel string, dir srcEntry) ([]string, error) {
	var names []string
	if dir.isDir() && !dir.startEmpty && dir.depth != protocol.DepthEmpty {
		root, err := v.roots.get(ctx, dir.rev)
		if err != nil {
			return nil, err
		}
		children, err := root.Children(dir.srcPath)
		if err != nil {
			return nil, err
		}
		names = append(names, children...)
	}
	return append(names, v.state.ChildNames(rel)...), nil
}

func (v *reportedView) reportedBelow(rel string) bool {
	return v.state.HasDescendants(rel)
}

// copyView is the subtree of a copy source, which the client is told to
// copy in full before applying the remaining differences.
type copyView struct {
	root    repo.Root
	srcBase string
	dstRel  string
}

func (v *copyView) entry(_ context.Context, rel string) (srcEntry, error) {
	p := repo.JoinPath(v.srcBase, repo.RelPath(v.dstRel, rel))
	node, err := lookup(v.root, p)
	if err != nil || node == nil {
		return srcEntry{}, err
	}
	return srcEntry{node: node, rev: v.root.Revision(), depth: protocol.DepthInfinity, srcPath: p}, nil
}

func (v *copyView) names(_ context.Context, _ string, dir srcEntry) ([]string, error) {
	if !dir.isDir() {
		return nil, nil
	}
	return v.root.Children(dir.srcPath)
}

func (v *copyView) reportedBelow(string) bool {
	return false
}

// emptyView is a client that has nothing.
type emptyView struct{}

func (emptyView) entry(context.Context, string) (srcEntry, error) {
	return srcEntry{}, nil
}

func (emptyView) names(context.Context, string, srcEntry) ([]string, error) {
	return nil, nil
}

func (emptyView) reportedBelow(string) bool {
	return false
}
