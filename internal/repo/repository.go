// Package repo is the versioned tree storage behind deltaserve.
//
// A repository is an append-only sequence of revisions. Each revision is a
// complete, immutable snapshot of the tree, so any read bound to a fixed
// revision observes a consistent point-in-time view no matter what other
// sessions commit concurrently.
//
// Key components:
//   - Repository: youngest revision, point-in-time roots, ancestry and deltas
//   - Root: the tree of one revision
//   - CopyFromResolver: optional copy-from history lookups
//   - FileRepository: JSON snapshots plus content-addressed blobs on a go-billy filesystem
package repo

import (
	"context"
	"path"
	"strings"
)

// Kind is the node kind.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// CopySource identifies the path and revision a node was copied from.
type CopySource struct {
	Path     string `json:"path" yaml:"path"`
	Revision int64  `json:"rev" yaml:"rev"`
}

// Node is a file or directory in a revision's tree.
type Node struct {
	// Path is the repository-relative path ("" for the root)
	Path string

	// Kind is file or dir
	Kind Kind

	// ContentID addresses the file text, or the whole subtree for directories
	ContentID string

	// Checksum is the MD5 of the file text (files only)
	Checksum string

	// Props are the versioned properties of the node
	Props map[string]string

	// CopyFrom is set when the node was created by a copy
	CopyFrom *CopySource

	// NodeID identifies the node's line of history
	NodeID string

	// Predecessors are the node ids this line of history was copied from, nearest first
	Predecessors []string

	// CreatedRev is the revision the node was last changed in
	CreatedRev int64
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Kind == KindDir
}

// Lineage is a handle on a node's line of history.
type Lineage struct {
	NodeID       string
	Predecessors []string
}

// DescendsFrom reports whether l is the same line of history as ancestor, or was
// copied from it (directly or transitively).
func (l Lineage) DescendsFrom(ancestor Lineage) bool {
	if l.NodeID == ancestor.NodeID {
		return true
	}
	for _, p := range l.Predecessors {
		if p == ancestor.NodeID {
			return true
		}
	}
	return false
}

// Root is a read-only view of one revision's tree.
type Root interface {
	// Revision returns the revision the root is bound to.
	Revision() int64

	// Node returns the node at path, or ErrNotFound.
	Node(path string) (*Node, error)

	// Children returns the sorted entry names of the directory at path.
	Children(path string) ([]string, error)
}

// Repository is the storage collaborator used by the update machinery.
type Repository interface {
	// Youngest returns the most recently committed revision.
	Youngest(ctx context.Context) (int64, error)

	// Root returns the point-in-time tree of rev, or ErrNoSuchRevision.
	Root(ctx context.Context, rev int64) (Root, error)

	// AncestryOf returns the line of history of path at rev.
	AncestryOf(ctx context.Context, path string, rev int64) (Lineage, error)

	// ReadDelta returns the delta turning the base content into the target content.
	// An empty base id produces a delta holding the full text.
	ReadDelta(ctx context.Context, contentID, baseContentID string) (*Delta, error)
}

// CopyFromResolver is the optional copy-from history capability. Backends that
// cannot answer cheaply may decline by not implementing it.
type CopyFromResolver interface {
	// HasCopyFromAncestry reports whether node records copy-from history.
	HasCopyFromAncestry(node *Node) bool

	// ResolveCopySource returns the node the copy was made from.
	ResolveCopySource(ctx context.Context, node *Node) (*Node, error)
}

// JoinPath joins a repository-relative parent path and an entry name.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + "/" + name
}

// ParentPath returns the parent of a repository-relative path ("" for top-level entries).
func ParentPath(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// BaseName returns the last element of a repository-relative path.
func BaseName(p string) string {
	return path.Base("/" + p)
}

// IsAncestorPath reports whether ancestor is p itself or a directory above it.
func IsAncestorPath(ancestor, p string) bool {
	if ancestor == "" || ancestor == p {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// RelPath returns p relative to base. It assumes IsAncestorPath(base, p).
func RelPath(base, p string) string {
	if base == "" {
		return p
	}
	if base == p {
		return ""
	}
	return strings.TrimPrefix(p, base+"/")
}
