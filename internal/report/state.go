// Package report collects the client's description of its working copy.
//
// During the report phase the client sends one set-path, link-path or
// delete-path message per working copy entry whose revision, depth or
// location differs from its parent, then finish-report. The result is a
// State: a path-ordered set of entries relative to the request target.
package report

import (
	"strings"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// Entry is one reported working copy entry.
type Entry struct {
	// Path is relative to the request target ("" is the target itself)
	Path string

	// Revision is the revision the client has the entry at
	Revision int64

	// Depth is the depth the client has the entry at
	Depth protocol.Depth

	// StartEmpty means the client has the directory but none of its entries
	StartEmpty bool

	// IsSwitched is set for link-path entries
	IsSwitched bool

	// LinkPath is the repository path a switched entry points at
	LinkPath string

	LockToken string

	// Deleted means the entry is missing from the working copy
	Deleted bool
}

// State is the set of reported entries, keyed and ordered by path.
type State struct {
	entries *treemap.Map
}

// NewState creates an empty State.
func NewState() *State {
	return &State{entries: treemap.NewWithStringComparator()}
}

// Set inserts or replaces the entry for e.Path.
func (s *State) Set(e Entry) {
	s.entries.Put(e.Path, e)
}

// Get returns the entry reported for path.
func (s *State) Get(path string) (Entry, bool) {
	v, ok := s.entries.Get(path)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// Root returns the entry for the target itself.
func (s *State) Root() Entry {
	e, _ := s.Get("")
	return e
}

// Len returns the number of entries.
func (s *State) Len() int {
	return s.entries.Size()
}

// Entries returns all entries in path order.
func (s *State) Entries() []Entry {
	out := make([]Entry, 0, s.entries.Size())
	it := s.entries.Iterator()
	for it.Next() {
		out = append(out, it.Value().(Entry))
	}
	return out
}

// Nearest returns the entry reported for path or its closest reported ancestor.
func (s *State) Nearest(path string) (Entry, bool) {
	for p := path; ; p = repo.ParentPath(p) {
		if e, ok := s.Get(p); ok {
			return e, true
		}
		if p == "" {
			return Entry{}, false
		}
	}
}

// SourcePath returns the repository path the client's entry at path was
// checked out from, following link-path entries. base is the request target.
func (s *State) SourcePath(base, path string) string {
	for p := path; ; p = repo.ParentPath(p) {
		if e, ok := s.Get(p); ok && e.IsSwitched {
			return repo.JoinPath(e.LinkPath, repo.RelPath(p, path))
		}
		if p == "" {
			return repo.JoinPath(base, path)
		}
	}
}

// ChildNames returns the names of the direct children of path that have
// entries of their own or reported entries below them.
func (s *State) ChildNames(path string) []string {
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}

	var names []string
	seen := make(map[string]bool)
	key := prefix
	for {
		k, _ := s.entries.Ceiling(key)
		if k == nil {
			break
		}
		p := k.(string)
		if !strings.HasPrefix(p, prefix) {
			break
		}
		if p != "" && p != path {
			name, _, _ := strings.Cut(strings.TrimPrefix(p, prefix), "/")
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		key = p + "\x00"
	}
	return names
}

// HasDescendants reports whether any entry lies strictly below path.
func (s *State) HasDescendants(path string) bool {
	if path == "" {
		n := s.entries.Size()
		if _, ok := s.Get(""); ok {
			n--
		}
		return n > 0
	}
	prefix := path + "/"
	// Keys sort so that every descendant follows prefix directly.
	key, _ := s.entries.Ceiling(prefix)
	if key == nil {
		return false
	}
	return strings.HasPrefix(key.(string), prefix)
}
