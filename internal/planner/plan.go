package planner

import (
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// Operation type constants
const (
	OpOpenDir        = "open_dir"
	OpAddDir         = "add_dir"
	OpDeleteEntry    = "delete_entry"
	OpOpenFile       = "open_file"
	OpAddFile        = "add_file"
	OpChangeFileProp = "change_file_prop"
	OpChangeDirProp  = "change_dir_prop"
	OpApplyTextDelta = "apply_textdelta"
	OpCloseDir       = "close_dir"
	OpCloseFile      = "close_file"
)

// EditOperation is a single tree edit.
type EditOperation struct {
	// Type is one of the Op* constants
	Type string

	// Path is relative to the request target ("" is the target itself)
	Path string

	// BaseRevision is the revision the client has the path at (open and delete only)
	BaseRevision int64

	// CopyFrom is set on adds the client can satisfy from a copy it already has
	CopyFrom *repo.CopySource

	// PropName and PropValue describe a property change; a nil value deletes it
	PropName  string
	PropValue *string

	// Delta is the text delta; nil when text deltas were not requested
	Delta *repo.Delta

	// BaseChecksum is the checksum of the text the delta applies to
	BaseChecksum string

	// Checksum is the checksum of the resulting text (close_file only)
	Checksum string
}

// Node is one entry of a plan tree. Open is the operation that starts the
// entry (open, add or delete). Body holds the property and text changes
// that follow it, and Children the ordered entries of a directory.
type Node struct {
	Open     EditOperation
	Body     []EditOperation
	Children []*Node

	// closeChecksum is carried onto the close_file operation
	closeChecksum string
}

func (n *Node) isDir() bool {
	return n.Open.Type == OpOpenDir || n.Open.Type == OpAddDir
}

func (n *Node) empty() bool {
	return len(n.Body) == 0 && len(n.Children) == 0
}

// Plan is the result of planning one request.
type Plan struct {
	// TargetRev is the revision the plan brings the client to
	TargetRev int64

	// Root is the open of the request target
	Root *Node
}

// Operations flattens the plan into emission order: every entry's open,
// then its body, then its children, then its close.
func (p *Plan) Operations() []EditOperation {
	var ops []EditOperation
	var walk func(n *Node)
	walk = func(n *Node) {
		ops = append(ops, n.Open)
		ops = append(ops, n.Body...)
		for _, c := range n.Children {
			walk(c)
		}
		switch {
		case n.isDir():
			ops = append(ops, EditOperation{Type: OpCloseDir, Path: n.Open.Path})
		case n.Open.Type == OpOpenFile || n.Open.Type == OpAddFile:
			ops = append(ops, EditOperation{Type: OpCloseFile, Path: n.Open.Path, Checksum: n.closeChecksum})
		}
	}
	if p.Root != nil {
		walk(p.Root)
	}
	return ops
}

// Stats summarizes a plan.
type Stats struct {
	Adds      int
	Copies    int
	Deletes   int
	Opens     int
	PropEdits int
	Deltas    int
	NewBytes  int
}

// Stats counts the operations of the plan.
func (p *Plan) Stats() Stats {
	var s Stats
	for _, op := range p.Operations() {
		switch op.Type {
		case OpAddDir, OpAddFile:
			s.Adds++
			if op.CopyFrom != nil {
				s.Copies++
			}
		case OpDeleteEntry:
			s.Deletes++
		case OpOpenDir, OpOpenFile:
			s.Opens++
		case OpChangeDirProp, OpChangeFileProp:
			s.PropEdits++
		case OpApplyTextDelta:
			s.Deltas++
			if op.Delta != nil {
				s.NewBytes += op.Delta.NewDataSize()
			}
		}
	}
	return s
}
