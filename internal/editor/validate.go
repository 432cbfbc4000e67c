package editor

import (
	"errors"
	"fmt"

	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// ErrBracketing indicates a plan whose operations are not properly nested.
var ErrBracketing = errors.New("edit operations are not properly bracketed")

type frame struct {
	path  string
	isDir bool
}

// pathState tracks what has happened to a path during the edit.
type pathState int

const (
	untouched pathState = iota
	deleted
	entered
)

// Validate checks that ops open the target first and close it last, open
// every parent before its children, open or add each path at most once,
// close entries in reverse order and follow a delete only with an add of
// the same path.
func Validate(ops []planner.EditOperation) error {
	if len(ops) == 0 || ops[0].Type != planner.OpOpenDir || ops[0].Path != "" {
		return fmt.Errorf("%w: edit must start by opening the target", ErrBracketing)
	}

	var stack []frame
	seen := make(map[string]pathState)
	closed := false

	for i, op := range ops {
		if closed {
			return fmt.Errorf("%w: %s %q after the target was closed", ErrBracketing, op.Type, op.Path)
		}
		fail := func(reason string) error {
			return fmt.Errorf("%w: operation %d (%s %q): %s", ErrBracketing, i, op.Type, op.Path, reason)
		}

		var top *frame
		if len(stack) > 0 {
			top = &stack[len(stack)-1]
		}

		switch op.Type {
		case planner.OpOpenDir, planner.OpAddDir, planner.OpOpenFile, planner.OpAddFile, planner.OpDeleteEntry:
			if i == 0 {
				stack = append(stack, frame{path: "", isDir: true})
				seen[""] = entered
				continue
			}
			if op.Path == "" {
				return fail("target opened twice")
			}
			if top == nil || !top.isDir || repo.ParentPath(op.Path) != top.path {
				return fail("parent is not the open directory")
			}
			isAdd := op.Type == planner.OpAddDir || op.Type == planner.OpAddFile
			switch seen[op.Path] {
			case entered:
				return fail("path already edited")
			case deleted:
				if !isAdd {
					return fail("only an add may follow a delete")
				}
			}
			if op.Type == planner.OpDeleteEntry {
				seen[op.Path] = deleted
				continue
			}
			seen[op.Path] = entered
			stack = append(stack, frame{
				path:  op.Path,
				isDir: op.Type == planner.OpOpenDir || op.Type == planner.OpAddDir,
			})

		case planner.OpChangeDirProp:
			if top == nil || !top.isDir || top.path != op.Path {
				return fail("directory is not open")
			}

		case planner.OpChangeFileProp, planner.OpApplyTextDelta:
			if top == nil || top.isDir || top.path != op.Path {
				return fail("file is not open")
			}

		case planner.OpCloseDir, planner.OpCloseFile:
			wantDir := op.Type == planner.OpCloseDir
			if top == nil || top.isDir != wantDir || top.path != op.Path {
				return fail("does not close the innermost open entry")
			}
			stack = stack[:len(stack)-1]
			closed = len(stack) == 0

		default:
			return fail("unknown operation type")
		}
	}

	if !closed {
		return fmt.Errorf("%w: %d entries left open", ErrBracketing, len(stack))
	}
	return nil
}
