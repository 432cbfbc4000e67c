// Package editor replays edit plans onto the client's editor.
//
// The driver does no planning and never reorders: it checks that the plan is
// properly bracketed, then translates every operation into editor commands
// in order. A plan that fails the check is rejected before anything is sent.
package editor

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/danieljhkim/deltaserve/internal/planner"
	"github.com/danieljhkim/deltaserve/internal/protocol"
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// DefaultChunkSize bounds the new data carried by one textdelta-chunk.
const DefaultChunkSize = 16 * 1024

// Sender delivers messages to the client.
type Sender interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// Driver emits plans as editor commands.
type Driver struct {
	out       Sender
	chunkSize int
}

// NewDriver creates a Driver writing to out.
func NewDriver(out Sender) *Driver {
	return &Driver{out: out, chunkSize: DefaultChunkSize}
}

// WithChunkSize sets the largest new-data chunk. Values below 1 are ignored.
func (d *Driver) WithChunkSize(n int) *Driver {
	if n > 0 {
		d.chunkSize = n
	}
	return d
}

// Drive sends target-rev, the plan's edits, close-edit and the final empty
// success response.
func (d *Driver) Drive(ctx context.Context, plan *planner.Plan) error {
	ops := plan.Operations()
	if err := Validate(ops); err != nil {
		return err
	}

	if err := d.send(ctx, protocol.CmdTargetRev, protocol.TargetRevParams{Rev: plan.TargetRev}); err != nil {
		return err
	}
	for _, op := range ops {
		if err := d.emit(ctx, op); err != nil {
			return fmt.Errorf("failed to send %s %q: %w", op.Type, op.Path, err)
		}
	}
	if err := d.send(ctx, protocol.CmdCloseEdit, nil); err != nil {
		return err
	}
	return d.out.Send(ctx, protocol.Success(nil))
}

// emit sends the editor commands of one operation.
func (d *Driver) emit(ctx context.Context, op planner.EditOperation) error {
	switch op.Type {
	case planner.OpOpenDir:
		rev := op.BaseRevision
		if op.Path == "" {
			return d.send(ctx, protocol.CmdOpenRoot, protocol.EditParams{Rev: &rev})
		}
		return d.send(ctx, protocol.CmdOpenDir, protocol.EditParams{Path: op.Path, Rev: &rev})
	case planner.OpAddDir:
		return d.send(ctx, protocol.CmdAddDir, protocol.EditParams{Path: op.Path, CopyFrom: copyFrom(op.CopyFrom)})
	case planner.OpDeleteEntry:
		rev := op.BaseRevision
		return d.send(ctx, protocol.CmdDeleteEntry, protocol.EditParams{Path: op.Path, Rev: &rev})
	case planner.OpOpenFile:
		rev := op.BaseRevision
		return d.send(ctx, protocol.CmdOpenFile, protocol.EditParams{Path: op.Path, Rev: &rev})
	case planner.OpAddFile:
		return d.send(ctx, protocol.CmdAddFile, protocol.EditParams{Path: op.Path, CopyFrom: copyFrom(op.CopyFrom)})
	case planner.OpChangeDirProp:
		return d.send(ctx, protocol.CmdChangeDirProp, protocol.EditParams{Path: op.Path, Name: op.PropName, Value: op.PropValue})
	case planner.OpChangeFileProp:
		return d.send(ctx, protocol.CmdChangeFileProp, protocol.EditParams{Path: op.Path, Name: op.PropName, Value: op.PropValue})
	case planner.OpApplyTextDelta:
		return d.emitTextDelta(ctx, op)
	case planner.OpCloseFile:
		return d.send(ctx, protocol.CmdCloseFile, protocol.EditParams{Path: op.Path, Checksum: op.Checksum})
	case planner.OpCloseDir:
		return d.send(ctx, protocol.CmdCloseDir, protocol.EditParams{Path: op.Path})
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrBracketing, op.Type)
	}
}

// emitTextDelta sends apply-textdelta, the delta's instructions and
// textdelta-end. Without a delta body only the bracket is sent.
func (d *Driver) emitTextDelta(ctx context.Context, op planner.EditOperation) error {
	if err := d.send(ctx, protocol.CmdApplyTextDelta, protocol.EditParams{Path: op.Path, BaseChecksum: op.BaseChecksum}); err != nil {
		return err
	}

	targetLength := 0
	if op.Delta != nil {
		targetLength = op.Delta.TargetLength
		for _, chunk := range splitOps(op.Delta.Ops, d.chunkSize) {
			if err := d.send(ctx, protocol.CmdTextDeltaChunk, protocol.TextDeltaChunk{Path: op.Path, Op: chunk}); err != nil {
				return err
			}
		}
	}
	return d.send(ctx, protocol.CmdTextDeltaEnd, protocol.TextDeltaEnd{Path: op.Path, TargetLength: targetLength})
}

func (d *Driver) send(ctx context.Context, cmd string, params any) error {
	msg, err := protocol.NewMessage(cmd, params)
	if err != nil {
		return err
	}
	if glog.V(2) {
		glog.Infof("editor: %s %s", msg.Command, msg.Params)
	}
	return d.out.Send(ctx, msg)
}

func copyFrom(cf *repo.CopySource) *protocol.CopyFromParams {
	if cf == nil {
		return nil
	}
	return &protocol.CopyFromParams{Path: cf.Path, Rev: cf.Revision}
}

// splitOps breaks new-data instructions larger than size into several.
func splitOps(ops []repo.DeltaOp, size int) []repo.DeltaOp {
	out := make([]repo.DeltaOp, 0, len(ops))
	for _, op := range ops {
		if op.Action != repo.DeltaNewData || len(op.Data) <= size {
			out = append(out, op)
			continue
		}
		for data := op.Data; len(data) > 0; {
			n := min(size, len(data))
			out = append(out, repo.DeltaOp{Action: repo.DeltaNewData, Data: data[:n]})
			data = data[n:]
		}
	}
	return out
}
