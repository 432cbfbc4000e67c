package repo

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DeltaAction is the kind of a delta instruction.
type DeltaAction string

const (
	// DeltaCopySource copies a byte range of the base text.
	DeltaCopySource DeltaAction = "source"

	// DeltaNewData inserts literal bytes.
	DeltaNewData DeltaAction = "new"
)

// DeltaOp is one instruction of a text delta.
type DeltaOp struct {
	Action DeltaAction `json:"action"`
	Offset int         `json:"offset,omitempty"`
	Length int         `json:"length,omitempty"`
	Data   []byte      `json:"data,omitempty"`
}

// Delta turns a base text into a target text.
type Delta struct {
	// Ops are applied in order to produce the target text
	Ops []DeltaOp `json:"ops"`

	// TargetLength is the length of the text the delta produces
	TargetLength int `json:"targetLength"`
}

// NewDataSize returns how many literal bytes the delta carries.
func (d *Delta) NewDataSize() int {
	n := 0
	for _, op := range d.Ops {
		if op.Action == DeltaNewData {
			n += len(op.Data)
		}
	}
	return n
}

// ComputeDelta diffs base against target line by line. Unchanged line runs
// become source copies, everything else is sent as new data.
func ComputeDelta(base, target []byte) *Delta {
	d := &Delta{TargetLength: len(target)}
	if len(target) == 0 {
		return d
	}
	if len(base) == 0 {
		d.Ops = []DeltaOp{{Action: DeltaNewData, Data: append([]byte(nil), target...)}}
		return d
	}

	a := splitLines(base)
	b := splitLines(target)

	offsets := make([]int, len(a)+1)
	for i, line := range a {
		offsets[i+1] = offsets[i] + len(line)
	}

	matcher := difflib.NewMatcher(a, b)
	for _, oc := range matcher.GetOpCodes() {
		switch oc.Tag {
		case 'e':
			length := offsets[oc.I2] - offsets[oc.I1]
			if length > 0 {
				d.Ops = append(d.Ops, DeltaOp{Action: DeltaCopySource, Offset: offsets[oc.I1], Length: length})
			}
		case 'r', 'i':
			data := []byte(strings.Join(b[oc.J1:oc.J2], ""))
			if len(data) == 0 {
				continue
			}
			if n := len(d.Ops); n > 0 && d.Ops[n-1].Action == DeltaNewData {
				d.Ops[n-1].Data = append(d.Ops[n-1].Data, data...)
				continue
			}
			d.Ops = append(d.Ops, DeltaOp{Action: DeltaNewData, Data: data})
		}
	}
	return d
}

// Apply produces the target text from base.
func (d *Delta) Apply(base []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(d.TargetLength)
	for i, op := range d.Ops {
		switch op.Action {
		case DeltaCopySource:
			if op.Offset < 0 || op.Length < 0 || op.Offset+op.Length > len(base) {
				return nil, fmt.Errorf("delta op %d: source range [%d,%d) outside base of %d bytes", i, op.Offset, op.Offset+op.Length, len(base))
			}
			out.Write(base[op.Offset : op.Offset+op.Length])
		case DeltaNewData:
			out.Write(op.Data)
		default:
			return nil, fmt.Errorf("delta op %d: unknown action %q", i, op.Action)
		}
	}
	if out.Len() != d.TargetLength {
		return nil, fmt.Errorf("delta produced %d bytes, want %d", out.Len(), d.TargetLength)
	}
	return out.Bytes(), nil
}

func splitLines(data []byte) []string {
	lines := strings.SplitAfter(string(data), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
