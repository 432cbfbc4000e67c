package protocol

import "fmt"

// Depth limits how far below a directory an operation applies.
type Depth int

const (
	// DepthUnknown means no depth was sent.
	DepthUnknown Depth = iota
	DepthEmpty
	DepthFiles
	DepthImmediates
	DepthInfinity
)

var depthWords = map[Depth]string{
	DepthUnknown:    "unknown",
	DepthEmpty:      "empty",
	DepthFiles:      "files",
	DepthImmediates: "immediates",
	DepthInfinity:   "infinity",
}

// ParseDepth parses a depth word. The empty word parses as DepthUnknown.
func ParseDepth(word string) (Depth, error) {
	if word == "" {
		return DepthUnknown, nil
	}
	for d, w := range depthWords {
		if w == word {
			return d, nil
		}
	}
	return DepthUnknown, fmt.Errorf("%w: %q", ErrUnknownDepth, word)
}

// FromRecurse maps the legacy recurse flag to a depth.
func FromRecurse(recurse bool) Depth {
	if recurse {
		return DepthInfinity
	}
	return DepthFiles
}

func (d Depth) String() string {
	if w, ok := depthWords[d]; ok {
		return w
	}
	return fmt.Sprintf("depth(%d)", int(d))
}

// Known reports whether d is one of the four concrete depths.
func (d Depth) Known() bool {
	return d >= DepthEmpty && d <= DepthInfinity
}

// Min returns the narrower of d and o. Unknown depths count as infinity.
func (d Depth) Min(o Depth) Depth {
	a, b := d.orInfinity(), o.orInfinity()
	if a < b {
		return a
	}
	return b
}

func (d Depth) orInfinity() Depth {
	if !d.Known() {
		return DepthInfinity
	}
	return d
}

// Child returns the depth a subdirectory is visited with when its parent is
// visited at d.
func (d Depth) Child() Depth {
	switch d {
	case DepthImmediates:
		return DepthEmpty
	case DepthInfinity, DepthUnknown:
		return DepthInfinity
	default:
		return DepthEmpty
	}
}
