package protocol

import (
	"github.com/danieljhkim/deltaserve/internal/repo"
)

// DeltaParams are the parameters shared by update, switch, status and diff.
type DeltaParams struct {
	// Rev is the requested target revision; nil means youngest
	Rev *int64

	// Target is the client's path, relative to the repository root
	Target string

	// SwitchTarget is the path the client is moved to (switch) or compared
	// against (diff); empty plans against Target
	SwitchTarget string

	// TextDeltas is false when only tree and property changes are wanted
	TextDeltas bool

	// Recurse is the legacy depth control
	Recurse bool

	// Depth is the depth word as sent; "" or "unknown" defers to Recurse
	Depth string

	SendCopyFromArgs bool
	IgnoreAncestry   bool
}

// PlanPath returns the repository path the target tree is read from.
func (p DeltaParams) PlanPath() string {
	if p.SwitchTarget != "" {
		return p.SwitchTarget
	}
	return p.Target
}

// UpdateParams are the parameters of the update command.
type UpdateParams struct {
	Rev              *int64 `json:"rev,omitempty"`
	Target           string `json:"target"`
	Recurse          bool   `json:"recurse"`
	Depth            string `json:"depth,omitempty"`
	SendCopyFromArgs bool   `json:"sendCopyFromArgs,omitempty"`
	IgnoreAncestry   bool   `json:"ignoreAncestry,omitempty"`
}

// Delta returns the shared delta parameters of an update.
func (p UpdateParams) Delta() DeltaParams {
	return DeltaParams{
		Rev:              p.Rev,
		Target:           p.Target,
		TextDeltas:       true,
		Recurse:          p.Recurse,
		Depth:            p.Depth,
		SendCopyFromArgs: p.SendCopyFromArgs,
		IgnoreAncestry:   p.IgnoreAncestry,
	}
}

// SwitchParams are the parameters of the switch command.
type SwitchParams struct {
	Rev              *int64 `json:"rev,omitempty"`
	Target           string `json:"target"`
	Recurse          bool   `json:"recurse"`
	URL              string `json:"url"`
	Depth            string `json:"depth,omitempty"`
	SendCopyFromArgs bool   `json:"sendCopyFromArgs,omitempty"`
	IgnoreAncestry   bool   `json:"ignoreAncestry,omitempty"`
}

// Delta returns the shared delta parameters of a switch.
func (p SwitchParams) Delta() DeltaParams {
	return DeltaParams{
		Rev:              p.Rev,
		Target:           p.Target,
		SwitchTarget:     p.URL,
		TextDeltas:       true,
		Recurse:          p.Recurse,
		Depth:            p.Depth,
		SendCopyFromArgs: p.SendCopyFromArgs,
		IgnoreAncestry:   p.IgnoreAncestry,
	}
}

// StatusParams are the parameters of the status command.
type StatusParams struct {
	Target  string `json:"target"`
	Recurse bool   `json:"recurse"`
	Rev     *int64 `json:"rev,omitempty"`
	Depth   string `json:"depth,omitempty"`
}

// Delta returns the shared delta parameters of a status request. Status never
// sends text deltas or copy-from arguments.
func (p StatusParams) Delta() DeltaParams {
	return DeltaParams{
		Rev:     p.Rev,
		Target:  p.Target,
		Recurse: p.Recurse,
		Depth:   p.Depth,
	}
}

// DiffParams are the parameters of the diff command.
type DiffParams struct {
	Rev            *int64 `json:"rev,omitempty"`
	Target         string `json:"target"`
	Recurse        bool   `json:"recurse"`
	IgnoreAncestry bool   `json:"ignoreAncestry,omitempty"`
	URL            string `json:"url"`
	TextDeltas     bool   `json:"textDeltas"`
	Depth          string `json:"depth,omitempty"`
}

// Delta returns the shared delta parameters of a diff.
func (p DiffParams) Delta() DeltaParams {
	return DeltaParams{
		Rev:            p.Rev,
		Target:         p.Target,
		SwitchTarget:   p.URL,
		TextDeltas:     p.TextDeltas,
		Recurse:        p.Recurse,
		Depth:          p.Depth,
		IgnoreAncestry: p.IgnoreAncestry,
	}
}

// LatestRevResponse answers get-latest-rev.
type LatestRevResponse struct {
	Rev int64 `json:"rev"`
}

// SetPathParams describe one working copy entry.
type SetPathParams struct {
	Path       string `json:"path"`
	Rev        int64  `json:"rev"`
	StartEmpty bool   `json:"startEmpty,omitempty"`
	LockToken  string `json:"lockToken,omitempty"`
	Depth      string `json:"depth,omitempty"`
}

// LinkPathParams describe a switched working copy entry.
type LinkPathParams struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	Rev        int64  `json:"rev"`
	StartEmpty bool   `json:"startEmpty,omitempty"`
	LockToken  string `json:"lockToken,omitempty"`
	Depth      string `json:"depth,omitempty"`
}

// DeletePathParams name a working copy entry that is missing.
type DeletePathParams struct {
	Path string `json:"path"`
}

// AuthRequest offers mechanisms to the client.
type AuthRequest struct {
	Mechs []string `json:"mechs"`
	Realm string   `json:"realm"`
}

// AuthResponse is the client's chosen mechanism and its token.
type AuthResponse struct {
	Mech  string `json:"mech"`
	Token string `json:"token,omitempty"`
}

// TargetRevParams announce the revision the edit drive brings the client to.
type TargetRevParams struct {
	Rev int64 `json:"rev"`
}

// CopyFromParams reference an existing node a new node is copied from.
type CopyFromParams struct {
	Path string `json:"path"`
	Rev  int64  `json:"rev"`
}

// EditParams carry the arguments of every editor command. Unused fields are
// omitted on the wire.
type EditParams struct {
	Path         string          `json:"path"`
	Rev          *int64          `json:"rev,omitempty"`
	CopyFrom     *CopyFromParams `json:"copyFrom,omitempty"`
	Name         string          `json:"name,omitempty"`
	Value        *string         `json:"value,omitempty"`
	BaseChecksum string          `json:"baseChecksum,omitempty"`
	Checksum     string          `json:"checksum,omitempty"`
}

// TextDeltaChunk carries one delta instruction.
type TextDeltaChunk struct {
	Path string       `json:"path"`
	Op   repo.DeltaOp `json:"op"`
}

// TextDeltaEnd terminates the delta for a file.
type TextDeltaEnd struct {
	Path         string `json:"path"`
	TargetLength int    `json:"targetLength"`
}
