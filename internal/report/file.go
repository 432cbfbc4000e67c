package report

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/danieljhkim/deltaserve/internal/protocol"
)

// File is a report written as YAML, used for offline planning:
//
//	entries:
//	  - path: ""
//	    rev: 3
//	  - path: docs
//	    rev: 2
//	    depth: empty
//	  - path: src/old.go
//	    deleted: true
type File struct {
	Entries []FileEntry `yaml:"entries"`
}

// FileEntry is one entry of a report file.
type FileEntry struct {
	Path       string `yaml:"path"`
	Rev        int64  `yaml:"rev"`
	Depth      string `yaml:"depth,omitempty"`
	StartEmpty bool   `yaml:"startEmpty,omitempty"`
	LinkPath   string `yaml:"linkPath,omitempty"`
	LockToken  string `yaml:"lockToken,omitempty"`
	Deleted    bool   `yaml:"deleted,omitempty"`
}

// ParseFile decodes a YAML report and collects it the same way a streamed
// report is collected.
func ParseFile(data []byte) (*State, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReportProtocol, err)
	}

	c := NewCollector()
	for _, e := range f.Entries {
		if _, err := c.Handle(e.message()); err != nil {
			return nil, err
		}
	}
	if _, err := c.Handle(protocol.Message{Command: protocol.CmdFinishReport}); err != nil {
		return nil, err
	}
	return c.Finish(), nil
}

func (e FileEntry) message() protocol.Message {
	switch {
	case e.Deleted:
		return protocol.MustMessage(protocol.CmdDeletePath, protocol.DeletePathParams{Path: e.Path})
	case e.LinkPath != "":
		return protocol.MustMessage(protocol.CmdLinkPath, protocol.LinkPathParams{
			Path:       e.Path,
			URL:        e.LinkPath,
			Rev:        e.Rev,
			StartEmpty: e.StartEmpty,
			LockToken:  e.LockToken,
			Depth:      e.Depth,
		})
	default:
		return protocol.MustMessage(protocol.CmdSetPath, protocol.SetPathParams{
			Path:       e.Path,
			Rev:        e.Rev,
			StartEmpty: e.StartEmpty,
			LockToken:  e.LockToken,
			Depth:      e.Depth,
		})
	}
}
