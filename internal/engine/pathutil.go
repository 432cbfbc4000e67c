package engine

import (
	"fmt"
	"path"
	"strings"

	"github.com/danieljhkim/deltaserve/internal/fsops"
	"github.com/danieljhkim/deltaserve/internal/protocol"
)

// normalizeTarget turns a client-supplied repository path into the clean,
// slash-separated form the repository uses. Leading and trailing slashes are
// dropped and "/" names the repository root. Paths that climb out of the
// repository are rejected.
func normalizeTarget(p string) (string, error) {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return "", nil
	}

	cleaned := path.Clean(trimmed)
	if cleaned != trimmed {
		return "", fmt.Errorf("%w: path %q is not in canonical form", protocol.ErrMalformed, p)
	}
	if err := fsops.ValidateRelPath(cleaned); err != nil {
		return "", fmt.Errorf("%w: %w", protocol.ErrMalformed, err)
	}
	return cleaned, nil
}

// NormalizeParams normalizes the target and switch target of p.
func NormalizeParams(p protocol.DeltaParams) (protocol.DeltaParams, error) {
	var err error
	if p.Target, err = normalizeTarget(p.Target); err != nil {
		return p, err
	}
	if p.SwitchTarget != "" {
		if p.SwitchTarget, err = normalizeTarget(p.SwitchTarget); err != nil {
			return p, err
		}
	}
	return p, nil
}
