package engine

import (
	"errors"
	"testing"

	"github.com/danieljhkim/deltaserve/internal/protocol"
)

func TestNormalizeTarget(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "repository root", path: "", want: ""},
		{name: "slash is the root", path: "/", want: ""},
		{name: "plain path", path: "trunk/src", want: "trunk/src"},
		{name: "leading slash", path: "/trunk", want: "trunk"},
		{name: "trailing slash", path: "branches/b1/", want: "branches/b1"},
		{name: "parent segment", path: "trunk/../etc", wantErr: true},
		{name: "only parent", path: "..", wantErr: true},
		{name: "double slash", path: "trunk//src", wantErr: true},
		{name: "dot segment", path: "trunk/./src", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeTarget(tt.path)
			if tt.wantErr {
				if !errors.Is(err, protocol.ErrMalformed) {
					t.Fatalf("normalizeTarget(%q) error = %v, want ErrMalformed", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("normalizeTarget(%q) failed: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("normalizeTarget(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizeParams(t *testing.T) {
	p, err := NormalizeParams(protocol.DeltaParams{Target: "/trunk/", SwitchTarget: "branches/b1/"})
	if err != nil {
		t.Fatalf("NormalizeParams failed: %v", err)
	}
	if p.Target != "trunk" || p.SwitchTarget != "branches/b1" {
		t.Errorf("got target %q switch %q", p.Target, p.SwitchTarget)
	}

	if _, err := NormalizeParams(protocol.DeltaParams{Target: "trunk", SwitchTarget: "a/../b"}); err == nil {
		t.Error("expected error for non-canonical switch target")
	}
}
