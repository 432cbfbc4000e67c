package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/wI2L/jsondiff"
)

var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")

// propChange is one property set or delete.
type propChange struct {
	name  string
	value *string
}

// diffProps returns the property changes turning from into to, ordered by
// property name. Properties are compared as JSON objects.
func diffProps(from, to map[string]string) ([]propChange, error) {
	if from == nil {
		from = map[string]string{}
	}
	if to == nil {
		to = map[string]string{}
	}

	patch, err := jsondiff.Compare(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to diff properties: %w", err)
	}

	changes := make([]propChange, 0, len(patch))
	for _, op := range patch {
		name := pointerUnescaper.Replace(strings.TrimPrefix(string(op.Path), "/"))
		if name == "" {
			return nil, fmt.Errorf("unexpected whole-object property patch %q", op.Type)
		}
		switch op.Type {
		case jsondiff.OperationRemove:
			changes = append(changes, propChange{name: name})
		case jsondiff.OperationAdd, jsondiff.OperationReplace:
			value, err := propString(op.Value)
			if err != nil {
				return nil, err
			}
			changes = append(changes, propChange{name: name, value: &value})
		default:
			return nil, fmt.Errorf("unexpected property patch operation %q", op.Type)
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].name < changes[j].name
	})
	return changes, nil
}

func propString(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode property value: %w", err)
	}
	return string(data), nil
}
