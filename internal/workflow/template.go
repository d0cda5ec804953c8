package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Node is one step of an engine graph in API format. Inputs hold literal
// values or links of the form [nodeID, outputIndex].
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Template is a node graph keyed by node id. Templates handed out by the
// Loader are private copies and may be modified freely.
type Template map[string]*Node

// Clone returns a deep copy of t.
func (t Template) Clone() Template {
	if t == nil {
		return nil
	}
	out := make(Template, len(t))
	for id, node := range t {
		if node == nil {
			out[id] = nil
			continue
		}
		out[id] = &Node{
			ClassType: node.ClassType,
			Inputs:    cloneMap(node.Inputs),
			Meta:      cloneMap(node.Meta),
		}
	}
	return out
}

// NodeIDs returns the node ids in sorted order.
func (t Template) NodeIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Input returns a node input value and whether it was present.
func (t Template) Input(nodeID, key string) (any, bool) {
	node, ok := t[nodeID]
	if !ok || node == nil {
		return nil, false
	}
	v, ok := node.Inputs[key]
	return v, ok
}

// ParseTemplate decodes a graph in API format. Every top-level value must be an
// object; a node without inputs gets an empty input map.
func ParseTemplate(data []byte) (Template, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	t := make(Template, len(raw))
	for id, body := range raw {
		var node Node
		if err := json.Unmarshal(body, &node); err != nil {
			return nil, fmt.Errorf("node %s: %w", id, err)
		}
		if node.Inputs == nil {
			node.Inputs = map[string]any{}
		}
		t[id] = &node
	}
	return t, nil
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
