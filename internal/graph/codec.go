package graph

import (
	"fmt"

	"github.com/vk/comfygrid/internal/nodeid"
	"github.com/vk/comfygrid/internal/xjson"
)

type wireNode struct {
	ClassType string                      `json:"class_type"`
	Inputs    map[string]xjson.RawMessage `json:"inputs"`
	Meta      *Meta                       `json:"_meta,omitempty"`
}

type wireNodeOut struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *Meta          `json:"_meta,omitempty"`
}

// MarshalJSON writes the document in the backend's API format.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]wireNodeOut, len(d.nodes))
	for id, n := range d.nodes {
		inputs := make(map[string]any, len(n.Inputs))
		for name, v := range n.Inputs {
			if r, ok := v.(Ref); ok {
				inputs[name] = []any{string(r.Node), r.Slot}
				continue
			}
			inputs[name] = v
		}
		out[string(id)] = wireNodeOut{ClassType: n.ClassType, Inputs: inputs, Meta: n.Meta}
	}
	return xjson.Marshal(out)
}

// UnmarshalJSON reads a document in the backend's API format.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]wireNode
	if err := xjson.Unmarshal(data, &raw); err != nil {
		return err
	}
	nodes := make(map[nodeid.ID]*Node, len(raw))
	for id, wn := range raw {
		if _, err := nodeid.Parse(id); err != nil {
			return fmt.Errorf("node id %q: %w", id, err)
		}
		if wn.ClassType == "" {
			return fmt.Errorf("node %q: missing class_type", id)
		}
		n := &Node{ClassType: wn.ClassType, Inputs: make(map[string]any, len(wn.Inputs)), Meta: wn.Meta}
		for name, rawInput := range wn.Inputs {
			v, err := decodeInput(rawInput)
			if err != nil {
				return fmt.Errorf("node %q input %q: %w", id, name, err)
			}
			n.Inputs[name] = v
		}
		nodes[nodeid.ID(id)] = n
	}
	d.nodes = nodes
	return nil
}

// Parse decodes a document from its JSON form.
func Parse(data []byte) (*Document, error) {
	d := New()
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeInput(raw xjson.RawMessage) (any, error) {
	var v any
	if err := xjson.UnmarshalNumber(raw, &v); err != nil {
		return nil, err
	}
	if r, ok := asRef(v); ok {
		return r, nil
	}
	return normalize(v), nil
}

// asRef recognises the `["<id>", <integer slot>]` shape.
func asRef(v any) (Ref, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != 2 {
		return Ref{}, false
	}
	id, ok := list[0].(string)
	if !ok {
		return Ref{}, false
	}
	num, ok := list[1].(xjson.Number)
	if !ok {
		return Ref{}, false
	}
	slot, err := num.Int64()
	if err != nil {
		return Ref{}, false
	}
	return Ref{Node: nodeid.ID(id), Slot: int(slot)}, true
}

// normalize turns decoded json.Number values into int64 when integral and
// float64 otherwise.
func normalize(v any) any {
	switch t := v.(type) {
	case xjson.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}
		return t
	default:
		return v
	}
}
