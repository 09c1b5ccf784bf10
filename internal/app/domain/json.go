package domain

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON renders a PermRule as either a bare string ("any"/"none"/
// "owner"/"node") or a ["list", [...]] tuple.
func (r PermRule) MarshalJSON() ([]byte, error) {
	if r.Kind == PermList {
		return json.Marshal([2]interface{}{"list", r.List})
	}
	return json.Marshal(string(r.Kind))
}

// UnmarshalJSON accepts the grammar above.
func (r *PermRule) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Kind = PermKind(s)
		r.List = nil
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("invalid permission rule: %s", data)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("invalid permission rule tuple: %s", data)
	}
	var op string
	if err := json.Unmarshal(tuple[0], &op); err != nil || op != "list" {
		return fmt.Errorf("invalid permission rule tuple op: %s", data)
	}
	var list []string
	if err := json.Unmarshal(tuple[1], &list); err != nil {
		return fmt.Errorf("invalid permission rule list: %s", data)
	}
	r.Kind = PermList
	r.List = list
	return nil
}

// MarshalJSON renders a Condition as a tagged tuple. `not` nests another
// condition as its sole element.
func (c Condition) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, 0, len(c.Args)+1)
	out = append(out, c.Op)
	out = append(out, c.Args...)
	return json.Marshal(out)
}

// UnmarshalJSON decodes ["op", arg, ...]; for "not" the single argument is
// itself a condition tuple and is decoded recursively.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid condition: %s", data)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty condition tuple")
	}
	var op string
	if err := json.Unmarshal(raw[0], &op); err != nil {
		return fmt.Errorf("condition op must be a string: %s", data)
	}
	c.Op = op
	c.Args = nil

	if op == "not" {
		if len(raw) != 2 {
			return fmt.Errorf("not expects exactly one nested condition")
		}
		var nested Condition
		if err := json.Unmarshal(raw[1], &nested); err != nil {
			return err
		}
		c.Args = []interface{}{nested}
		return nil
	}

	for _, r := range raw[1:] {
		var v interface{}
		if err := json.Unmarshal(r, &v); err != nil {
			return err
		}
		c.Args = append(c.Args, v)
	}
	return nil
}

// MarshalJSON renders an Effect as a tagged tuple.
func (e Effect) MarshalJSON() ([]byte, error) {
	out := make([]interface{}, 0, len(e.Args)+1)
	out = append(out, e.Op)
	out = append(out, e.Args...)
	return json.Marshal(out)
}

// UnmarshalJSON decodes ["op", arg, ...]. `perm`'s last argument is a
// PermRule; everything else is a plain JSON scalar/array/object.
func (e *Effect) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid effect: %s", data)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty effect tuple")
	}
	var op string
	if err := json.Unmarshal(raw[0], &op); err != nil {
		return fmt.Errorf("effect op must be a string: %s", data)
	}
	e.Op = op
	e.Args = nil

	for i, r := range raw[1:] {
		if op == "perm" && i == len(raw)-2 {
			var rule PermRule
			if err := json.Unmarshal(r, &rule); err != nil {
				return err
			}
			e.Args = append(e.Args, rule)
			continue
		}
		var v interface{}
		if err := json.Unmarshal(r, &v); err != nil {
			return err
		}
		e.Args = append(e.Args, v)
	}
	return nil
}

// MarshalJSON renders an EffectEntry as whichever of Leaf/Block is set.
func (e EffectEntry) MarshalJSON() ([]byte, error) {
	if e.Block != nil {
		return json.Marshal(e.Block)
	}
	if e.Leaf != nil {
		return json.Marshal(e.Leaf)
	}
	return []byte("null"), nil
}

// UnmarshalJSON distinguishes a tuple (`[...]`) from a nested block (`{...}`)
// by sniffing the first non-whitespace byte.
func (e *EffectEntry) UnmarshalJSON(data []byte) error {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			var block Block
			if err := json.Unmarshal(data, &block); err != nil {
				return err
			}
			e.Block = &block
			return nil
		default:
			var leaf Effect
			if err := json.Unmarshal(data, &leaf); err != nil {
				return err
			}
			e.Leaf = &leaf
			return nil
		}
	}
	return fmt.Errorf("empty effect entry")
}
