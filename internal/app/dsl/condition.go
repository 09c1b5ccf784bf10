package dsl

import (
	"strings"

	"github.com/Shoalstone/MASH/internal/app/domain"
)

var refHeads = map[string]bool{
	"self": true, "actor": true, "subject": true,
	"container": true, "carrier": true, "tick": true,
}

// isRefPath reports whether s syntactically looks like a DSL reference
// (its head is one of the five entity heads or "tick") rather than a plain
// string literal. Effect/condition args are untyped JSON values, so this is
// the boundary that lets "self.hp" resolve through the store while
// "hello world" passes through unchanged.
func isRefPath(s string) bool {
	head := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		head = s[:i]
	}
	return refHeads[head]
}

// value resolves arg if it looks like a reference path, otherwise returns it
// unchanged as a literal.
func (c *Context) value(arg interface{}) interface{} {
	s, ok := arg.(string)
	if !ok || !isRefPath(s) {
		return arg
	}
	v, ok := c.Resolve(s)
	if !ok {
		return nil
	}
	return v
}

func scalarEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return ab == bb
	}
	return a == nil && b == nil
}

// Eval evaluates a single condition against the context.
func (c *Context) Eval(cond domain.Condition) bool {
	switch cond.Op {
	case "eq":
		if len(cond.Args) != 2 {
			return false
		}
		return scalarEqual(c.value(cond.Args[0]), c.value(cond.Args[1]))
	case "neq":
		if len(cond.Args) != 2 {
			return false
		}
		return !scalarEqual(c.value(cond.Args[0]), c.value(cond.Args[1]))
	case "gt", "lt":
		if len(cond.Args) != 2 {
			return false
		}
		left, lok := toFloat(c.value(cond.Args[0]))
		right, rok := toFloat(c.value(cond.Args[1]))
		if !lok || !rok {
			return false
		}
		if cond.Op == "gt" {
			return left > right
		}
		return left < right
	case "has":
		if len(cond.Args) != 2 {
			return false
		}
		return c.evalHas(cond.Args[0], cond.Args[1])
	case "not":
		if len(cond.Args) != 1 {
			return false
		}
		nested, ok := cond.Args[0].(domain.Condition)
		if !ok {
			return false
		}
		return !c.Eval(nested)
	default:
		return false
	}
}

// EvalAll is the logical AND over a rule's `if` list (empty list is true).
func (c *Context) EvalAll(conds []domain.Condition) bool {
	for _, cond := range conds {
		if !c.Eval(cond) {
			return false
		}
	}
	return true
}

// evalHas implements `has ref TID`: true iff some non-void, non-destroyed
// instance whose template id is TID has container id equal to the
// resolved id of ref (any container kind).
func (c *Context) evalHas(refArg, tidArg interface{}) bool {
	refPath, ok := refArg.(string)
	if !ok {
		return false
	}
	containerID, ok := c.Resolve(refPath)
	if !ok {
		return false
	}
	cid, ok := containerID.(string)
	if !ok {
		return false
	}
	tid, ok := tidArg.(string)
	if !ok {
		return false
	}
	candidates := append(
		c.Store.ListInstancesByContainer(domain.ContainerAgent, cid),
		c.Store.ListInstancesByContainer(domain.ContainerInstance, cid)...,
	)
	for _, inst := range candidates {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		if inst.TemplateID == tid {
			return true
		}
	}
	return false
}
