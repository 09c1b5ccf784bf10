// Package dsl evaluates the Interaction DSL (component C): reference
// resolution, condition evaluation, and effect execution for a template's
// interaction rules.
package dsl

import (
	"strconv"
	"strings"
	"time"

	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// MaxInteractionsPerTick bounds how many rules a single instance may fire
// in one tick (§4.C). The "tick" verb runs first in the tick and so wins
// slots over player-triggered verbs.
const MaxInteractionsPerTick = 4

// entityKind tags which table a resolved reference head points into.
type entityKind string

const (
	kindNone     entityKind = ""
	kindAgent    entityKind = "agent"
	kindInstance entityKind = "instance"
)

// ref is a resolved entity reference (bound or unbound).
type ref struct {
	kind entityKind
	id   string
}

func (r ref) bound() bool { return r.kind != kindNone }

// Context carries the bindings for one fire() invocation: the instance the
// rule is attached to (self), the initiating agent (actor, may be unbound),
// and the other party of the verb (subject, may be an agent or instance or
// unbound). Denied is shared with nested conditional blocks so a deny deep
// inside a block aborts the whole rule.
type Context struct {
	Store   storage.Store
	Self    string // instance id
	Actor   string // agent id, "" if unbound
	Subject ref
	Denied  bool
}

// NewContext builds a Context for fire(self, actor, subjectKind, subjectID).
// subjectKind is "agent", "instance", or "" for no subject.
func NewContext(store storage.Store, self, actor string, subjectKind string, subjectID string) *Context {
	return &Context{
		Store:   store,
		Self:    self,
		Actor:   actor,
		Subject: ref{kind: entityKind(subjectKind), id: subjectID},
	}
}

// resolveHead returns the entity a bare reference head denotes, re-reading
// self/container/carrier fresh from the store so intra-rule mutations are
// observed (§4.C "Reference re-reads").
func (c *Context) resolveHead(head string) ref {
	switch head {
	case "self":
		return ref{kind: kindInstance, id: c.Self}
	case "actor":
		if c.Actor == "" {
			return ref{}
		}
		return ref{kind: kindAgent, id: c.Actor}
	case "subject":
		return c.Subject
	case "container":
		inst, ok := c.Store.GetInstance(c.Self)
		if !ok {
			return ref{}
		}
		switch inst.Container.Kind {
		case domain.ContainerInstance:
			return ref{kind: kindInstance, id: inst.Container.ID}
		case domain.ContainerAgent:
			return ref{kind: kindAgent, id: inst.Container.ID}
		default:
			return ref{}
		}
	case "carrier":
		return c.resolveCarrier()
	default:
		return ref{}
	}
}

// resolveCarrier walks self's container chain upward and returns the first
// agent ancestor, if any.
func (c *Context) resolveCarrier() ref {
	inst, ok := c.Store.GetInstance(c.Self)
	if !ok {
		return ref{}
	}
	for depth := 0; depth < 64; depth++ {
		switch inst.Container.Kind {
		case domain.ContainerAgent:
			return ref{kind: kindAgent, id: inst.Container.ID}
		case domain.ContainerInstance:
			next, ok := c.Store.GetInstance(inst.Container.ID)
			if !ok {
				return ref{}
			}
			inst = next
		default:
			return ref{}
		}
	}
	return ref{}
}

// resolveField returns a named attribute or custom field of a bound entity.
func (c *Context) resolveField(e ref, field string) (interface{}, bool) {
	switch field {
	case "id":
		return e.id, true
	case "username":
		if e.kind != kindAgent {
			return nil, false
		}
		agent, ok := c.Store.GetAgent(e.id)
		return agent.Username, ok
	case "short_description":
		if e.kind == kindAgent {
			agent, ok := c.Store.GetAgent(e.id)
			return agent.ShortDescription, ok
		}
		inst, ok := c.Store.GetInstance(e.id)
		return inst.ShortDescription, ok
	case "long_description":
		if e.kind == kindAgent {
			agent, ok := c.Store.GetAgent(e.id)
			return agent.LongDescription, ok
		}
		inst, ok := c.Store.GetInstance(e.id)
		return inst.LongDescription, ok
	default:
		if e.kind != kindInstance {
			return nil, false
		}
		inst, ok := c.Store.GetInstance(e.id)
		if !ok {
			return nil, false
		}
		v, ok := inst.Fields[field]
		return v, ok
	}
}

// resolveContents implements the compound self.contents.t:TID.FIELD and
// carrier.contents.t:TID.FIELD forms.
func (c *Context) resolveContents(e ref, templateID, field string) (interface{}, bool) {
	var containerKind domain.ContainerKind
	switch e.kind {
	case kindAgent:
		containerKind = domain.ContainerAgent
	case kindInstance:
		containerKind = domain.ContainerInstance
	default:
		return nil, false
	}
	for _, inst := range c.Store.ListInstancesByContainer(containerKind, e.id) {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		if inst.TemplateID != templateID {
			continue
		}
		return c.resolveField(ref{kind: kindInstance, id: inst.ID}, field)
	}
	return nil, false
}

// Resolve evaluates a dotted reference path against the context.
func (c *Context) Resolve(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}
	head := segments[0]

	if head == "tick" {
		if len(segments) == 2 && segments[1] == "count" {
			return secondsSinceMidnightUTC(), true
		}
		return nil, false
	}

	entity := c.resolveHead(head)
	if !entity.bound() {
		return nil, false
	}
	if len(segments) == 1 {
		return entity.id, true
	}

	if len(segments) >= 3 && segments[1] == "contents" && strings.HasPrefix(segments[2], "t:") {
		tid := strings.TrimPrefix(segments[2], "t:")
		field := strings.Join(segments[3:], ".")
		return c.resolveContents(entity, tid, field)
	}

	field := strings.Join(segments[1:], ".")
	return c.resolveField(entity, field)
}

func secondsSinceMidnightUTC() float64 {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return now.Sub(midnight).Seconds()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

