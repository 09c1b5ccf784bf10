package dsl

import (
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/metrics"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// executeEntries runs a do/else list in order, stopping as soon as a deny
// is hit anywhere inside it (including inside a nested block, since Denied
// is shared on the Context).
func (c *Context) executeEntries(entries []domain.EffectEntry) {
	for _, entry := range entries {
		if c.Denied {
			return
		}
		switch {
		case entry.Block != nil:
			c.executeBlock(*entry.Block)
		case entry.Leaf != nil:
			c.Apply(*entry.Leaf)
		}
		if c.Denied {
			return
		}
	}
}

func (c *Context) executeBlock(b domain.Block) {
	if c.EvalAll(b.If) {
		c.executeEntries(b.Do)
	} else {
		c.executeEntries(b.Else)
	}
}

// Fire runs every interaction rule of instanceID's template whose `on`
// matches verb, in template order, up to MaxInteractionsPerTick rules
// total for that instance this tick. It returns the shared denied flag so
// callers (action handlers, the tick engine) can roll back the triggering
// operation.
//
// subjectKind is "agent", "instance", or "" if the verb has no subject.
func Fire(store storage.Store, instanceID, verb, actorID, subjectKind, subjectID string) bool {
	inst, ok := store.GetInstance(instanceID)
	if !ok || inst.TemplateID == "" {
		return false
	}
	tmpl, ok := store.GetTemplate(inst.TemplateID)
	if !ok {
		return false
	}

	ctx := NewContext(store, instanceID, actorID, subjectKind, subjectID)

	for _, rule := range tmpl.Interactions {
		if rule.On != verb {
			continue
		}
		if inst.InteractionsUsedThisTick >= MaxInteractionsPerTick {
			metrics.InteractionBudgetHits.WithLabelValues(verb).Inc()
			break
		}
		inst.InteractionsUsedThisTick++
		store.UpdateInstance(inst)

		if ctx.EvalAll(rule.If) {
			ctx.executeEntries(rule.Do)
		} else {
			ctx.executeEntries(rule.Else)
		}
		if ctx.Denied {
			break
		}

		inst, ok = store.GetInstance(instanceID)
		if !ok || inst.IsDestroyed {
			break
		}
	}

	return ctx.Denied
}
