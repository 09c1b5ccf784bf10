package dsl

import (
	"fmt"
	"strings"

	"github.com/Shoalstone/MASH/internal/app/bus"
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/perm"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// ownerID returns the agent id that owns self's template, or "" for a
// system instance (which can then authorize nothing but self-targeting).
func (c *Context) ownerID() string {
	inst, ok := c.Store.GetInstance(c.Self)
	if !ok || inst.TemplateID == "" {
		return ""
	}
	tmpl, ok := c.Store.GetTemplate(inst.TemplateID)
	if !ok {
		return ""
	}
	return tmpl.OwnerAgentID
}

// authorize implements the escalation-control rule of §4.C: effects
// targeting anything other than self require the template owner to hold
// key on the target. Targets that resolve to an agent have no permission
// model of their own, so they are always authorized (e.g. moving a subject
// agent, or writing its description).
func (c *Context) authorize(target ref, key string) bool {
	if target.kind == kindInstance && target.id == c.Self {
		return true
	}
	if target.kind != kindInstance {
		return target.bound()
	}
	inst, ok := c.Store.GetInstance(target.id)
	if !ok {
		return false
	}
	return perm.Check(c.Store, c.ownerID(), inst, key)
}

// splitHeadField splits a reference path into its head (self/subject/
// container/carrier) and the remaining field path, if any.
func splitHeadField(path string) (head, field string) {
	i := strings.IndexByte(path, '.')
	if i < 0 {
		return path, ""
	}
	return path[:i], path[i+1:]
}

// Apply executes one primitive effect against the context, mutating the
// store. Unauthorized effects are silently dropped: the rule continues but
// leaves no partial state from the dropped effect.
func (c *Context) Apply(effect domain.Effect) {
	switch effect.Op {
	case "set":
		c.applySet(effect)
	case "add":
		c.applyAdd(effect)
	case "say":
		c.applySay(effect)
	case "take":
		c.applyTake(effect)
	case "give":
		c.applyGive(effect)
	case "move":
		c.applyMove(effect)
	case "create":
		c.applyCreate(effect)
	case "destroy":
		c.applyDestroy(effect)
	case "perm":
		c.applyPerm(effect)
	case "deny":
		c.Denied = true
	}
}

// setTargetHeads are the only reference heads `set` may write through
// (§4.C "`set ref value` | Writes `ref` (must be self/subject/container)").
var setTargetHeads = map[string]bool{"self": true, "subject": true, "container": true}

func (c *Context) applySet(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	path, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	head, field := splitHeadField(path)
	if !setTargetHeads[head] {
		return
	}
	target := c.resolveHead(head)
	if !target.bound() || field == "" {
		return
	}
	if !c.authorize(target, "edit") {
		return
	}
	value := c.value(effect.Args[1])
	c.writeField(target, field, value)
}

func (c *Context) applyAdd(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	path, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	head, field := splitHeadField(path)
	target := c.resolveHead(head)
	if !target.bound() || field == "" || target.kind != kindInstance {
		return
	}
	if !c.authorize(target, "edit") {
		return
	}
	delta, ok := toFloat(c.value(effect.Args[1]))
	if !ok {
		return
	}
	inst, ok := c.Store.GetInstance(target.id)
	if !ok {
		return
	}
	current, _ := toFloat(inst.Fields[field])
	if inst.Fields == nil {
		inst.Fields = domain.Fields{}
	}
	inst.Fields[field] = current + delta
	c.Store.UpdateInstance(inst)
}

func (c *Context) writeField(target ref, field string, value interface{}) {
	switch target.kind {
	case kindAgent:
		agent, ok := c.Store.GetAgent(target.id)
		if !ok {
			return
		}
		s := fmt.Sprint(value)
		switch field {
		case "short_description":
			agent.ShortDescription = s
		case "long_description":
			agent.LongDescription = s
		default:
			return
		}
		c.Store.UpdateAgent(agent)
	case kindInstance:
		inst, ok := c.Store.GetInstance(target.id)
		if !ok {
			return
		}
		switch field {
		case "short_description":
			inst.ShortDescription = fmt.Sprint(value)
		case "long_description":
			inst.LongDescription = fmt.Sprint(value)
		default:
			if inst.Fields == nil {
				inst.Fields = domain.Fields{}
			}
			inst.Fields[field] = value
		}
		c.Store.UpdateInstance(inst)
	}
}

// interpolate replaces {ref} tokens in text with the resolved value of ref.
func (c *Context) interpolate(text string) string {
	var out strings.Builder
	for len(text) > 0 {
		open := strings.IndexByte(text, '{')
		if open < 0 {
			out.WriteString(text)
			break
		}
		shut := strings.IndexByte(text[open:], '}')
		if shut < 0 {
			out.WriteString(text)
			break
		}
		shut += open
		out.WriteString(text[:open])
		path := text[open+1 : shut]
		if v, ok := c.Resolve(path); ok {
			out.WriteString(fmt.Sprint(v))
		}
		text = text[shut+1:]
	}
	return out.String()
}

func (c *Context) applySay(effect domain.Effect) {
	if len(effect.Args) != 1 {
		return
	}
	text, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	inst, ok := c.Store.GetInstance(c.Self)
	if !ok {
		return
	}
	node := perm.ContainingNode(c.Store, inst)
	if node == "" {
		return
	}
	message := c.interpolate(text)
	bus.BroadcastToNode(c.Store, node, domain.EventBroadcast, map[string]interface{}{
		"source":  c.Self,
		"message": message,
	}, "")
}

func (c *Context) firstMatchingChild(container ref, tid string) (domain.Instance, bool) {
	var kind domain.ContainerKind
	switch container.kind {
	case kindAgent:
		kind = domain.ContainerAgent
	case kindInstance:
		kind = domain.ContainerInstance
	default:
		return domain.Instance{}, false
	}
	for _, inst := range c.Store.ListInstancesByContainer(kind, container.id) {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		if inst.TemplateID == tid {
			return inst, true
		}
	}
	return domain.Instance{}, false
}

func (c *Context) applyTake(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	tid, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	refPath, ok := effect.Args[1].(string)
	if !ok {
		return
	}
	source := c.resolveHead(refPath)
	if !source.bound() {
		return
	}
	if !c.authorize(source, "contain") {
		return
	}
	item, ok := c.firstMatchingChild(source, tid)
	if !ok {
		return
	}
	item.Container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: c.Self}
	c.Store.UpdateInstance(item)
}

func (c *Context) applyGive(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	tid, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	refPath, ok := effect.Args[1].(string)
	if !ok {
		return
	}
	dest := c.resolveHead(refPath)
	if !dest.bound() {
		return
	}
	if !c.authorize(dest, "contain") {
		return
	}
	item, ok := c.firstMatchingChild(ref{kind: kindInstance, id: c.Self}, tid)
	if !ok {
		return
	}
	switch dest.kind {
	case kindAgent:
		item.Container = domain.ContainerRef{Kind: domain.ContainerAgent, ID: dest.id}
	case kindInstance:
		item.Container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: dest.id}
	}
	c.Store.UpdateInstance(item)
}

func (c *Context) applyMove(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	refPath, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	target := c.resolveHead(refPath)
	if !target.bound() {
		return
	}
	nodeID := fmt.Sprint(c.value(effect.Args[1]))
	node, ok := c.Store.GetInstance(nodeID)
	if !ok || node.Kind != domain.KindNode || node.IsVoid || node.IsDestroyed {
		return
	}
	if !c.authorize(target, "edit") {
		return
	}
	switch target.kind {
	case kindAgent:
		agent, ok := c.Store.GetAgent(target.id)
		if !ok {
			return
		}
		agent.CurrentNodeID = nodeID
		c.Store.UpdateAgent(agent)
		bus.Send(c.Store, target.id, domain.EventSystem, map[string]interface{}{
			"message":  fmt.Sprintf("You have been moved to %s.", node.ShortDescription),
			"moved_to": nodeID,
		})
	case kindInstance:
		inst, ok := c.Store.GetInstance(target.id)
		if !ok {
			return
		}
		inst.Container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: nodeID}
		c.Store.UpdateInstance(inst)
	}
}

func (c *Context) applyCreate(effect domain.Effect) {
	if len(effect.Args) != 2 {
		return
	}
	tid, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	refPath, ok := effect.Args[1].(string)
	if !ok {
		return
	}
	target := c.resolveHead(refPath)
	if !target.bound() {
		return
	}
	if !c.authorize(target, "contain") {
		return
	}
	tmpl, ok := c.Store.GetTemplate(tid)
	if !ok {
		return
	}
	var container domain.ContainerRef
	switch target.kind {
	case kindAgent:
		container = domain.ContainerRef{Kind: domain.ContainerAgent, ID: target.id}
	case kindInstance:
		container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: target.id}
	}
	inst := domain.Instance{
		ID:               c.Store.NewID(),
		TemplateID:       tmpl.ID,
		Kind:             tmpl.Kind,
		ShortDescription: tmpl.ShortDescription,
		LongDescription:  tmpl.LongDescription,
		Fields:           tmpl.DefaultFields.Clone(),
		Container:        container,
		CreatedOrdinal:   c.Store.NextCreationOrdinal(),
	}
	c.Store.CreateInstance(inst)
}

func (c *Context) applyDestroy(effect domain.Effect) {
	if len(effect.Args) != 1 {
		return
	}
	refPath, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	target := c.resolveHead(refPath)
	if target.kind != kindInstance {
		return
	}
	if !c.authorize(target, "delete") {
		return
	}
	inst, ok := c.Store.GetInstance(target.id)
	if !ok {
		return
	}
	CascadeDestroy(c.Store, inst)
}

// EvictAgentsFromNode moves every agent currently standing in nodeID to its
// home node (or into limbo if the home is itself gone). Used both when a
// node is destroyed directly and when its template is deleted (voiding).
func EvictAgentsFromNode(store storage.Store, nodeID string) {
	for _, agent := range store.ListAgents() {
		if agent.CurrentNodeID != nodeID {
			continue
		}
		if home, ok := store.GetInstance(agent.HomeNodeID); ok && !home.IsVoid && !home.IsDestroyed {
			agent.CurrentNodeID = home.ID
		} else {
			agent.CurrentNodeID = ""
		}
		store.UpdateAgent(agent)
	}
}

// CascadeDestroy marks inst destroyed and recursively destroys its contents.
// If inst is a node, every agent currently standing in it is evicted to
// their home node (or left in limbo if the home is itself gone).
func CascadeDestroy(store storage.Store, inst domain.Instance) {
	inst.IsDestroyed = true
	store.UpdateInstance(inst)

	if inst.Kind == domain.KindNode {
		EvictAgentsFromNode(store, inst.ID)
	}

	for _, child := range store.ListInstancesByContainer(domain.ContainerInstance, inst.ID) {
		if child.IsDestroyed {
			continue
		}
		CascadeDestroy(store, child)
	}
}

func (c *Context) applyPerm(effect domain.Effect) {
	if len(effect.Args) != 3 {
		return
	}
	refPath, ok := effect.Args[0].(string)
	if !ok {
		return
	}
	key, ok := effect.Args[1].(string)
	if !ok {
		return
	}
	rule, ok := effect.Args[2].(domain.PermRule)
	if !ok {
		return
	}
	target := c.resolveHead(refPath)
	if target.kind != kindInstance {
		return
	}
	if !c.authorize(target, "perms") {
		return
	}
	inst, ok := c.Store.GetInstance(target.id)
	if !ok {
		return
	}
	if !c.authorize(target, key) {
		return
	}
	if inst.PermissionsOverride == nil {
		inst.PermissionsOverride = domain.Permissions{}
	}
	inst.PermissionsOverride[key] = rule
	c.Store.UpdateInstance(inst)
}
