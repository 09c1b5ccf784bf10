package actions

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/Shoalstone/MASH/internal/app/bus"
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/dsl"
	"github.com/Shoalstone/MASH/internal/app/envelope"
	"github.com/Shoalstone/MASH/internal/app/perm"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// Submit debits AP and enqueues a queued verb for the next tick's queue-drain
// phase (§4.E phase 4, §5 AP accounting). The caller (httpapi) gets back an
// acknowledgement, never the action's eventual result — that is delivered
// later as an action_result event.
func Submit(store storage.Store, agentID, verb string, params map[string]interface{}) Result {
	cost := APCost(verb, params)
	ok, err := envelope.DebitAP(store, agentID, cost)
	if err != nil {
		return errResult(err.Error())
	}
	if !ok {
		return errResult("no AP remaining")
	}

	store.Lock()
	ws := store.WorldState()
	ordinal := store.Enqueue(domain.ActionQueueEntry{
		AgentID:    agentID,
		Verb:       verb,
		Params:     params,
		TickNumber: ws.TickNumber,
		CreatedAt:  bus.NowMS(),
	})
	agent, _ := store.GetAgent(agentID)
	store.Unlock()

	return Result{
		"queued":       true,
		"action_id":    ordinal,
		"tick_number":  ws.TickNumber + 1,
		"ap_remaining": agent.AP,
	}
}

// Execute runs one due queue entry's handler. The caller (the tick engine's
// queue-drain phase) holds the store lock for the duration of the tick; no
// handler here acquires it itself.
func Execute(store storage.Store, maxContainmentDepth int, entry domain.ActionQueueEntry) Result {
	switch entry.Verb {
	case "create":
		return Create(store, maxContainmentDepth, entry.AgentID, entry.Params)
	case "edit":
		return Edit(store, entry.AgentID, entry.Params)
	case "delete":
		return Delete(store, entry.AgentID, entry.Params)
	case "travel":
		return Travel(store, entry.AgentID, entry.Params)
	case "home":
		return Home(store, entry.AgentID)
	case "take":
		return Take(store, maxContainmentDepth, entry.AgentID, entry.Params)
	case "drop":
		return Drop(store, maxContainmentDepth, entry.AgentID, entry.Params)
	default:
		return CustomVerb(store, entry.AgentID, entry.Verb, entry.Params)
	}
}

func decodeInto(raw interface{}, out interface{}) error {
	if raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func kindOf(s string) (domain.Kind, bool) {
	switch s {
	case "node":
		return domain.KindNode, true
	case "link":
		return domain.KindLink, true
	case "thing":
		return domain.KindThing, true
	default:
		return "", false
	}
}

// Create implements the `create` queued verb (§4.D): either a new template
// or a new instance of a template the caller owns.
func Create(store storage.Store, maxDepth int, agentID string, params map[string]interface{}) Result {
	typ, _ := str(params, "type")
	switch typ {
	case "template":
		return createTemplate(store, agentID, params)
	case "instance":
		return createInstance(store, maxDepth, agentID, params)
	default:
		return errResult("type must be \"template\" or \"instance\"")
	}
}

func createTemplate(store storage.Store, agentID string, params map[string]interface{}) Result {
	name, ok := str(params, "name")
	if !ok || name == "" {
		return errResult("name required")
	}
	kindStr, _ := str(params, "template_type")
	kind, ok := kindOf(kindStr)
	if !ok {
		return errResult("template_type must be node, link, or thing")
	}

	defaultPerms := StockDefaultPermissions()
	if raw, ok := params["default_permissions"]; ok {
		var parsed domain.Permissions
		if err := decodeInto(raw, &parsed); err != nil {
			return errResult("invalid default_permissions")
		}
		defaultPerms = parsed
	}

	var interactions []domain.Interaction
	if raw, ok := params["interactions"]; ok {
		if err := decodeInto(raw, &interactions); err != nil {
			return errResult("invalid interactions")
		}
	}

	shortDesc, _ := str(params, "short_description")
	longDesc, _ := str(params, "long_description")

	tmpl := domain.Template{
		ID:                 store.NewID(),
		OwnerAgentID:       agentID,
		Name:               name,
		Kind:               kind,
		ShortDescription:   shortDesc,
		LongDescription:    longDesc,
		DefaultFields:      fieldsOf(params, "default_fields"),
		DefaultPermissions: defaultPerms,
		Interactions:       interactions,
	}
	if err := store.CreateTemplate(tmpl); err != nil {
		return errResult(err.Error())
	}
	return Result{"template_id": tmpl.ID}
}

func createInstance(store storage.Store, maxDepth int, agentID string, params map[string]interface{}) Result {
	templateID, ok := str(params, "template_id")
	if !ok || templateID == "" {
		return errResult("template_id required")
	}
	tmpl, ok := store.GetTemplate(templateID)
	if !ok {
		return errResult("template not found")
	}
	if tmpl.OwnerAgentID != agentID {
		return errResult("permission denied")
	}

	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}

	container := domain.ContainerRef{}
	containerType, hasContainer := str(params, "container_type")
	containerID, _ := str(params, "container_id")
	switch {
	case tmpl.Kind == domain.KindNode:
		if hasContainer {
			return errResult("nodes cannot be contained")
		}
	case hasContainer:
		switch containerType {
		case "agent":
			container = domain.ContainerRef{Kind: domain.ContainerAgent, ID: containerID}
		case "instance":
			container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: containerID}
		default:
			return errResult("container_type must be agent or instance")
		}
	default:
		if agent.CurrentNodeID == "" {
			return errResult("you are in limbo")
		}
		container = domain.ContainerRef{Kind: domain.ContainerInstance, ID: agent.CurrentNodeID}
	}

	if tmpl.Kind != domain.KindNode && !perm.CheckDepth(store, container, maxDepth) {
		return errResult("containment depth exceeded")
	}

	fields := tmpl.DefaultFields.Clone()
	for k, v := range fieldsOf(params, "fields") {
		fields[k] = v
	}

	inst := domain.Instance{
		ID:                  store.NewID(),
		TemplateID:          tmpl.ID,
		Kind:                tmpl.Kind,
		ShortDescription:    tmpl.ShortDescription,
		LongDescription:     tmpl.LongDescription,
		Fields:              fields,
		PermissionsOverride: domain.Permissions{},
		Container:           container,
	}
	if err := store.CreateInstance(inst); err != nil {
		return errResult(err.Error())
	}
	return Result{"instance_id": inst.ID}
}

// Edit implements the `edit` queued verb: a template (owner-only, any
// subset of name/descriptions/fields/default_permissions/interactions) or
// an instance (requires `edit`; permission merges additionally require
// `perms`).
func Edit(store storage.Store, agentID string, params map[string]interface{}) Result {
	id, ok := str(params, "id")
	if !ok || id == "" {
		return errResult("id required")
	}

	if tmpl, ok := store.GetTemplate(id); ok {
		if tmpl.OwnerAgentID != agentID {
			return errResult("permission denied")
		}
		if v, ok := str(params, "name"); ok {
			tmpl.Name = v
		}
		if v, ok := str(params, "short_description"); ok {
			tmpl.ShortDescription = v
		}
		if v, ok := str(params, "long_description"); ok {
			tmpl.LongDescription = v
		}
		if raw, ok := params["fields"]; ok {
			merged := tmpl.DefaultFields.Clone()
			m, _ := raw.(map[string]interface{})
			for k, v := range m {
				merged[k] = v
			}
			tmpl.DefaultFields = merged
		}
		if raw, ok := params["default_permissions"]; ok {
			var parsed domain.Permissions
			if err := decodeInto(raw, &parsed); err != nil {
				return errResult("invalid default_permissions")
			}
			merged := tmpl.DefaultPermissions.Clone()
			for k, v := range parsed {
				merged[k] = v
			}
			tmpl.DefaultPermissions = merged
		}
		if raw, ok := params["interactions"]; ok {
			var parsed []domain.Interaction
			if err := decodeInto(raw, &parsed); err != nil {
				return errResult("invalid interactions")
			}
			tmpl.Interactions = parsed
		}
		if err := store.UpdateTemplate(tmpl); err != nil {
			return errResult(err.Error())
		}
		return Result{"template_id": tmpl.ID}
	}

	inst, ok := store.GetInstance(id)
	if !ok || inst.IsDestroyed {
		return errResult("target not found")
	}
	if !perm.Check(store, agentID, inst, "edit") {
		return errResult("permission denied")
	}
	if v, ok := str(params, "short_description"); ok {
		inst.ShortDescription = v
	}
	if v, ok := str(params, "long_description"); ok {
		inst.LongDescription = v
	}
	if raw, ok := params["fields"]; ok {
		merged := inst.Fields.Clone()
		m, _ := raw.(map[string]interface{})
		for k, v := range m {
			merged[k] = v
		}
		inst.Fields = merged
	}
	if raw, ok := params["permissions"]; ok {
		if !perm.Check(store, agentID, inst, "perms") {
			return errResult("permission denied")
		}
		var parsed domain.Permissions
		if err := decodeInto(raw, &parsed); err != nil {
			return errResult("invalid permissions")
		}
		merged := inst.PermissionsOverride.Clone()
		for k, v := range parsed {
			merged[k] = v
		}
		inst.PermissionsOverride = merged
	}
	if err := store.UpdateInstance(inst); err != nil {
		return errResult(err.Error())
	}
	return Result{"instance_id": inst.ID}
}

// Delete implements the `delete` queued verb: voiding a template the caller
// owns (cascading to every instance) or destroying an instance the caller
// has `delete` on (cascading to its contents).
func Delete(store storage.Store, agentID string, params map[string]interface{}) Result {
	id, ok := str(params, "id")
	if !ok || id == "" {
		return errResult("id required")
	}

	if tmpl, ok := store.GetTemplate(id); ok {
		if tmpl.OwnerAgentID != agentID {
			return errResult("permission denied")
		}
		return Result{"voided": VoidTemplate(store, tmpl)}
	}

	inst, ok := store.GetInstance(id)
	if !ok || inst.IsDestroyed {
		return errResult("target not found")
	}
	if !perm.Check(store, agentID, inst, "delete") {
		return errResult("permission denied")
	}
	dsl.CascadeDestroy(store, inst)
	return Result{"destroyed": inst.ID}
}

// VoidTemplate nulls templateID's instances' template reference, cascading
// destruction into their contents and evicting any agents left in voided
// nodes to their home (§3: "deleting a template voids all its instances in
// a single tick"). Returns the number of instances voided.
func VoidTemplate(store storage.Store, tmpl domain.Template) int {
	count := 0
	for _, inst := range store.ListInstancesByTemplate(tmpl.ID) {
		if inst.IsDestroyed || inst.IsVoid {
			continue
		}
		inst.IsVoid = true
		inst.TemplateID = ""
		store.UpdateInstance(inst)
		count++
		if inst.Kind == domain.KindNode {
			dsl.EvictAgentsFromNode(store, inst.ID)
		}
		for _, child := range store.ListInstancesByContainer(domain.ContainerInstance, inst.ID) {
			if !child.IsDestroyed {
				dsl.CascadeDestroy(store, child)
			}
		}
	}
	store.DeleteTemplate(tmpl.ID)
	return count
}

// Travel implements `travel via` (§4.D): one or more link hops, each firing
// `travel` on the link then `exit`/`enter` on the two nodes, stopping and
// refunding unused hops' AP on the first deny.
func Travel(store storage.Store, agentID string, params map[string]interface{}) Result {
	hops := viaList(params["via"])
	if len(hops) == 0 {
		return errResult("via required")
	}

	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}

	for i, linkID := range hops {
		link, ok := store.GetInstance(linkID)
		if !ok || link.IsVoid || link.IsDestroyed || link.Kind != domain.KindLink {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "invalid link"}
		}
		node := perm.ContainingNode(store, link)
		if node == "" || node != agent.CurrentNodeID {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "link not in current node"}
		}

		dest, ok := resolveDestination(store, agent, link)
		if !ok {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "no destination"}
		}

		if dsl.Fire(store, linkID, "travel", agentID, "", "") {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "denied"}
		}
		if dsl.Fire(store, agent.CurrentNodeID, "exit", agentID, "instance", linkID) {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "denied"}
		}
		if dsl.Fire(store, dest, "enter", agentID, "instance", linkID) {
			refundRemaining(store, agentID, hops[i:])
			return Result{"stopped_at": i, "error": "denied"}
		}

		destInst, _ := store.GetInstance(dest)
		bus.BroadcastToNode(store, agent.CurrentNodeID, domain.EventBroadcast, map[string]interface{}{
			"message": fmt.Sprintf("%s left.", agent.Username),
			"agent":   agent.Username, "action": "left",
		}, agentID)

		agent.CurrentNodeID = dest
		if err := store.UpdateAgent(agent); err != nil {
			return errResult(err.Error())
		}

		store.RecordLinkUsage(domain.LinkUsageRecord{
			AgentID:             agentID,
			LinkID:              linkID,
			DestinationNodeID:   dest,
			DestinationNodeName: destInst.ShortDescription,
			UsedAt:              bus.NowMS(),
		})

		bus.BroadcastToNode(store, dest, domain.EventBroadcast, map[string]interface{}{
			"message": fmt.Sprintf("%s arrived.", agent.Username),
			"agent":   agent.Username, "action": "arrived",
		}, agentID)
	}

	return Look(store, agentID, "")
}

func refundRemaining(store storage.Store, agentID string, unused []string) {
	if len(unused) == 0 {
		return
	}
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return
	}
	agent.AP += len(unused)
	store.UpdateAgent(agent)
}

// resolveDestination picks a link's destination: fields.destination, or for
// a random_link system instance, a random eligible candidate node (§4.D,
// "destination randomness").
func resolveDestination(store storage.Store, agent domain.Agent, link domain.Instance) (string, bool) {
	if link.SystemType != domain.SystemRandomLink {
		dest, _ := link.Fields["destination"].(string)
		if dest == "" {
			return "", false
		}
		if n, ok := store.GetInstance(dest); !ok || n.IsVoid || n.IsDestroyed || n.Kind != domain.KindNode {
			return "", false
		}
		return dest, true
	}

	var candidates []string
	for _, inst := range store.ListAllInstances() {
		if inst.Kind != domain.KindNode || inst.IsVoid || inst.IsDestroyed {
			continue
		}
		if inst.ID == agent.CurrentNodeID {
			continue
		}
		if isAnyHome(store, inst.ID) {
			continue
		}
		if !perm.Check(store, agent.ID, inst, "interact") {
			continue
		}
		candidates = append(candidates, inst.ID)
	}
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func isAnyHome(store storage.Store, nodeID string) bool {
	for _, a := range store.ListAgents() {
		if a.HomeNodeID == nodeID {
			return true
		}
	}
	return false
}

// Home implements the zero-hop `home` teleport.
func Home(store storage.Store, agentID string) Result {
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}
	if agent.CurrentNodeID == agent.HomeNodeID {
		return errResult("already home")
	}
	if agent.CurrentNodeID != "" {
		bus.BroadcastToNode(store, agent.CurrentNodeID, domain.EventBroadcast, map[string]interface{}{
			"message": fmt.Sprintf("%s left.", agent.Username),
			"agent":   agent.Username, "action": "left",
		}, agentID)
	}
	agent.CurrentNodeID = agent.HomeNodeID
	if err := store.UpdateAgent(agent); err != nil {
		return errResult(err.Error())
	}
	bus.BroadcastToNode(store, agent.HomeNodeID, domain.EventBroadcast, map[string]interface{}{
		"message": fmt.Sprintf("%s arrived.", agent.Username),
		"agent":   agent.Username, "action": "arrived",
	}, agentID)
	return Look(store, agentID, "")
}

// Take implements `take target_id [into?]` (§4.D): the thing must be in the
// caller's current node; requires `contain` on the thing and its current
// container; the DSL `take` verb may deny.
func Take(store storage.Store, maxDepth int, agentID string, params map[string]interface{}) Result {
	targetID, ok := str(params, "target_id")
	if !ok || targetID == "" {
		return errResult("target_id required")
	}
	agent, ok := store.GetAgent(agentID)
	if !ok || agent.CurrentNodeID == "" {
		return errResult("you are in limbo")
	}

	thing, ok := store.GetInstance(targetID)
	if !ok || thing.IsVoid || thing.IsDestroyed {
		return errResult("target not found")
	}
	if perm.ContainingNode(store, thing) != agent.CurrentNodeID {
		return errResult("not in your current node")
	}
	if !perm.Check(store, agentID, thing, "contain") {
		return errResult("permission denied")
	}
	if current, ok := containerInstance(store, thing.Container); ok && !perm.Check(store, agentID, current, "contain") {
		return errResult("permission denied")
	}

	dest := domain.ContainerRef{Kind: domain.ContainerAgent, ID: agentID}
	if intoID, ok := str(params, "into"); ok && intoID != "" {
		into, ok := store.GetInstance(intoID)
		if !ok || into.IsVoid || into.IsDestroyed {
			return errResult("destination not found")
		}
		if into.Container.Kind != domain.ContainerAgent || into.Container.ID != agentID {
			return errResult("destination must be in your inventory")
		}
		if !perm.Check(store, agentID, into, "contain") {
			return errResult("permission denied")
		}
		dest = domain.ContainerRef{Kind: domain.ContainerInstance, ID: intoID}
	}
	if !perm.CheckDepth(store, dest, maxDepth) {
		return errResult("containment depth exceeded")
	}

	if dsl.Fire(store, targetID, "take", agentID, "agent", agentID) {
		return errResult("denied")
	}

	thing, ok = store.GetInstance(targetID)
	if !ok || thing.IsDestroyed {
		return errResult("target destroyed")
	}
	thing.Container = dest
	if err := store.UpdateInstance(thing); err != nil {
		return errResult(err.Error())
	}
	return Result{"taken": thing.ID}
}

// Drop implements `drop target_id [into?]`, the symmetric inverse of Take.
func Drop(store storage.Store, maxDepth int, agentID string, params map[string]interface{}) Result {
	targetID, ok := str(params, "target_id")
	if !ok || targetID == "" {
		return errResult("target_id required")
	}
	agent, ok := store.GetAgent(agentID)
	if !ok || agent.CurrentNodeID == "" {
		return errResult("you are in limbo")
	}

	thing, ok := store.GetInstance(targetID)
	if !ok || thing.IsVoid || thing.IsDestroyed {
		return errResult("target not found")
	}
	if thing.Container.Kind != domain.ContainerAgent || thing.Container.ID != agentID {
		if root, ok := rootInventoryOwner(store, thing); !ok || root != agentID {
			return errResult("not in your inventory")
		}
	}
	if !perm.Check(store, agentID, thing, "contain") {
		return errResult("permission denied")
	}

	dest := domain.ContainerRef{Kind: domain.ContainerInstance, ID: agent.CurrentNodeID}
	if intoID, ok := str(params, "into"); ok && intoID != "" {
		into, ok := store.GetInstance(intoID)
		if !ok || into.IsVoid || into.IsDestroyed {
			return errResult("destination not found")
		}
		if perm.ContainingNode(store, into) != agent.CurrentNodeID {
			return errResult("destination must be in your current node")
		}
		if !perm.Check(store, agentID, into, "contain") {
			return errResult("permission denied")
		}
		dest = domain.ContainerRef{Kind: domain.ContainerInstance, ID: intoID}
	}
	if !perm.CheckDepth(store, dest, maxDepth) {
		return errResult("containment depth exceeded")
	}

	if dsl.Fire(store, targetID, "drop", agentID, "agent", agentID) {
		return errResult("denied")
	}

	thing, ok = store.GetInstance(targetID)
	if !ok || thing.IsDestroyed {
		return errResult("target destroyed")
	}
	thing.Container = dest
	if err := store.UpdateInstance(thing); err != nil {
		return errResult(err.Error())
	}
	return Result{"dropped": thing.ID}
}

func containerInstance(store storage.Store, ref domain.ContainerRef) (domain.Instance, bool) {
	if ref.Kind != domain.ContainerInstance {
		return domain.Instance{}, false
	}
	return store.GetInstance(ref.ID)
}

func rootInventoryOwner(store storage.Store, inst domain.Instance) (string, bool) {
	cur := inst
	for depth := 0; depth <= perm.MaxContainmentDepth+2; depth++ {
		switch cur.Container.Kind {
		case domain.ContainerAgent:
			return cur.Container.ID, true
		case domain.ContainerInstance:
			next, ok := store.GetInstance(cur.Container.ID)
			if !ok {
				return "", false
			}
			cur = next
		default:
			return "", false
		}
	}
	return "", false
}

// CustomVerb implements free-form `<custom_verb>` dispatch (§4.D): requires
// `interact` on the target and fires the verb through the DSL. `reset` on
// the caller's own home node is special-cased to restore the built-in
// defaults no template carries, since home nodes have no template to reset to.
func CustomVerb(store storage.Store, agentID, verb string, params map[string]interface{}) Result {
	targetID, ok := str(params, "target_id")
	if !ok || targetID == "" {
		return errResult("target_id required")
	}

	agent, ok := store.GetAgent(agentID)
	if ok && verb == "reset" && targetID == agent.HomeNodeID {
		return ResetHomeNode(store, agent)
	}

	target, ok := store.GetInstance(targetID)
	if !ok || target.IsDestroyed {
		return errResult("target not found")
	}
	if !perm.Check(store, agentID, target, "interact") {
		return errResult("permission denied")
	}

	subjectKind, _ := str(params, "subject_kind")
	subjectID, _ := str(params, "subject_id")
	if dsl.Fire(store, targetID, verb, agentID, subjectKind, subjectID) {
		return errResult("denied")
	}
	return Result{"ok": true}
}

// ResetHomeNode restores a home node's hard-coded defaults and destroys any
// non-system contents, since it has no template to fall back to.
func ResetHomeNode(store storage.Store, agent domain.Agent) Result {
	node, ok := store.GetInstance(agent.HomeNodeID)
	if !ok {
		return errResult("home node missing")
	}
	node.ShortDescription = fmt.Sprintf("%s's home", agent.Username)
	node.LongDescription = fmt.Sprintf("The quiet, private home of %s.", agent.Username)
	node.Fields = domain.Fields{}
	node.PermissionsOverride = HomeNodePermissions(agent.Username)
	if err := store.UpdateInstance(node); err != nil {
		return errResult(err.Error())
	}

	for _, child := range store.ListInstancesByContainer(domain.ContainerInstance, node.ID) {
		if child.SystemType != domain.SystemNone || child.IsDestroyed {
			continue
		}
		dsl.CascadeDestroy(store, child)
	}
	return Result{"reset": node.ID}
}
