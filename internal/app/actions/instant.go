package actions

import (
	"sort"

	"github.com/Shoalstone/MASH/internal/app/bus"
	"github.com/Shoalstone/MASH/internal/app/domain"
	"github.com/Shoalstone/MASH/internal/app/perm"
	"github.com/Shoalstone/MASH/internal/app/storage"
)

// LinkIndexCap bounds how many link-usage records the link_index system
// thing returns (supplemented from original_source; see DESIGN.md).
const LinkIndexCap = 20

// Look implements the `look` instant verb. An empty targetID returns the
// caller's current node with perception-capped agent/link/thing lists.
func Look(store storage.Store, agentID string, targetID string) Result {
	agent, ok := store.GetAgent(agentID)
	if !ok {
		return errResult("agent not found")
	}
	if targetID == "" {
		return lookNode(store, agent, agent.CurrentNodeID)
	}

	if target, ok := store.GetAgent(targetID); ok {
		if target.CurrentNodeID != agent.CurrentNodeID || agent.CurrentNodeID == "" {
			return errResult("agent not present")
		}
		return Result{
			"type":              "agent",
			"id":                target.ID,
			"username":          target.Username,
			"short_description": target.ShortDescription,
			"long_description":  target.LongDescription,
		}
	}

	inst, ok := store.GetInstance(targetID)
	if !ok || inst.IsDestroyed {
		return errResult("target not found")
	}

	if inst.Kind == domain.KindNode {
		if inst.ID != agent.CurrentNodeID {
			return errResult("not your current node")
		}
		return lookNode(store, agent, inst.ID)
	}

	if inst.SystemType == domain.SystemLinkIndex {
		return linkIndexView(store, agentID)
	}

	if !isVisibleTo(store, agent, inst) {
		return errResult("target not visible")
	}

	return Result{
		"type":              string(inst.Kind),
		"id":                inst.ID,
		"short_description": inst.ShortDescription,
		"long_description":  inst.LongDescription,
		"is_void":           inst.IsVoid,
	}
}

// isVisibleTo implements look's target-visibility rule: same node, in the
// caller's inventory, or (handled separately) a link_index system thing.
func isVisibleTo(store storage.Store, agent domain.Agent, inst domain.Instance) bool {
	if inst.Container.Kind == domain.ContainerAgent && inst.Container.ID == agent.ID {
		return true
	}
	node := perm.ContainingNode(store, inst)
	return node != "" && node == agent.CurrentNodeID
}

func linkIndexView(store storage.Store, agentID string) Result {
	records := store.RecentLinkUsage(agentID, LinkIndexCap)
	out := make([]Result, 0, len(records))
	for _, r := range records {
		out = append(out, Result{
			"link_id":               r.LinkID,
			"destination_node_id":   r.DestinationNodeID,
			"destination_node_name": r.DestinationNodeName,
			"used_at":               r.UsedAt,
		})
	}
	return Result{"type": "link_index", "records": out}
}

func lookNode(store storage.Store, agent domain.Agent, nodeID string) Result {
	if nodeID == "" {
		return errResult("you are in limbo")
	}
	node, ok := store.GetInstance(nodeID)
	if !ok || node.Kind != domain.KindNode {
		return errResult("current node missing")
	}

	var agents, links, things []Result
	for _, other := range store.ListAgents() {
		if other.CurrentNodeID != nodeID || other.ID == agent.ID {
			continue
		}
		agents = append(agents, Result{"id": other.ID, "username": other.Username, "short_description": other.ShortDescription})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i]["id"].(string) < agents[j]["id"].(string) })
	if len(agents) > clampPerception(agent.PerceptionAgents) {
		agents = agents[:clampPerception(agent.PerceptionAgents)]
	}

	for _, inst := range store.ListInstancesByContainer(domain.ContainerInstance, nodeID) {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		entry := Result{"id": inst.ID, "short_description": inst.ShortDescription}
		switch inst.Kind {
		case domain.KindLink:
			if len(links) < clampPerception(agent.PerceptionLinks) {
				links = append(links, entry)
			}
		case domain.KindThing:
			if len(things) < clampPerception(agent.PerceptionThings) {
				things = append(things, entry)
			}
		}
	}

	return Result{
		"type":              "node",
		"id":                node.ID,
		"short_description": node.ShortDescription,
		"long_description":  node.LongDescription,
		"agents":            nonNil(agents),
		"links":             nonNil(links),
		"things":            nonNil(things),
	}
}

func nonNil(rs []Result) []Result {
	if rs == nil {
		return []Result{}
	}
	return rs
}

// Survey implements `survey [category?]`, the one case that bypasses
// perception limits: an uncapped dump of the caller's node's contents.
func Survey(store storage.Store, agentID string, category string) Result {
	agent, ok := store.GetAgent(agentID)
	if !ok || agent.CurrentNodeID == "" {
		return errResult("you are in limbo")
	}

	var agents, links, things []Result
	for _, other := range store.ListAgents() {
		if other.CurrentNodeID != agent.CurrentNodeID {
			continue
		}
		agents = append(agents, Result{"id": other.ID, "username": other.Username})
	}
	for _, inst := range store.ListInstancesByContainer(domain.ContainerInstance, agent.CurrentNodeID) {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		entry := Result{"id": inst.ID, "short_description": inst.ShortDescription, "kind": string(inst.Kind)}
		switch inst.Kind {
		case domain.KindLink:
			links = append(links, entry)
		case domain.KindThing:
			things = append(things, entry)
		}
	}

	out := Result{}
	switch category {
	case "agents":
		out["agents"] = nonNil(agents)
	case "links":
		out["links"] = nonNil(links)
	case "things":
		out["things"] = nonNil(things)
	case "":
		out["agents"] = nonNil(agents)
		out["links"] = nonNil(links)
		out["things"] = nonNil(things)
	default:
		return errResult("unknown category")
	}
	return out
}

// Inspect implements `inspect target_id` (requires `inspect`).
func Inspect(store storage.Store, agentID string, targetID string) Result {
	inst, ok := store.GetInstance(targetID)
	if !ok || inst.IsDestroyed {
		return errResult("target not found")
	}
	if !perm.Check(store, agentID, inst, "inspect") {
		return errResult("permission denied")
	}

	out := Result{
		"id":                inst.ID,
		"template_id":       inst.TemplateID,
		"short_description": inst.ShortDescription,
		"long_description":  inst.LongDescription,
		"fields":            inst.Fields.Clone(),
		"is_void":           inst.IsVoid,
	}

	var tmpl domain.Template
	if inst.TemplateID != "" {
		if t, ok := store.GetTemplate(inst.TemplateID); ok {
			tmpl = t
			if owner, ok := store.GetAgent(t.OwnerAgentID); ok {
				out["owner"] = owner.Username
			}
		}
	}

	if perm.Check(store, agentID, inst, "perms") {
		out["permissions"] = inst.PermissionsOverride.Clone()
		out["default_permissions"] = tmpl.DefaultPermissions.Clone()
		out["interactions"] = tmpl.Interactions
	}
	return out
}

// Say implements `say message`: broadcasts a chat event to every
// see_broadcasts agent in the caller's node (excluding the caller) and
// returns the delivery count.
func Say(store storage.Store, agentID string, message string) Result {
	agent, ok := store.GetAgent(agentID)
	if !ok || agent.CurrentNodeID == "" {
		return errResult("you are in limbo")
	}
	count := bus.BroadcastToNode(store, agent.CurrentNodeID, domain.EventChat, map[string]interface{}{
		"from":    agent.Username,
		"from_id": agent.ID,
		"message": message,
	}, agent.ID)
	return Result{"delivered": count}
}

// List implements `list template_id`: instances of a template the caller owns.
func List(store storage.Store, agentID string, templateID string) Result {
	tmpl, ok := store.GetTemplate(templateID)
	if !ok {
		return errResult("template not found")
	}
	if tmpl.OwnerAgentID != agentID {
		return errResult("permission denied")
	}
	var out []Result
	for _, inst := range store.ListInstancesByTemplate(templateID) {
		if inst.IsVoid || inst.IsDestroyed {
			continue
		}
		out = append(out, Result{"id": inst.ID, "short_description": inst.ShortDescription})
	}
	return Result{"instances": nonNil(out)}
}
