// Package actions implements component D, the per-verb semantics for
// instant, queued, and free actions (§4.D). Handlers never panic and never
// leak partial state: a rejected operation returns {error: reason} and
// mutates nothing.
package actions

import (
	"github.com/Shoalstone/MASH/internal/app/domain"
)

// Result is the handler-specific payload wrapped by the request envelope.
type Result = map[string]interface{}

func errResult(reason string) Result { return Result{"error": reason} }

// PolicyErrorReasons are the handler error strings the transport adapter
// maps to HTTP 429 rather than 200 (§6 error taxonomy: "policy" = AP
// exhausted, depth exceeded, per-tick budget).
var PolicyErrorReasons = map[string]bool{
	"no AP remaining":               true,
	"containment depth exceeded":    true,
	"per-tick purchase cap reached": true,
}

// IsPolicyError reports whether a handler result's error (if any) belongs
// to the policy class.
func IsPolicyError(r Result) bool {
	msg, _ := r["error"].(string)
	return PolicyErrorReasons[msg]
}

// QueuedVerbs, InstantVerbs and FreeVerbs classify the built-in verb names
// of §4.D. Anything not in these three sets is a free-form custom verb,
// dispatched through the DSL and classed as queued (1 AP, requires
// `interact` on the target).
var QueuedVerbs = map[string]bool{
	"create": true, "edit": true, "delete": true,
	"travel": true, "home": true, "take": true, "drop": true,
}

var InstantVerbs = map[string]bool{
	"look": true, "survey": true, "inspect": true, "say": true, "list": true,
}

var FreeVerbs = map[string]bool{
	"configure": true, "buy_ap": true,
}

// VerbClass enumerates the three action classes of §4.D.
type VerbClass string

const (
	ClassInstant VerbClass = "instant"
	ClassQueued  VerbClass = "queued"
	ClassFree    VerbClass = "free"
)

// ClassifyVerb returns the class a verb belongs to. Unknown verbs are
// treated as custom queued verbs.
func ClassifyVerb(verb string) VerbClass {
	switch {
	case InstantVerbs[verb]:
		return ClassInstant
	case FreeVerbs[verb]:
		return ClassFree
	default:
		return ClassQueued
	}
}

// APCost computes the action-point cost charged at handler entry, before
// enqueue or execution (§5). Travel pre-debits one AP per hop; every other
// instant/queued verb costs 1; free verbs cost 0.
func APCost(verb string, params map[string]interface{}) int {
	if FreeVerbs[verb] {
		return 0
	}
	if verb == "travel" {
		return len(viaList(params["via"]))
	}
	return 1
}

// viaList normalizes the `via` parameter of `travel` into an ordered list
// of link ids: a single string, or a JSON array of strings.
func viaList(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func str(params map[string]interface{}, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func fieldsOf(params map[string]interface{}, key string) domain.Fields {
	v, ok := params[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return domain.Fields(m)
}

// StockDefaultPermissions is the baseline a freshly created template gets
// when its author omits default_permissions (§4.D create): interact,
// edit, contain, perms and delete default to owner-only; inspect is open.
// This mirrors the fixed rule every home node carries (§3), generalized to
// ordinary templates since the spec only spells out the home-node case.
func StockDefaultPermissions() domain.Permissions {
	return domain.Permissions{
		"interact": {Kind: domain.PermOwner},
		"edit":     {Kind: domain.PermOwner},
		"contain":  {Kind: domain.PermOwner},
		"perms":    {Kind: domain.PermOwner},
		"delete":   {Kind: domain.PermOwner},
		"inspect":  {Kind: domain.PermAny},
	}
}

// HomeNodePermissions are the fixed, non-overridable rules every home node
// carries (§3): only the owner may interact/edit/contain/perms, nobody may
// delete it, and inspect is open to everyone. Home nodes have no template
// (and therefore no template owner), so "owner" is expressed as a `list`
// rule naming the single agent the node belongs to.
func HomeNodePermissions(ownerUsername string) domain.Permissions {
	owner := domain.PermRule{Kind: domain.PermList, List: []string{ownerUsername}}
	return domain.Permissions{
		"interact": owner,
		"edit":     owner,
		"contain":  owner,
		"perms":    owner,
		"delete":   {Kind: domain.PermNone},
		"inspect":  {Kind: domain.PermAny},
	}
}

// clampPerception bounds a perception cap to the documented 1-100 range.
func clampPerception(v int) int {
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}
