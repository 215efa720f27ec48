package roompush

import "strings"

type Router struct{}

func (r Router) MatchTargets(targets []PushTarget, ev RoomEvent) []PushTarget {
	if len(targets) == 0 {
		return nil
	}
	out := make([]PushTarget, 0, len(targets))
	for _, target := range targets {
		if !target.Enabled {
			continue
		}
		if !scopeMatches(target, ev) {
			continue
		}
		if !eventAllowed(target.EventAllowlist, ev.EventType) {
			continue
		}
		out = append(out, target)
	}
	return out
}

func scopeMatches(target PushTarget, ev RoomEvent) bool {
	switch target.ScopeType {
	case "all":
		return true
	case "room":
		return target.ScopeValue != "" && target.ScopeValue == ev.RoomID
	default:
		return false
	}
}

// eventAllowed matches exact types and "presence" as a prefix for every
// presence action.
func eventAllowed(allowlist []string, evType string) bool {
	if len(allowlist) == 0 {
		return true
	}
	evType = strings.ToLower(strings.TrimSpace(evType))
	for _, v := range allowlist {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if v == evType || strings.HasPrefix(evType, v+".") {
			return true
		}
	}
	return false
}
