// Package policy implements the auth/policy decision table: an ordered
// list of (operation-kind -> decision-rule) checked in order for each
// incoming operation. Grounded on original_source/scheduler/policy.c.
package policy

import (
	"os/user"
	"strings"
)

// RuleKind selects how a Rule decides an operation.
type RuleKind int

const (
	AnonymousOK RuleKind = iota
	DenyAll
	AuthenticatedUser
	AuthenticatedGroup
)

// Rule matches operations by name (exact, or "*" for any) and applies one
// RuleKind's decision, optionally restricted to an allowlist of
// users/groups.
type Rule struct {
	Operation string
	Kind      RuleKind
	Allowlist []string // user or group names; empty means "no restriction"
}

// DefaultResult controls the outcome when no rule in a Policy matches an
// operation. The stricter default (deny) applies unless a policy author
// explicitly opts into Allow.
type DefaultResult int

const (
	DefaultDeny DefaultResult = iota
	DefaultAllow
)

// Policy is an ordered rule table plus its missing-operation fallback.
type Policy struct {
	Name          string
	Rules         []Rule
	DefaultResult DefaultResult
}

// GroupLookup resolves whether user is a member of group, via the OS
// database plus an optional auxiliary password file the caller has
// already parsed; the zero value uses only the OS database.
type GroupLookup func(userName, group string) bool

// Check evaluates policy for operation, returning true (allow) or false
// (deny). owner is the resource's owner for ownership-based rules; lookup
// resolves group membership for AuthenticatedGroup rules (nil uses
// OSGroupLookup).
func Check(p Policy, operation, user_, owner string, lookup GroupLookup) bool {
	if lookup == nil {
		lookup = OSGroupLookup
	}
	for _, r := range p.Rules {
		if r.Operation != "*" && r.Operation != operation {
			continue
		}
		switch r.Kind {
		case AnonymousOK:
			return true
		case DenyAll:
			return false
		case AuthenticatedUser:
			return checkUserRule(r, user_, owner)
		case AuthenticatedGroup:
			return checkGroupRule(r, user_, owner, lookup)
		}
	}
	return p.DefaultResult == DefaultAllow
}

func checkUserRule(r Rule, user_, owner string) bool {
	if user_ == "" {
		return false
	}
	if len(r.Allowlist) == 0 {
		return true
	}
	if user_ == owner {
		return true
	}
	for _, u := range r.Allowlist {
		if u == user_ {
			return true
		}
	}
	return false
}

func checkGroupRule(r Rule, user_, owner string, lookup GroupLookup) bool {
	if user_ == "" {
		return false
	}
	if len(r.Allowlist) == 0 {
		return true
	}
	if user_ == owner {
		return true
	}
	for _, group := range r.Allowlist {
		if lookup(user_, group) {
			return true
		}
	}
	return false
}

// OSGroupLookup resolves group membership via the OS user/group database,
// including membership by numeric primary-group-id.
func OSGroupLookup(userName, group string) bool {
	u, err := user.Lookup(userName)
	if err != nil {
		return false
	}
	g, err := user.LookupGroup(group)
	if err != nil {
		return false
	}
	if u.Gid == g.Gid {
		return true
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, gid := range groupIDs {
		if gid == g.Gid {
			return true
		}
	}
	return false
}

// ParseAuxGroupFile parses a small "group:user1,user2" auxiliary file used
// as a fallback when the OS group database doesn't list system-specific
// membership; callers typically merge its result into a custom GroupLookup.
func ParseAuxGroupFile(contents string) map[string][]string {
	out := make(map[string][]string)
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		group := strings.TrimSpace(parts[0])
		var members []string
		for _, m := range strings.Split(parts[1], ",") {
			if m = strings.TrimSpace(m); m != "" {
				members = append(members, m)
			}
		}
		out[group] = members
	}
	return out
}
