package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckAnonymousOK(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Print-Job", Kind: AnonymousOK}}}
	require.True(t, Check(p, "Print-Job", "", "", nil))
}

func TestCheckDenyAll(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "CUPS-Add-Printer", Kind: DenyAll}}}
	require.False(t, Check(p, "CUPS-Add-Printer", "alice", "", nil))
}

func TestCheckUserRuleEmptyUserDenied(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Cancel-Job", Kind: AuthenticatedUser}}}
	require.False(t, Check(p, "Cancel-Job", "", "alice", nil))
}

func TestCheckUserRuleOwnerAllowed(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Cancel-Job", Kind: AuthenticatedUser, Allowlist: []string{"root"}}}}
	require.True(t, Check(p, "Cancel-Job", "alice", "alice", nil))
}

func TestCheckUserRuleNotOnAllowlistDenied(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Cancel-Job", Kind: AuthenticatedUser, Allowlist: []string{"root"}}}}
	require.False(t, Check(p, "Cancel-Job", "alice", "bob", nil))
}

func TestCheckGroupRuleMembership(t *testing.T) {
	lookup := func(user, group string) bool { return user == "alice" && group == "lpadmin" }
	p := Policy{Rules: []Rule{{Operation: "CUPS-Add-Printer", Kind: AuthenticatedGroup, Allowlist: []string{"lpadmin"}}}}
	require.True(t, Check(p, "CUPS-Add-Printer", "alice", "", lookup))
	require.False(t, Check(p, "CUPS-Add-Printer", "bob", "", lookup))
}

func TestCheckFallsThroughToWildcardRule(t *testing.T) {
	p := Policy{Rules: []Rule{
		{Operation: "Cancel-Job", Kind: DenyAll},
		{Operation: "*", Kind: AnonymousOK},
	}}
	require.True(t, Check(p, "Print-Job", "", "", nil))
	require.False(t, Check(p, "Cancel-Job", "alice", "", nil))
}

func TestCheckMissingOperationDefaultsDeny(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Cancel-Job", Kind: AnonymousOK}}}
	require.False(t, Check(p, "Print-Job", "alice", "", nil))
}

func TestCheckMissingOperationHonorsExplicitDefaultAllow(t *testing.T) {
	p := Policy{Rules: []Rule{{Operation: "Cancel-Job", Kind: AnonymousOK}}, DefaultResult: DefaultAllow}
	require.True(t, Check(p, "Print-Job", "alice", "", nil))
}

func TestParseAuxGroupFile(t *testing.T) {
	out := ParseAuxGroupFile("lpadmin:alice,bob\n# comment\nguests:carol\n")
	require.Equal(t, []string{"alice", "bob"}, out["lpadmin"])
	require.Equal(t, []string{"carol"}, out["guests"])
}
