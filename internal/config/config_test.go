package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLoadOverridesSelectedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "printspoold.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
spool_root = "/var/spool/printspoold"
log_level = "debug"
`), 0600))

	d, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/spool/printspoold", d.SpoolRoot)
	require.Equal(t, "debug", d.LogLevel)
	require.Equal(t, 100, d.ConflictResolverMaxIter) // default preserved
}

func TestParsePrintersConfDecodesBlock(t *testing.T) {
	data := `
<Printer p1>
Info A test printer
DeviceURI file:/tmp/out
State Idle
Accepting Yes
QuotaPeriod 3600
PageLimit 5
AllowUser alice
AllowUser bob
OpPolicy default
ErrorPolicy retry-job
</Printer>
`
	records, blockErrs, err := ParsePrintersConf(data)
	require.NoError(t, err)
	require.Empty(t, blockErrs)
	require.Len(t, records, 1)

	p := records[0]
	require.Equal(t, "p1", p.Name)
	require.True(t, p.Accepting)
	require.Equal(t, 3600, p.QuotaPeriod)
	require.Equal(t, []string{"alice", "bob"}, p.AllowUser)
	require.Equal(t, "retry-job", p.ErrorPolicy)
}

func TestParsePrintersConfSkipsMutuallyExclusiveAllowDeny(t *testing.T) {
	data := `
<Printer bad>
AllowUser alice
DenyUser mallory
</Printer>
<Printer good>
Info ok
</Printer>
`
	records, blockErrs, err := ParsePrintersConf(data)
	require.NoError(t, err)
	require.Len(t, blockErrs, 1)
	require.Equal(t, "bad", blockErrs[0].Name)
	require.Len(t, records, 1)
	require.Equal(t, "good", records[0].Name)
}

func TestParseClassesConfCollectsMembers(t *testing.T) {
	data := `
<Class c1>
Info group
Printer p1
Printer p2
Printer p3
</Class>
`
	records, blockErrs, err := ParseClassesConf(data)
	require.NoError(t, err)
	require.Empty(t, blockErrs)
	require.Equal(t, []string{"p1", "p2", "p3"}, records[0].Members)
}

func TestParseSubscriptionsConfDecodesHeaderAndBlock(t *testing.T) {
	data := `
NextSubscriptionId 42
<Subscription 7>
Events job-state-changed job-completed
Owner alice
Recipient mailto:alice@example.com
JobId 3
LeaseDuration 600
UserData hello<3C>world
NextEventId 12
</Subscription>
`
	next, records, blockErrs, err := ParseSubscriptionsConf(data)
	require.NoError(t, err)
	require.Empty(t, blockErrs)
	require.Equal(t, 42, next)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, 7, rec.ID)
	require.Equal(t, []string{"job-state-changed", "job-completed"}, rec.Events)
	require.Equal(t, "hello<world", string(rec.UserData))
	require.Equal(t, 12, rec.NextEventID)
}

func TestEscapeUnescapeUserDataRoundTrip(t *testing.T) {
	raw := []byte("a<b\x01c")
	escaped := EscapeUserData(raw)
	require.Equal(t, raw, unescapeUserData(escaped))
}

func TestScanBlocksRejectsUnmatchedCloseTag(t *testing.T) {
	_, _, err := scanBlocks("<Printer p1>\nInfo x\n</Class>\n")
	require.Error(t, err)
}

func TestRenderPrintcapColonFormat(t *testing.T) {
	out := RenderPrintcap([]PrintcapEntry{{Name: "p1", Info: "desk printer"}}, PrintcapColon)
	require.Contains(t, out, "automatically generated")
	require.Contains(t, out, "p1|desk printer:")
}

func TestRenderPrintcapRemoteEntryIncludesRM(t *testing.T) {
	out := RenderPrintcap([]PrintcapEntry{{Name: "p2", Info: "remote", RemoteHost: "server.example.com"}}, PrintcapColon)
	require.Contains(t, out, "rm=server.example.com")
	require.Contains(t, out, "rp=p2")
}
