package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScrapeStatusLineParsesKnownLevels(t *testing.T) {
	ev, ok := ScrapeStatusLine("STATE: +media-empty-error")
	require.True(t, ok)
	require.Equal(t, "STATE", ev.Level)
	require.Equal(t, "+media-empty-error", ev.Payload)
}

func TestScrapeStatusLineRejectsUnknownLevel(t *testing.T) {
	_, ok := ScrapeStatusLine("NOTALEVEL: foo")
	require.False(t, ok)
}

func TestReadStatusLinesInvokesCallbackPerRecord(t *testing.T) {
	r := strings.NewReader("INFO: starting\nPAGE: 1 1\nERROR: jam\n")
	var events []StatusEvent
	require.NoError(t, ReadStatusLines(r, func(ev StatusEvent) { events = append(events, ev) }))
	require.Len(t, events, 3)
	require.Equal(t, "INFO", events[0].Level)
	require.Equal(t, "PAGE", events[1].Level)
	require.Equal(t, "ERROR", events[2].Level)
}

func TestReasonSetAddRemoveReplace(t *testing.T) {
	s := NewReasonSet("media-low")
	s = s.ApplyStateLine("+toner-low,cover-open")
	require.True(t, s.Has("media-low"))
	require.True(t, s.Has("TONER-LOW"))
	require.True(t, s.Has("cover-open"))

	s = s.ApplyStateLine("-media-low")
	require.False(t, s.Has("media-low"))

	s = s.ApplyStateLine("offline")
	require.True(t, s.Has("offline"))
	require.False(t, s.Has("toner-low"))
}

func TestParsePageEvent(t *testing.T) {
	ev, ok := ParsePageEvent("3 2")
	require.True(t, ok)
	require.Equal(t, 3, ev.PageNumber)
	require.Equal(t, 2, ev.Copies)
}

func TestEffectiveChainDropsTrailingSentinelAndAppendsBackend(t *testing.T) {
	spec := Spec{Chain: []string{"texttops", "-"}, Backend: "socket"}
	chain := effectiveChain(spec)
	require.Equal(t, []string{"texttops", "socket"}, chain)
}

func TestEffectiveChainRemoteDropsFiltersButKeepsBackend(t *testing.T) {
	spec := Spec{Remote: true, Chain: []string{"texttops"}, Backend: "socket"}
	require.Equal(t, []string{"socket"}, effectiveChain(spec))
}

func TestEffectiveChainRemoteWithNoBackendHasNoChain(t *testing.T) {
	spec := Spec{Remote: true, Chain: []string{"texttops"}}
	require.Empty(t, effectiveChain(spec))
}

func TestFinalizeResultBackendFailureTakesPrecedence(t *testing.T) {
	res := finalizeResult(Result{ExitCodes: []int{1, 0}}, true)
	require.True(t, res.BackendFailed)
	require.False(t, res.FilterFailed)
}

func TestFinalizeResultFilterFailureWhenBackendOK(t *testing.T) {
	res := finalizeResult(Result{ExitCodes: []int{1, 0, 0}}, true)
	require.True(t, res.FilterFailed)
	require.False(t, res.BackendFailed)
}
