package destination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPrinter() *Printer {
	return &Printer{
		Name:                   "p1",
		State:                  StateIdle,
		Accepting:              true,
		ResolverIterationLimit: 100,
		Options: map[string]*Option{
			"PageSize":   {Name: "PageSize", Policy: SinglePick, Default: "Letter", Choices: []string{"Letter", "A4", "Legal"}},
			"PageRegion": {Name: "PageRegion", Policy: SinglePick, Default: "Letter", Choices: []string{"Letter", "A4"}},
			"InputSlot":  {Name: "InputSlot", Policy: SinglePick, Default: "Tray1", Choices: []string{"Tray1", "Tray2"}},
			"ManualFeed": {Name: "ManualFeed", Policy: SinglePick, Default: "False", Choices: []string{"True", "False"}},
			"Duplex":     {Name: "Duplex", Policy: SinglePick, Default: "None", Choices: []string{"None", "DuplexNoTumble"}},
			"Collate":    {Name: "Collate", Policy: SinglePick, Default: "False", Choices: []string{"True", "False"}},
		},
	}
}

func TestMarkClearsCoupledPageSizeRegion(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("PageRegion", "A4"))
	require.Equal(t, "A4", p.Options["PageRegion"].Marked)

	require.NoError(t, p.Mark("PageSize", "Letter"))
	require.Equal(t, "Letter", p.Options["PageSize"].Marked)
	require.Equal(t, "", p.Options["PageRegion"].Marked)
}

func TestMarkManualFeedTrueClearsInputSlot(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("InputSlot", "Tray2"))
	require.NoError(t, p.Mark("ManualFeed", "True"))
	require.Equal(t, "", p.Options["InputSlot"].Marked)
}

func TestMarkInputSlotClearsManualFeed(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("ManualFeed", "True"))
	require.NoError(t, p.Mark("InputSlot", "Tray1"))
	require.Equal(t, "", p.Options["ManualFeed"].Marked)
}

func TestMarkIdempotent(t *testing.T) {
	p1 := newTestPrinter()
	require.NoError(t, p1.Mark("PageSize", "A4"))

	p2 := newTestPrinter()
	require.NoError(t, p2.Mark("PageSize", "A4"))
	require.NoError(t, p2.Mark("PageSize", "A4"))

	require.Equal(t, p1.Options["PageSize"].Marked, p2.Options["PageSize"].Marked)
	require.Equal(t, p1.Options["PageRegion"].Marked, p2.Options["PageRegion"].Marked)
}

func TestMarkCustomChoiceParsesParams(t *testing.T) {
	p := newTestPrinter()
	p.Options["PageSize"].Choices = append(p.Options["PageSize"].Choices, "Custom")
	require.NoError(t, p.Mark("PageSize", "Custom.8.5,11in"))
	params := p.Options["PageSize"].CustomParams
	require.Len(t, params, 2)
}

func TestActiveConstraintDetectsPageSizeAlias(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("PageRegion", "Legal"))
	p.Constraints = []Constraint{
		{Terms: []ConstraintTerm{{Option: "PageSize", Choice: "Legal"}, {Option: "InputSlot", Choice: "Tray2"}}},
	}
	require.NoError(t, p.Mark("InputSlot", "Tray2"))
	require.Len(t, p.ActiveConstraints(), 1)
}

func TestResolveConflictsSubstitutesNonInstallableChoice(t *testing.T) {
	p := newTestPrinter()
	p.Constraints = []Constraint{
		{Terms: []ConstraintTerm{{Option: "Duplex", Choice: "DuplexNoTumble"}, {Option: "InputSlot", Choice: "Tray2"}}},
	}
	require.NoError(t, p.Mark("Duplex", "DuplexNoTumble"))
	require.NoError(t, p.Mark("InputSlot", "Tray2"))

	require.NoError(t, p.ResolveConflicts("InputSlot", "Tray2"))
	require.Empty(t, p.ActiveConstraints())
}

func TestResolveConflictsClearsCollateUnlessTrigger(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("Collate", "True"))
	require.NoError(t, p.ResolveConflicts("InputSlot", "Tray1"))
	require.Equal(t, "", p.Options["Collate"].Marked)
}

func TestResolveConflictsKeepsCollateWhenItIsTheTrigger(t *testing.T) {
	p := newTestPrinter()
	require.NoError(t, p.Mark("Collate", "True"))
	require.NoError(t, p.ResolveConflicts("Collate", "True"))
	require.Equal(t, "True", p.Options["Collate"].Marked)
}

func TestResolveConflictsLoopDetection(t *testing.T) {
	p := newTestPrinter()
	p.Resolvers = map[string]Resolution{
		"loopy": {"Duplex": "None"},
	}
	p.Constraints = []Constraint{
		{Terms: []ConstraintTerm{{Option: "Duplex", Choice: "None"}}, Resolver: "loopy"},
	}
	require.NoError(t, p.Mark("Duplex", "None"))
	err := p.ResolveConflicts("ManualFeed", "False")
	require.Error(t, err)
}

func TestResolveConflictsSameResolverSharedBySamePassConstraintsIsNotALoop(t *testing.T) {
	p := newTestPrinter()
	p.Resolvers = map[string]Resolution{
		"fixall": {"Duplex": "None"},
	}
	p.Constraints = []Constraint{
		{Terms: []ConstraintTerm{{Option: "Duplex", Choice: "DuplexNoTumble"}, {Option: "InputSlot", Choice: "Tray2"}}, Resolver: "fixall"},
		{Terms: []ConstraintTerm{{Option: "Duplex", Choice: "DuplexNoTumble"}, {Option: "Collate", Choice: "True"}}, Resolver: "fixall"},
	}
	require.NoError(t, p.Mark("Duplex", "DuplexNoTumble"))
	require.NoError(t, p.Mark("InputSlot", "Tray2"))
	require.NoError(t, p.Mark("Collate", "True"))

	require.NoError(t, p.ResolveConflicts("InputSlot", "Tray2"))
	require.Empty(t, p.ActiveConstraints())
}

func TestPickClassMemberRoundRobin(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"p1", "p2", "p3"} {
		r.AddPrinter(&Printer{Name: name, State: StateIdle, Accepting: true, Options: map[string]*Option{}})
	}
	c := &Class{Name: "c1", Members: []string{"p1", "p2", "p3"}}
	r.AddClass(c)

	p, ok := r.PickClassMember(c, nil)
	require.True(t, ok)
	require.Equal(t, "p1", p.Name)

	p, ok = r.PickClassMember(c, nil)
	require.True(t, ok)
	require.Equal(t, "p2", p.Name)

	p, ok = r.PickClassMember(c, nil)
	require.True(t, ok)
	require.Equal(t, "p3", p.Name)
}

func TestListPrinterNamesCaseInsensitiveOrder(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"Zebra", "apple", "Banana"} {
		r.AddPrinter(&Printer{Name: name, Options: map[string]*Option{}})
	}
	require.Equal(t, []string{"apple", "Banana", "Zebra"}, r.ListPrinterNames())
}
