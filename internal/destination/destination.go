// Package destination maintains the printer and class tables: option
// marking with implicit couplings, constraint/conflict detection, and
// conflict resolution via resolvers or choice substitution. Grounded on
// original_source/cups/conflicts.c (cupsResolveConflicts, ppdConflicts) for
// the marking/coupling/resolution algorithm, and
// original_source/scheduler/classes.c for round-robin member selection.
package destination

import (
	"sort"
	"strings"

	"github.com/printspool/printspoold/internal/errs"
)

// State is a printer or stub-class-member's operational state.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateStopped
)

// SelectionPolicy governs whether marking a choice clears any prior mark.
type SelectionPolicy int

const (
	SinglePick SelectionPolicy = iota
	PickMany
)

// Choice is one selectable value of an Option.
type Choice struct {
	Name string
}

// Option is a printer's named option with its available choices.
type Option struct {
	Name     string
	Policy   SelectionPolicy
	Default  string
	Choices  []string
	// Installable is false for options like "PageSize" whose constraints
	// participate in automatic resolution (vs. hardware-installable
	// options, which the resolver never substitutes).
	Installable bool
	// Marked is the currently marked choice, "" if none.
	Marked string
	// CustomParams holds the parsed parameter list for the last custom
	// choice marked on this option, if any.
	CustomParams []CustomParam
}

// ConstraintTerm is one (option, choice) pair in a Constraint. Choice == ""
// means "any choice other than None/Off/False".
type ConstraintTerm struct {
	Option, Choice string
}

// Constraint is active when every one of its Terms matches the currently
// marked choice of its option (subject to the special matching rules in
// isTermSatisfied).
type Constraint struct {
	Terms    []ConstraintTerm
	Resolver string // "" if this constraint has no named resolver
}

// Resolution is a named resolver's suggested option-choice assignments.
type Resolution map[string]string

// Printer is one entry of the registry.
type Printer struct {
	Name        string
	State       State
	Accepting   bool
	PrinterType string // the MIME filter-graph sink vertex, "printer/<name>"

	Options     map[string]*Option
	Constraints []Constraint
	Resolvers   map[string]Resolution

	// ResolverIterationLimit bounds conflict-resolution loops; default 100
	// per spec, overridable for tests.
	ResolverIterationLimit int
}

// Class is a printer group with round-robin dispatch.
type Class struct {
	Name    string
	Members []string // printer names, in configured order
	cursor  int       // last dispatched index, -1 before first dispatch
}

// Registry holds printer and class tables, keyed case-insensitively.
type Registry struct {
	printers map[string]*Printer
	classes  map[string]*Class
}

func NewRegistry() *Registry {
	return &Registry{
		printers: make(map[string]*Printer),
		classes:  make(map[string]*Class),
	}
}

func key(name string) string { return strings.ToLower(name) }

// AddPrinter registers or replaces a printer.
func (r *Registry) AddPrinter(p *Printer) {
	if p.ResolverIterationLimit == 0 {
		p.ResolverIterationLimit = 100
	}
	r.printers[key(p.Name)] = p
}

// Printer looks up a printer by case-insensitive name.
func (r *Registry) Printer(name string) (*Printer, bool) {
	p, ok := r.printers[key(name)]
	return p, ok
}

// RemovePrinter deletes a printer from the registry.
func (r *Registry) RemovePrinter(name string) {
	delete(r.printers, key(name))
}

// AddClass registers or replaces a class, resetting its round-robin cursor.
func (r *Registry) AddClass(c *Class) {
	c.cursor = -1
	r.classes[key(c.Name)] = c
}

// Class looks up a class by case-insensitive name.
func (r *Registry) Class(name string) (*Class, bool) {
	c, ok := r.classes[key(name)]
	return c, ok
}

// ListPrinterNames returns printer names in case-insensitive lexicographic
// order.
func (r *Registry) ListPrinterNames() []string {
	names := make([]string, 0, len(r.printers))
	for _, p := range r.printers {
		names = append(names, p.Name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// PickClassMember scans class members starting just after the round-robin
// cursor, returning the first whose state is idle or whose type is
// remote-and-not-currently-printing. Advances the cursor on success.
func (r *Registry) PickClassMember(c *Class, isRemote func(printerName string) bool) (*Printer, bool) {
	n := len(c.Members)
	if n == 0 {
		return nil, false
	}
	for i := 1; i <= n; i++ {
		idx := (c.cursor + i) % n
		name := c.Members[idx]
		p, ok := r.printers[key(name)]
		if !ok {
			continue
		}
		if p.State == StateIdle || (isRemote != nil && isRemote(name) && p.State != StateProcessing) {
			c.cursor = idx
			return p, true
		}
	}
	return nil, false
}

var pageSizeAliases = map[string]bool{"pagesize": true, "pageregion": true}

func normalizedOption(name string) string { return strings.ToLower(name) }

// isCustom reports whether choice is a custom value: "Custom.*" or
// "{...}".
func isCustom(choice string) bool {
	return strings.HasPrefix(choice, "Custom.") ||
		(strings.HasPrefix(choice, "{") && strings.HasSuffix(choice, "}"))
}

// Mark marks choice for option o on printer p, applying single-pick
// clearing, implicit couplings, and custom-choice parsing.
func (p *Printer) Mark(optionName, choice string) error {
	opt, ok := p.Options[optionName]
	if !ok {
		return errs.New(errs.ConfigParse, "unknown option: "+optionName)
	}

	if opt.Policy == SinglePick {
		opt.Marked = choice
	} else if !containsChoice(opt.Marked, choice) {
		if opt.Marked == "" {
			opt.Marked = choice
		} else {
			opt.Marked += "," + choice
		}
	}

	p.applyCouplings(optionName, choice)

	if isCustom(choice) {
		if err := p.parseCustomValue(opt, choice); err != nil {
			return err
		}
	}
	return nil
}

func containsChoice(marked, choice string) bool {
	for _, c := range strings.Split(marked, ",") {
		if c == choice {
			return true
		}
	}
	return false
}

func (p *Printer) applyCouplings(optionName, choice string) {
	switch normalizedOption(optionName) {
	case "pagesize":
		p.clearMark("PageRegion")
	case "pageregion":
		p.clearMark("PageSize")
	case "inputslot":
		p.clearMark("ManualFeed")
	case "manualfeed":
		if strings.EqualFold(choice, "True") {
			p.clearMark("InputSlot")
		}
	case "ap_d_inputslot":
		p.clearMark("InputSlot")
	}
}

func (p *Printer) clearMark(optionName string) {
	for name, opt := range p.Options {
		if normalizedOption(name) == normalizedOption(optionName) {
			opt.Marked = ""
		}
	}
}

// CustomParam is one parameter of a custom choice's value (real, int,
// points-with-unit, or string).
type CustomParam struct {
	Kind  CustomParamKind
	Real  float64
	Int   int64
	Str   string
}

type CustomParamKind int

const (
	CustomReal CustomParamKind = iota
	CustomInt
	CustomPoints
	CustomString
)

var unitToPoints = map[string]float64{
	"in": 72, "ft": 72 * 12, "cm": 72 / 2.54, "mm": 72 / 25.4, "m": 72 / 0.0254,
}

func (p *Printer) parseCustomValue(opt *Option, choice string) error {
	body := choice
	if strings.HasPrefix(choice, "Custom.") {
		body = strings.TrimPrefix(choice, "Custom.")
	} else {
		body = strings.TrimSuffix(strings.TrimPrefix(choice, "{"), "}")
	}
	opt.CustomParams = parseCustomParams(body)
	return nil
}

func parseCustomParams(body string) []CustomParam {
	var params []CustomParam
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		params = append(params, parseCustomParam(field))
	}
	return params
}

func parseCustomParam(field string) CustomParam {
	for unit, factor := range unitToPoints {
		if strings.HasSuffix(field, unit) {
			numeric := strings.TrimSuffix(field, unit)
			if v, ok := parseFloat(numeric); ok {
				return CustomParam{Kind: CustomPoints, Real: v * factor}
			}
		}
	}
	if v, ok := parseFloat(field); ok {
		if isIntegral(field) {
			return CustomParam{Kind: CustomInt, Int: int64(v)}
		}
		return CustomParam{Kind: CustomReal, Real: v}
	}
	return CustomParam{Kind: CustomString, Str: field}
}

func isIntegral(s string) bool {
	return !strings.ContainsAny(s, ".eE")
}

func parseFloat(s string) (float64, bool) {
	var v float64
	var neg bool
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	if i >= len(s) {
		return 0, false
	}
	seenDigit, seenDot := false, false
	frac := 0.1
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9' && !seenDot:
			v = v*10 + float64(c-'0')
			seenDigit = true
		case c >= '0' && c <= '9' && seenDot:
			v += float64(c-'0') * frac
			frac /= 10
			seenDigit = true
		case c == '.' && !seenDot:
			seenDot = true
		default:
			return 0, false
		}
	}
	if !seenDigit {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}
