package destination

import (
	"strings"

	"github.com/printspool/printspoold/internal/errs"
)

// isTermSatisfied reports whether a constraint term matches the printer's
// currently marked choices, honoring the PageSize/PageRegion alias, the
// AP_FIRSTPAGE_ prefix alias, the "any choice but None/Off/False" wildcard,
// and the Custom sentinel.
func (p *Printer) isTermSatisfied(term ConstraintTerm) bool {
	optName := term.Option
	marked := p.markedChoice(optName)

	if term.Choice == "" {
		return marked != "" && marked != "None" && marked != "Off" && marked != "False"
	}
	if isCustom(marked) {
		return term.Choice == "Custom"
	}
	return strings.EqualFold(marked, term.Choice)
}

// markedChoice resolves an option name to its effectively marked choice,
// applying the PageSize/PageRegion and AP_FIRSTPAGE_ aliasing rules.
func (p *Printer) markedChoice(optName string) string {
	norm := normalizedOption(optName)

	if pageSizeAliases[norm] {
		if v := p.rawMarked("PageSize"); v != "" {
			return v
		}
		return p.rawMarked("PageRegion")
	}

	if strings.HasPrefix(strings.ToUpper(optName), "AP_FIRSTPAGE_") {
		bare := optName[len("AP_FIRSTPAGE_"):]
		if v := p.rawMarked(optName); v != "" {
			return v
		}
		return p.rawMarked(bare)
	}

	return p.rawMarked(optName)
}

func (p *Printer) rawMarked(optName string) string {
	for name, opt := range p.Options {
		if normalizedOption(name) == normalizedOption(optName) {
			return opt.Marked
		}
	}
	return ""
}

// isActive reports whether every term of c matches the printer's current
// marks.
func (p *Printer) isActive(c Constraint) bool {
	for _, t := range c.Terms {
		if !p.isTermSatisfied(t) {
			return false
		}
	}
	return len(c.Terms) > 0
}

// ActiveConstraints returns every currently active constraint.
func (p *Printer) ActiveConstraints() []Constraint {
	var out []Constraint
	for _, c := range p.Constraints {
		if p.isActive(c) {
			out = append(out, c)
		}
	}
	return out
}

// isPageSizeAlias reports whether optName refers to PageSize or PageRegion.
func isPageSizeAlias(optName string) bool {
	return pageSizeAliases[normalizedOption(optName)]
}

// ResolveConflicts attempts to produce an augmented set of option changes
// that activates zero constraints, given the option that triggered the
// call (the "newly-selected" option/choice). It mutates p's marks in
// place on success and returns an error (subscription-loop) on failure,
// leaving marks as they stood after the triggering Mark call (previous
// marking preserved, per §7's subscription-loop handling).
func (p *Printer) ResolveConflicts(triggerOption, triggerChoice string) (err error) {
	saved := make(map[string]string, len(p.Options))
	for name, opt := range p.Options {
		saved[name] = opt.Marked
	}
	defer func() {
		if err != nil {
			for name, opt := range p.Options {
				opt.Marked = saved[name]
			}
		}
	}()

	// usedResolvers records resolvers that have already completed a full
	// pass; only a resolver's reuse *across* passes is a loop. Two
	// distinct active constraints sharing one resolver within the same
	// pass are not a loop: the resolver just gets applied once and the
	// rest of that pass skips it (original_source/cups/conflicts.c's
	// per-pass `pass` array vs. the cross-pass reuse check).
	usedResolvers := make(map[string]bool)

	for iter := 0; iter < p.ResolverIterationLimit; iter++ {
		active := p.ActiveConstraints()
		if len(active) == 0 {
			if !strings.EqualFold(triggerOption, "Collate") {
				p.clearMark("Collate")
			}
			return nil
		}

		passResolvers := make(map[string]bool)
		progressed := false
		for _, c := range active {
			if c.Resolver != "" {
				if passResolvers[c.Resolver] {
					continue
				}
				if usedResolvers[c.Resolver] {
					return errs.New(errs.SubscriptionLoop, "resolver loop: "+c.Resolver)
				}
				res, ok := p.Resolvers[c.Resolver]
				if !ok {
					continue
				}
				passResolvers[c.Resolver] = true
				for opt, choice := range res {
					if strings.EqualFold(opt, triggerOption) || isPageSizeAlias(opt) && isPageSizeAlias(triggerOption) {
						continue
					}
					if err := p.Mark(opt, choice); err == nil {
						progressed = true
					}
				}
				continue
			}

			for _, t := range c.Terms {
				opt, ok := p.Options[t.Option]
				if !ok || opt.Installable {
					continue
				}
				if p.tryNonConflictingChoice(opt, t) {
					progressed = true
				}
			}
		}

		for resolver := range passResolvers {
			usedResolvers[resolver] = true
		}

		if !progressed {
			return errs.New(errs.SubscriptionLoop, "conflict resolution made no progress")
		}
	}

	return errs.New(errs.SubscriptionLoop, "conflict resolution exceeded iteration limit")
}

// tryNonConflictingChoice tries opt's default choice first, then its other
// choices (excluding current, default, and "Custom"), stopping at the
// first that leaves no active constraint referencing this option's term.
func (p *Printer) tryNonConflictingChoice(opt *Option, term ConstraintTerm) bool {
	current := opt.Marked
	candidates := []string{opt.Default}
	for _, c := range opt.Choices {
		if c == current || c == opt.Default || c == "Custom" {
			continue
		}
		candidates = append(candidates, c)
	}

	for _, c := range candidates {
		if c == "" || c == current {
			continue
		}
		opt.Marked = c
		if !p.isTermSatisfied(term) {
			return true
		}
	}
	opt.Marked = current
	return false
}
