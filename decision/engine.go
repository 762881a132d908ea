package decision

import (
	chatcore "github.com/creastat/chatcore"
)

// Limits bounds the size of canonical decision state.
type Limits struct {
	// MaxItems caps total live items: fixed + flex + one slot for the memo
	// when non-empty. Non-positive disables the cap.
	MaxItems int

	// FlexKeyLimit caps live items whose key is outside the mode's schema.
	FlexKeyLimit int

	// MaxChars caps the rendered text length in runes. Non-positive
	// disables the cap.
	MaxChars int
}

// DefaultLimits mirrors the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxItems:     10,
		FlexKeyLimit: 2,
		MaxChars:     2000,
	}
}

// Engine reconciles decision text. It is a pure function of its inputs:
// no storage access, safe for concurrent use.
type Engine struct {
	limits Limits
}

// NewEngine creates an engine with the given limits.
func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits}
}

// Enforce normalizes decision text against the mode's schema policy. Empty
// or sentinel-only input renders the localized "no decisions yet" message.
func (e *Engine) Enforce(text string, mode chatcore.Mode, lang chatcore.Language) string {
	return enforce(text, mode, lang, e.limits)
}

// ApplyPatch applies a structured patch to previous decision text and
// re-enforces policy. Applying the same patch to the same prior state twice
// yields the same canonical text as applying it once.
func (e *Engine) ApplyPatch(prevText string, p Patch, mode chatcore.Mode, lang chatcore.Language) string {
	return enforce(applyPatch(prevText, p), mode, lang, e.limits)
}

// Reconcile merges raw model output into previous decision text. When the
// output parses as a patch it is applied structurally; otherwise the output
// is folded in line by line. The result is always policy-enforced canonical
// text.
func (e *Engine) Reconcile(prevText, modelText string, mode chatcore.Mode, lang chatcore.Language) string {
	prev := enforce(prevText, mode, lang, e.limits)

	var merged string
	if p, ok := ParsePatch(modelText); ok {
		merged = applyPatch(prev, p)
	} else {
		merged = mergeText(prev, chatcore.SanitizeText(modelText, e.limits.MaxChars))
	}
	return enforce(merged, mode, lang, e.limits)
}
