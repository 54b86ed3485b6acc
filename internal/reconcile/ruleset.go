package reconcile

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/openparl/evidence-cli/internal/model"
)

// RulesetVersion tags every assertion with the matching procedure that
// produced it.
const RulesetVersion = "ruleset_v1"

const (
	scoreExact   = 1.0
	scorePartial = 0.95

	// acceptThreshold and acceptMargin gate automatic acceptance: the
	// top candidate must clear the threshold and lead the runner-up by
	// at least the margin.
	acceptThreshold = 0.95
	acceptMargin    = 0.05
)

// ShortForms maps a documented given-name short form to the full forms
// it may stand for. Both directions are consulted. The table is
// operator-extensible; the default covers only well-attested German
// hypocorisms.
type ShortForms map[string][]string

// DefaultShortForms returns the built-in short-form table.
func DefaultShortForms() ShortForms {
	return ShortForms{
		"sepp":  {"josef", "joseph"},
		"hans":  {"johannes", "johann"},
		"fritz": {"friedrich"},
		"heinz": {"heinrich"},
		"willi": {"wilhelm"},
		"klaus": {"nikolaus"},
		"greta": {"margarete", "margareta"},
	}
}

// standsFor reports whether short is a documented short form of full.
func (s ShortForms) standsFor(short, full string) bool {
	for _, f := range s[short] {
		if f == full {
			return true
		}
	}
	return false
}

// Ruleset is the deterministic scoring procedure. Scoring is a pure
// function of the two names; overrides are applied by the engine after
// scoring, never inside it.
type Ruleset struct {
	ShortForms ShortForms
}

// NewRuleset returns a ruleset with the default short-form table.
func NewRuleset() *Ruleset {
	return &Ruleset{ShortForms: DefaultShortForms()}
}

// dipFullName assembles the DIP record's name in Wikipedia order.
func dipFullName(d model.DipPersonRecord) string {
	parts := make([]string, 0, 3)
	if d.Vorname != "" {
		parts = append(parts, d.Vorname)
	}
	if d.Namenszusatz != "" {
		parts = append(parts, d.Namenszusatz)
	}
	if d.Nachname != "" {
		parts = append(parts, d.Nachname)
	}
	return strings.Join(parts, " ")
}

// Score rates one Wikipedia/DIP pair. Candidates whose normalized
// family names differ are not scored at all (0.0): the family name is
// the blocking key that bounds the comparison space.
func (r *Ruleset) Score(wiki model.WikipediaPersonRecord, dip model.DipPersonRecord) float64 {
	w := SplitName(NormalizeName(wiki.Name))

	dipFamily := NormalizeName(dip.Nachname)
	dipGiven := firstToken(NormalizeName(dip.Vorname))
	if dipFamily == "" || dipGiven == "" {
		// DIP records without split fields fall back to full-name order.
		d := SplitName(NormalizeName(dipFullName(dip)))
		if dipFamily == "" {
			dipFamily = d.Family
		}
		if dipGiven == "" {
			dipGiven = d.Given
		}
	}

	if w.Family == "" || dipFamily == "" || w.Family != dipFamily {
		return 0
	}

	switch {
	case w.Given == dipGiven && w.Given != "":
		return scoreExact
	case r.givenPartial(w.Given, dipGiven):
		return scorePartial
	default:
		return 0
	}
}

// givenPartial reports whether two given names match loosely: one is a
// prefix of the other (at least two runes) or one is a documented short
// form of the other.
func (r *Ruleset) givenPartial(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if utf8.RuneCountInString(a) >= 2 && utf8.RuneCountInString(b) >= 2 &&
		(strings.HasPrefix(a, b) || strings.HasPrefix(b, a)) {
		return true
	}
	return r.ShortForms.standsFor(a, b) || r.ShortForms.standsFor(b, a)
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// acceptReason renders the audit reason for an accepted ruleset match.
func acceptReason(score float64) string {
	return fmt.Sprintf("unique match with score %.2f", score)
}

// ambiguousReason renders the audit reason for a pending decision.
func ambiguousReason(best, second float64) string {
	return fmt.Sprintf("ambiguous match: best=%.2f, second=%.2f", best, second)
}
