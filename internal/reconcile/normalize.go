package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// umlautFolder maps German umlauts to their canonical digraph form
// before generic diacritic stripping, so that "Müller" and "Mueller"
// normalize identically instead of collapsing to "muller".
var umlautFolder = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// diacriticStripper removes combining marks after canonical
// decomposition, folding é→e, č→c and the like.
var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeName canonicalizes a person name for matching: case-fold,
// collapse whitespace, fold umlauts to digraphs, strip remaining
// diacritics, drop punctuation. The same rule is applied to both
// sources so normalized forms compare directly.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	s = umlautFolder.Replace(s)
	if folded, _, err := transform.String(diacriticStripper, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r) || r == '-':
			// Hyphenated double names split into tokens.
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// NameParts is a normalized name split into matching tokens.
type NameParts struct {
	Given  string
	Middle string
	Family string
}

// SplitName divides a normalized name into given, middle and family
// parts: first token is the given name, last token the family name,
// anything between is middle. Single tokens are treated as given-only.
func SplitName(normalized string) NameParts {
	tokens := strings.Fields(normalized)
	switch len(tokens) {
	case 0:
		return NameParts{}
	case 1:
		return NameParts{Given: tokens[0]}
	case 2:
		return NameParts{Given: tokens[0], Family: tokens[1]}
	default:
		return NameParts{
			Given:  tokens[0],
			Middle: strings.Join(tokens[1:len(tokens)-1], " "),
			Family: tokens[len(tokens)-1],
		}
	}
}
