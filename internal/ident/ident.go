// Package ident generates deterministic, namespaced entity identifiers.
//
// Every ID is a UUIDv5 (SHA-1, RFC 4122) over a fixed per-entity-kind
// namespace and a canonical encoding of the key components. The same
// namespace and components always produce the bit-identical ID across
// processes and machines; nothing here depends on wall-clock time.
package ident

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Fixed namespaces. These values are load-bearing: changing any of them
// changes every derived ID in every sink.
var (
	NamespacePerson      = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	NamespaceLegislature = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	NamespaceParty       = uuid.MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
	NamespaceMandate     = uuid.MustParse("6ba7b813-9dad-11d1-80b4-00c04fd430c8")
	NamespaceEvidence    = uuid.MustParse("6ba7b814-9dad-11d1-80b4-00c04fd430c8")
)

const separator = "|"

// escaper makes component content unambiguous against the separator, so
// ("a|b") and ("a","b") can never hash to the same key.
var escaper = strings.NewReplacer(`\`, `\\`, separator, `\|`)

// EncodeComponents joins components into the canonical key string.
// Exposed for tests that pin the wire-level encoding.
func EncodeComponents(components []string) string {
	escaped := make([]string, len(components))
	for i, c := range components {
		escaped[i] = escaper.Replace(c)
	}
	return strings.Join(escaped, separator)
}

// ID returns the deterministic UUIDv5 for the namespace and components.
// Every component is required: an empty component is an error, never
// silently hashed, so two incompletely-populated entities cannot collide.
func ID(namespace uuid.UUID, components ...string) (string, error) {
	if len(components) == 0 {
		return "", eris.New("ident: no components")
	}
	for i, c := range components {
		if c == "" {
			return "", eris.Errorf("ident: empty component at index %d", i)
		}
	}
	return uuid.NewSHA1(namespace, []byte(EncodeComponents(components))).String(), nil
}

// MustID is ID for call sites whose components are statically known to be
// non-empty. It panics on violation; a panic here is a programming error.
func MustID(namespace uuid.UUID, components ...string) string {
	id, err := ID(namespace, components...)
	if err != nil {
		panic(err)
	}
	return id
}

// PersonID derives the person ID from a Wikipedia page title.
func PersonID(wikipediaTitle string) (string, error) {
	title := strings.ToLower(strings.TrimSpace(wikipediaTitle))
	if title == "" {
		return "", eris.New("ident: empty wikipedia title")
	}
	return ID(NamespacePerson, title)
}

// LegislatureID derives the legislature ID from parliament, state and number.
func LegislatureID(parliament, state, number string) (string, error) {
	return ID(NamespaceLegislature, parliament, state, number)
}

// PartyID derives the party ID from the normalized party name.
func PartyID(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", eris.New("ident: empty party name")
	}
	return ID(NamespaceParty, n)
}

// MandateID derives the mandate ID. Start, end and role may legitimately be
// unknown; they participate in the key as explicit placeholders so that two
// mandates differing only in a missing field still get distinct IDs.
func MandateID(personID, legislatureID, start, end, role string) (string, error) {
	return ID(NamespaceMandate, personID, legislatureID,
		orPlaceholder(start), orPlaceholder(end), orPlaceholder(role))
}

func orPlaceholder(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
