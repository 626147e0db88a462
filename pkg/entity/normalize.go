package entity

import (
	"strings"
)

var titles = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {},
}

var suffixes = map[string]struct{}{
	"jr": {}, "sr": {}, "ii": {}, "iii": {}, "iv": {},
}

// NormalizeName strips leading titles and trailing generational suffixes,
// lowercases, and collapses whitespace, per §4.3 step 3.
func NormalizeName(name string) string {
	tokens := strings.Fields(strings.ToLower(name))
	if len(tokens) == 0 {
		return ""
	}

	if len(tokens) > 1 {
		first := strings.TrimSuffix(tokens[0], ".")
		if _, ok := titles[first]; ok {
			tokens = tokens[1:]
		}
	}
	if len(tokens) > 1 {
		last := strings.TrimSuffix(tokens[len(tokens)-1], ".")
		if _, ok := suffixes[last]; ok {
			tokens = tokens[:len(tokens)-1]
		}
	}
	return strings.Join(tokens, " ")
}

// Tokens splits a normalized name into its constituent whitespace-delimited
// tokens.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}

// ContainsToken reports whether the single token appears, case-insensitively,
// among name's tokens — the single-token side of §4.3 step 4's partial match.
func ContainsToken(name, token string) bool {
	token = strings.ToLower(token)
	for _, t := range Tokens(strings.ToLower(name)) {
		if t == token {
			return true
		}
	}
	return false
}
