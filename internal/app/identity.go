package app

import (
	"strings"
)

const pairSeparator = "||"

// Identity names a trackable entity: a market symbol, or a DEX item id with
// an optional pair or contract.
type Identity struct {
	ID   string `json:"id"`
	Pair string `json:"pair,omitempty"`
}

// NewIdentity normalizes id and trims pair.
func NewIdentity(id, pair string) Identity {
	return Identity{ID: NormalizeSymbol(id), Pair: strings.TrimSpace(pair)}
}

// Key is the cache key. Changing either half changes the key.
func (i Identity) Key() string {
	if i.ID == "" {
		return ""
	}
	if i.Pair == "" {
		return i.ID
	}
	return i.ID + pairSeparator + i.Pair
}

func (i Identity) IsZero() bool { return i.ID == "" }

func (i Identity) String() string { return i.Key() }

// ParseKey reverses Key.
func ParseKey(key string) Identity {
	id, pair, _ := strings.Cut(key, pairSeparator)
	return Identity{ID: id, Pair: pair}
}

// NormalizeSymbol uppercases s and drops every rune outside [A-Z0-9._-].
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isSymbolRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// LikelySymbol reports whether s looks like a market symbol rather than a
// DEX item id. Short ids can be misclassified.
func LikelySymbol(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || len(s) > 12 {
		return false
	}
	for _, r := range s {
		if !isSymbolRune(r) {
			return false
		}
	}
	return true
}

func isSymbolRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-'
}
