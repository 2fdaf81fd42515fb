package normalize

import (
	"strings"
	"unicode/utf8"
)

const defaultName = "Contact"

// GuessFromName derives a first name from a sender display name.
//
// Blank input yields "Contact". Leading tokens carrying a raw "=?UTF"
// encoded-word are dropped. A single remaining token returns the trimmed
// input unchanged. Otherwise a first token of one or two characters is
// an initial and the first two tokens are kept ("M. Night"); a first
// token ending in a comma means "Last, First" order and the second token
// is returned; else the first token is returned.
func GuessFromName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultName
	}

	tokens := splitSpaces(trimmed)
	for len(tokens) > 0 && strings.Contains(tokens[0], "=?UTF") {
		tokens = tokens[1:]
	}

	switch {
	case len(tokens) == 0:
		return defaultName
	case len(tokens) == 1:
		return trimmed
	case utf8.RuneCountInString(tokens[0]) <= 2:
		return tokens[0] + " " + tokens[1]
	case strings.HasSuffix(tokens[0], ","):
		return tokens[1]
	default:
		return tokens[0]
	}
}

// FormatAddress renders a display form of a sender.
func FormatAddress(name, address string) string {
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)

	switch {
	case name != "" && address != "":
		return `"` + name + `" <` + address + `>`
	case address != "":
		return address
	case name != "":
		return name
	}
	return "<unknown>"
}

// splitSpaces tokenizes on single spaces, dropping the empty tokens that
// repeated spaces would produce.
func splitSpaces(s string) []string {
	parts := strings.Split(s, " ")
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
