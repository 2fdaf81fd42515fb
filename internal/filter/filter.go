// Package filter decides whether a sender address is on the ignore list.
//
// A pattern is either a literal address, matched case-insensitively, or a
// glob in which '*' matches any run of characters and '?' any single
// character. Globs are also tried against the host form of an address,
// which reads the first label of the domain as a mailbox at the rest of
// the domain: x@mailer-daemon.com has the host form mailer-daemon@com, so
// the pattern "mailer-daemon@*" ignores both bounce senders and mail sent
// from a mailer-daemon host. The same reading makes "foo@*" ignore
// bob@foo.example.com.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FilterConfigError reports an ignore pattern that cannot be used.
type FilterConfigError struct {
	Pattern string
	Err     error
}

func (e *FilterConfigError) Error() string {
	return fmt.Sprintf("invalid ignore pattern %q: %v", e.Pattern, e.Err)
}

func (e *FilterConfigError) Unwrap() error { return e.Err }

var errBlankPattern = errors.New("blank pattern")

type rule struct {
	pattern string
	literal string
	re      *regexp.Regexp
}

func (r rule) match(address string) bool {
	if r.re == nil {
		return strings.EqualFold(r.literal, address)
	}
	if r.re.MatchString(address) {
		return true
	}
	host, ok := hostForm(address)
	return ok && r.re.MatchString(host)
}

// hostForm rewrites local@label.rest as label@rest.
func hostForm(address string) (string, bool) {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return "", false
	}
	domain := address[at+1:]
	dot := strings.Index(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return "", false
	}
	return domain[:dot] + "@" + domain[dot+1:], true
}

// List is a compiled ignore list.
type List struct {
	rules []rule
}

// Compile compiles patterns. Blank patterns are ignored; patterns that do
// not compile are skipped and reported as FilterConfigErrors.
func Compile(patterns []string) (*List, []error) {
	l := &List{}
	var errs []error

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		r, err := compileRule(p)
		if err != nil {
			errs = append(errs, &FilterConfigError{Pattern: p, Err: err})
			continue
		}
		l.rules = append(l.rules, r)
	}
	return l, errs
}

func compileRule(p string) (rule, error) {
	if !utf8.ValidString(p) {
		return rule{}, errors.New("not valid UTF-8")
	}
	if strings.IndexFunc(p, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return rule{}, errors.New("contains whitespace or control characters")
	}
	if !strings.ContainsAny(p, "*?") {
		return rule{pattern: p, literal: p}, nil
	}

	expr := regexp.QuoteMeta(p)
	expr = strings.ReplaceAll(expr, `\*`, ".*")
	expr = strings.ReplaceAll(expr, `\?`, ".")

	re, err := regexp.Compile("(?i)^" + expr + "$")
	if err != nil {
		return rule{}, err
	}
	return rule{pattern: p, re: re}, nil
}

// Match returns the first pattern matching address. A nil or empty list
// never matches.
func (l *List) Match(address string) (string, bool) {
	if l == nil {
		return "", false
	}
	address = strings.TrimSpace(address)
	for _, r := range l.rules {
		if r.match(address) {
			return r.pattern, true
		}
	}
	return "", false
}

// Len returns the number of usable patterns.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// IsIgnored reports whether address matches any of patterns. Malformed
// patterns never match.
func IsIgnored(address string, patterns []string) bool {
	l, _ := Compile(patterns)
	_, ok := l.Match(address)
	return ok
}

// Split parses a delimiter-separated ignore list preference.
func Split(pref, delim string) []string {
	if pref == "" {
		return nil
	}
	if delim == "" {
		return []string{pref}
	}
	return strings.Split(pref, delim)
}

// Join renders patterns as a single preference value so that
// Split(Join(p, d), d) returns p. Patterns that are blank or contain
// the delimiter cannot survive that round trip and are refused.
func Join(patterns []string, delim string) (string, error) {
	for _, p := range patterns {
		switch {
		case strings.TrimSpace(p) == "":
			return "", &FilterConfigError{Pattern: p, Err: errBlankPattern}
		case delim != "" && strings.Contains(p, delim):
			return "", &FilterConfigError{Pattern: p, Err: fmt.Errorf("contains delimiter %q", delim)}
		}
	}
	if delim == "" && len(patterns) > 1 {
		return "", fmt.Errorf("joining %d ignore patterns: empty delimiter", len(patterns))
	}
	return strings.Join(patterns, delim), nil
}
