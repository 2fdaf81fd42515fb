package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the type of a value rendered into, or read from, SQL.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDate
	KindDateTime
	KindBool
	KindCurrency
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindBool:
		return "bool"
	case KindCurrency:
		return "currency"
	}
	return "unknown"
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Dialect renders typed values as SQL literals.
type Dialect struct {
	Name string

	// DateDelim wraps date literals.
	DateDelim string

	// True and False are the boolean numerals.
	True, False string
}

var (
	// Jet is the legacy desktop database dialect. Its literal format is a
	// compatibility contract with the external schema.
	Jet = Dialect{Name: "jet", DateDelim: "#", True: "-1", False: "0"}

	// SQLite is the dialect of the embedded backend.
	SQLite = Dialect{Name: "sqlite", DateDelim: "'", True: "1", False: "0"}
)

// FormatValue renders v as a literal of the legacy dialect.
func FormatValue(kind Kind, v any) (string, error) {
	return Jet.Format(kind, v)
}

// FormatDate renders t as a legacy date literal, #YYYY-MM-DD# or
// #YYYY-MM-DD HH:MM:SS#. Times are rendered in UTC.
func FormatDate(t time.Time, withTime bool) string {
	return Jet.date(t, withTime)
}

// ParseDate parses a date literal produced by FormatDate (with either
// delimiter, or none) and returns it in UTC.
func ParseDate(lit string) (time.Time, error) {
	s := strings.TrimSpace(lit)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '#' && last == '#') || (first == '\'' && last == '\'') {
			s = s[1 : len(s)-1]
		}
	}

	for _, layout := range []string{dateTimeLayout, dateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing date literal %q", lit)
}

// Quote renders s as a single-quoted string literal, doubling every
// embedded quote. NUL bytes end a literal in both engines and are
// dropped; invalid UTF-8 is replaced with U+FFFD.
func Quote(s string) string {
	s = strings.ToValidUTF8(strings.ReplaceAll(s, "\x00", ""), "\uFFFD")
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Format renders v as a literal of kind in dialect d. A nil v renders NULL.
func (d Dialect) Format(kind Kind, v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}

	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return "", mismatch(kind, v)
		}
		return Quote(s), nil

	case KindInt:
		n, ok := toInt64(v)
		if !ok {
			return "", mismatch(kind, v)
		}
		return strconv.FormatInt(n, 10), nil

	case KindDate, KindDateTime:
		t, ok := v.(time.Time)
		if !ok {
			return "", mismatch(kind, v)
		}
		return d.date(t, kind == KindDateTime), nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return "", mismatch(kind, v)
		}
		if b {
			return d.True, nil
		}
		return d.False, nil

	case KindCurrency:
		switch c := v.(type) {
		case float64:
			return strconv.FormatFloat(c, 'f', 4, 64), nil
		case float32:
			return strconv.FormatFloat(float64(c), 'f', 4, 32), nil
		default:
			n, ok := toInt64(v)
			if !ok {
				return "", mismatch(kind, v)
			}
			return strconv.FormatInt(n, 10) + ".0000", nil
		}
	}

	return "", fmt.Errorf("unsupported kind %d", kind)
}

// MustFormat is Format for values whose type is known to match kind.
func (d Dialect) MustFormat(kind Kind, v any) string {
	s, err := d.Format(kind, v)
	if err != nil {
		panic(err)
	}
	return s
}

func (d Dialect) date(t time.Time, withTime bool) string {
	layout := dateLayout
	if withTime {
		layout = dateTimeLayout
	}
	return d.DateDelim + t.UTC().Format(layout) + d.DateDelim
}

func mismatch(kind Kind, v any) error {
	return fmt.Errorf("cannot format %T as %s", v, kind)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}
