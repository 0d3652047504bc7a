package timeexpr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/cbegin/tickwork/internal/errs"
)

// Parse reads a time expression. Whitespace around terms is ignored and unit
// suffixes are case-insensitive.
func Parse(input string) (Value, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, formatErr(input, "empty expression")
	}
	if s[0] == '+' {
		off, err := parseSum(input, s[1:])
		if err != nil {
			return nil, err
		}
		return Relative{Offset: off}, nil
	}
	return parseSum(input, s)
}

// MustParse is Parse for constant expressions; it panics on error.
func MustParse(input string) Value {
	v, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return v
}

func parseSum(input, s string) (Value, error) {
	terms := splitTerms(s)
	if len(terms) == 1 {
		return parseTerm(input, terms[0])
	}
	sum := make(Sum, 0, len(terms))
	for _, term := range terms {
		v, err := parseTerm(input, term)
		if err != nil {
			return nil, err
		}
		sum = append(sum, v)
	}
	return sum, nil
}

// splitTerms splits on '+' except where it is an exponent sign ("1e+3").
func splitTerms(s string) []string {
	var terms []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '+' {
			continue
		}
		if i >= 2 && (s[i-1] == 'e' || s[i-1] == 'E') && isDigit(s[i-2]) {
			continue
		}
		terms = append(terms, s[start:i])
		start = i + 1
	}
	return append(terms, s[start:])
}

func parseTerm(input, term string) (Value, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, formatErr(input, "empty term")
	}
	switch {
	case strings.Contains(term, ":"):
		return parsePosition(input, term)
	case strings.HasSuffix(term, "samples"):
		n, err := parseUnsigned(input, strings.TrimSuffix(term, "samples"))
		if err != nil {
			return nil, err
		}
		return Samples(n), nil
	case strings.HasSuffix(term, "hz"):
		f, err := parseUnsigned(input, strings.TrimSuffix(term, "hz"))
		if err != nil {
			return nil, err
		}
		return Hertz(f), nil
	case strings.HasSuffix(term, "i"):
		body := strings.TrimSuffix(term, "i")
		if !allDigits(body) {
			return nil, formatErr(input, "ticks must be a whole number")
		}
		n, _ := strconv.ParseFloat(body, 64)
		return Ticks(n), nil
	case strings.HasSuffix(term, "m"):
		n, err := parseUnsigned(input, strings.TrimSuffix(term, "m"))
		if err != nil {
			return nil, err
		}
		return Notation{Measures: n}, nil
	case strings.HasSuffix(term, "s"):
		n, err := parseNumber(input, strings.TrimSuffix(term, "s"))
		if err != nil {
			return nil, err
		}
		return Seconds(n), nil
	}
	if q, ok, err := parseNoteValue(input, term); ok || err != nil {
		if err != nil {
			return nil, err
		}
		return Notation{Quarters: q}, nil
	}
	n, err := parseNumber(input, term)
	if err != nil {
		return nil, err
	}
	return Seconds(n), nil
}

// parseNoteValue handles "4n", "8t", "4n." and "2n..". It reports ok=false
// when term is not in note form at all.
func parseNoteValue(input, term string) (float64, bool, error) {
	i := 0
	for i < len(term) && isDigit(term[i]) {
		i++
	}
	if i == 0 || i == len(term) {
		return 0, false, nil
	}
	unit := term[i]
	if unit != 'n' && unit != 't' {
		return 0, false, nil
	}
	rest := term[i+1:]
	dots := 0
	for dots < len(rest) && rest[dots] == '.' {
		dots++
	}
	if dots != len(rest) {
		return 0, true, formatErr(input, "unexpected characters after note value")
	}
	div, _ := strconv.Atoi(term[:i])
	if div <= 0 {
		return 0, true, formatErr(input, "zero-length note subdivision")
	}
	base := 4 / float64(div)
	if unit == 't' {
		base *= 2.0 / 3.0
	}
	dur, part := base, base
	for k := 0; k < dots; k++ {
		part /= 2
		dur += part
	}
	return dur, true, nil
}

func parsePosition(input, term string) (Value, error) {
	parts := strings.Split(term, ":")
	if len(parts) > 3 {
		return nil, formatErr(input, "position has more than three fields")
	}
	var fields [3]float64
	for i, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		v, err := parseUnsigned(input, p)
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	return Notation{Measures: fields[0], Quarters: fields[1], Sixteenths: fields[2]}, nil
}

func parseNumber(input, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, formatErr(input, "missing number")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, formatErr(input, "not a number")
	}
	return v, nil
}

func parseUnsigned(input, s string) (float64, error) {
	v, err := parseNumber(input, s)
	if err != nil {
		return 0, err
	}
	if v < 0 || strings.HasPrefix(strings.TrimSpace(s), "-") {
		return 0, formatErr(input, "negative value")
	}
	return v, nil
}

func formatErr(input, reason string) error {
	return fmt.Errorf("%w: %q: %s", errs.ErrInvalidTimeFormat, input, reason)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
