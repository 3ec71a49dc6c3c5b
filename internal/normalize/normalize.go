// Package normalize converts raw extracted tokens into canonical forms.
// Every function is total: malformed input yields a documented default
// (the original string, zero, empty) instead of an error, so extraction
// never aborts on a single bad token.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	dayFirstRe  = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{2,4})\b`)
	yearFirstRe = regexp.MustCompile(`\b(\d{4})[/\-.](\d{1,2})[/\-.](\d{1,2})\b`)
	dayMonRe    = regexp.MustCompile(`(?i)(\d{1,2})\s+(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+(\d{4})`)
	monDayRe    = regexp.MustCompile(`(?i)(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\s+(\d{1,2}),?\s+(\d{4})`)

	amountCleanRe = regexp.MustCompile(`[^\d.\-]`)
	nonDigitRe    = regexp.MustCompile(`\D`)
	phoneCleanRe  = regexp.MustCompile(`[^\d+]`)
	nameCleanRe   = regexp.MustCompile(`[^A-Za-z\s\-.]`)
)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// Date normalizes a date string to ISO-8601 (YYYY-MM-DD). Recognizers are
// tried in order: numeric Y/M/D, numeric D/M/Y, "D Mon YYYY", "Mon D, YYYY".
// Year-first runs before day-first so an already-ISO date is never re-read
// as day-first. Two-digit years are assumed to be in the 21st century. If
// no recognizer matches, the input is returned unchanged; the validator
// catches those via its date-format rule.
func Date(s string) string {
	if s == "" {
		return ""
	}
	s = strings.TrimSpace(s)

	if m := yearFirstRe.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		candidate := fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
		if _, err := time.Parse("2006-01-02", candidate); err == nil {
			return candidate
		}
	}

	if m := dayFirstRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return fmt.Sprintf("%s-%02d-%02d", year, month, day)
	}

	if m := dayMonRe.FindStringSubmatch(s); m != nil {
		if month, ok := monthNumbers[strings.ToLower(m[2])]; ok {
			day, _ := strconv.Atoi(m[1])
			return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
		}
	}

	if m := monDayRe.FindStringSubmatch(s); m != nil {
		if month, ok := monthNumbers[strings.ToLower(m[1])]; ok {
			day, _ := strconv.Atoi(m[2])
			return fmt.Sprintf("%s-%02d-%02d", m[3], month, day)
		}
	}

	return s
}

// Amount normalizes any amount-shaped value to a float. Unparsable or
// empty input yields 0.0; callers must check field presence separately
// instead of treating 0.0 as absent.
func Amount(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0.0
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		cleaned := amountCleanRe.ReplaceAllString(strings.TrimSpace(t), "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

// Currency normalizes a currency string to a two-decimal representation,
// returning the input unchanged when it does not parse.
func Currency(s string) string {
	if s == "" {
		return ""
	}
	cleaned := amountCleanRe.ReplaceAllString(s, "")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f", f)
}

// Name normalizes a personal or company name: collapse whitespace, strip
// characters outside letters, spaces, hyphens and periods, title-case words.
func Name(s string) string {
	if s == "" {
		return ""
	}
	collapsed := strings.Join(strings.Fields(s), " ")
	cleaned := nameCleanRe.ReplaceAllString(collapsed, "")

	words := strings.Fields(cleaned)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

// AccountNumber strips everything but digits.
func AccountNumber(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// PhoneNumber keeps digits and a leading plus, replacing a leading zero
// with the default UK country code.
func PhoneNumber(s string) string {
	if s == "" {
		return ""
	}
	cleaned := phoneCleanRe.ReplaceAllString(strings.TrimSpace(s), "")
	if strings.HasPrefix(cleaned, "0") {
		cleaned = "+44" + cleaned[1:]
	}
	return cleaned
}

// Percentage normalizes a percentage value to a [0,1] fraction.
// Unparsable input yields 0.0.
func Percentage(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0.0
	case float64:
		return t / 100.0
	case int:
		return float64(t) / 100.0
	default:
		cleaned := amountCleanRe.ReplaceAllString(strings.TrimSpace(fmt.Sprint(v)), "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0.0
		}
		return f / 100.0
	}
}

var truthy = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "t": true}
var falsy = map[string]bool{"false": true, "no": true, "n": true, "0": true, "f": true}

// Boolean normalizes truthy/falsy tokens case-insensitively. Values outside
// the token set fall back to Go truthiness of the input.
func Boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		if truthy[lower] {
			return true
		}
		if falsy[lower] {
			return false
		}
		return t != ""
	case nil:
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
