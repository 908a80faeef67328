// Package pii detects and redacts personal-data substrings. Detection is
// regex-based over a fixed category set; filtering walks the structured
// value tree and rewrites string leaves, so valid JSON stays valid.
package pii

import "regexp"

// Category names a class of personal data the detector recognizes.
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryIBAN       Category = "iban"
	CategoryNationalID Category = "national_id"
	CategoryIPAddress  Category = "ip_address"
	CategoryCreditCard Category = "credit_card"
)

// pattern pairs a category with its expression. Order matters: more
// specific shapes run first so an IBAN is not half-consumed as a national
// id, and the bare 11-digit national id rule runs last.
type pattern struct {
	category Category
	re       *regexp.Regexp
}

var patterns = []pattern{
	{CategoryIBAN, regexp.MustCompile(`\b[A-Z]{2}\d{2}\s?[A-Z0-9]{4}\s?\d{4}\s?\d{4}\s?\d{4}\s?\d{0,2}\b`)},
	{CategoryCreditCard, regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{CategoryEmail, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{CategoryPhone, regexp.MustCompile(`(\+49|0)\s?\d{3,4}\s?\d{6,8}`)},
	{CategoryIPAddress, regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
	{CategoryNationalID, regexp.MustCompile(`\b\d{11}\b`)},
}

// Match is one detected personal-data substring.
type Match struct {
	Category Category
	Value    string
}

// Scan returns all personal-data substrings found in s, in pattern order.
// Later patterns do not re-report text already matched by an earlier one.
func Scan(s string) []Match {
	var matches []Match
	consumed := make([]bool, len(s))

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(s, -1) {
			if overlaps(consumed, loc[0], loc[1]) {
				continue
			}
			for i := loc[0]; i < loc[1]; i++ {
				consumed[i] = true
			}
			matches = append(matches, Match{Category: p.category, Value: s[loc[0]:loc[1]]})
		}
	}
	return matches
}

// Categories returns the distinct categories present in s, in detection order.
func Categories(s string) []Category {
	seen := make(map[Category]bool)
	var cats []Category
	for _, m := range Scan(s) {
		if !seen[m.Category] {
			seen[m.Category] = true
			cats = append(cats, m.Category)
		}
	}
	return cats
}

func overlaps(consumed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if consumed[i] {
			return true
		}
	}
	return false
}
