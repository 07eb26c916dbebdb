// Package pii implements the minimal redaction Privacy Mode applies to
// a dataset's catalog before it is shown to the external intent
// extractor (spec §4.5, "Under Privacy Mode"): PII-shaped column names
// are replaced with numbered placeholders and their statistics are
// dropped. SQL templates still use the real column names — only the
// catalog summary sent to the LLM is redacted, since SQL always
// executes locally.
package pii

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nalyze/nalyze/internal/catalog"
)

type rule struct {
	label   string
	pattern *regexp.Regexp
}

var rules = []rule{
	{"EMAIL", regexp.MustCompile(`(?i)e.?mail`)},
	{"PHONE", regexp.MustCompile(`(?i)phone|mobile|cell`)},
	{"SSN", regexp.MustCompile(`(?i)ssn|social.?security`)},
	{"NAME", regexp.MustCompile(`(?i)^(first|last|full)?.?name$`)},
	{"ADDRESS", regexp.MustCompile(`(?i)address|street|zip|postal`)},
}

// Redact returns a copy of cat with PII-shaped column names replaced by
// stable numbered placeholders (PII_EMAIL_1, PII_PHONE_1, ...) and
// their statistics cleared. Columns with no PII-shaped name pass
// through unchanged.
func Redact(cat *catalog.Catalog) *catalog.Catalog {
	counts := map[string]int{}
	out := &catalog.Catalog{Columns: make([]catalog.Column, len(cat.Columns))}

	for i, c := range cat.Columns {
		label, matched := classify(c.Name)
		if !matched {
			out.Columns[i] = c
			continue
		}
		counts[label]++
		out.Columns[i] = catalog.Column{
			Name:     fmt.Sprintf("PII_%s_%d", label, counts[label]),
			Type:     c.Type,
			Nullable: c.Nullable,
			Stats:    catalog.Stats{},
		}
	}
	return out
}

func classify(name string) (string, bool) {
	for _, r := range rules {
		if r.pattern.MatchString(name) {
			return r.label, true
		}
	}
	return "", false
}

// Summary renders a short textual description of a catalog's columns
// for the intent extractor's prompt, e.g. "order_id (integer), status
// (text), amount (double)".
func Summary(cat *catalog.Catalog) string {
	parts := make([]string, 0, len(cat.Columns))
	for _, c := range cat.Columns {
		parts = append(parts, fmt.Sprintf("%s (%s)", c.Name, c.Type))
	}
	return strings.Join(parts, ", ")
}
