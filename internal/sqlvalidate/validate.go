// Package sqlvalidate implements the SQL Validator (C1, spec §4.1): a
// static, syntactic check that a candidate query is SELECT-only,
// bounded by LIMIT, and — under Safe Mode — aggregation-or-grouped.
//
// The restricted-token guard and the LIMIT rewrite are grounded on
// other_examples' pgmcp server (guardReadOnly's mutating-keyword regex,
// runReadOnlyQuery's "wrap in WITH ... LIMIT n if absent" rewrite); the
// typed-rejection return style is grounded on gomind's
// resilience.CircuitBreaker errors and core.FrameworkError, adapted so
// nothing above this package ever sees a panic for a user-authored
// query.
package sqlvalidate

import (
	"fmt"
	"regexp"
	"strings"
)

// Rejection is the typed, user-facing reason a query failed validation.
// C4/C5 convert this into a needs_clarification response (spec §4.1).
type Rejection struct {
	Rule    string // which rule fired, e.g. "restricted_token", "safe_mode_aggregation"
	Message string // user-facing explanation
}

func (r *Rejection) Error() string { return r.Message }

// restrictedTokens is the universal-rule 2 deny-list (spec §4.1), matched
// case-insensitively with word boundaries — the same shape as pgmcp's
// `mutating` regexp, extended with the DDL/attach/export verbs spec.md names.
var restrictedTokens = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|ATTACH|DETACH|COPY|EXPORT|PRAGMA|REPLACE)\b`,
)

var aggregateTokens = regexp.MustCompile(
	`(?i)\b(COUNT|SUM|AVG|MIN|MAX|TOTAL|GROUP_CONCAT|STRING_AGG)\s*\(`,
)

var groupByClause = regexp.MustCompile(`(?i)\bGROUP\s+BY\b`)

var limitClause = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)\b`)

// LMaxDefault is the validator's own hard ceiling (spec §4.1); callers
// normally pass the configured L_max, which for the planner path equals
// this constant and for /queries/execute may be wider.
const LMaxDefault = 10000

// Result is a validated, possibly-rewritten query.
type Result struct {
	SQL string
}

// Validate applies the universal rules and, when safeMode is true, the
// Safe Mode aggregation-or-group-by rule (spec §4.1). lMax bounds the
// LIMIT rewrite; pass sqlvalidate.LMaxDefault for the planner path and a
// wider value for /queries/execute.
func Validate(sql string, safeMode bool, lMax int) (*Result, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, &Rejection{Rule: "empty_query", Message: "query must not be empty"}
	}

	if !hasLeadingSelect(trimmed) {
		return nil, &Rejection{
			Rule:    "must_begin_with_select",
			Message: "query must begin with SELECT",
		}
	}

	if restrictedTokens.MatchString(trimmed) {
		tok := restrictedTokens.FindString(trimmed)
		return nil, &Rejection{
			Rule:    "restricted_token",
			Message: fmt.Sprintf("query contains a restricted keyword: %s", strings.ToUpper(tok)),
		}
	}

	if safeMode {
		if !aggregateTokens.MatchString(trimmed) && !groupByClause.MatchString(trimmed) {
			return nil, &Rejection{
				Rule: "safe_mode_aggregation",
				Message: "Safe Mode requires an aggregate function (COUNT, SUM, AVG, MIN, MAX, " +
					"TOTAL, GROUP_CONCAT, STRING_AGG) or a GROUP BY clause",
			}
		}
	}

	rewritten := applyLimit(trimmed, lMax)
	return &Result{SQL: rewritten}, nil
}

// hasLeadingSelect checks universal rule 1: SELECT after whitespace
// trim, no leading DDL/DML verb. CTEs (WITH ...) are accepted since they
// always terminate in a SELECT and the planner never emits bare CTEs.
func hasLeadingSelect(sql string) bool {
	upper := strings.ToUpper(sql)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

// applyLimit implements universal rule 3: wrap with a LIMIT if absent;
// rewrite an existing limit down to lMax if it exceeds it. Templates
// that combine multiple SELECTs (e.g. a UNION ALL with inner per-branch
// LIMITs) can contain more than one LIMIT clause; the outermost one
// governs the query's total row count and always appears last in the
// rendered text, so the rewrite targets the last match rather than the
// first.
func applyLimit(sql string, lMax int) string {
	matches := limitClause.FindAllStringSubmatchIndex(sql, -1)
	if matches == nil {
		return fmt.Sprintf("SELECT * FROM (%s) LIMIT %d", sql, lMax)
	}

	last := matches[len(matches)-1]
	numStart, numEnd := last[2], last[3]
	var n int
	fmt.Sscanf(sql[numStart:numEnd], "%d", &n)
	if n <= lMax {
		return sql
	}
	return sql[:numStart] + fmt.Sprintf("%d", lMax) + sql[numEnd:]
}
