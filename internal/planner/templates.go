// Package planner implements the SQL Planner + Summarizer (C5, spec
// §4.5): column-detection heuristics over a dataset's catalog, per
// analysis-type SQL templates, and a results-derived summarizer.
//
// The "detect columns, then fill a fixed template" approach — rather
// than asking an LLM to write SQL — is grounded on
// other_examples/nethalo-dbsafe's analyzer.go, which produces a typed
// Result from static introspection of a query rather than generative
// text; here the same discipline is applied to emitting SQL instead of
// analyzing it.
package planner

import (
	"fmt"
	"strings"

	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/router"
)

// Query is one named SQL statement in a plan (spec §3, "Query plan").
type Query struct {
	Name string
	SQL  string
}

// Plan is the planner's output for one turn.
type Plan struct {
	AnalysisType router.AnalysisType // the type actually planned, after any fallback
	Queries      []Query
	Explanation  string // non-empty only when a fallback occurred
}

var (
	dateNamePattern        = newInsensitive(`(date|time|created|updated|order|event)`)
	categoricalNamePattern = newInsensitive(`(category|type|status|region|product|name|group|class)`)
)

func newInsensitive(expr string) *insensitiveMatcher {
	return &insensitiveMatcher{needle: expr}
}

// insensitiveMatcher is a tiny case-insensitive substring-of-alternatives
// matcher; a full regexp is unnecessary for a fixed alternation list.
type insensitiveMatcher struct{ needle string }

func (m *insensitiveMatcher) MatchString(name string) bool {
	lower := strings.ToLower(name)
	for _, alt := range strings.Split(strings.Trim(m.needle, "()"), "|") {
		if strings.Contains(lower, alt) {
			return true
		}
	}
	return false
}

func containsID(name string) bool {
	return strings.Contains(strings.ToLower(name), "id")
}

// DateColumn returns the first column that is date-typed or whose name
// suggests a date/timestamp, in catalog order.
func DateColumn(cat *catalog.Catalog) (catalog.Column, bool) {
	for _, c := range cat.Columns {
		if c.Type == catalog.TypeDate || dateNamePattern.MatchString(c.Name) {
			return c, true
		}
	}
	return catalog.Column{}, false
}

// MetricColumn returns the first numeric column whose name does not
// suggest an identifier.
func MetricColumn(cat *catalog.Catalog) (catalog.Column, bool) {
	for _, c := range cat.Columns {
		if c.Type.IsNumeric() && !containsID(c.Name) {
			return c, true
		}
	}
	return catalog.Column{}, false
}

// CategoricalColumn returns the first text column whose name matches one
// of the preferred category-like terms, falling back to the first text
// column at all when none match.
func CategoricalColumn(cat *catalog.Catalog) (catalog.Column, bool) {
	var firstText *catalog.Column
	for i, c := range cat.Columns {
		if c.Type != catalog.TypeText {
			continue
		}
		if firstText == nil {
			firstText = &cat.Columns[i]
		}
		if categoricalNamePattern.MatchString(c.Name) {
			return c, true
		}
	}
	if firstText != nil {
		return *firstText, true
	}
	return catalog.Column{}, false
}

// AllNumericColumns returns every numeric column whose name does not
// suggest an identifier, capped at the first 10 matches.
func AllNumericColumns(cat *catalog.Catalog) []catalog.Column {
	var out []catalog.Column
	for _, c := range cat.Columns {
		if len(out) == 10 {
			break
		}
		if c.Type.IsNumeric() && !containsID(c.Name) {
			out = append(out, c)
		}
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Build emits the SQL plan for analysisType over cat, applying the
// per-type fallback rules from spec §4.5 when a required column is
// missing.
func Build(cat *catalog.Catalog, analysisType router.AnalysisType, safeMode bool) Plan {
	switch analysisType {
	case router.RowCount:
		return buildRowCount()
	case router.TopCategories:
		return buildTopCategories(cat)
	case router.Trend:
		return buildTrend(cat)
	case router.Outliers:
		return buildOutliers(cat, safeMode)
	case router.DataQuality:
		return buildDataQuality(cat)
	default:
		return buildRowCount()
	}
}

func buildRowCount() Plan {
	return Plan{
		AnalysisType: router.RowCount,
		Queries:      []Query{{Name: "row_count", SQL: `SELECT COUNT(*) as row_count FROM data`}},
	}
}

func buildTopCategories(cat *catalog.Catalog) Plan {
	cc, ok := CategoricalColumn(cat)
	if !ok {
		fallback := buildRowCount()
		fallback.Explanation = "a categorical column was not found; showing the row count instead"
		return fallback
	}
	col := quoteIdent(cc.Name)
	sql := fmt.Sprintf(
		`SELECT %s AS category, COUNT(*) AS count FROM data GROUP BY %s ORDER BY count DESC LIMIT 20`,
		col, col)
	return Plan{AnalysisType: router.TopCategories, Queries: []Query{{Name: "top_categories", SQL: sql}}}
}

func buildTrend(cat *catalog.Catalog) Plan {
	dc, ok := DateColumn(cat)
	if !ok {
		fallback := buildRowCount()
		fallback.Explanation = "no date column was found; showing the row count instead"
		return fallback
	}
	date := quoteIdent(dc.Name)

	mc, hasMetric := MetricColumn(cat)
	var sql string
	if hasMetric {
		metric := quoteIdent(mc.Name)
		sql = fmt.Sprintf(
			`SELECT DATE_TRUNC('month', %s) AS month, COUNT(*) AS count, SUM(%s) AS total_%s, AVG(%s) AS avg_%s `+
				`FROM data GROUP BY month ORDER BY month LIMIT 200`,
			date, metric, mc.Name, metric, mc.Name)
	} else {
		sql = fmt.Sprintf(
			`SELECT DATE_TRUNC('month', %s) AS month, COUNT(*) AS count FROM data GROUP BY month ORDER BY month LIMIT 200`,
			date)
	}
	return Plan{AnalysisType: router.Trend, Queries: []Query{{Name: "monthly_trend", SQL: sql}}}
}

func meanExpr(col string) string  { return fmt.Sprintf(`(SELECT AVG(%s) FROM data WHERE %s IS NOT NULL)`, col, col) }
func stddevExpr(col string) string {
	return fmt.Sprintf(`(SELECT STDDEV(%s) FROM data WHERE %s IS NOT NULL)`, col, col)
}

func buildOutliers(cat *catalog.Catalog, safeMode bool) Plan {
	cols := AllNumericColumns(cat)
	if len(cols) == 0 {
		fallback := buildRowCount()
		fallback.Explanation = "no numeric columns were found; showing the row count instead"
		return fallback
	}

	var parts []string
	for _, c := range cols {
		col := quoteIdent(c.Name)
		mean, stddev := meanExpr(col), stddevExpr(col)
		lit := strings.ReplaceAll(c.Name, "'", "''")

		if safeMode {
			parts = append(parts, fmt.Sprintf(
				`SELECT '%s' AS column_name, COUNT(*) AS outlier_count, %s AS mean, %s AS stddev, `+
					`MIN(%s) AS min_value, MAX(%s) AS max_value FROM data `+
					`WHERE %s IS NOT NULL AND ABS(%s - %s) > 2 * %s`,
				lit, mean, stddev, col, col, col, col, mean, stddev))
			continue
		}

		parts = append(parts, fmt.Sprintf(
			`SELECT '%s' AS column_name, %s AS value, %s AS mean, %s AS stddev, `+
				`(%s - %s) / NULLIF(%s, 0) AS z_score, ROW_NUMBER() OVER () AS row_index `+
				`FROM data WHERE %s IS NOT NULL AND ABS(%s - %s) > 2 * %s LIMIT 50`,
			lit, col, mean, stddev, col, mean, stddev, col, col, mean, stddev))
	}

	union := strings.Join(parts, " UNION ALL ")
	sql := union
	if !safeMode {
		sql = fmt.Sprintf(`SELECT * FROM (%s) AS outliers LIMIT 200`, union)
	}
	return Plan{AnalysisType: router.Outliers, Queries: []Query{{Name: "outliers_detected", SQL: sql}}}
}

func buildDataQuality(cat *catalog.Catalog) Plan {
	if len(cat.Columns) == 0 {
		return buildRowCount()
	}

	var nullExprs []string
	for _, c := range cat.Columns {
		col := quoteIdent(c.Name)
		nullExprs = append(nullExprs, fmt.Sprintf(
			`SUM(CASE WHEN %s IS NULL THEN 1 ELSE 0 END) AS %s_nulls`, col, sanitizeAlias(c.Name)))
	}
	nullCounts := fmt.Sprintf(`SELECT COUNT(*) AS total_rows, %s FROM data`, strings.Join(nullExprs, ", "))
	duplicateCheck := `SELECT COUNT(*) AS total_rows, COUNT(DISTINCT *) AS unique_rows FROM data`

	return Plan{
		AnalysisType: router.DataQuality,
		Queries: []Query{
			{Name: "null_counts", SQL: nullCounts},
			{Name: "duplicate_check", SQL: duplicateCheck},
		},
	}
}

// sanitizeAlias makes a column name safe to use as an unquoted SQL
// alias suffix (column aliases here are not user-quoted identifiers).
func sanitizeAlias(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "col"
	}
	return out
}
