package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nalyze/nalyze/internal/router"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

// Table is one result set rendered for display (spec §3, response shape).
// json tags match the camelCase wire shape used both by tablesWire (for
// /chat) and by the persisted-report read path (/reports, /reports/{id}).
type Table struct {
	Title   string   `json:"title"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ExecutedQuery records one query's SQL and the row count it returned,
// for the audit trail (spec §3, "Audit record").
type ExecutedQuery struct {
	Name     string `json:"name"`
	SQL      string `json:"sql"`
	RowCount int    `json:"rowCount"`
}

// RoutingMetadata mirrors the diagnostic block attached to every chat
// response (spec §6). Its own fields are snake_case to match the
// top-level routing_metadata wire object /chat renders; see
// routingMetadataWire in internal/httpapi.
type RoutingMetadata struct {
	RoutingDecision         string   `json:"routing_decision"`
	DeterministicConfidence *float64 `json:"deterministic_confidence,omitempty"`
	DeterministicMatch      string   `json:"deterministic_match,omitempty"`
	OpenAIInvoked           bool     `json:"openai_invoked"`
	SafeMode                bool     `json:"safe_mode"`
	PrivacyMode             bool     `json:"privacy_mode"`
}

// Audit is the structured record accompanying run_queries and
// final_answer responses (spec §3). Its own top-level fields are
// camelCase per spec §3/§8; only routing_metadata is snake_case.
type Audit struct {
	DatasetID       string           `json:"datasetId"`
	DatasetName     string           `json:"datasetName"`
	AnalysisType    string           `json:"analysisType"`
	TimePeriod      string           `json:"timePeriod"`
	AIAssist        bool             `json:"aiAssist"`
	SafeMode        bool             `json:"safeMode"`
	PrivacyMode     bool             `json:"privacyMode"`
	ExecutedQueries []ExecutedQuery  `json:"executedQueries"`
	GeneratedAt     time.Time        `json:"generatedAt"`
	SharedWithAI    []string         `json:"sharedWithAI"`
	RoutingMetadata *RoutingMetadata `json:"routing_metadata,omitempty"`
}

// Summary is the summarizer's output for a completed turn.
type Summary struct {
	Message string
	Tables  []Table
}

// Summarize builds the results-derived message and display tables for
// analysisType from the client's executed results (spec §4.5).
func Summarize(analysisType router.AnalysisType, results []sqlexec.ResultSet) Summary {
	tables := make([]Table, 0, len(results))
	for _, r := range results {
		tables = append(tables, Table{Title: r.Name, Columns: r.Columns, Rows: r.Rows})
	}

	switch analysisType {
	case router.RowCount:
		return Summary{Message: summarizeRowCount(results), Tables: tables}
	case router.Trend:
		return Summary{Message: summarizeTrend(results), Tables: tables}
	case router.TopCategories:
		return Summary{Message: summarizeTopCategories(results), Tables: tables}
	case router.Outliers:
		return Summary{Message: summarizeOutliers(results), Tables: tables}
	case router.DataQuality:
		return Summary{Message: summarizeDataQuality(results), Tables: tables}
	default:
		return Summary{Message: "Here are the results.", Tables: tables}
	}
}

func findResult(results []sqlexec.ResultSet, name string) (sqlexec.ResultSet, bool) {
	for _, r := range results {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return sqlexec.ResultSet{}, false
}

func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// formatThousands renders n with comma-grouped thousands, e.g. 1748 -> "1,748".
func formatThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func summarizeRowCount(results []sqlexec.ResultSet) string {
	r, ok := findResult(results, "row_count")
	if !ok && len(results) > 0 {
		r = results[0]
	}
	if len(r.Columns) == 0 || len(r.Rows) == 0 {
		return "This dataset has **0** rows."
	}

	idx := columnIndex(r.Columns, "row_count")
	if idx == -1 {
		idx = 0
	}
	n, ok := toInt(r.Rows[0][idx])
	if !ok {
		return "This dataset has an unknown number of rows."
	}
	return fmt.Sprintf("This dataset has **%s** rows.", formatThousands(n))
}

func summarizeTrend(results []sqlexec.ResultSet) string {
	r, ok := findResult(results, "monthly_trend")
	if !ok && len(results) > 0 {
		r = results[0]
	}
	buckets := r.RowCount
	if buckets == 0 {
		buckets = len(r.Rows)
	}
	if len(r.Rows) == 0 {
		return fmt.Sprintf("Found %d time buckets.", buckets)
	}

	countIdx := columnIndex(r.Columns, "count")
	if countIdx == -1 {
		return fmt.Sprintf("Found %d time buckets.", buckets)
	}
	first, fok := toFloat(r.Rows[0][countIdx])
	last, lok := toFloat(r.Rows[len(r.Rows)-1][countIdx])
	if !fok || !lok {
		return fmt.Sprintf("Found %d time buckets.", buckets)
	}
	delta := last - first
	sign := "+"
	if delta < 0 {
		sign = ""
	}
	return fmt.Sprintf("Found %d time buckets; the count changed by %s%.0f from the first to the last period.",
		buckets, sign, delta)
}

func summarizeTopCategories(results []sqlexec.ResultSet) string {
	r, ok := findResult(results, "top_categories")
	if !ok && len(results) > 0 {
		r = results[0]
	}
	count := r.RowCount
	if count == 0 {
		count = len(r.Rows)
	}
	if len(r.Rows) == 0 {
		return "No categories were found."
	}
	catIdx := columnIndex(r.Columns, "category")
	if catIdx == -1 {
		catIdx = 0
	}
	top := fmt.Sprintf("%v", r.Rows[0][catIdx])
	return fmt.Sprintf("Found %d categories; the top entry is **%s**.", count, top)
}

func summarizeOutliers(results []sqlexec.ResultSet) string {
	r, ok := findResult(results, "outliers_detected")
	if !ok && len(results) > 0 {
		r = results[0]
	}
	if len(r.Rows) == 0 {
		return "No outliers were detected."
	}

	colIdx := columnIndex(r.Columns, "column_name")
	countIdx := columnIndex(r.Columns, "outlier_count")

	totals := map[string]int64{}
	if countIdx != -1 && colIdx != -1 {
		for _, row := range r.Rows {
			name := fmt.Sprintf("%v", row[colIdx])
			n, _ := toInt(row[countIdx])
			totals[name] += n
		}
	} else if colIdx != -1 {
		for _, row := range r.Rows {
			name := fmt.Sprintf("%v", row[colIdx])
			totals[name]++
		}
	}

	if len(totals) == 0 {
		return fmt.Sprintf("Found %d outlier rows.", len(r.Rows))
	}

	names := make([]string, 0, len(totals))
	for n := range totals {
		names = append(names, n)
	}
	sort.Strings(names)

	var parts []string
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %d", n, totals[n]))
	}
	return fmt.Sprintf("Found outliers across %d column(s) — %s.", len(totals), strings.Join(parts, ", "))
}

func summarizeDataQuality(results []sqlexec.ResultSet) string {
	var parts []string

	if r, ok := findResult(results, "null_counts"); ok && len(r.Rows) > 0 {
		row := r.Rows[0]
		var nullParts []string
		for i, col := range r.Columns {
			if !strings.HasSuffix(col, "_nulls") {
				continue
			}
			n, ok := toInt(row[i])
			if ok && n > 0 {
				nullParts = append(nullParts, fmt.Sprintf("%s: %d", strings.TrimSuffix(col, "_nulls"), n))
			}
		}
		if len(nullParts) > 0 {
			parts = append(parts, fmt.Sprintf("Null values found — %s.", strings.Join(nullParts, ", ")))
		} else {
			parts = append(parts, "No null values were found.")
		}
	}

	if r, ok := findResult(results, "duplicate_check"); ok && len(r.Rows) > 0 {
		row := r.Rows[0]
		totalIdx := columnIndex(r.Columns, "total_rows")
		uniqueIdx := columnIndex(r.Columns, "unique_rows")
		if totalIdx != -1 && uniqueIdx != -1 {
			total, _ := toInt(row[totalIdx])
			unique, _ := toInt(row[uniqueIdx])
			dup := total - unique
			if dup > 0 {
				parts = append(parts, fmt.Sprintf("%d duplicate row(s) were found.", dup))
			} else {
				parts = append(parts, "No duplicate rows were found.")
			}
		}
	}

	if len(parts) == 0 {
		return "Data quality checks produced no results."
	}
	return strings.Join(parts, " ")
}
