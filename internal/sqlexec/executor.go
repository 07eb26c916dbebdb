// executor.go is the Query Executor (C2, spec §4.2): one cached
// embedded-engine connection per dataset, auto-loading CSV/Excel/
// Parquet into a table named `data`, running validated queries with a
// timeout and row cap.
//
// The connection-cache-with-per-key-lock shape is grounded on gomind's
// concurrent-map + per-dataset-lock description (spec §5, "entries are
// created under a per-dataset lock to avoid double-open races"); the
// timeout/row-cap discipline is grounded on other_examples' pgmcp server
// (runReadOnlyQuery: context.WithTimeout, LIMIT rewrite). Queries run
// directly on the connection, not inside a read-only transaction. The
// engine itself is DuckDB via go-duckdb — an out-of-pack
// dependency (no example repo embeds a columnar engine) chosen because
// the spec's own SQL vocabulary (DATE_TRUNC, STDDEV, window functions,
// auto-detecting CSV/Parquet readers) is DuckDB's surface verbatim.
package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/excelconv"
	"github.com/nalyze/nalyze/internal/sqlvalidate"
)

// NamedQuery is one entry of a query plan (spec §3, "Query plan").
type NamedQuery struct {
	Name string
	SQL  string
}

// ResultSet is one executed query's output (spec §3, "Result set").
type ResultSet struct {
	Name     string
	Columns  []string
	Rows     [][]any
	RowCount int
}

// DatasetSource is the minimal view of a dataset the executor needs to
// open a connection — supplied by the registry collaborator.
type DatasetSource struct {
	ID         string
	FilePath   string
	SourceType catalog.SourceType
	// NativeEnginePath is non-empty when the dataset has already been
	// ingested into the engine's own on-disk format (spec §4.2: "If the
	// dataset has been ingested to a native engine file, open it
	// read-only").
	NativeEnginePath string
}

// Manager owns the process-lifetime connection cache. Never evicted in
// v1 (spec §4.2's explicit non-goal).
type Manager struct {
	mu          sync.Mutex
	conns       map[string]*cachedConn
	locks       map[string]*sync.Mutex
	queryTO     time.Duration
	queryTOCeil time.Duration
	lExec       int
	maxRawBytes int64 // upper bound on source file size accepted for in-memory load
}

type cachedConn struct {
	db      *sql.DB
	mu      sync.Mutex // serializes queries on this connection (spec §5)
	breaker *breaker
}

// NewManager constructs an executor with the configured timeout/ceiling
// and the L_exec row cap for planner-driven queries (spec §4.1, §4.2).
func NewManager(queryTimeout, queryTimeoutCeiling time.Duration, lExec int) *Manager {
	return &Manager{
		conns:       make(map[string]*cachedConn),
		locks:       make(map[string]*sync.Mutex),
		queryTO:     queryTimeout,
		queryTOCeil: queryTimeoutCeiling,
		lExec:       lExec,
		// Open Question (spec §9): the raw /queries/execute path's
		// in-memory load is not bounded by the source spec. We pin an
		// explicit 512MiB ceiling on the source file for that path.
		maxRawBytes: 512 * 1024 * 1024,
	}
}

func (m *Manager) lockFor(datasetID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[datasetID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[datasetID] = l
	}
	return l
}

// connFor returns the cached connection for a dataset, opening and
// materializing it on first use. Opening is serialized per dataset id
// so two concurrent first-requests can't double-open (spec §5).
func (m *Manager) connFor(ctx context.Context, ds DatasetSource) (*cachedConn, error) {
	m.mu.Lock()
	if c, ok := m.conns[ds.ID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	lock := m.lockFor(ds.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if c, ok := m.conns[ds.ID]; ok {
		m.mu.Unlock()
		return c, nil
	}
	m.mu.Unlock()

	db, err := m.open(ctx, ds)
	if err != nil {
		return nil, err
	}

	c := &cachedConn{db: db, breaker: newBreaker(5, 15*time.Second)}
	m.mu.Lock()
	m.conns[ds.ID] = c
	m.mu.Unlock()
	return c, nil
}

func (m *Manager) open(ctx context.Context, ds DatasetSource) (*sql.DB, error) {
	if ds.NativeEnginePath != "" {
		db, err := sql.Open("duckdb", ds.NativeEnginePath+"?access_mode=READ_ONLY")
		if err != nil {
			return nil, apperrors.Wrap("sqlexec.open", apperrors.ErrEngineError, err)
		}
		return db, nil
	}

	if _, err := os.Stat(ds.FilePath); err != nil {
		return nil, apperrors.Wrap("sqlexec.open", apperrors.ErrFileUnreadable, err)
	}
	if info, err := os.Stat(ds.FilePath); err == nil && info.Size() > m.maxRawBytes {
		return nil, apperrors.New("sqlexec.open", apperrors.ErrFileUnreadable,
			fmt.Sprintf("source file exceeds the %d byte in-memory load limit", m.maxRawBytes))
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, apperrors.Wrap("sqlexec.open", apperrors.ErrEngineError, err)
	}

	var loadSQL string
	switch ds.SourceType {
	case catalog.SourceCSV:
		loadSQL = fmt.Sprintf(
			"CREATE TABLE data AS SELECT * FROM read_csv_auto(%s)", quoteLiteral(ds.FilePath))
	case catalog.SourceParquet:
		loadSQL = fmt.Sprintf(
			"CREATE TABLE data AS SELECT * FROM read_parquet(%s)", quoteLiteral(ds.FilePath))
	case catalog.SourceExcel:
		csvPath, cleanup, convErr := excelconv.FirstSheetToCSV(ds.FilePath)
		if convErr != nil {
			db.Close()
			return nil, apperrors.Wrap("sqlexec.open", apperrors.ErrFileUnreadable, convErr)
		}
		defer cleanup()
		loadSQL = fmt.Sprintf(
			"CREATE TABLE data AS SELECT * FROM read_csv_auto(%s)", quoteLiteral(csvPath))
	default:
		db.Close()
		return nil, apperrors.New("sqlexec.open", apperrors.ErrFileUnreadable,
			fmt.Sprintf("unsupported source type %q", ds.SourceType))
	}

	if _, err := db.ExecContext(ctx, loadSQL); err != nil {
		db.Close()
		return nil, apperrors.Wrap("sqlexec.open", apperrors.ErrEngineError, err)
	}
	return db, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Execute validates and runs each named query against the dataset's
// connection, enforcing Safe Mode, the row cap, and the per-query
// timeout (spec §4.2). lMax always bounds the validator's LIMIT
// rewrite at L_max, regardless of origin (spec §8 invariant #2).
// isPlannerOriginated additionally caps materialized rows at L_exec
// for analytical-plan queries; client-authored queries on the raw
// /queries/execute endpoint get the wider L_max row cap (spec §4.2).
func (m *Manager) Execute(ctx context.Context, ds DatasetSource, queries []NamedQuery, safeMode bool, lMax int, isPlannerOriginated bool) ([]ResultSet, error) {
	conn, err := m.connFor(ctx, ds)
	if err != nil {
		return nil, err
	}

	rowCap := lMax
	if isPlannerOriginated {
		rowCap = m.lExec
	}

	results := make([]ResultSet, 0, len(queries))
	for _, q := range queries {
		rs, err := m.executeOne(ctx, conn, q, safeMode, lMax, rowCap)
		if err != nil {
			return nil, err
		}
		results = append(results, rs)
	}
	return results, nil
}

func (m *Manager) executeOne(ctx context.Context, conn *cachedConn, q NamedQuery, safeMode bool, lMax int, rowCap int) (ResultSet, error) {
	if !conn.breaker.allow() {
		return ResultSet{}, apperrors.New("sqlexec.Execute", apperrors.ErrEngineError,
			"dataset connection is temporarily unavailable after repeated failures")
	}

	validated, err := sqlvalidate.Validate(q.SQL, safeMode, lMax)
	if err != nil {
		return ResultSet{}, apperrors.Wrap("sqlexec.Execute", apperrors.ErrValidationFailed, err)
	}

	timeout := m.queryTO
	if timeout > m.queryTOCeil {
		timeout = m.queryTOCeil
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn.mu.Lock() // serialize queries on one dataset connection (spec §5)
	rows, err := conn.db.QueryContext(qctx, validated.SQL)
	if err != nil {
		conn.mu.Unlock()
		if qctx.Err() != nil {
			conn.breaker.recordFailure()
			return ResultSet{}, apperrors.Wrap("sqlexec.Execute", apperrors.ErrQueryTimeout, qctx.Err())
		}
		conn.breaker.recordFailure()
		return ResultSet{}, apperrors.Wrap("sqlexec.Execute", apperrors.ErrEngineError, err)
	}
	defer func() { rows.Close(); conn.mu.Unlock() }()

	rs, err := materialize(rows, q.Name, rowCap)
	if err != nil {
		conn.breaker.recordFailure()
		return ResultSet{}, apperrors.Wrap("sqlexec.Execute", apperrors.ErrEngineError, err)
	}
	conn.breaker.recordSuccess()
	return rs, nil
}

func materialize(rows *sql.Rows, name string, rowCap int) (ResultSet, error) {
	cols, err := rows.Columns()
	if err != nil {
		return ResultSet{}, err
	}

	out := ResultSet{Name: name, Columns: cols}
	scanTargets := make([]any, len(cols))
	scanPtrs := make([]any, len(cols))
	for i := range scanTargets {
		scanPtrs[i] = &scanTargets[i]
	}

	total := 0
	for rows.Next() {
		total++
		if len(out.Rows) < rowCap {
			if err := rows.Scan(scanPtrs...); err != nil {
				return ResultSet{}, err
			}
			row := make([]any, len(cols))
			copy(row, scanTargets)
			out.Rows = append(out.Rows, row)
		}
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	out.RowCount = total
	return out, nil
}

// DescribeCatalog introspects the `data` table's schema via DuckDB's
// information_schema, for the ingestion collaborator to build a Catalog
// (spec §3). Numeric stats are computed with a single aggregate query
// over all numeric columns rather than one round-trip per column.
func (m *Manager) DescribeCatalog(ctx context.Context, ds DatasetSource) (*catalog.Catalog, error) {
	conn, err := m.connFor(ctx, ds)
	if err != nil {
		return nil, err
	}

	conn.mu.Lock()
	rows, err := conn.db.QueryContext(ctx,
		`SELECT column_name, data_type, is_nullable FROM information_schema.columns WHERE table_name = 'data' ORDER BY ordinal_position`)
	conn.mu.Unlock()
	if err != nil {
		return nil, apperrors.Wrap("sqlexec.DescribeCatalog", apperrors.ErrEngineError, err)
	}
	defer rows.Close()

	var cols []catalog.Column
	for rows.Next() {
		var name, dtype, nullable string
		if err := rows.Scan(&name, &dtype, &nullable); err != nil {
			return nil, apperrors.Wrap("sqlexec.DescribeCatalog", apperrors.ErrEngineError, err)
		}
		cols = append(cols, catalog.Column{
			Name:     name,
			Type:     mapDuckDBType(dtype),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cat := &catalog.Catalog{Columns: cols}
	if err := m.fillNumericStats(ctx, conn, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (m *Manager) fillNumericStats(ctx context.Context, conn *cachedConn, cat *catalog.Catalog) error {
	var exprs []string
	var idx []int
	for i, c := range cat.Columns {
		if !c.Type.IsNumeric() {
			continue
		}
		q := `"` + strings.ReplaceAll(c.Name, `"`, `""`) + `"`
		exprs = append(exprs,
			fmt.Sprintf("AVG(%s), STDDEV(%s), MIN(%s), MAX(%s)", q, q, q, q))
		idx = append(idx, i)
	}
	if len(exprs) == 0 {
		return nil
	}

	sqlText := "SELECT " + strings.Join(exprs, ", ") + " FROM data"
	conn.mu.Lock()
	row := conn.db.QueryRowContext(ctx, sqlText)
	conn.mu.Unlock()

	dest := make([]any, 0, len(idx)*4)
	vals := make([]sql.NullFloat64, len(idx)*4)
	for i := range vals {
		dest = append(dest, &vals[i])
	}
	if err := row.Scan(dest...); err != nil {
		return apperrors.Wrap("sqlexec.fillNumericStats", apperrors.ErrEngineError, err)
	}

	for pos, colIdx := range idx {
		base := pos * 4
		cat.Columns[colIdx].Stats = catalog.Stats{
			Mean:   vals[base].Float64,
			Stddev: vals[base+1].Float64,
			Min:    vals[base+2].Float64,
			Max:    vals[base+3].Float64,
			Valid:  vals[base].Valid,
		}
	}
	return nil
}

func mapDuckDBType(dtype string) catalog.LogicalType {
	upper := strings.ToUpper(dtype)
	switch {
	case strings.Contains(upper, "BOOL"):
		return catalog.TypeBoolean
	case strings.Contains(upper, "DATE") || strings.Contains(upper, "TIME"):
		return catalog.TypeDate
	case strings.Contains(upper, "INT") || strings.Contains(upper, "HUGEINT"):
		return catalog.TypeInteger
	case strings.Contains(upper, "DOUBLE") || strings.Contains(upper, "FLOAT") ||
		strings.Contains(upper, "DECIMAL") || strings.Contains(upper, "NUMERIC"):
		return catalog.TypeDouble
	case strings.Contains(upper, "VARCHAR") || strings.Contains(upper, "CHAR") || strings.Contains(upper, "TEXT"):
		return catalog.TypeText
	default:
		return catalog.TypeUnknown
	}
}
