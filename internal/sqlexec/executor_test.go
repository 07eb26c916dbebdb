package sqlexec

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/sqlvalidate"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestManager_ExecuteRowCountAgainstCSV(t *testing.T) {
	path := writeCSV(t, "status,amount\nopen,10\nclosed,20\nopen,30\n")
	m := NewManager(10*time.Second, 30*time.Second, sqlvalidate.LMaxDefault)

	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}
	results, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "row_count", SQL: "SELECT COUNT(*) AS n FROM data"}},
		true, sqlvalidate.LMaxDefault, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"n"}, results[0].Columns)
	assert.Equal(t, 1, results[0].RowCount)
}

func TestManager_ExecuteRejectsRestrictedToken(t *testing.T) {
	path := writeCSV(t, "status\nopen\n")
	m := NewManager(10*time.Second, 30*time.Second, sqlvalidate.LMaxDefault)

	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}
	_, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "bad", SQL: "DROP TABLE data"}},
		false, sqlvalidate.LMaxDefault, false)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidationFailed))
}

func TestManager_ExecuteMissingFileIsFileUnreadable(t *testing.T) {
	m := NewManager(10*time.Second, 30*time.Second, sqlvalidate.LMaxDefault)
	ds := DatasetSource{ID: "missing", FilePath: "/nonexistent/path.csv", SourceType: catalog.SourceCSV}
	_, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "n", SQL: "SELECT 1"}}, false, sqlvalidate.LMaxDefault, false)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrFileUnreadable))
}

func TestManager_ExecuteRowCapTruncatesButReportsTrueCount(t *testing.T) {
	path := writeCSV(t, "n\n1\n2\n3\n4\n5\n")
	m := NewManager(10*time.Second, 30*time.Second, 2)
	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}

	results, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "all", SQL: "SELECT n FROM data"}},
		false, sqlvalidate.LMaxDefault, true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 5, results[0].RowCount)
	assert.Len(t, results[0].Rows, 2)
}

// TestManager_LExecAppliesOnlyToPlannerOriginatedQueries verifies the
// L_exec/L_max dual-cap split (spec §4.2): the same query against the
// same dataset is materialized down to L_exec rows when it's a
// planner-originated query, but up to the (wider) L_max cap otherwise.
func TestManager_LExecAppliesOnlyToPlannerOriginatedQueries(t *testing.T) {
	path := writeCSV(t, "n\n1\n2\n3\n4\n5\n")
	m := NewManager(10*time.Second, 30*time.Second, 2)
	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}

	raw, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "all", SQL: "SELECT n FROM data"}},
		false, sqlvalidate.LMaxDefault, false)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, 5, raw[0].RowCount)
	assert.Len(t, raw[0].Rows, 5, "client-authored queries get the L_max cap, not L_exec")

	planned, err := m.Execute(t.Context(), ds,
		[]NamedQuery{{Name: "all", SQL: "SELECT n FROM data"}},
		false, sqlvalidate.LMaxDefault, true)
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, 5, planned[0].RowCount)
	assert.Len(t, planned[0].Rows, 2, "planner-originated queries are materialized down to L_exec")
}

func TestManager_DescribeCatalogComputesNumericStats(t *testing.T) {
	path := writeCSV(t, "label,amount\na,10\nb,20\nc,30\n")
	m := NewManager(10*time.Second, 30*time.Second, sqlvalidate.LMaxDefault)
	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}

	cat, err := m.DescribeCatalog(t.Context(), ds)
	require.NoError(t, err)
	require.Len(t, cat.Columns, 2)

	amount, ok := cat.Column("amount")
	require.True(t, ok)
	assert.True(t, amount.Type.IsNumeric())
	assert.True(t, amount.Stats.Valid)
	assert.InDelta(t, 20, amount.Stats.Mean, 0.01)
	assert.InDelta(t, 10, amount.Stats.Min, 0.01)
	assert.InDelta(t, 30, amount.Stats.Max, 0.01)
}

func TestManager_ConnectionIsCachedAcrossCalls(t *testing.T) {
	path := writeCSV(t, "n\n1\n")
	m := NewManager(10*time.Second, 30*time.Second, sqlvalidate.LMaxDefault)
	ds := DatasetSource{ID: "ds1", FilePath: path, SourceType: catalog.SourceCSV}

	_, err := m.Execute(t.Context(), ds, []NamedQuery{{Name: "a", SQL: "SELECT 1"}}, false, sqlvalidate.LMaxDefault, false)
	require.NoError(t, err)

	// Remove the source file; a cached connection must not need to reopen it.
	require.NoError(t, os.Remove(path))

	_, err = m.Execute(t.Context(), ds, []NamedQuery{{Name: "b", SQL: "SELECT 1"}}, false, sqlvalidate.LMaxDefault, false)
	require.NoError(t, err)
}
