package reportstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/planner"
)

func TestSave_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)

	r, err := s1.Save("ds-1", "orders", "conv-1", "row count", "This dataset has **1,748** rows.",
		[]planner.Table{{Title: "row_count", Columns: []string{"row_count"}}},
		planner.Audit{DatasetID: "ds-1", AnalysisType: "row_count"})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	s2, err := Open(dir)
	require.NoError(t, err)

	got, err := s2.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.DatasetName)
	assert.Equal(t, "row count", got.Question)

	buf, err := os.ReadFile(filepath.Join(dir, "reports.json"))
	require.NoError(t, err)
	assert.Contains(t, string(buf), r.ID)
}

func TestGet_UnknownIDIsNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("rpt-missing")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrDatasetNotFound))
}

func TestList_ReturnsMostRecentFirst(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	r1, err := s.Save("ds-1", "a", "c1", "q1", "m1", nil, planner.Audit{})
	require.NoError(t, err)
	r2, err := s.Save("ds-1", "a", "c1", "q2", "m2", nil, planner.Audit{})
	require.NoError(t, err)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, r2.ID, all[0].ID)
	assert.Equal(t, r1.ID, all[1].ID)
}
