package sqlvalidate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_UniversalRules(t *testing.T) {
	cases := []struct {
		name    string
		sql     string
		wantErr bool
		rule    string
	}{
		{"plain select passes", `SELECT COUNT(*) FROM data LIMIT 10`, false, ""},
		{"empty rejected", ``, true, "empty_query"},
		{"whitespace rejected", `   `, true, "empty_query"},
		{"ddl rejected", `DROP TABLE data`, true, "must_begin_with_select"},
		{"insert embedded rejected", `SELECT 1; INSERT INTO data VALUES (1)`, true, "restricted_token"},
		{"pragma rejected", `SELECT * FROM pragma_table_info('data') LIMIT 5`, true, "restricted_token"},
		{"cte accepted", `WITH t AS (SELECT 1) SELECT * FROM t LIMIT 5`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Validate(tc.sql, false, LMaxDefault)
			if tc.wantErr {
				require.Error(t, err)
				rej, ok := err.(*Rejection)
				require.True(t, ok)
				assert.Equal(t, tc.rule, rej.Rule)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, res.SQL, "LIMIT")
		})
	}
}

func TestValidate_LimitWrapping(t *testing.T) {
	res, err := Validate(`SELECT * FROM data`, false, 200)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM (SELECT * FROM data) LIMIT 200`, res.SQL)
}

func TestValidate_LimitRewrittenDown(t *testing.T) {
	res, err := Validate(`SELECT * FROM data LIMIT 999999`, false, 200)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "LIMIT 200")
	assert.NotContains(t, res.SQL, "999999")
}

func TestValidate_LimitUnderCeilingUntouched(t *testing.T) {
	res, err := Validate(`SELECT * FROM data LIMIT 50`, false, 200)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM data LIMIT 50`, res.SQL)
}

func TestValidate_LimitRewriteTargetsOutermostLimitInUnion(t *testing.T) {
	// Mirrors the outliers template's shape: inner per-branch LIMITs
	// well under lMax plus a trailing outer LIMIT that exceeds it. Only
	// the outer (last) LIMIT should be rewritten.
	sql := `SELECT * FROM (SELECT "n" FROM data LIMIT 50 UNION ALL SELECT "n" FROM data LIMIT 50) LIMIT 999999`
	res, err := Validate(sql, false, 200)
	require.NoError(t, err)
	assert.Contains(t, res.SQL, "LIMIT 200")
	assert.NotContains(t, res.SQL, "999999")
	// Both inner LIMIT 50 clauses must survive untouched.
	assert.Equal(t, 2, strings.Count(res.SQL, "LIMIT 50"))
}

func TestValidate_SafeModeRejectsRawRows(t *testing.T) {
	_, err := Validate(`SELECT * FROM data LIMIT 10`, true, LMaxDefault)
	require.Error(t, err)
	rej, ok := err.(*Rejection)
	require.True(t, ok)
	assert.Equal(t, "safe_mode_aggregation", rej.Rule)
	assert.Contains(t, rej.Message, "Safe Mode")
}

func TestValidate_SafeModeAcceptsAggregate(t *testing.T) {
	_, err := Validate(`SELECT COUNT(*) AS row_count FROM data LIMIT 10`, true, LMaxDefault)
	require.NoError(t, err)
}

func TestValidate_SafeModeAcceptsGroupBy(t *testing.T) {
	_, err := Validate(`SELECT "status", "status" FROM data GROUP BY "status" LIMIT 10`, true, LMaxDefault)
	require.NoError(t, err)
}

func TestValidate_AggregateTokenIsCaseInsensitiveWordBoundary(t *testing.T) {
	// "accountant" contains "count" as a substring but not as a function call,
	// and must not satisfy the Safe Mode aggregate rule.
	_, err := Validate(`SELECT "accountant" FROM data LIMIT 10`, true, LMaxDefault)
	require.Error(t, err)
}
