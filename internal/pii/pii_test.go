package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/catalog"
)

func TestRedact_ReplacesPIIColumnNamesAndStripsStats(t *testing.T) {
	cat := &catalog.Catalog{Columns: []catalog.Column{
		{Name: "customer_email", Type: catalog.TypeText},
		{Name: "phone_number", Type: catalog.TypeText},
		{Name: "amount", Type: catalog.TypeDouble, Stats: catalog.Stats{Mean: 10, Valid: true}},
	}}

	redacted := Redact(cat)
	require.Len(t, redacted.Columns, 3)
	assert.Equal(t, "PII_EMAIL_1", redacted.Columns[0].Name)
	assert.Equal(t, "PII_PHONE_1", redacted.Columns[1].Name)
	assert.Equal(t, "amount", redacted.Columns[2].Name)
	assert.True(t, redacted.Columns[2].Stats.Valid)
	assert.False(t, redacted.Columns[0].Stats.Valid)
}

func TestRedact_NumbersMultiplePIIColumnsOfSameKind(t *testing.T) {
	cat := &catalog.Catalog{Columns: []catalog.Column{
		{Name: "home_email", Type: catalog.TypeText},
		{Name: "work_email", Type: catalog.TypeText},
	}}
	redacted := Redact(cat)
	assert.Equal(t, "PII_EMAIL_1", redacted.Columns[0].Name)
	assert.Equal(t, "PII_EMAIL_2", redacted.Columns[1].Name)
}

func TestSummary_RendersNameAndType(t *testing.T) {
	cat := &catalog.Catalog{Columns: []catalog.Column{
		{Name: "amount", Type: catalog.TypeDouble},
	}}
	assert.Equal(t, "amount (double)", Summary(cat))
}
