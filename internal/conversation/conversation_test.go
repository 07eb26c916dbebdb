package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/aiclient"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/router"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

func sampleCatalog() *catalog.Catalog {
	return &catalog.Catalog{Columns: []catalog.Column{
		{Name: "order_date", Type: catalog.TypeDate},
		{Name: "amount", Type: catalog.TypeDouble},
		{Name: "status", Type: catalog.TypeText},
	}}
}

func newTestManager() *Manager {
	return NewManager(router.New(), aiclient.NullClient{})
}

func TestHandle_HighConfidenceRowCountReturnsRunQueries(t *testing.T) {
	m := newTestManager()
	resp, err := m.Handle(context.Background(), Turn{
		DatasetID:      "D",
		ConversationID: "C1",
		Message:        "row count",
	}, sampleCatalog(), "orders")

	require.NoError(t, err)
	assert.Equal(t, TypeRunQueries, resp.Type)
	require.Len(t, resp.Queries, 1)
	assert.Equal(t, "SELECT COUNT(*) as row_count FROM data", resp.Queries[0].SQL)
	require.NotNil(t, resp.RoutingMetadata)
	assert.GreaterOrEqual(t, *resp.RoutingMetadata.DeterministicConfidence, 0.9)
	assert.Equal(t, "row_count", resp.RoutingMetadata.DeterministicMatch)
	assert.False(t, resp.RoutingMetadata.OpenAIInvoked)
}

func TestHandle_RowCountRoundTripToFinalAnswer(t *testing.T) {
	m := newTestManager()
	_, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C1", Message: "row count",
	}, sampleCatalog(), "orders")
	require.NoError(t, err)

	resp, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C1",
		ResultsContext: []sqlexec.ResultSet{
			{Name: "row_count", Columns: []string{"row_count"}, Rows: [][]any{{int64(1748)}}, RowCount: 1},
		},
		HasResults: true,
	}, sampleCatalog(), "orders")

	require.NoError(t, err)
	assert.Equal(t, TypeFinalAnswer, resp.Type)
	assert.Contains(t, resp.Message, "**1,748**")
	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "row_count", resp.Tables[0].Title)
}

func TestHandle_IntentClickCompletesStateAcrossTwoTurns(t *testing.T) {
	m := newTestManager()

	resp1, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C2", Intent: "set_analysis_type", Value: "Trend",
	}, sampleCatalog(), "orders")
	require.NoError(t, err)
	assert.Equal(t, TypeIntentAcknowledged, resp1.Type)

	resp2, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C2", Intent: "set_time_period", Value: "Last 30 days",
	}, sampleCatalog(), "orders")
	require.NoError(t, err)
	assert.Equal(t, TypeRunQueries, resp2.Type)
	require.Len(t, resp2.Queries, 1)
	assert.Equal(t, "monthly_trend", resp2.Queries[0].Name)
	assert.Contains(t, resp2.Queries[0].SQL, "DATE_TRUNC('month'")
	assert.Contains(t, resp2.Queries[0].SQL, "LIMIT 200")
}

func TestHandle_AIAssistOffFirstClarificationThenGuidance(t *testing.T) {
	m := newTestManager()

	resp1, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C3", Message: "I want to see interesting things", AIAssist: false,
	}, sampleCatalog(), "orders")
	require.NoError(t, err)
	assert.Equal(t, TypeNeedsClarification, resp1.Type)
	assert.Len(t, resp1.Choices, 5)
	assert.Equal(t, "set_analysis_type", resp1.Intent)

	resp2, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C3", Message: "still nothing useful", AIAssist: false,
	}, sampleCatalog(), "orders")
	require.NoError(t, err)
	assert.Equal(t, TypeFinalAnswer, resp2.Type)
	for _, s := range []string{"trends", "categories", "outliers", "row counts", "data quality", "AI Assist"} {
		assert.Contains(t, resp2.Message, s)
	}
}

func TestHandle_PrivacyAndSafeModeAuditTrail(t *testing.T) {
	m := newTestManager()
	_, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C4", Message: "row count", PrivacyMode: true, SafeMode: true,
	}, sampleCatalog(), "orders")
	require.NoError(t, err)

	resp, err := m.Handle(context.Background(), Turn{
		DatasetID: "D", ConversationID: "C4", PrivacyMode: true, SafeMode: true,
		ResultsContext: []sqlexec.ResultSet{
			{Name: "row_count", Columns: []string{"row_count"}, Rows: [][]any{{int64(1)}}, RowCount: 1},
		},
		HasResults: true,
	}, sampleCatalog(), "orders")
	require.NoError(t, err)
	require.NotNil(t, resp.Audit)
	assert.Contains(t, resp.Audit.SharedWithAI, "PII_redacted")
	assert.Contains(t, resp.Audit.SharedWithAI, "safe_mode_no_raw_rows")
}

func TestValidateTurn_RejectsBothMessageAndIntent(t *testing.T) {
	err := validateTurn(Turn{Message: "hi", Intent: "set_analysis_type", Value: "Trend"})
	require.Error(t, err)
}

func TestValidateTurn_RejectsNeitherMessageNorIntent(t *testing.T) {
	err := validateTurn(Turn{})
	require.Error(t, err)
}

func TestValidateTurn_RejectsIntentWithoutValue(t *testing.T) {
	err := validateTurn(Turn{Intent: "set_analysis_type"})
	require.Error(t, err)
}
