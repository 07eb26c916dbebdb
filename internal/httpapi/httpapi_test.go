package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/aiclient"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/config"
	"github.com/nalyze/nalyze/internal/conversation"
	"github.com/nalyze/nalyze/internal/metrics"
	"github.com/nalyze/nalyze/internal/registry"
	"github.com/nalyze/nalyze/internal/reportstore"
	"github.com/nalyze/nalyze/internal/router"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

func newTestServer(t *testing.T) (*Server, *registry.Store) {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("order_id,amount,status\n1,10.5,open\n2,20.0,closed\n"), 0o644))

	reg, err := registry.Open(filepath.Join(dir, "app"))
	require.NoError(t, err)
	_, err = reg.Register("orders", csvPath, catalog.SourceCSV)
	require.NoError(t, err)

	reports, err := reportstore.Open(filepath.Join(dir, "app"))
	require.NoError(t, err)

	exec := sqlexec.NewManager(5*time.Second, 10*time.Second, 200)
	conv := conversation.NewManager(router.New(), aiclient.NullClient{})

	cfg := &config.Config{
		HTTP:     config.HTTPConfig{Port: 0, ShutdownTimeout: time.Second},
		Executor: config.ExecutorConfig{LMax: 10000, LExec: 200, QueryTimeout: 5 * time.Second, QueryTimeoutCeiling: 10 * time.Second},
	}

	met := metrics.Init()
	srv := New(cfg, reg, reports, exec, conv, aiclient.NullClient{}, met)
	return srv, reg
}

func firstDatasetID(t *testing.T, reg *registry.Store) string {
	t.Helper()
	all, err := reg.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	return all[0].ID
}

func TestHandleChat_HighConfidenceMessageReturnsRunQueries(t *testing.T) {
	srv, reg := newTestServer(t)
	dsID := firstDatasetID(t, reg)

	body, _ := json.Marshal(map[string]any{"datasetId": dsID, "message": "row count"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "run_queries", out["type"])
	assert.NotEmpty(t, out["conversationId"])
}

func TestHandleChat_AuditUsesCamelCaseAndRedactsPIIUnderPrivacyMode(t *testing.T) {
	srv, reg := newTestServer(t)
	dsID := firstDatasetID(t, reg)

	body, _ := json.Marshal(map[string]any{"datasetId": dsID, "message": "row count"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	audit, ok := out["audit"].(map[string]any)
	require.True(t, ok, "response must include an audit object")

	assert.Contains(t, audit, "datasetId")
	assert.Contains(t, audit, "sharedWithAI")
	shared, ok := audit["sharedWithAI"].([]any)
	require.True(t, ok)
	assert.Contains(t, shared, "PII_redacted")
}

func TestHandleChat_UnknownDatasetIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"datasetId": "ds-missing", "message": "row count"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleChat_MissingDatasetIDIs422(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"message": "row count"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleQueriesExecute_RejectsRestrictedToken(t *testing.T) {
	srv, reg := newTestServer(t)
	dsID := firstDatasetID(t, reg)

	body, _ := json.Marshal(map[string]any{
		"datasetId": dsID,
		"queries":   []map[string]string{{"name": "evil", "sql": "DROP TABLE data"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/queries/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTestAIConnection_DisabledWhenNoClient(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/test-ai-connection", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "disabled", out["status"])
}

func TestHandleHealthz_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReportsList_EmptyByDefault(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out["reports"])
}

func TestHandleDatasetsRegister_HappyPath(t *testing.T) {
	srv, _ := newTestServer(t)
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n"), 0o644))

	body, _ := json.Marshal(map[string]any{"name": "new", "filePath": csvPath, "sourceType": "csv"})
	req := httptest.NewRequest(http.MethodPost, "/datasets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.NotEmpty(t, out["datasetId"])
}

func TestHandleDatasetsRegister_MissingFileIs400(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"name": "ghost", "filePath": "/no/such/file.csv", "sourceType": "csv"})
	req := httptest.NewRequest(http.MethodPost, "/datasets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDatasetsList_IncludesSeeded(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/datasets", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	datasets, _ := out["datasets"].([]any)
	assert.Len(t, datasets, 1)
}

func TestHandleReportGet_UnknownIDIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/reports/rpt-missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
