package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/conversation"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

type datasetRegisterRequest struct {
	Name       string `json:"name"`
	FilePath   string `json:"filePath"`
	SourceType string `json:"sourceType"`
}

// handleDatasetsRegister adds a new entry to the dataset registry. Not
// named in spec §6's endpoint list, but registry.json has no other
// documented way to be populated.
func (s *Server) handleDatasetsRegister(w http.ResponseWriter, r *http.Request) {
	var req datasetRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New("httpapi.handleDatasetsRegister", apperrors.ErrProtocolViolation, "malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.FilePath) == "" {
		writeError(w, apperrors.New("httpapi.handleDatasetsRegister", apperrors.ErrProtocolViolation,
			"name and filePath are required"))
		return
	}

	sourceType := catalog.SourceType(strings.ToLower(strings.TrimSpace(req.SourceType)))
	switch sourceType {
	case catalog.SourceCSV, catalog.SourceExcel, catalog.SourceParquet:
	default:
		writeError(w, apperrors.New("httpapi.handleDatasetsRegister", apperrors.ErrProtocolViolation,
			"sourceType must be one of csv, excel, parquet"))
		return
	}

	if _, err := os.Stat(req.FilePath); err != nil {
		writeError(w, apperrors.Wrap("httpapi.handleDatasetsRegister", apperrors.ErrFileUnreadable, err))
		return
	}

	ds, err := s.registry.Register(req.Name, req.FilePath, sourceType)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, datasetWire(ds))
}

func (s *Server) handleDatasetsList(w http.ResponseWriter, r *http.Request) {
	all, err := s.registry.List()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, len(all))
	for i, ds := range all {
		out[i] = datasetWire(ds)
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": out})
}

func datasetWire(ds catalog.Dataset) map[string]any {
	return map[string]any{
		"datasetId":  ds.ID,
		"name":       ds.Name,
		"sourceType": ds.SourceType,
		"filePath":   ds.FilePath,
		"status":     ds.Status,
	}
}

// resultSetWire mirrors the client-supplied resultsContext shape (spec §6).
type resultSetWire struct {
	Name     string          `json:"name"`
	Columns  []string        `json:"columns"`
	Rows     [][]any         `json:"rows"`
	RowCount *int            `json:"rowCount,omitempty"`
}

type resultsContextWire struct {
	Results []resultSetWire `json:"results"`
}

type chatRequest struct {
	DatasetID       string              `json:"datasetId"`
	ConversationID  string              `json:"conversationId"`
	Message         string              `json:"message"`
	Intent          string              `json:"intent"`
	Value           any                 `json:"value"`
	PrivacyMode     *bool               `json:"privacyMode"`
	SafeMode        *bool               `json:"safeMode"`
	AIAssist        *bool               `json:"aiAssist"`
	ResultsContext  *resultsContextWire `json:"resultsContext"`
	DefaultsContext any                 `json:"defaultsContext"`
}

// handleChat is the core entry point (spec §6, POST /chat).
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New("httpapi.handleChat", apperrors.ErrProtocolViolation, "malformed JSON body"))
		return
	}

	if strings.TrimSpace(req.DatasetID) == "" {
		writeError(w, apperrors.New("httpapi.handleChat", apperrors.ErrProtocolViolation, "datasetId is required"))
		return
	}

	ctx := r.Context()
	ds, err := s.registry.Get(req.DatasetID)
	if err != nil {
		writeError(w, err)
		return
	}

	cat, err := s.registry.EnsureCatalog(ctx, req.DatasetID, s.exec)
	if err != nil {
		writeError(w, err)
		return
	}

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = conversation.NewConversationID()
	}

	turn := conversation.Turn{
		DatasetID:      req.DatasetID,
		ConversationID: conversationID,
		Message:        req.Message,
		Intent:         req.Intent,
		Value:          valueToString(req.Value),
		PrivacyMode:    resolveBool(r, "X-Privacy-Mode", req.PrivacyMode, true),
		SafeMode:       resolveBool(r, "X-Safe-Mode", req.SafeMode, false),
		AIAssist:       resolveBool(r, "X-AI-Assist", req.AIAssist, false),
	}
	if req.ResultsContext != nil {
		turn.HasResults = true
		turn.ResultsContext = toResultSets(req.ResultsContext.Results)
	}

	resp, err := s.conv.Handle(ctx, turn, cat, ds.Name)
	if err != nil {
		writeError(w, err)
		return
	}

	if resp.RoutingMetadata != nil {
		s.met.RecordRoutingDecision(resp.RoutingMetadata.DeterministicMatch, resp.RoutingMetadata.RoutingDecision)
	}

	writeJSON(w, http.StatusOK, chatResponseWire(resp, conversationID))
}

type queriesExecuteRequest struct {
	DatasetID string           `json:"datasetId"`
	Queries   []namedQueryWire `json:"queries"`
	SafeMode  *bool            `json:"safeMode"`
	// PlannerOriginated marks queries sourced from a /chat analytical
	// plan rather than typed directly by the client, so the executor
	// applies the tighter L_exec row cap instead of L_max (spec §4.2).
	PlannerOriginated bool `json:"plannerOriginated"`
}

type namedQueryWire struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

// handleQueriesExecute bypasses the planner for client-authored queries
// (spec §6, POST /queries/execute) with the wider L_max row ceiling.
func (s *Server) handleQueriesExecute(w http.ResponseWriter, r *http.Request) {
	var req queriesExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New("httpapi.handleQueriesExecute", apperrors.ErrProtocolViolation, "malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.DatasetID) == "" || len(req.Queries) == 0 {
		writeError(w, apperrors.New("httpapi.handleQueriesExecute", apperrors.ErrProtocolViolation,
			"datasetId and at least one query are required"))
		return
	}

	ctx := r.Context()
	ds, err := s.registry.Get(req.DatasetID)
	if err != nil {
		writeError(w, err)
		return
	}

	safeMode := resolveBool(r, "X-Safe-Mode", req.SafeMode, false)

	queries := make([]sqlexec.NamedQuery, len(req.Queries))
	for i, q := range req.Queries {
		queries[i] = sqlexec.NamedQuery{Name: q.Name, SQL: q.SQL}
	}

	results, err := s.exec.Execute(ctx, sqlexec.DatasetSource{
		ID: ds.ID, FilePath: ds.FilePath, SourceType: ds.SourceType,
	}, queries, safeMode, s.cfg.Executor.LMax, req.PlannerOriginated)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": resultSetsToWire(results)})
}

// handleReportsList lists persisted reports, optionally filtered by dataset.
func (s *Server) handleReportsList(w http.ResponseWriter, r *http.Request) {
	all, err := s.reports.List()
	if err != nil {
		writeError(w, err)
		return
	}

	datasetID := r.URL.Query().Get("datasetId")
	if datasetID == "" {
		writeJSON(w, http.StatusOK, map[string]any{"reports": all})
		return
	}

	filtered := make([]any, 0, len(all))
	for _, rpt := range all {
		if rpt.DatasetID == datasetID {
			filtered = append(filtered, rpt)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": filtered})
}

func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rpt, err := s.reports.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rpt)
}

// handleTestAIConnection probes the configured intent extractor (spec §6).
// Always responds 200; the status field discriminates connected/error/disabled.
func (s *Server) handleTestAIConnection(w http.ResponseWriter, r *http.Request) {
	if s.ai == nil || !s.ai.Configured() {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "disabled",
			"message": "AI Assist is not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	_, err := s.ai.Extract(ctx, "connection test", "")
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "error",
			"message": "Could not reach the configured AI provider",
			"details": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "connected",
		"message": "Successfully connected to the configured AI provider",
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func valueToString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	buf, _ := json.Marshal(v)
	return string(buf)
}

func resolveBool(r *http.Request, header string, bodyValue *bool, def bool) bool {
	if bodyValue != nil {
		return *bodyValue
	}
	if h := r.Header.Get(header); h != "" {
		return strings.EqualFold(h, "on") || strings.EqualFold(h, "true")
	}
	return def
}

func toResultSets(in []resultSetWire) []sqlexec.ResultSet {
	out := make([]sqlexec.ResultSet, len(in))
	for i, rs := range in {
		rowCount := len(rs.Rows)
		if rs.RowCount != nil {
			rowCount = *rs.RowCount
		}
		out[i] = sqlexec.ResultSet{Name: rs.Name, Columns: rs.Columns, Rows: rs.Rows, RowCount: rowCount}
	}
	return out
}

func resultSetsToWire(in []sqlexec.ResultSet) []resultSetWire {
	out := make([]resultSetWire, len(in))
	for i, rs := range in {
		rc := rs.RowCount
		out[i] = resultSetWire{Name: rs.Name, Columns: rs.Columns, Rows: rs.Rows, RowCount: &rc}
	}
	return out
}
