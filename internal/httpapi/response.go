package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/conversation"
	"github.com/nalyze/nalyze/internal/planner"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy (spec §7) onto an HTTP status and
// a validating JSON body. validation_failed, ai_unavailable, and
// ai_invalid_response never reach here on /chat — the conversation
// state machine already renders those as a 200 needs_clarification or
// final_answer; this path only fires for /chat protocol errors and for
// both /chat and /queries/execute dataset/engine/validation failures.
func writeError(w http.ResponseWriter, err error) {
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": "engine_error", "message": "an unexpected error occurred",
		})
		return
	}

	status, kind := http.StatusInternalServerError, "engine_error"
	switch {
	case apperrors.Is(ae, apperrors.ErrProtocolViolation):
		status, kind = http.StatusUnprocessableEntity, "protocol_violation"
	case apperrors.Is(ae, apperrors.ErrDatasetNotFound):
		status, kind = http.StatusNotFound, "dataset_not_found"
	case apperrors.Is(ae, apperrors.ErrFileUnreadable):
		status, kind = http.StatusBadRequest, "file_unreadable"
	case apperrors.Is(ae, apperrors.ErrValidationFailed):
		status, kind = http.StatusBadRequest, "validation_failed"
	case apperrors.Is(ae, apperrors.ErrQueryTimeout):
		status, kind = http.StatusRequestTimeout, "query_timeout"
	case apperrors.Is(ae, apperrors.ErrAIUnavailable):
		status, kind = http.StatusServiceUnavailable, "ai_unavailable"
	case apperrors.Is(ae, apperrors.ErrAIInvalidResponse):
		status, kind = http.StatusBadGateway, "ai_invalid_response"
	}

	writeJSON(w, status, map[string]any{"error": kind, "message": ae.Error()})
}

// chatResponseWire renders a conversation.Response as the exact
// discriminated wire shape (spec §6, "Response is exactly one of four
// shapes").
func chatResponseWire(r conversation.Response, conversationID string) map[string]any {
	out := map[string]any{
		"type":           string(r.Type),
		"conversationId": conversationID,
	}
	if r.RoutingMetadata != nil {
		out["routing_metadata"] = routingMetadataWire(r.RoutingMetadata)
	}
	if r.Audit != nil {
		out["audit"] = auditWire(r.Audit)
	}

	switch r.Type {
	case conversation.TypeNeedsClarification:
		out["question"] = r.Question
		out["choices"] = choicesWire(r.Choices)
		if r.Intent != "" {
			out["intent"] = r.Intent
		}
		out["allowFreeText"] = r.AllowFreeText
	case conversation.TypeIntentAcknowledged:
		out["intent"] = r.Intent
		out["value"] = r.Value
		out["state"] = r.State
		out["message"] = r.Message
	case conversation.TypeRunQueries:
		out["queries"] = queriesWire(r.Queries)
		out["explanation"] = r.Explanation
	case conversation.TypeFinalAnswer:
		out["message"] = r.Message
		if len(r.Tables) > 0 {
			out["tables"] = tablesWire(r.Tables)
		}
	}
	return out
}

func choicesWire(in []conversation.Choice) []map[string]string {
	out := make([]map[string]string, len(in))
	for i, c := range in {
		out[i] = map[string]string{"label": c.Label, "value": c.Value}
	}
	return out
}

func queriesWire(in []planner.Query) []map[string]string {
	out := make([]map[string]string, len(in))
	for i, q := range in {
		out[i] = map[string]string{"name": q.Name, "sql": q.SQL}
	}
	return out
}

func tablesWire(in []planner.Table) []map[string]any {
	out := make([]map[string]any, len(in))
	for i, t := range in {
		out[i] = map[string]any{"title": t.Title, "columns": t.Columns, "rows": t.Rows}
	}
	return out
}

func routingMetadataWire(rm *planner.RoutingMetadata) map[string]any {
	out := map[string]any{
		"routing_decision": rm.RoutingDecision,
		"openai_invoked":   rm.OpenAIInvoked,
		"safe_mode":        rm.SafeMode,
		"privacy_mode":     rm.PrivacyMode,
	}
	if rm.DeterministicConfidence != nil {
		out["deterministic_confidence"] = *rm.DeterministicConfidence
	}
	if rm.DeterministicMatch != "" {
		out["deterministic_match"] = rm.DeterministicMatch
	}
	return out
}

// auditWire renders the Audit record's own top-level fields in
// camelCase (spec §3, §8 scenario 6); only the nested routing_metadata
// sub-object uses snake_case (see routingMetadataWire).
func auditWire(a *planner.Audit) map[string]any {
	executed := make([]map[string]any, len(a.ExecutedQueries))
	for i, q := range a.ExecutedQueries {
		executed[i] = map[string]any{"name": q.Name, "sql": q.SQL, "rowCount": q.RowCount}
	}
	return map[string]any{
		"datasetId":       a.DatasetID,
		"datasetName":     a.DatasetName,
		"analysisType":    a.AnalysisType,
		"timePeriod":      a.TimePeriod,
		"aiAssist":        a.AIAssist,
		"safeMode":        a.SafeMode,
		"privacyMode":     a.PrivacyMode,
		"executedQueries": executed,
		"generatedAt":     a.GeneratedAt,
		"sharedWithAI":    a.SharedWithAI,
	}
}
