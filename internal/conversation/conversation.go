// Package conversation implements the Conversation State Machine (C4,
// spec §4.4): it owns per-conversation context, interprets each turn in
// priority order (intent click, free-text routing, AI-assisted
// extraction, clarification), and decides which of the four response
// shapes a turn produces.
//
// The session map with a per-session lock is adapted from gomind's
// ConversationConnectionManager (internal/conversation/manager.go): the
// same map[string]*Session-under-RWMutex shape, but Session.Context
// here is the spec's turn-accumulation context rather than chat
// history, and the manager's job is a state-transition decision, not
// message relay.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nalyze/nalyze/internal/aiclient"
	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/catalog"
	"github.com/nalyze/nalyze/internal/pii"
	"github.com/nalyze/nalyze/internal/planner"
	"github.com/nalyze/nalyze/internal/router"
	"github.com/nalyze/nalyze/internal/sqlexec"
)

// ResponseType discriminates the four chat response shapes (spec §6).
type ResponseType string

const (
	TypeNeedsClarification ResponseType = "needs_clarification"
	TypeIntentAcknowledged ResponseType = "intent_acknowledged"
	TypeRunQueries         ResponseType = "run_queries"
	TypeFinalAnswer        ResponseType = "final_answer"
)

// Choice is one option offered inside a needs_clarification response.
type Choice struct {
	Label string
	Value string
}

// Response is the tagged union the state machine returns for one turn.
type Response struct {
	Type ResponseType

	// needs_clarification
	Question      string
	Choices       []Choice
	Intent        string
	AllowFreeText bool

	// intent_acknowledged
	Value   any
	State   map[string]any
	Message string

	// run_queries
	Queries     []planner.Query
	Explanation string

	// final_answer
	Tables []planner.Table

	Audit           *planner.Audit
	RoutingMetadata *planner.RoutingMetadata
}

// Session holds one conversation's accumulated context (spec §3).
type Session struct {
	mu sync.Mutex

	AnalysisType        string
	TimePeriod          string
	Metric              string
	GroupBy             string
	DateColumn          string
	Limit               int
	LastPlannedQueries  []planner.Query
	ClarificationAsked  bool
}

// Turn is the validated input envelope for one /chat request (spec §6).
type Turn struct {
	DatasetID      string
	ConversationID string
	Message        string
	Intent         string
	Value          string
	PrivacyMode    bool
	SafeMode       bool
	AIAssist       bool
	ResultsContext []sqlexec.ResultSet
	HasResults     bool
}

// displayToInternal maps the UI's display labels to internal context
// values (spec §4.4 step 1); unknown values pass through unchanged.
var displayToInternal = map[string]string{
	"Row count":       "row_count",
	"Top categories":  "top_categories",
	"Trend":           "trend",
	"Outliers":        "outliers",
	"Data quality":    "data_quality",
	"Last 7 days":     "last_7_days",
	"Last 30 days":    "last_30_days",
	"Last 90 days":    "last_90_days",
	"All time":        "all_time",
}

func mapDisplay(value string) string {
	if internal, ok := displayToInternal[value]; ok {
		return internal
	}
	return value
}

var analysisChoices = []Choice{
	{Label: "Row count", Value: "row_count"},
	{Label: "Top categories", Value: "top_categories"},
	{Label: "Trend", Value: "trend"},
	{Label: "Outliers", Value: "outliers"},
	{Label: "Data quality", Value: "data_quality"},
}

var timePeriodChoices = []Choice{
	{Label: "Last 7 days", Value: "last_7_days"},
	{Label: "Last 30 days", Value: "last_30_days"},
	{Label: "Last 90 days", Value: "last_90_days"},
	{Label: "All time", Value: "all_time"},
}

const guidanceMessage = "I can help with trends, top categories, outliers, row counts, and data quality checks. " +
	"Try one of the suggested questions, or turn on AI Assist for free-form questions."

// Manager owns the in-process conversation map (spec §5, "Conversation
// state map: read-modify-write under a per-key lock").
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	router *router.Router
	ai     aiclient.Client
}

// NewManager constructs a conversation manager over a shared router and
// intent-extraction client.
func NewManager(r *router.Router, ai aiclient.Client) *Manager {
	return &Manager{sessions: make(map[string]*Session), router: r, ai: ai}
}

func (m *Manager) session(conversationID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conversationID]
	if !ok {
		s = &Session{}
		m.sessions[conversationID] = s
	}
	return s
}

// NewConversationID mints a server-side conversation id (spec §3).
func NewConversationID() string {
	return "conv-" + uuid.NewString()
}

// Handle runs one turn through the state machine (spec §4.4). cat is
// the dataset's catalog (used for readiness-independent planning and
// for the PII-redacted summary passed to the intent extractor); dsName
// is the dataset's display name for the audit record.
func (m *Manager) Handle(ctx context.Context, turn Turn, cat *catalog.Catalog, dsName string) (Response, error) {
	if !turn.HasResults {
		if err := validateTurn(turn); err != nil {
			return Response{}, err
		}
	}

	session := m.session(turn.ConversationID)
	session.mu.Lock()
	defer session.mu.Unlock()

	if turn.HasResults {
		return m.summarize(session, turn, dsName), nil
	}

	var routing *planner.RoutingMetadata

	if turn.Intent != "" {
		m.applyIntent(session, turn.Intent, turn.Value)
		if !isReady(session) {
			// Intent clicks acknowledge immediately and echo context so the
			// UI's own picker flow decides the next field to ask for,
			// rather than the server issuing a second clarification prompt
			// for a turn the client already knows how to continue (spec §8
			// scenario 2).
			return m.acknowledge(session, turn.Intent, turn.Value), nil
		}
	} else {
		resp, rm, resolved := m.handleFreeText(ctx, session, turn, cat)
		routing = rm
		if !resolved {
			return resp, nil
		}
	}

	resp, ready := m.checkReadiness(session)
	if !ready {
		if routing != nil {
			resp.RoutingMetadata = routing
		}
		return resp, nil
	}

	return m.dispatch(session, turn, cat, dsName, routing), nil
}

func validateTurn(t Turn) error {
	hasMessage := strings.TrimSpace(t.Message) != ""
	hasIntent := strings.TrimSpace(t.Intent) != ""

	if hasMessage == hasIntent {
		return apperrors.New("conversation.validateTurn", apperrors.ErrProtocolViolation,
			"exactly one of message or intent must be present")
	}
	if hasIntent && strings.TrimSpace(t.Value) == "" {
		return apperrors.New("conversation.validateTurn", apperrors.ErrProtocolViolation,
			"value is required when intent is present")
	}
	return nil
}

// applyIntent implements spec §4.4 step 1.
func (m *Manager) applyIntent(s *Session, intent, rawValue string) {
	value := mapDisplay(rawValue)

	switch intent {
	case "set_analysis_type":
		s.AnalysisType = value
	case "set_time_period":
		s.TimePeriod = value
	case "set_metric":
		s.Metric = value
	case "set_group_by":
		s.GroupBy = value
	default:
		// Unknown intents leave the context unchanged; only the four
		// intents above set a field.
	}

	if s.AnalysisType == "row_count" {
		s.TimePeriod = "all_time"
	}
}

// handleFreeText implements spec §4.4 step 2. The bool return is false
// when the turn is fully answered here (needs_clarification or a static
// final_answer) and the caller should return resp immediately.
func (m *Manager) handleFreeText(ctx context.Context, s *Session, t Turn, cat *catalog.Catalog) (Response, *planner.RoutingMetadata, bool) {
	if isReady(s) {
		return Response{}, nil, true
	}

	route := m.router.Route(t.Message)
	conf := route.Confidence

	if route.Confidence >= 0.8 {
		applyRouterResult(s, route)
		rm := &planner.RoutingMetadata{
			RoutingDecision:         "deterministic",
			DeterministicConfidence: &conf,
			DeterministicMatch:      string(route.AnalysisType),
			OpenAIInvoked:           false,
			SafeMode:                t.SafeMode,
			PrivacyMode:             t.PrivacyMode,
		}
		return Response{}, rm, true
	}

	if t.AIAssist && m.ai != nil && m.ai.Configured() {
		summary := pii.Summary(cat)
		if t.PrivacyMode {
			summary = pii.Summary(pii.Redact(cat))
		}
		extraction, err := m.ai.Extract(ctx, t.Message, summary)
		rm := &planner.RoutingMetadata{
			RoutingDecision: "ai_intent_extraction",
			OpenAIInvoked:   true,
			SafeMode:        t.SafeMode,
			PrivacyMode:     t.PrivacyMode,
		}
		if err != nil {
			return Response{
				Type:    TypeFinalAnswer,
				Message: "AI Assist could not classify your question (" + err.Error() + "). " + guidanceMessage,
			}, rm, false
		}
		applyExtraction(s, extraction)
		return Response{}, rm, true
	}

	if !s.ClarificationAsked {
		s.ClarificationAsked = true
		return Response{
			Type:          TypeNeedsClarification,
			Question:      "What would you like to know about this dataset?",
			Choices:       analysisChoices,
			Intent:        "set_analysis_type",
			AllowFreeText: false,
		}, nil, false
	}

	return Response{Type: TypeFinalAnswer, Message: guidanceMessage}, nil, false
}

func (m *Manager) acknowledge(s *Session, intent, rawValue string) Response {
	return Response{
		Type:    TypeIntentAcknowledged,
		Intent:  intent,
		Value:   mapDisplay(rawValue),
		State:   sessionState(s),
		Message: fmt.Sprintf("Got it — %s set to %q.", intent, mapDisplay(rawValue)),
	}
}

func sessionState(s *Session) map[string]any {
	return map[string]any{
		"analysis_type": s.AnalysisType,
		"time_period":   s.TimePeriod,
		"metric":        s.Metric,
		"group_by":      s.GroupBy,
		"date_column":   s.DateColumn,
	}
}

func applyRouterResult(s *Session, res router.Result) {
	s.AnalysisType = string(res.AnalysisType)
	if res.Params.TimePeriod != "" {
		s.TimePeriod = res.Params.TimePeriod
	}
	if res.Params.Limit > 0 {
		s.Limit = res.Params.Limit
	}
	if s.AnalysisType == "row_count" {
		s.TimePeriod = "all_time"
	}
}

func applyExtraction(s *Session, e aiclient.Extraction) {
	if e.AnalysisType != aiclient.Unspecified {
		s.AnalysisType = e.AnalysisType
	}
	if e.TimePeriod != aiclient.Unspecified {
		s.TimePeriod = e.TimePeriod
	}
	if e.Metric != aiclient.Unspecified {
		s.Metric = e.Metric
	}
	if e.GroupBy != aiclient.Unspecified {
		s.GroupBy = e.GroupBy
	}
	if e.DateColumn != aiclient.Unspecified {
		s.DateColumn = e.DateColumn
	}
	if s.AnalysisType == "row_count" {
		s.TimePeriod = "all_time"
	}
}

func isReady(s *Session) bool {
	if !isClosedAnalysisType(s.AnalysisType) {
		return false
	}
	if s.AnalysisType == "row_count" || s.AnalysisType == "data_quality" {
		return true
	}
	return s.TimePeriod != ""
}

func isClosedAnalysisType(t string) bool {
	switch router.AnalysisType(t) {
	case router.RowCount, router.Trend, router.Outliers, router.TopCategories, router.DataQuality:
		return true
	}
	return false
}

// checkReadiness implements spec §4.4 step 3.
func (m *Manager) checkReadiness(s *Session) (Response, bool) {
	if isReady(s) {
		return Response{}, true
	}
	if isClosedAnalysisType(s.AnalysisType) {
		return Response{
			Type:          TypeNeedsClarification,
			Question:      "What time period should this cover?",
			Choices:       timePeriodChoices,
			Intent:        "set_time_period",
			AllowFreeText: false,
		}, false
	}
	return Response{
		Type:          TypeNeedsClarification,
		Question:      "What would you like to know about this dataset?",
		Choices:       analysisChoices,
		Intent:        "set_analysis_type",
		AllowFreeText: false,
	}, false
}

// dispatch implements spec §4.4 step 4 (plan path; the results path is
// handled earlier in Handle via summarize).
func (m *Manager) dispatch(s *Session, t Turn, cat *catalog.Catalog, dsName string, rm *planner.RoutingMetadata) Response {
	plan := planner.Build(cat, router.AnalysisType(s.AnalysisType), t.SafeMode)
	s.LastPlannedQueries = plan.Queries

	if rm == nil {
		rm = &planner.RoutingMetadata{RoutingDecision: "direct_query", SafeMode: t.SafeMode, PrivacyMode: t.PrivacyMode}
	}

	audit := buildAudit(t, s, dsName, nil, rm)

	return Response{
		Type:            TypeRunQueries,
		Queries:         plan.Queries,
		Explanation:     plan.Explanation,
		Audit:           &audit,
		RoutingMetadata: rm,
	}
}

// summarize implements the resultsContext branch of spec §4.4 step 4.
func (m *Manager) summarize(s *Session, t Turn, dsName string) Response {
	summary := planner.Summarize(router.AnalysisType(s.AnalysisType), t.ResultsContext)

	rm := &planner.RoutingMetadata{RoutingDecision: "direct_query", SafeMode: t.SafeMode, PrivacyMode: t.PrivacyMode}
	audit := buildAudit(t, s, dsName, t.ResultsContext, rm)

	return Response{
		Type:            TypeFinalAnswer,
		Message:         summary.Message,
		Tables:          summary.Tables,
		Audit:           &audit,
		RoutingMetadata: rm,
	}
}

func buildAudit(t Turn, s *Session, dsName string, results []sqlexec.ResultSet, rm *planner.RoutingMetadata) planner.Audit {
	executed := make([]planner.ExecutedQuery, 0, len(s.LastPlannedQueries))
	rowCounts := map[string]int{}
	for _, r := range results {
		rowCounts[r.Name] = r.RowCount
	}
	for _, q := range s.LastPlannedQueries {
		executed = append(executed, planner.ExecutedQuery{Name: q.Name, SQL: q.SQL, RowCount: rowCounts[q.Name]})
	}

	var shared []string
	if t.PrivacyMode {
		shared = append(shared, "PII_redacted")
	}
	if t.SafeMode {
		shared = append(shared, "safe_mode_no_raw_rows")
	}

	return planner.Audit{
		DatasetID:       t.DatasetID,
		DatasetName:     dsName,
		AnalysisType:    s.AnalysisType,
		TimePeriod:      s.TimePeriod,
		AIAssist:        t.AIAssist,
		SafeMode:        t.SafeMode,
		PrivacyMode:     t.PrivacyMode,
		ExecutedQueries: executed,
		GeneratedAt:     time.Now().UTC(),
		SharedWithAI:    shared,
		RoutingMetadata: rm,
	}
}
