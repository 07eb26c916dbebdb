// Package aiclient implements the optional external intent extractor
// (spec §4.4.1): a narrow, classification-only collaborator invoked by
// C4 when the deterministic router's confidence is below 0.8 and AI
// Assist is enabled.
//
// Grounded on gomind's pkg/ai OpenAIClient (chat-completions HTTP call
// shape, Bearer auth, context-aware http.Client) narrowed from a
// free-form completion/streaming interface down to the single
// extract() contract the spec requires; nothing here generates SQL or
// prose. Library: standard library net/http + encoding/json — the
// teacher's own OpenAIClient is itself stdlib-only for the HTTP leg,
// so there is nothing to swap in from the rest of the pack for a single
// JSON-over-HTTPS POST.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nalyze/nalyze/internal/apperrors"
	"github.com/nalyze/nalyze/internal/logging"
)

// Unspecified is the sentinel the extractor returns for any field it
// could not determine (spec §4.4.1).
const Unspecified = "unspecified"

// Extraction is the five-field classification record (spec §4.4.1).
type Extraction struct {
	AnalysisType string `json:"analysis_type"`
	TimePeriod   string `json:"time_period"`
	Metric       string `json:"metric"`
	GroupBy      string `json:"group_by"`
	DateColumn   string `json:"date_column"`
}

// Client extracts a classification record from a free-text message.
// The Non-goal in spec §4.4.1 (no SQL, no questions, no prose) is
// enforced by the contract's return type, not by runtime policing of
// the provider's output.
type Client interface {
	// Extract calls the configured provider. redactedCatalogSummary is a
	// short textual description of the dataset's columns — under
	// Privacy Mode the caller has already substituted PII placeholders.
	Extract(ctx context.Context, message, redactedCatalogSummary string) (Extraction, error)
	// Configured reports whether the client has everything it needs to
	// make a real call (spec §4.4.1 invocation policy, condition (c)).
	Configured() bool
}

// NullClient is returned when no API key is configured; Extract always
// fails with ErrAIUnavailable so C4 can route to its instructional
// final_answer without a network round trip.
type NullClient struct{}

func (NullClient) Configured() bool { return false }

func (NullClient) Extract(context.Context, string, string) (Extraction, error) {
	return Extraction{}, apperrors.New("aiclient.Extract", apperrors.ErrAIUnavailable,
		"AI Assist is on but no provider API key is configured")
}

// OpenAIClient calls an OpenAI-compatible chat-completions endpoint and
// parses the completion as the five-field JSON record.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// New constructs a Client backed by apiKey, or a NullClient when apiKey
// is empty.
func New(apiKey, baseURL, model string) Client {
	if apiKey == "" {
		return NullClient{}
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (c *OpenAIClient) Configured() bool { return c.apiKey != "" }

const systemPrompt = `You classify an analytics question into a fixed set of fields. ` +
	`Respond with ONLY a JSON object with exactly these keys: analysis_type, time_period, ` +
	`metric, group_by, date_column. analysis_type must be one of row_count, top_categories, ` +
	`trend, outliers, data_quality, or "unspecified". time_period must be one of last_7_days, ` +
	`last_30_days, last_90_days, all_time, or "unspecified". metric, group_by, and date_column ` +
	`must be column names from the provided dataset summary, or "unspecified". Never include ` +
	`SQL, questions, or explanatory prose — only the JSON object.`

func (c *OpenAIClient) Extract(ctx context.Context, message, redactedCatalogSummary string) (Extraction, error) {
	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": fmt.Sprintf("Dataset columns: %s\n\nQuestion: %s", redactedCatalogSummary, message)},
		},
		"temperature": 0,
	}

	body, err := c.call(ctx, payload)
	if err != nil {
		return Extraction{}, err
	}
	return parseExtraction(ctx, body)
}

func (c *OpenAIClient) call(ctx context.Context, payload map[string]any) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Wrap("aiclient.call", apperrors.ErrEngineError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return "", apperrors.Wrap("aiclient.call", apperrors.ErrAIUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap("aiclient.call", apperrors.ErrAIUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperrors.Wrap("aiclient.call", apperrors.ErrAIUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.New("aiclient.call", apperrors.ErrAIUnavailable,
			fmt.Sprintf("provider returned status %d", resp.StatusCode))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", apperrors.Wrap("aiclient.call", apperrors.ErrAIInvalidResponse, err)
	}
	if len(decoded.Choices) == 0 {
		return "", apperrors.New("aiclient.call", apperrors.ErrAIInvalidResponse, "provider returned no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// parseExtraction applies the spec §4.4.1 parsing policy: strip
// code-fence wrappers, parse JSON, default missing/null/empty to
// "unspecified". Parse failures are logged with the truncated raw text
// for diagnostics (spec §4.4.1).
func parseExtraction(ctx context.Context, raw string) (Extraction, error) {
	text := stripCodeFence(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("raw_response", truncateForLog(raw, 500)).
			Msg("aiclient: could not parse provider response as the expected JSON record")
		return Extraction{}, apperrors.New("aiclient.parseExtraction", apperrors.ErrAIInvalidResponse,
			"Invalid response format from AI")
	}

	return Extraction{
		AnalysisType: normalizeField(fields["analysis_type"]),
		TimePeriod:   normalizeField(fields["time_period"]),
		Metric:       normalizeField(fields["metric"]),
		GroupBy:      normalizeField(fields["group_by"]),
		DateColumn:   normalizeField(fields["date_column"]),
	}, nil
}

func normalizeField(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return Unspecified
	}
	return s
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}
