package aiclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nalyze/nalyze/internal/apperrors"
)

func TestNew_EmptyKeyReturnsNullClient(t *testing.T) {
	c := New("", "", "")
	assert.False(t, c.Configured())
	_, err := c.Extract(context.Background(), "how many rows", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAIUnavailable))
}

func TestParseExtraction_StripsCodeFenceAndDefaultsMissing(t *testing.T) {
	raw := "```json\n{\"analysis_type\": \"trend\", \"time_period\": null}\n```"
	ext, err := parseExtraction(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "trend", ext.AnalysisType)
	assert.Equal(t, Unspecified, ext.TimePeriod)
	assert.Equal(t, Unspecified, ext.Metric)
	assert.Equal(t, Unspecified, ext.GroupBy)
	assert.Equal(t, Unspecified, ext.DateColumn)
}

func TestParseExtraction_MalformedJSONIsInvalidResponse(t *testing.T) {
	_, err := parseExtraction(context.Background(), "not json at all")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAIInvalidResponse))
}

func TestOpenAIClient_ExtractParsesCompletionContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"analysis_type\":\"row_count\",\"time_period\":\"all_time\",\"metric\":\"unspecified\",\"group_by\":\"unspecified\",\"date_column\":\"unspecified\"}"}}]}`))
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "gpt-4o-mini")
	require.True(t, c.Configured())

	ext, err := c.Extract(context.Background(), "row count please", "columns: a, b")
	require.NoError(t, err)
	assert.Equal(t, "row_count", ext.AnalysisType)
	assert.Equal(t, "all_time", ext.TimePeriod)
}

func TestOpenAIClient_NonOKStatusIsAIUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("bad-key", srv.URL, "gpt-4o-mini")
	_, err := c.Extract(context.Background(), "row count", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAIUnavailable))
}

func TestWithRetry_RetriesOnceOnTransientFailure(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"analysis_type\":\"unspecified\"}"}}]}`))
	}))
	defer srv.Close()

	c := WithRetry(New("test-key", srv.URL, "gpt-4o-mini"))
	_, err := c.Extract(context.Background(), "msg", "")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestWithRetry_DoesNotRetryInvalidResponse(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"not json"}}]}`))
	}))
	defer srv.Close()

	c := WithRetry(New("test-key", srv.URL, "gpt-4o-mini"))
	_, err := c.Extract(context.Background(), "msg", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAIInvalidResponse))
	assert.Equal(t, 1, attempts)
}
