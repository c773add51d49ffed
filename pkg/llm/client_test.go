package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"synapse-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{
		APIKey:         "k",
		BaseURL:        srv.URL,
		Model:          "test-model",
		TimeoutSeconds: 5,
		Generation:     config.LLMGenerationConfig{Temperature: 0.5},
	})
}

func TestComplete_SendsMessagesAndConfigTemperature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.5, *req.Temperature, 1e-9)
		assert.Nil(t, req.ResponseFormat)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	})

	out, err := c.Complete(context.Background(), CompletionRequest{Messages: []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestComplete_GenerationOverridesConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.0, *req.Temperature, 1e-9)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	zero := 0.0
	_, err := c.Complete(context.Background(), CompletionRequest{
		Messages:   []Message{{Role: RoleUser, Content: "x"}},
		Generation: &GenerationParams{Temperature: &zero},
	})
	require.NoError(t, err)
}

func TestCompleteJSON_StrictSchema(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)
		assert.True(t, req.ResponseFormat.JSONSchema.Strict)
		assert.Equal(t, "answer", req.ResponseFormat.JSONSchema.Name)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"answer\":\"42\"}"}}]}`))
	})

	var out struct {
		Answer string `json:"answer"`
	}
	err := c.CompleteJSON(context.Background(),
		CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}},
		Schema{Name: "answer", Schema: json.RawMessage(`{"type":"object"}`)}, &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.Answer)
}

func TestCompleteJSON_CodeFenceAndMalformed(t *testing.T) {
	content := "```json\n{\"answer\":\"fenced\"}\n```"
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		resp, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
		_, _ = w.Write(resp)
	})

	var out struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, c.CompleteJSON(context.Background(), CompletionRequest{}, Schema{Name: "a"}, &out))
	assert.Equal(t, "fenced", out.Answer)

	content = "not json"
	assert.Error(t, c.CompleteJSON(context.Background(), CompletionRequest{}, Schema{Name: "a"}, &out))
}

func TestComplete_Failures(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
		_, err := c.Complete(context.Background(), CompletionRequest{})
		assert.Error(t, err)
	})
	t.Run("no choices", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		})
		_, err := c.Complete(context.Background(), CompletionRequest{})
		assert.True(t, errors.Is(err, ErrEmptyCompletion))
	})
	t.Run("refusal", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"","refusal":"no"}}]}`))
		})
		_, err := c.Complete(context.Background(), CompletionRequest{})
		assert.Error(t, err)
	})
}
