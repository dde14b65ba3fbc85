package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/config"
	"github.com/mihaisavezi/toolcall-bridge/internal/handlers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUpstream stands in for the configured text-only model: it answers an
// OpenAI-compatible chat-completions request with a canned Hermes-style
// <tool_call> payload, the way a real upstream would emit an in-band call.
func fakeUpstream(t *testing.T, body string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": body}},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newIntegrationConfigManager(t *testing.T, upstreamBase string) *config.Manager {
	t.Helper()

	tmpDir := t.TempDir()
	cfgMgr := config.NewManager(tmpDir)

	require.NoError(t, cfgMgr.Save(&config.Config{
		Host:     "127.0.0.1",
		Port:     8080,
		APIKey:   "test-key",
		Protocol: "hermes",
		Upstream: config.Upstream{
			Name:    "openai-compatible",
			APIBase: upstreamBase,
			Model:   "test-model",
		},
	}))

	_, err := cfgMgr.Load()
	require.NoError(t, err)

	return cfgMgr
}

func TestProxyIntegration_TextOnly(t *testing.T) {
	upstream := fakeUpstream(t, "Hello there, how can I help?")
	defer upstream.Close()

	cfgMgr := newIntegrationConfigManager(t, upstream.URL)
	handler := handlers.NewProxyHandler(cfgMgr, testLogger())

	requestBody := map[string]any{
		"model": "test-model",
		"messages": []map[string]any{
			{"role": "user", "content": "Hello, world!"},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var msg struct {
		Role       string `json:"role"`
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))

	assert.Equal(t, "end_turn", msg.StopReason)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Contains(t, msg.Content[0].Text, "Hello there")
}

func TestProxyIntegration_ToolCall(t *testing.T) {
	transcript := `<tool_call>
{"name": "get_weather", "arguments": {"city": "Berlin"}}
</tool_call>`

	upstream := fakeUpstream(t, transcript)
	defer upstream.Close()

	cfgMgr := newIntegrationConfigManager(t, upstream.URL)
	handler := handlers.NewProxyHandler(cfgMgr, testLogger())

	requestBody := map[string]any{
		"model": "test-model",
		"messages": []map[string]any{
			{"role": "user", "content": "What's the weather in Berlin?"},
		},
		"tools": []map[string]any{
			{
				"name":        "get_weather",
				"description": "Gets the weather for a city",
				"input_schema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"city": map[string]any{"type": "string"},
					},
					"required": []string{"city"},
				},
			},
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var msg struct {
		StopReason string `json:"stop_reason"`
		Content    []struct {
			Type  string         `json:"type"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))

	assert.Equal(t, "tool_use", msg.StopReason)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "tool_use", msg.Content[0].Type)
	assert.Equal(t, "get_weather", msg.Content[0].Name)
	assert.Equal(t, "Berlin", msg.Content[0].Input["city"])
}

func TestProxyIntegration_UnreachableUpstream(t *testing.T) {
	cfgMgr := newIntegrationConfigManager(t, "http://127.0.0.1:1/v1/chat/completions")
	handler := handlers.NewProxyHandler(cfgMgr, testLogger())

	requestBody := map[string]any{
		"model":    "test-model",
		"messages": []map[string]any{{"role": "user", "content": "hi"}},
	}

	jsonBody, err := json.Marshal(requestBody)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(jsonBody))
	req.Header.Set("Authorization", "Bearer test-key")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.NotEqual(t, http.StatusOK, rr.Code, fmt.Sprintf("expected failure, got body %s", rr.Body.String()))
}
