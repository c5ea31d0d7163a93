package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/logging"
)

func openaiAgent() *core.Agent {
	return &core.Agent{ID: "agent-casper", Slug: core.SlugCasper, Name: "Casper", Provider: core.ProviderOpenAI, Model: "gpt-4o"}
}

func anthropicAgent() *core.Agent {
	return &core.Agent{ID: "agent-balthasar", Slug: core.SlugBalthasar, Name: "Balthasar", Provider: core.ProviderAnthropic, Model: "claude-sonnet-4-20250514"}
}

func grokAgent() *core.Agent {
	return &core.Agent{ID: "agent-melchior", Slug: core.SlugMelchior, Name: "Melchior", Provider: core.ProviderGrok, Model: "grok-3"}
}

func fullCreds() core.CredentialMap {
	return core.CredentialMap{"openai": "sk-test", "anthropic": "sk-ant-test", "xai": "xai-test"}
}

func openaiTextResponse(content string) string {
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestInvokeMissingCredentialFailsWithoutNetwork(t *testing.T) {
	hits := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints(srv.URL, srv.URL, srv.URL))
	_, err := client.Invoke(context.Background(), openaiAgent(), core.CredentialMap{}, []Message{{Role: "user", Content: "hi"}}, Options{})

	require.Error(t, err)
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.ErrCatConfig, domErr.Category)
	assert.Equal(t, core.CodeMissingCredential, domErr.Code)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestInvokeOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.InDelta(t, 0.3, req.Temperature, 0.001)
		assert.Empty(t, req.Tools)

		_, _ = w.Write([]byte(openaiTextResponse("a fine proposal")))
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints(srv.URL, "", ""))
	result, err := client.Invoke(context.Background(), openaiAgent(), fullCreds(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "a fine proposal", result.Content)
	assert.Equal(t, core.ProviderOpenAI, result.ProviderUsed)
	assert.Zero(t, result.HTTPRequestCount)
}

func TestInvokeGrokUsesOpenAIWireFormatAndXAIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xai-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(openaiTextResponse("grok says hi")))
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints("", "", srv.URL))
	result, err := client.Invoke(context.Background(), grokAgent(), fullCreds(), []Message{{Role: "user", Content: "hi"}}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "grok says hi", result.Content)
	assert.Equal(t, core.ProviderGrok, result.ProviderUsed)
}

func TestInvokeGrokPrefersGrokKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer grok-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(openaiTextResponse("ok")))
	}))
	defer srv.Close()

	creds := core.CredentialMap{"grok": "grok-key", "xai": "legacy-key"}
	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints("", "", srv.URL))
	_, err := client.Invoke(context.Background(), grokAgent(), creds, []Message{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
}

func TestInvokeAnthropicSplitsSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "be brief", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		resp, _ := json.Marshal(anthropicResponse{
			Content:    []anthropicBlock{{Type: "text", Text: "claude answers"}},
			StopReason: "end_turn",
		})
		_, _ = w.Write(resp)
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints("", srv.URL, ""))
	result, err := client.Invoke(context.Background(), anthropicAgent(), fullCreds(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "claude answers", result.Content)
}

func TestInvokeNon2xxIsProviderError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"client error", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, false},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error": "nope"}`))
			}))
			defer srv.Close()

			client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints(srv.URL, "", ""))
			_, err := client.Invoke(context.Background(), openaiAgent(), fullCreds(), []Message{{Role: "user", Content: "hi"}}, Options{})

			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatProvider))
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
		})
	}
}

func TestInvokeTimeoutIsLabeled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(openaiTextResponse("too late")))
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(),
		WithEndpoints(srv.URL, "", ""),
		WithTimeout(30*time.Millisecond))
	_, err := client.Invoke(context.Background(), openaiAgent(), fullCreds(), []Message{{Role: "user", Content: "hi"}}, Options{})

	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
	assert.True(t, core.IsRetryable(err))
}

func TestInvokeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not json"))
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints(srv.URL, "", ""))
	_, err := client.Invoke(context.Background(), openaiAgent(), fullCreds(), []Message{{Role: "user", Content: "hi"}}, Options{})

	require.Error(t, err)
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeProviderMalformed, domErr.Code)
}

// openaiToolCallResponse builds a response asking for n relay calls.
func openaiToolCallResponse(n int, target string) string {
	calls := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		calls = append(calls, map[string]interface{}{
			"id":   "call_" + string(rune('a'+i)),
			"type": "function",
			"function": map[string]interface{}{
				"name":      RelayToolName,
				"arguments": `{"url": "` + target + `"}`,
			},
		})
	}
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{
				"role":       "assistant",
				"tool_calls": calls,
			}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestOpenAIToolLoopEnforcesCallCap(t *testing.T) {
	relayHits := int32(0)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&relayHits, 1)
		_, _ = w.Write([]byte("probe result"))
	}))
	defer target.Close()

	providerCalls := int32(0)
	var secondRequest openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&providerCalls, 1)
		if call == 1 {
			// Ask for six relay calls at once; only five may execute.
			_, _ = w.Write([]byte(openaiToolCallResponse(6, target.URL)))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&secondRequest)
		_, _ = w.Write([]byte(openaiTextResponse("done probing")))
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints(srv.URL, "", ""))
	result, err := client.Invoke(context.Background(), openaiAgent(), fullCreds(),
		[]Message{{Role: "user", Content: "probe the site"}}, Options{EnableRelay: true})

	require.NoError(t, err)
	assert.Equal(t, "done probing", result.Content)
	assert.Equal(t, 5, result.HTTPRequestCount)
	assert.Equal(t, int32(5), atomic.LoadInt32(&relayHits))

	// The sixth tool result carries the synthetic cap payload.
	var toolResults []openaiMessage
	for _, msg := range secondRequest.Messages {
		if msg.Role == "tool" {
			toolResults = append(toolResults, msg)
		}
	}
	require.Len(t, toolResults, 6)
	assert.Contains(t, toolResults[5].Content, "tool call limit exceeded")
	for _, tr := range toolResults[:5] {
		assert.Contains(t, tr.Content, "probe result")
	}
}

func TestAnthropicToolLoop(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("live data"))
	}))
	defer target.Close()

	providerCalls := int32(0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := atomic.AddInt32(&providerCalls, 1)
		var resp anthropicResponse
		if call == 1 {
			resp = anthropicResponse{
				Content: []anthropicBlock{{
					Type:  "tool_use",
					ID:    "tu_1",
					Name:  RelayToolName,
					Input: json.RawMessage(`{"url": "` + target.URL + `"}`),
				}},
				StopReason: "tool_use",
			}
		} else {
			var req anthropicRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			// The follow-up turn answers the tool_use with a tool_result.
			last := req.Messages[len(req.Messages)-1]
			assert.Equal(t, "user", last.Role)
			require.NotEmpty(t, last.Content)
			assert.Equal(t, "tool_result", last.Content[0].Type)
			assert.Equal(t, "tu_1", last.Content[0].ToolUseID)

			resp = anthropicResponse{
				Content:    []anthropicBlock{{Type: "text", Text: "probed and answered"}},
				StopReason: "end_turn",
			}
		}
		data, _ := json.Marshal(resp)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	client := NewClient(NewRelay(), logging.NewNop(), WithEndpoints("", srv.URL, ""))
	result, err := client.Invoke(context.Background(), anthropicAgent(), fullCreds(),
		[]Message{{Role: "user", Content: "probe"}}, Options{EnableRelay: true})

	require.NoError(t, err)
	assert.Equal(t, "probed and answered", result.Content)
	assert.Equal(t, 1, result.HTTPRequestCount)
}
