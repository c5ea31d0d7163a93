package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/magi-sh/magi/internal/core"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	// type=text
	Text string `json:"text,omitempty"`
	// type=tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// type=tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
}

// invokeAnthropic drives the Anthropic messages protocol: the system turn
// is split out of the conversation, remaining turns become content-block
// messages, and the loop continues while the response carries tool_use
// blocks.
func (c *Client) invokeAnthropic(ctx context.Context, apiKey, model string, conversation []Message, opts Options) (*Result, error) {
	var system string
	messages := make([]anthropicMessage, 0, len(conversation))
	for _, m := range conversation {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicBlock{{Type: "text", Text: m.Content}},
		})
	}

	var tools []anthropicTool
	if opts.EnableRelay {
		tools = []anthropicTool{{
			Name:        RelayToolName,
			Description: relayToolDescription,
			InputSchema: RelaySchema(),
		}}
	}

	relayCalls := 0
	for {
		resp, err := c.postAnthropic(ctx, apiKey, anthropicRequest{
			Model:     model,
			MaxTokens: opts.MaxTokens,
			System:    system,
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, err
		}

		toolUses := make([]anthropicBlock, 0)
		var text string
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text += block.Text
			case "tool_use":
				toolUses = append(toolUses, block)
			}
		}

		if len(toolUses) == 0 {
			return &Result{
				Content:          text,
				ProviderUsed:     core.ProviderAnthropic,
				HTTPRequestCount: relayCalls,
			}, nil
		}

		// Echo the assistant blocks, then answer each tool_use with a
		// tool_result block in a single user turn.
		messages = append(messages, anthropicMessage{Role: "assistant", Content: resp.Content})
		results := make([]anthropicBlock, 0, len(toolUses))
		for _, use := range toolUses {
			var payload string
			if relayCalls >= c.relay.MaxCalls() {
				payload = c.relay.CapExceededPayload()
			} else {
				payload = c.relay.Execute(ctx, string(use.Input))
				relayCalls++
			}
			results = append(results, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: use.ID,
				Content:   payload,
			})
		}
		messages = append(messages, anthropicMessage{Role: "user", Content: results})
	}
}

func (c *Client) postAnthropic(ctx context.Context, apiKey string, body anthropicRequest) (*anthropicResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.anthropicURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, core.ErrProvider(core.ProviderAnthropic, resp.StatusCode,
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(respBody)))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &core.DomainError{
			Category: core.ErrCatProvider,
			Code:     core.CodeProviderMalformed,
			Message:  fmt.Sprintf("anthropic: parsing response: %v", err),
			Cause:    err,
		}
	}
	return &result, nil
}
