// Package providers normalizes the three LLM chat APIs behind one call
// contract, including the agentic HTTP-relay tool loop.
package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/logging"
)

const (
	defaultOpenAIURL    = "https://api.openai.com/v1/chat/completions"
	defaultAnthropicURL = "https://api.anthropic.com/v1/messages"
	defaultGrokURL      = "https://api.x.ai/v1/chat/completions"

	anthropicAPIVersion = "2023-06-01"

	// invokeTimeout bounds one full agent invocation, tool loop included.
	invokeTimeout = 20 * time.Second

	defaultTemperature = 0.3
	defaultMaxTokens   = 4096
)

// Message is one turn of a provider-neutral conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options controls a single invocation.
type Options struct {
	// EnableRelay advertises the HTTP-relay tool to the model.
	EnableRelay bool
	Temperature float64
	MaxTokens   int
}

// Result is the normalized outcome of an invocation.
type Result struct {
	Content          string
	ProviderUsed     core.Provider
	HTTPRequestCount int // relay tool calls actually performed
}

// Invoker is the call contract the workflow engine depends on.
type Invoker interface {
	Invoke(ctx context.Context, agent *core.Agent, creds core.CredentialMap, conversation []Message, opts Options) (*Result, error)
}

// Client implements Invoker against the real provider APIs.
type Client struct {
	httpClient   *http.Client
	relay        *Relay
	timeout      time.Duration
	openaiURL    string
	anthropicURL string
	grokURL      string
	logger       *logging.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints overrides the provider endpoints. Tests point these at
// httptest servers.
func WithEndpoints(openai, anthropic, grok string) ClientOption {
	return func(c *Client) {
		if openai != "" {
			c.openaiURL = openai
		}
		if anthropic != "" {
			c.anthropicURL = anthropic
		}
		if grok != "" {
			c.grokURL = grok
		}
	}
}

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a provider client.
func NewClient(relay *Relay, logger *logging.Logger, opts ...ClientOption) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: invokeTimeout},
		relay:        relay,
		timeout:      invokeTimeout,
		openaiURL:    defaultOpenAIURL,
		anthropicURL: defaultAnthropicURL,
		grokURL:      defaultGrokURL,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs one conversation against the agent's provider. A missing
// credential fails immediately without a network call. The whole call,
// tool loop included, runs under the invocation timeout; expiry yields a
// timeout error distinguishable from provider errors. There is no
// cross-provider fallback.
func (c *Client) Invoke(ctx context.Context, agent *core.Agent, creds core.CredentialMap, conversation []Message, opts Options) (*Result, error) {
	key, ok := creds.CredentialFor(agent.Provider)
	if !ok {
		return nil, core.ErrConfig(core.CodeMissingCredential,
			"no credential supplied for provider "+string(agent.Provider))
	}

	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var result *Result
	var err error
	switch agent.Provider {
	case core.ProviderOpenAI:
		result, err = c.invokeOpenAICompatible(ctx, core.ProviderOpenAI, c.openaiURL, key, agent.Model, conversation, opts)
	case core.ProviderGrok:
		// xAI's chat API is wire-compatible with OpenAI's.
		result, err = c.invokeOpenAICompatible(ctx, core.ProviderGrok, c.grokURL, key, agent.Model, conversation, opts)
	case core.ProviderAnthropic:
		result, err = c.invokeAnthropic(ctx, key, agent.Model, conversation, opts)
	default:
		return nil, core.ErrValidation("INVALID_PROVIDER", "unsupported provider: "+string(agent.Provider))
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.ErrTimeout("provider call exceeded " + c.timeout.String()).
				WithDetail("provider", string(agent.Provider))
		}
		return nil, err
	}
	return result, nil
}
