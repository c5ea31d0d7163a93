package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	relayTimeout      = 8 * time.Second
	relayMaxBodyBytes = 256 * 1024
	relayMaxCalls     = 5

	// RelayToolName is the function name advertised to models.
	RelayToolName = "http_request"

	relayToolDescription = "Perform an outbound HTTP request and return the response. " +
		"Use this to probe live sites or APIs referenced in the question."
)

// relayArgs is the model-supplied argument shape.
type relayArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// RelaySchema is the JSON schema for the relay tool, shared by both
// provider tool formats.
func RelaySchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "Absolute URL to request",
			},
			"method": map[string]interface{}{
				"type": "string",
				"enum": []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			},
			"headers": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": map[string]interface{}{"type": "string"},
			},
			"body": map[string]interface{}{
				"type": "string",
			},
		},
		"required": []string{"url"},
	}
}

// Relay executes the sandboxed HTTP tool on behalf of agents. Every call
// is bounded by its own timeout and a response-size cap, independent of
// the target server's behavior.
type Relay struct {
	httpClient   *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	maxCalls     int
}

// RelayOption configures the relay.
type RelayOption func(*Relay)

// WithRelayLimits overrides timeout, response cap and call cap.
func WithRelayLimits(timeout time.Duration, maxBodyBytes int64, maxCalls int) RelayOption {
	return func(r *Relay) {
		if timeout > 0 {
			r.timeout = timeout
		}
		if maxBodyBytes > 0 {
			r.maxBodyBytes = maxBodyBytes
		}
		if maxCalls > 0 {
			r.maxCalls = maxCalls
		}
	}
}

// WithRelayHTTPClient overrides the HTTP client.
func WithRelayHTTPClient(hc *http.Client) RelayOption {
	return func(r *Relay) { r.httpClient = hc }
}

// NewRelay creates a relay with default limits.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		httpClient:   &http.Client{},
		timeout:      relayTimeout,
		maxBodyBytes: relayMaxBodyBytes,
		maxCalls:     relayMaxCalls,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxCalls returns the per-conversation call cap.
func (r *Relay) MaxCalls() int {
	return r.maxCalls
}

// CapExceededPayload is the synthetic result returned for calls past the
// per-conversation cap. The request is never performed.
func (r *Relay) CapExceededPayload() string {
	return prettyJSON(map[string]interface{}{
		"ok":    false,
		"error": "tool call limit exceeded: at most " + strconv.Itoa(r.maxCalls) + " HTTP requests per turn",
	})
}

// Execute parses the model-supplied arguments and performs the request.
// Malformed argument JSON degrades to an empty argument object rather
// than failing the turn; the missing URL then surfaces in the payload.
// The returned string is always valid pretty-printed JSON.
func (r *Relay) Execute(ctx context.Context, rawArgs string) string {
	var args relayArgs
	if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
		args = relayArgs{}
	}

	if strings.TrimSpace(args.URL) == "" {
		return prettyJSON(map[string]interface{}{
			"ok":    false,
			"error": "missing required argument: url",
		})
	}

	method := strings.ToUpper(strings.TrimSpace(args.Method))
	if method == "" {
		method = http.MethodGet
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if args.Body != "" {
		body = bytes.NewBufferString(args.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return prettyJSON(map[string]interface{}{
			"ok":    false,
			"error": "building request: " + err.Error(),
		})
	}
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return prettyJSON(map[string]interface{}{
			"ok":    false,
			"error": "request failed: " + err.Error(),
		})
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, r.maxBodyBytes)
	respBody, err := io.ReadAll(limited)
	if err != nil {
		return prettyJSON(map[string]interface{}{
			"ok":    false,
			"error": "reading response: " + err.Error(),
		})
	}

	return prettyJSON(map[string]interface{}{
		"ok": true,
		"response": map[string]interface{}{
			"status":      resp.StatusCode,
			"contentType": resp.Header.Get("Content-Type"),
			"body":        string(respBody),
			"truncated":   int64(len(respBody)) == r.maxBodyBytes,
		},
	})
}

func prettyJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return `{"ok": false, "error": "internal serialization failure"}`
	}
	return string(data)
}
