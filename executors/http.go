package executors

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/deepnoodle-ai/conveyor"
)

// HTTPInput is the resolved configuration of an http node.
type HTTPInput struct {
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Query          map[string]string `json:"query,omitempty"`
	Body           any               `json:"body,omitempty"`
	TimeoutSeconds float64           `json:"timeout_seconds,omitempty"`
}

// HTTPOutput is what an http node emits for downstream nodes.
type HTTPOutput struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// HTTPExecutor performs an HTTP request. JSON response bodies are decoded
// so downstream expressions can address fields; anything else is passed
// through as a string.
type HTTPExecutor struct {
	client *http.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{client: &http.Client{}}
}

func (e *HTTPExecutor) Definition() conveyor.Definition {
	return conveyor.Definition{
		ID:          "http",
		Description: "Makes an HTTP request",
		Inputs:      []conveyor.Port{{Name: "main"}},
		Outputs:     []conveyor.Port{{Name: "main"}},
		Parameters: []conveyor.Parameter{
			{Name: "url", Kind: conveyor.ParameterKindString, Required: true},
			{Name: "method", Kind: conveyor.ParameterKindString, Default: "GET"},
			{Name: "headers", Kind: conveyor.ParameterKindMap},
			{Name: "query", Kind: conveyor.ParameterKindMap},
			{Name: "body", Kind: conveyor.ParameterKindAny},
			{Name: "timeout_seconds", Kind: conveyor.ParameterKindNumber},
		},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, ec *conveyor.ExecutionContext, input HTTPInput) (HTTPOutput, error) {
	var out HTTPOutput
	if input.URL == "" {
		return out, fmt.Errorf("url is required")
	}
	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(input.URL)
	if err != nil {
		return out, fmt.Errorf("invalid url %q: %w", input.URL, err)
	}
	if len(input.Query) > 0 {
		values := target.Query()
		for key, value := range input.Query {
			values.Set(key, value)
		}
		target.RawQuery = values.Encode()
	}

	var body io.Reader
	contentType := ""
	if input.Body != nil {
		switch value := input.Body.(type) {
		case string:
			body = strings.NewReader(value)
		default:
			data, err := json.Marshal(value)
			if err != nil {
				return out, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(data)
			contentType = "application/json"
		}
	}

	if input.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(input.TimeoutSeconds*float64(time.Second)))
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return out, err
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	for key, value := range input.Headers {
		request.Header.Set(key, value)
	}

	response, err := e.client.Do(request)
	if err != nil {
		return out, fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return out, fmt.Errorf("failed to read response body: %w", err)
	}

	out.Status = response.StatusCode
	out.Headers = map[string]string{}
	for key := range response.Header {
		out.Headers[key] = response.Header.Get(key)
	}
	out.Body = decodeBody(response.Header.Get("Content-Type"), data)

	if response.StatusCode >= 400 {
		return out, fmt.Errorf("request returned status %d", response.StatusCode)
	}
	return out, nil
}

// Test checks that the configured URL is reachable with a HEAD request.
func (e *HTTPExecutor) Test(ctx context.Context, ec *conveyor.ExecutionContext) (*conveyor.ExecutionResult, error) {
	target, _ := ec.Input["url"].(string)
	if target == "" {
		return nil, fmt.Errorf("url is required")
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	response, err := e.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("unreachable: %w", err)
	}
	response.Body.Close()
	return &conveyor.ExecutionResult{
		Success:  true,
		Output:   map[string]any{"status": response.StatusCode},
		Duration: time.Since(start),
	}, nil
}

func decodeBody(contentType string, data []byte) any {
	if strings.Contains(contentType, "application/json") {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			return decoded
		}
	}
	return string(data)
}
