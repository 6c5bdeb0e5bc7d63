package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// HTTPConfig configures the HTTP builtin tools.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c
}

// httpRequester performs one HTTP exchange. method is fixed for the get/post
// shortcuts and taken from inputs for http.request.
type httpRequester struct {
	config HTTPConfig
	method string
}

func (h *httpRequester) validate(inputs map[string]any) (string, error) {
	rawURL := stringParam(inputs, "url", "")
	if rawURL == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "missing required input 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid url %q", rawURL)
	}
	return rawURL, nil
}

func (h *httpRequester) do(ctx context.Context, inputs map[string]any) (any, error) {
	rawURL, err := h.validate(inputs)
	if err != nil {
		return nil, err
	}

	method := h.method
	if method == "" {
		method = strings.ToUpper(stringParam(inputs, "method", http.MethodGet))
	}

	timeout := h.config.DefaultTimeout
	if ts := stringParam(inputs, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	var body io.Reader
	var contentType string
	if raw, ok := inputs["data"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
			contentType = "text/plain"
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeStepFailed, "failed to marshal request data as JSON").WithCause(err)
			}
			body = strings.NewReader(string(b))
			contentType = "application/json"
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, body)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "failed to create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hm, ok := inputs["headers"].(map[string]any); ok {
		for k, v := range hm {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	resp, err := h.config.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "failed to read response body").WithCause(err)
	}

	if boolParam(inputs, "fail_on_error_status", true) && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "server returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(bodyBytes)})
	}

	if len(bodyBytes) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(bodyBytes, &decoded); err == nil {
		return decoded, nil
	}
	return string(bodyBytes), nil
}

var httpParameters = []schema.ParameterSpec{
	{Name: "url", Type: "string", Required: true, Description: "Request URL"},
	{Name: "headers", Type: "object", Description: "Extra request headers"},
	{Name: "timeout", Type: "string", Description: "Per-request timeout, e.g. 10s"},
	{Name: "fail_on_error_status", Type: "boolean", Description: "Fail on 4xx/5xx (default true)"},
}

func httpTools(cfg HTTPConfig) []*Tool {
	cfg = cfg.withDefaults()

	withData := append([]schema.ParameterSpec{
		{Name: "data", Type: "any", Description: "Request body; objects are sent as JSON"},
	}, httpParameters...)

	return []*Tool{
		builtin("http.request", "HTTP request", "API",
			"Send an HTTP request and return the decoded JSON (or text) response.",
			append([]schema.ParameterSpec{{Name: "method", Type: "string", Description: "HTTP method (default GET)"}}, withData...),
			Func((&httpRequester{config: cfg}).do)),
		builtin("http.get", "HTTP GET", "API",
			"Send an HTTP GET request and return the decoded JSON (or text) response.",
			httpParameters,
			Func((&httpRequester{config: cfg, method: http.MethodGet}).do)),
		builtin("http.post", "HTTP POST", "API",
			"Send an HTTP POST request with a JSON body.",
			withData,
			Func((&httpRequester{config: cfg, method: http.MethodPost}).do)),
	}
}
