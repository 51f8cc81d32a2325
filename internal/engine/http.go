package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxHTTPResponseSize = 4 << 20
)

// httpRequestExecutor issues outbound requests. Transport failures fail the
// action; non-2xx responses complete it with success=false in the output map
// so downstream conditions can branch on the status.
type httpRequestExecutor struct {
	client *http.Client
}

func newHTTPRequestExecutor(client *http.Client) *httpRequestExecutor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &httpRequestExecutor{client: client}
}

func (e *httpRequestExecutor) Execute(ctx context.Context, run *RunContext, act Action) (any, error) {
	cfg, err := decodeConfig[HTTPRequestConfig](act)
	if err != nil {
		return nil, err
	}

	url := ResolveText(run, cfg.URL)
	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(ResolveText(run, cfg.Body))
	}

	timeout := defaultHTTPTimeout
	if cfg.TimeoutMS > 0 {
		timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, strings.ToUpper(cfg.Method), url, body)
	if err != nil {
		return nil, fmt.Errorf("http_request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, ResolveText(run, v))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_request: %s %s: %w", cfg.Method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPResponseSize))
	if err != nil {
		return nil, fmt.Errorf("http_request: read body: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(raw),
		"success":     resp.StatusCode >= 200 && resp.StatusCode < 300,
	}
	var data any
	if err := json.Unmarshal(raw, &data); err == nil {
		result["data"] = data
	}

	if cfg.SaveResponseTo != "" {
		run.SetVar(cfg.SaveResponseTo, result)
	}
	return result, nil
}
