package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"composer/internal/etl"
	"composer/internal/jsonvalue"
)

// ── HTTP Source ─────────────────────────────────────────────
// Fetches a JSON document from a REST API endpoint.

// maxBody caps response bodies.
const maxBody = 32 << 20

// HTTPClient is used for all HTTP sources.
var HTTPClient = &http.Client{Timeout: 30 * time.Second}

type httpSource struct{}

func init() { etl.RegisterSource(&httpSource{}) }

func (s *httpSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "http",
		Label: "HTTP API",
		ConfigFields: []etl.ConfigField{
			{Key: "url", Label: "URL", Type: "string", Required: true, Help: "Full URL to fetch (e.g., https://api.github.com/users/me/repos)"},
			{Key: "method", Label: "Method", Type: "select", Options: []string{"GET", "POST"}, Default: "GET"},
			{Key: "headers", Label: "Headers", Type: "textarea", Help: "JSON object of headers (e.g., {\"Authorization\": \"Bearer xxx\"})"},
			{Key: "body", Label: "Body", Type: "textarea", Help: "Request body (for POST)"},
			{Key: "dataPath", Label: "Data Path", Type: "string", Help: "Source path to the records in the response (e.g., 'data.items')"},
		},
	}
}

// Sample returns the response document at dataPath, unsplit.
func (s *httpSource) Sample(ctx context.Context, cfg etl.SourceConfig) (jsonvalue.Value, error) {
	doc, err := fetchHTTP(ctx, cfg)
	if err != nil {
		return jsonvalue.Value{}, err
	}
	return atDataPath(doc, cfg)
}

func (s *httpSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan jsonvalue.Value, <-chan error) {
	return stream(ctx, func() ([]jsonvalue.Value, error) {
		v, err := s.Sample(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return splitRecords(v), nil
	})
}

func fetchHTTP(ctx context.Context, cfg etl.SourceConfig) (jsonvalue.Value, error) {
	url := cfg.String("url")
	if url == "" {
		return jsonvalue.Value{}, fmt.Errorf("url is required")
	}
	method := strings.ToUpper(cfg.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if body := cfg.String("body"); body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	headers, err := parseHeaders(cfg["headers"])
	if err != nil {
		return jsonvalue.Value{}, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return jsonvalue.Value{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("read body: %w", err)
	}
	doc, err := jsonvalue.Parse(data)
	if err != nil {
		return jsonvalue.Value{}, fmt.Errorf("parse json: %w", err)
	}
	return doc, nil
}

// parseHeaders accepts a map or a JSON object string.
func parseHeaders(raw any) (map[string]string, error) {
	out := map[string]string{}
	switch h := raw.(type) {
	case nil:
	case map[string]any:
		for k, v := range h {
			out[k] = fmt.Sprint(v)
		}
	case map[string]string:
		return h, nil
	case string:
		if strings.TrimSpace(h) == "" {
			break
		}
		if err := json.Unmarshal([]byte(h), &out); err != nil {
			return nil, fmt.Errorf("headers: %w", err)
		}
	default:
		return nil, fmt.Errorf("headers: unsupported type %T", raw)
	}
	return out, nil
}
