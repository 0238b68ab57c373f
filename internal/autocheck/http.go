package autocheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docflow/internal/store"
)

// HTTPChecker delegates scoring to an external service that accepts
// {"content": "..."} and answers with {"score": n, "issues": [...]}.
type HTTPChecker struct {
	url    string
	client *http.Client
}

func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPChecker{url: url, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) Check(ctx context.Context, content string) (store.AutoCheck, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return store.AutoCheck{}, fmt.Errorf("encode check request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return store.AutoCheck{}, fmt.Errorf("build check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return store.AutoCheck{}, fmt.Errorf("call check service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return store.AutoCheck{}, fmt.Errorf("check service status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result store.AutoCheck
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result); err != nil {
		return store.AutoCheck{}, fmt.Errorf("decode check response: %w", err)
	}
	result.Score = clamp(result.Score)
	if result.Issues == nil {
		result.Issues = []store.Issue{}
	}
	return result, nil
}
