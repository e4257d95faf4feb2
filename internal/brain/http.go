package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/pitchcoach/internal/reliability"
)

const (
	httpMaxAttempts = 3
	httpBackoffBase = 200 * time.Millisecond
	httpBackoffCap  = 2 * time.Second
)

// HTTPCompleter forwards requests to a JSON chat endpoint.
type HTTPCompleter struct {
	url    string
	client *http.Client
}

func NewHTTP(url string) *HTTPCompleter {
	return NewHTTPWithClient(url, &http.Client{Timeout: 60 * time.Second})
}

func NewHTTPWithClient(url string, client *http.Client) *HTTPCompleter {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPCompleter{url: strings.TrimSpace(url), client: client}
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("brain http status %d: %s", e.code, e.body)
}

func (c *HTTPCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Messages) == 0 {
		return "", ErrEmptyRequest
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := reliability.Wait(ctx, reliability.ExponentialBackoff(attempt-1, httpBackoffBase, httpBackoffCap)); err != nil {
				return "", err
			}
		}
		text, err := c.do(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		se, ok := err.(*statusError)
		if !ok || !reliability.IsRetryableHTTPStatus(se.code) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *HTTPCompleter) do(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", &statusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return "", fmt.Errorf("brain http returned an empty body")
		}
		return text, nil
	}
	text := strings.TrimSpace(extractText(obj))
	if text == "" {
		return "", fmt.Errorf("brain http response has no text field")
	}
	return text, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "message", "output", "content"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
