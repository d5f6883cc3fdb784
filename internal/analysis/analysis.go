// Package analysis is the client for the LLM analysis service. Specialists
// use it to review file contents; the synthesizer uses it to merge the
// specialist reports into one comment. Callers wrap calls in retry.Do; the
// client only classifies failures as transient or terminal.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/retry"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// Analyzer is the interface components depend on; Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// Request is one analysis call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
}

// Client talks to the Anthropic messages API.
type Client struct {
	apiKey    string
	model     string
	maxTokens int
	apiURL    string
	httpCli   *http.Client
}

// NewClient creates an analysis client for the given model. maxTokens is the
// response cap for requests that do not set their own (<=0 means 4096).
// Requires the ANTHROPIC_API_KEY env var.
func NewClient(model string, maxTokens int) (*Client, error) {
	key := os.Getenv("ANTHROPIC_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		apiKey:    key,
		model:     model,
		maxTokens: maxTokens,
		apiURL:    anthropicAPIURL,
		httpCli:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Analyze sends one prompt and returns the text of the response.
func (c *Client) Analyze(ctx context.Context, req Request) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	payload, err := json.Marshal(apiRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []apiMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := c.httpCli.Do(httpReq)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("send request: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", retry.Transient(fmt.Errorf("read response: %w", err))
	}

	// 429 is rate limiting, 529 is the API's overloaded signal; both clear
	// on their own. Auth and validation failures never will.
	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return "", retry.Transient(fmt.Errorf("analysis API error (status %d): %s",
			httpResp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis API error (status %d): %s",
			httpResp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}
