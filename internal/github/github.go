// Package github provides the two GitHub integration points the pipeline
// needs: the content source specialists fetch changed files from, and the
// posting sink the synthesizer delivers the final comment to.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

const defaultAPIURL = "https://api.github.com"

// DefaultMaxFileBytes is the size above which file contents are skipped.
const DefaultMaxFileBytes = 1 << 20

// ErrSkipped indicates a file was deliberately not fetched (too large, binary,
// or not a regular file). Callers record a note instead of contents.
var ErrSkipped = errors.New("file skipped")

// Client talks to the GitHub REST API.
type Client struct {
	token        string
	apiURL       string
	httpCli      *http.Client
	maxFileBytes int64
	extensions   []string
}

// NewClient creates a GitHub client. The token is read from the env var named
// by credentialEnv (GITHUB_TOKEN when empty). extensions filters ChangedFiles;
// empty means no filtering.
func NewClient(credentialEnv, apiURL string, maxFileBytes int64, extensions []string) (*Client, error) {
	if credentialEnv == "" {
		credentialEnv = "GITHUB_TOKEN"
	}
	token := os.Getenv(credentialEnv)
	if token == "" {
		return nil, fmt.Errorf("%s environment variable is not set", credentialEnv)
	}
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	if maxFileBytes <= 0 {
		maxFileBytes = DefaultMaxFileBytes
	}
	return &Client{
		token:        token,
		apiURL:       strings.TrimRight(apiURL, "/"),
		httpCli:      &http.Client{Timeout: 60 * time.Second},
		maxFileBytes: maxFileBytes,
		extensions:   extensions,
	}, nil
}

// ChangedFiles lists the files changed in a pull request, filtered to the
// client's reviewable extensions. Pages through the API 100 files at a time.
func (c *Client) ChangedFiles(ctx context.Context, key review.Key) ([]string, error) {
	var paths []string
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/repos/%s/pulls/%d/files?page=%d&per_page=100",
			c.apiURL, key.FullName(), key.Number, page)

		body, err := c.get(ctx, url, "application/vnd.github.v3+json")
		if err != nil {
			return nil, fmt.Errorf("list PR files: %w", err)
		}

		var files []struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal(body, &files); err != nil {
			return nil, fmt.Errorf("parse PR files JSON: %w", err)
		}
		for _, f := range files {
			if c.reviewable(f.Filename) {
				paths = append(paths, f.Filename)
			}
		}
		if len(files) < 100 {
			break
		}
	}
	return paths, nil
}

// FileContent fetches a file's contents at a specific ref via the contents
// API. Returns ErrSkipped for directories, non-base64 payloads, and files
// larger than the configured cap.
func (c *Client) FileContent(ctx context.Context, key review.Key, path, ref string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s", c.apiURL, key.FullName(), path, ref)

	body, err := c.get(ctx, url, "application/vnd.github.v3+json")
	if err != nil {
		return "", fmt.Errorf("fetch %s@%s: %w", path, ref, err)
	}

	var content struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(body, &content); err != nil {
		return "", fmt.Errorf("parse contents JSON for %s: %w", path, err)
	}
	if content.Type != "file" || content.Encoding != "base64" {
		return "", fmt.Errorf("%s: type %q encoding %q: %w", path, content.Type, content.Encoding, ErrSkipped)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	if int64(len(raw)) > c.maxFileBytes {
		return "", fmt.Errorf("%s: %d bytes exceeds cap: %w", path, len(raw), ErrSkipped)
	}
	return string(raw), nil
}

// PostComment posts a comment on the pull request (PRs are issues for the
// comments API).
func (c *Client) PostComment(ctx context.Context, key review.Key, body string) error {
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", c.apiURL, key.FullName(), key.Number)

	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("marshal comment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, "application/vnd.github.v3+json")

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("post comment: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Transient(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusCreated {
		return classifyStatus(resp.StatusCode, respBody)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, accept)

	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, accept string) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "code-review-copilot")
}

func (c *Client) reviewable(path string) bool {
	if len(c.extensions) == 0 {
		return true
	}
	for _, ext := range c.extensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// classifyStatus maps a non-success API status to an error; rate limiting and
// server-side failures are transient, everything else is terminal.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("GitHub API error (status %d): %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusTooManyRequests || status >= 500 {
		return retry.Transient(err)
	}
	return err
}
