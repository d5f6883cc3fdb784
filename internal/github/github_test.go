package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

var testPR = review.Key{Owner: "octo", Repo: "demo", Number: 5}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("GITHUB_TOKEN", "test-token")
	c, err := NewClient("", srv.URL, DefaultMaxFileBytes, []string{".go", ".py"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	if _, err := NewClient("", "", 0, nil); err == nil {
		t.Error("expected error without GITHUB_TOKEN")
	}
}

// TestNewClientConfiguredCredentialEnv verifies the token is read from the
// configured env var, not a hard-coded one.
func TestNewClientConfiguredCredentialEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("MY_CUSTOM_TOKEN", "alt-token")

	c, err := NewClient("MY_CUSTOM_TOKEN", "", 0, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.token != "alt-token" {
		t.Errorf("token = %q, want alt-token", c.token)
	}

	t.Setenv("MY_CUSTOM_TOKEN", "")
	_, err = NewClient("MY_CUSTOM_TOKEN", "", 0, nil)
	if err == nil || !strings.Contains(err.Error(), "MY_CUSTOM_TOKEN") {
		t.Errorf("err = %v, want it to name MY_CUSTOM_TOKEN", err)
	}
}

func TestChangedFilesFiltersAndPages(t *testing.T) {
	// Two pages: a full page of 100 files, then the remainder.
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing bearer token")
		}
		page := r.URL.Query().Get("page")
		var files []map[string]string
		switch page {
		case "1":
			for i := 0; i < 100; i++ {
				files = append(files, map[string]string{"filename": fmt.Sprintf("pkg/f%d.go", i)})
			}
		case "2":
			files = []map[string]string{
				{"filename": "main.py"},
				{"filename": "README.md"},
				{"filename": "image.png"},
			}
		}
		json.NewEncoder(w).Encode(files)
	}))

	paths, err := c.ChangedFiles(context.Background(), testPR)
	if err != nil {
		t.Fatalf("changed files: %v", err)
	}
	if len(paths) != 101 {
		t.Fatalf("got %d paths, want 101 (100 .go + main.py)", len(paths))
	}
	for _, p := range paths {
		if strings.HasSuffix(p, ".md") || strings.HasSuffix(p, ".png") {
			t.Errorf("unreviewable file not filtered: %s", p)
		}
	}
}

func TestFileContent(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ref := r.URL.Query().Get("ref"); ref != "abc123" {
			t.Errorf("ref = %q, want abc123", ref)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte("package main\n")),
		})
	}))

	content, err := c.FileContent(context.Background(), testPR, "main.go", "abc123")
	if err != nil {
		t.Fatalf("file content: %v", err)
	}
	if content != "package main\n" {
		t.Errorf("content = %q", content)
	}
}

func TestFileContentSkipsDirectoriesAndLargeFiles(t *testing.T) {
	big := strings.Repeat("x", 64)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "dir") {
			json.NewEncoder(w).Encode(map[string]string{"type": "dir"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"type": "file", "encoding": "base64",
			"content": base64.StdEncoding.EncodeToString([]byte(big)),
		})
	}))
	c.maxFileBytes = 32

	if _, err := c.FileContent(context.Background(), testPR, "dir", "sha"); !errors.Is(err, ErrSkipped) {
		t.Errorf("dir: expected ErrSkipped, got %v", err)
	}
	if _, err := c.FileContent(context.Background(), testPR, "big.go", "sha"); !errors.Is(err, ErrSkipped) {
		t.Errorf("large file: expected ErrSkipped, got %v", err)
	}
}

func TestPostComment(t *testing.T) {
	var posted string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || !strings.HasSuffix(r.URL.Path, "/issues/5/comments") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		posted = body["body"]
		w.WriteHeader(http.StatusCreated)
	}))

	if err := c.PostComment(context.Background(), testPR, "looks good"); err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if posted != "looks good" {
		t.Errorf("posted body = %q", posted)
	}
}

// TestStatusClassification checks the transient/terminal split the retry
// wrapper depends on.
func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tt := range tests {
		err := classifyStatus(tt.status, []byte("body"))
		if got := retry.IsTransient(err); got != tt.transient {
			t.Errorf("status %d: transient = %v, want %v", tt.status, got, tt.transient)
		}
	}
}
