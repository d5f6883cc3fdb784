package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

// PullRequestEvent is the subset of the pull_request webhook payload the
// fan-out initiator needs.
type PullRequestEvent struct {
	Action     string `json:"action"`
	Number     int    `json:"number"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		HTMLURL string `json:"html_url"`
		Head    struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
}

// triggerActions are the pull_request actions that start (or supersede) a review.
var triggerActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

// ParsePullRequestEvent decodes a pull_request webhook payload.
func ParsePullRequestEvent(body []byte) (*PullRequestEvent, error) {
	var ev PullRequestEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	return &ev, nil
}

// Triggers reports whether the event's action should start a review.
func (ev *PullRequestEvent) Triggers() bool {
	return triggerActions[ev.Action]
}

// Key derives the review key from the event.
func (ev *PullRequestEvent) Key() (review.Key, error) {
	return review.ParseFullName(ev.Repository.FullName, ev.Number)
}

// VerifySignature checks a GitHub X-Hub-Signature-256 header against the raw
// request body. The comparison is constant-time.
func VerifySignature(secret, body []byte, header string) error {
	if header == "" {
		return fmt.Errorf("signature missing")
	}
	scheme, sigHex, found := strings.Cut(header, "=")
	if !found {
		return fmt.Errorf("malformed signature header")
	}
	if scheme != "sha256" {
		return fmt.Errorf("unsupported signature algorithm %q", scheme)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("malformed signature hex: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}
