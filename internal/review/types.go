// Package review holds the shared domain types of the review pipeline:
// review keys, specialist roles, and the messages exchanged over the queue.
package review

import (
	"fmt"
	"strings"
)

// Key identifies the pull request a review belongs to.
type Key struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// ID returns the stable review identifier for the key ("owner_repo_number").
func (k Key) ID() string {
	return fmt.Sprintf("%s_%s_%d", k.Owner, k.Repo, k.Number)
}

// FullName returns the "owner/repo" form used by the GitHub API.
func (k Key) FullName() string {
	return k.Owner + "/" + k.Repo
}

// ParseFullName splits an "owner/repo" string into a Key for the given PR number.
func ParseFullName(fullName string, number int) (Key, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Key{}, fmt.Errorf("invalid repository full name %q", fullName)
	}
	if number <= 0 {
		return Key{}, fmt.Errorf("invalid PR number %d: must be positive", number)
	}
	return Key{Owner: parts[0], Repo: parts[1], Number: number}, nil
}

// Role names a specialist in the fan-out.
type Role string

const (
	RoleQuality  Role = "quality"
	RoleSecurity Role = "security"
	RoleDocs     Role = "docs"
)

// KnownRoles is the set of roles the pipeline can fan out to.
var KnownRoles = map[Role]bool{
	RoleQuality:  true,
	RoleSecurity: true,
	RoleDocs:     true,
}

// DefaultRoles returns the standard specialist set, in fan-out order.
func DefaultRoles() []Role {
	return []Role{RoleQuality, RoleSecurity, RoleDocs}
}

// TopicConsolidation is the queue topic for consolidation messages.
const TopicConsolidation = "consolidation"

// TopicForRole returns the queue topic a role's task messages are published on.
func TopicForRole(r Role) string {
	return "tasks." + string(r)
}

// TaskMessage is published once per specialist when a review fans out.
type TaskMessage struct {
	ReviewID      string `json:"review_id"`
	Key           Key    `json:"key"`
	HeadSHA       string `json:"head_sha"`
	Role          Role   `json:"role"`
	CredentialRef string `json:"credential_ref,omitempty"`
}

// ConsolidationMessage is published exactly once when a review locks for
// consolidation. It carries only the key; the synthesizer re-reads the record.
type ConsolidationMessage struct {
	ReviewID string `json:"review_id"`
}
