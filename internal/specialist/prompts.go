package specialist

import (
	"fmt"
	"strings"

	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

var systemPrompts = map[review.Role]string{
	review.RoleQuality: "You are a code quality reviewer. Examine the file for bugs, " +
		"complexity, style problems, and missing tests. Provide concise, actionable " +
		"feedback and a severity (low/medium/high) per issue.",
	review.RoleSecurity: "You are a security reviewer. Examine the file for " +
		"vulnerabilities: injection, unsafe deserialization, secret leakage, missing " +
		"validation, unsafe defaults. Provide concise findings with severity.",
	review.RoleDocs: "You are a documentation reviewer. Examine the file for missing or " +
		"stale comments, unclear naming, and public APIs lacking documentation. " +
		"Suggest concrete improvements.",
}

func systemPrompt(role review.Role) string {
	if p, ok := systemPrompts[role]; ok {
		return p
	}
	return systemPrompts[review.RoleQuality]
}

func filePrompt(key review.Key, path, sha, content string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Review the file `%s` in repository `%s` (PR #%d, commit %s).\n\n",
		path, key.FullName(), key.Number, sha)
	b.WriteString("File contents:\n```\n")
	b.WriteString(content)
	b.WriteString("\n```\n\nRespond with concise, actionable feedback only.\n")
	return b.String()
}
