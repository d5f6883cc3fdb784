// Package synthesizer performs the fan-in: it reads the finished review
// record, merges every specialist's results and errors into one report, posts
// it, and closes the state machine: every review it touches terminates in
// complete or failed.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/omjadhav9271/code-review-copilot/internal/analysis"
	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
	"github.com/omjadhav9271/code-review-copilot/internal/specialist"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

// CommentPoster delivers the final report.
type CommentPoster interface {
	PostComment(ctx context.Context, key review.Key, body string) error
}

// Synthesizer consumes consolidation messages.
type Synthesizer struct {
	store    *store.Store
	analyzer analysis.Analyzer
	poster   CommentPoster
	policy   retry.Policy
	logger   *log.Logger
}

// New creates a Synthesizer.
func New(st *store.Store, analyzer analysis.Analyzer, poster CommentPoster, policy retry.Policy, logger *log.Logger) *Synthesizer {
	return &Synthesizer{store: st, analyzer: analyzer, poster: poster, policy: policy, logger: logger}
}

// Run handles one consolidation message. Duplicate deliveries are detected by
// status: anything already complete or failed is a no-op. Posting failure
// after retries marks the review failed rather than leaving it consolidating.
func (s *Synthesizer) Run(ctx context.Context, msg review.ConsolidationMessage) error {
	st, err := s.store.Get(msg.ReviewID)
	if err != nil {
		return fmt.Errorf("read review %s: %w", msg.ReviewID, err)
	}

	switch st.Status {
	case store.StatusComplete, store.StatusFailed:
		s.logger.Printf("%s already %s, dropping duplicate consolidation", st.ID, st.Status)
		return nil
	case store.StatusConsolidating:
		// Expected: the trigger locked before publishing.
	default:
		s.logger.Printf("%s is %s, consolidation message ignored", st.ID, st.Status)
		return nil
	}

	rawReport := buildReportBody(st)

	report, err := retry.DoValue(ctx, s.policy, func() (string, error) {
		return s.analyzer.Analyze(ctx, analysis.Request{
			System: synthesisSystemPrompt,
			Prompt: rawReport,
		})
	})
	if err != nil {
		// Synthesis is a nicety; the assembled raw report still enumerates
		// every specialist outcome, so fall back to it instead of failing.
		s.logger.Printf("%s: synthesis failed, posting raw report: %v", st.ID, err)
		report = rawReport
	}

	err = retry.Do(ctx, s.policy, func() error {
		return s.poster.PostComment(ctx, st.Key, report)
	})
	if err != nil {
		reason := fmt.Sprintf("posting final report failed: %v", err)
		if failErr := s.store.MarkFailed(st.ID, reason); failErr != nil {
			return fmt.Errorf("mark %s failed: %w", st.ID, failErr)
		}
		s.logger.Printf("%s marked failed: %s", st.ID, reason)
		return nil
	}

	if err := s.store.MarkComplete(st.ID, report); err != nil {
		return fmt.Errorf("mark %s complete: %w", st.ID, err)
	}
	s.logger.Printf("%s complete", st.ID)
	return nil
}

const synthesisSystemPrompt = "You are a code review co-pilot. Synthesize the " +
	"specialist reports below into a single clean Markdown pull-request comment: " +
	"a short friendly opening, findings grouped by category, failed specialists " +
	"noted explicitly, and a brief closing. Use bullet points and code blocks " +
	"where they help."

// buildReportBody renders every specialist slot, results and errors alike, into a
// deterministic markdown document. This is also the fallback comment when
// synthesis is unavailable.
func buildReportBody(st *store.ReviewState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Automated review for %s #%d (commit %s)\n\n",
		st.Key.FullName(), st.Key.Number, st.HeadSHA)

	// A role can hold both slots when a redelivered attempt succeeded after a
	// terminal failure was recorded; it still gets exactly one section, and
	// the result wins.
	roles := make([]string, 0, len(st.Results)+len(st.Errors))
	for role := range st.Results {
		roles = append(roles, role)
	}
	for role := range st.Errors {
		if _, ok := st.Results[role]; !ok {
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)

	for _, role := range roles {
		if raw, ok := st.Results[role]; ok {
			fmt.Fprintf(&b, "### %s report\n\n", titleCase(role))
			var result specialist.Result
			if err := json.Unmarshal(raw, &result); err != nil {
				fmt.Fprintf(&b, "Result could not be decoded: %v\n\n", err)
				continue
			}
			for _, f := range result.Findings {
				fmt.Fprintf(&b, "**%s**\n\n%s\n\n", f.Path, f.Feedback)
			}
			continue
		}
		taskErr := st.Errors[role]
		fmt.Fprintf(&b, "### %s report\n\n", titleCase(role))
		fmt.Fprintf(&b, "This specialist failed and produced no findings: %s\n\n", taskErr.Message)
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
