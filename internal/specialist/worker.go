// Package specialist implements the per-role review workers. A worker fetches
// the changed files for its task, analyzes each one, and applies a single
// fenced conditional write to the review record: a result payload on success,
// an error descriptor on terminal failure. Either way the write bumps the
// completion counter, so a failed specialist never stalls consolidation.
package specialist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/omjadhav9271/code-review-copilot/internal/analysis"
	"github.com/omjadhav9271/code-review-copilot/internal/github"
	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

// ContentSource fetches changed files and their contents.
type ContentSource interface {
	ChangedFiles(ctx context.Context, key review.Key) ([]string, error)
	FileContent(ctx context.Context, key review.Key, path, ref string) (string, error)
}

// FileFinding is the per-file feedback a specialist produced.
type FileFinding struct {
	Path     string `json:"path"`
	Feedback string `json:"feedback"`
}

// Result is the payload written into the review record's results slot.
type Result struct {
	Role     review.Role   `json:"role"`
	Findings []FileFinding `json:"findings"`
}

// Worker is one specialist.
type Worker struct {
	role     review.Role
	source   ContentSource
	analyzer analysis.Analyzer
	store    *store.Store
	policy   retry.Policy
	logger   *log.Logger
}

// NewWorker creates a specialist worker for a role.
func NewWorker(role review.Role, source ContentSource, analyzer analysis.Analyzer, st *store.Store, policy retry.Policy, logger *log.Logger) *Worker {
	return &Worker{role: role, source: source, analyzer: analyzer, store: st, policy: policy, logger: logger}
}

// Run processes one task message. The returned error is nil whenever the
// delivery is settled, including a write fenced out by a newer token: that is
// success-of-delivery even though the output was discarded. A non-nil error
// means the message should be redelivered.
func (w *Worker) Run(ctx context.Context, msg review.TaskMessage) error {
	outcome := w.analyze(ctx, msg)

	err := w.store.ApplyTaskOutcome(msg.ReviewID, msg.HeadSHA, w.role, outcome)
	switch {
	case errors.Is(err, store.ErrStaleToken):
		w.logger.Printf("%s/%s: output discarded, token %s superseded", msg.ReviewID, w.role, msg.HeadSHA)
		return nil
	case errors.Is(err, store.ErrNotFound):
		w.logger.Printf("%s/%s: no review record, dropping task", msg.ReviewID, w.role)
		return nil
	case err != nil:
		return fmt.Errorf("apply outcome: %w", err)
	}

	if outcome.Error != nil {
		w.logger.Printf("%s/%s: recorded terminal failure: %s", msg.ReviewID, w.role, outcome.Error.Message)
	} else {
		w.logger.Printf("%s/%s: recorded result", msg.ReviewID, w.role)
	}
	return nil
}

// analyze performs the domain work and always produces an outcome: transient
// upstream failures are retried per the policy, and exhaustion turns into an
// error descriptor rather than a lost task.
func (w *Worker) analyze(ctx context.Context, msg review.TaskMessage) store.Outcome {
	files, err := retry.DoValue(ctx, w.policy, func() ([]string, error) {
		return w.source.ChangedFiles(ctx, msg.Key)
	})
	if err != nil {
		return errorOutcome(w.role, w.policy, fmt.Errorf("list changed files: %w", err))
	}

	if len(files) == 0 {
		result, _ := json.Marshal(Result{Role: w.role, Findings: []FileFinding{
			{Path: "N/A", Feedback: "No reviewable files were changed."},
		}})
		return store.Outcome{Result: result}
	}

	var findings []FileFinding
	for _, path := range files {
		content, err := retry.DoValue(ctx, w.policy, func() (string, error) {
			return w.source.FileContent(ctx, msg.Key, path, msg.HeadSHA)
		})
		if errors.Is(err, github.ErrSkipped) {
			findings = append(findings, FileFinding{
				Path:     path,
				Feedback: "Skipped: contents unavailable (binary or too large).",
			})
			continue
		}
		if err != nil {
			return errorOutcome(w.role, w.policy, fmt.Errorf("fetch %s: %w", path, err))
		}

		feedback, err := retry.DoValue(ctx, w.policy, func() (string, error) {
			return w.analyzer.Analyze(ctx, analysis.Request{
				System: systemPrompt(w.role),
				Prompt: filePrompt(msg.Key, path, msg.HeadSHA, content),
			})
		})
		if err != nil {
			return errorOutcome(w.role, w.policy, fmt.Errorf("analyze %s: %w", path, err))
		}
		findings = append(findings, FileFinding{Path: path, Feedback: feedback})
	}

	result, err := json.Marshal(Result{Role: w.role, Findings: findings})
	if err != nil {
		return errorOutcome(w.role, w.policy, fmt.Errorf("encode result: %w", err))
	}
	return store.Outcome{Result: result}
}

func errorOutcome(role review.Role, policy retry.Policy, err error) store.Outcome {
	return store.Outcome{Error: &store.TaskError{
		Role:     role,
		Message:  err.Error(),
		Attempts: policy.MaxAttempts,
	}}
}
