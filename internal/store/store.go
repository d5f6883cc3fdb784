// Package store implements the review state store: one mutable record per
// review, mutated only through conditional updates that commit atomically.
// The fencing token (the PR head SHA a review was opened against) gates every
// specialist write, and the pending→consolidating transition is a
// compare-and-swap that can succeed at most once per record lifetime.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

// Review status values. pending → consolidating → complete is the only
// forward path; failed is reachable from pending and consolidating.
const (
	StatusPending       = "pending"
	StatusConsolidating = "consolidating"
	StatusComplete      = "complete"
	StatusFailed        = "failed"
)

var (
	// ErrNotFound indicates no review record exists for the given id.
	ErrNotFound = errors.New("review not found")
	// ErrStaleToken indicates a write carried a fencing token that no longer
	// matches the record; the write was discarded without mutation.
	ErrStaleToken = errors.New("stale fencing token")
	// ErrConflict indicates a status transition was refused because the
	// record was not in the required state.
	ErrConflict = errors.New("status transition conflict")
)

// TaskError describes a specialist's terminal failure.
type TaskError struct {
	Role     review.Role `json:"role"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts,omitempty"`
}

// Outcome is what a specialist delivers: exactly one of Result or Error.
type Outcome struct {
	Result json.RawMessage
	Error  *TaskError
}

// ReviewState is the full state record for one review.
type ReviewState struct {
	ID             string                     `json:"id"`
	Key            review.Key                 `json:"key"`
	HeadSHA        string                     `json:"head_sha"`
	Status         string                     `json:"status"`
	TotalTasks     int                        `json:"total_tasks"`
	TasksCompleted int                        `json:"tasks_completed"`
	Results        map[string]json.RawMessage `json:"results"`
	Errors         map[string]TaskError       `json:"errors"`
	FailureReason  string                     `json:"failure_reason,omitempty"`
	FinalReport    string                     `json:"final_report,omitempty"`
	CreatedAt      string                     `json:"created_at"`
	UpdatedAt      string                     `json:"updated_at"`
}

// Store provides transactional access to review records and notifies
// subscribers after every committed mutation.
type Store struct {
	conn *sql.DB

	mu   sync.Mutex
	subs []chan string
}

// New creates a Store on an already-migrated database connection.
func New(conn *sql.DB) *Store {
	return &Store{conn: conn}
}

// Subscribe returns a channel that receives the review id after each
// committed mutation. Sends are non-blocking: a slow subscriber drops
// notifications, and the consolidation sweep picks up anything missed.
func (s *Store) Subscribe() <-chan string {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) notify(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- id:
		default:
		}
	}
}

// Create installs the review record for a key and fencing token, idempotently.
// Three cases, decided inside one transaction:
//   - no record: a fresh pending record is inserted
//   - record exists with the same token: no-op (duplicate delivery)
//   - record exists with a different token: the record is reset under the new
//     token, orphaning all in-flight writes keyed to the old one
//
// A duplicate delivery never regresses tasks_completed or status.
func (s *Store) Create(key review.Key, headSHA string, totalTasks int) (*ReviewState, error) {
	if headSHA == "" {
		return nil, fmt.Errorf("create review %s: empty head SHA", key.ID())
	}
	if totalTasks <= 0 {
		return nil, fmt.Errorf("create review %s: total tasks %d must be positive", key.ID(), totalTasks)
	}

	id := key.ID()
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentSHA string
	err = tx.QueryRow("SELECT head_sha FROM reviews WHERE id = ?", id).Scan(&currentSHA)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.Exec(
			`INSERT INTO reviews (id, owner, repo, pr, head_sha, status, total_tasks) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, key.Owner, key.Repo, key.Number, headSHA, StatusPending, totalTasks,
		)
		if err != nil {
			return nil, fmt.Errorf("insert review %s: %w", id, err)
		}
	case err != nil:
		return nil, fmt.Errorf("read review %s: %w", id, err)
	case currentSHA == headSHA:
		// Duplicate delivery of the same triggering event.
	default:
		// Superseding event: a new commit resets the record under the new
		// token. Writes still in flight for the old token will be fenced out.
		_, err = tx.Exec(
			`UPDATE reviews SET head_sha = ?, status = ?, total_tasks = ?, tasks_completed = 0,
			 results = '{}', errors = '{}', failure_reason = NULL, final_report = NULL,
			 updated_at = datetime('now') WHERE id = ?`,
			headSHA, StatusPending, totalTasks, id,
		)
		if err != nil {
			return nil, fmt.Errorf("supersede review %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create review %s: %w", id, err)
	}
	s.notify(id)
	return s.Get(id)
}

// ApplyTaskOutcome records a specialist's result or terminal error and bumps
// the completion counter, all in one transaction. The stored fencing token is
// re-read inside the transaction; on mismatch nothing is written and
// ErrStaleToken is returned. The counter increments on either outcome: a
// specialist that failed terminally is still done for counting purposes.
func (s *Store) ApplyTaskOutcome(id, headSHA string, role review.Role, outcome Outcome) error {
	if (outcome.Result == nil) == (outcome.Error == nil) {
		return fmt.Errorf("apply outcome for %s/%s: exactly one of result or error required", id, role)
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentSHA, resultsJSON, errorsJSON string
	err = tx.QueryRow("SELECT head_sha, results, errors FROM reviews WHERE id = ?", id).
		Scan(&currentSHA, &resultsJSON, &errorsJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("apply outcome for %s/%s: %w", id, role, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read review %s: %w", id, err)
	}
	if currentSHA != headSHA {
		return fmt.Errorf("apply outcome for %s/%s: record at %s, write fenced to %s: %w",
			id, role, currentSHA, headSHA, ErrStaleToken)
	}

	if outcome.Result != nil {
		results := map[string]json.RawMessage{}
		if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
			return fmt.Errorf("decode results for %s: %w", id, err)
		}
		results[string(role)] = outcome.Result
		encoded, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("encode results for %s: %w", id, err)
		}
		resultsJSON = string(encoded)
	} else {
		taskErrs := map[string]TaskError{}
		if err := json.Unmarshal([]byte(errorsJSON), &taskErrs); err != nil {
			return fmt.Errorf("decode errors for %s: %w", id, err)
		}
		taskErrs[string(role)] = *outcome.Error
		encoded, err := json.Marshal(taskErrs)
		if err != nil {
			return fmt.Errorf("encode errors for %s: %w", id, err)
		}
		errorsJSON = string(encoded)
	}

	_, err = tx.Exec(
		`UPDATE reviews SET results = ?, errors = ?, tasks_completed = tasks_completed + 1,
		 updated_at = datetime('now') WHERE id = ?`,
		resultsJSON, errorsJSON, id,
	)
	if err != nil {
		return fmt.Errorf("write outcome for %s/%s: %w", id, role, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome for %s/%s: %w", id, role, err)
	}
	s.notify(id)
	return nil
}

// TryLockConsolidation attempts the pending→consolidating transition. The
// guard (all tasks accounted for, still pending) and the status flip are a
// single UPDATE, so of any number of racing callers exactly one sees
// locked=true; the rest observe a non-pending record and no-op. The guard
// uses >= because duplicate deliveries can push the counter past total_tasks.
func (s *Store) TryLockConsolidation(id string) (bool, error) {
	res, err := s.conn.Exec(
		`UPDATE reviews SET status = ?, updated_at = datetime('now')
		 WHERE id = ? AND status = ? AND tasks_completed >= total_tasks`,
		StatusConsolidating, id, StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("lock consolidation for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("lock consolidation for %s: %w", id, err)
	}
	return n == 1, nil
}

// MarkComplete transitions a consolidating review to complete and records the
// final report. Refused (ErrConflict) unless the record is consolidating.
func (s *Store) MarkComplete(id, finalReport string) error {
	return s.transition(id, StatusComplete, []string{StatusConsolidating},
		"final_report = ?", finalReport)
}

// MarkFailed closes a review as failed with a diagnostic reason. Allowed from
// consolidating (synthesis/posting failure) and from pending (operator
// intervention on a stuck record).
func (s *Store) MarkFailed(id, reason string) error {
	return s.transition(id, StatusFailed, []string{StatusConsolidating, StatusPending},
		"failure_reason = ?", reason)
}

func (s *Store) transition(id, to string, from []string, extraSet string, extraArg any) error {
	placeholders := ""
	args := []any{to, extraArg, id}
	for i, f := range from {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, f)
	}
	res, err := s.conn.Exec(
		`UPDATE reviews SET status = ?, `+extraSet+`, updated_at = datetime('now')
		 WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition %s to %s: %w", id, to, err)
	}
	if n == 0 {
		if _, err := s.Get(id); errors.Is(err, ErrNotFound) {
			return fmt.Errorf("transition %s to %s: %w", id, to, ErrNotFound)
		}
		return fmt.Errorf("transition %s to %s: %w", id, to, ErrConflict)
	}
	s.notify(id)
	return nil
}

// Get reads the full review record.
func (s *Store) Get(id string) (*ReviewState, error) {
	row := s.conn.QueryRow(
		`SELECT id, owner, repo, pr, head_sha, status, total_tasks, tasks_completed,
		 results, errors, failure_reason, final_report, created_at, updated_at
		 FROM reviews WHERE id = ?`, id,
	)
	return scanReview(row)
}

// List returns the reviews in the given status, oldest update first. An empty
// status returns every review.
func (s *Store) List(status string) ([]*ReviewState, error) {
	query := `SELECT id, owner, repo, pr, head_sha, status, total_tasks, tasks_completed,
	 results, errors, failure_reason, final_report, created_at, updated_at FROM reviews`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY updated_at, id"

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var states []*ReviewState
	for rows.Next() {
		st, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// ListStaleSince returns reviews in the given status whose last update is
// older than the cutoff. Used for staleness diagnostics only.
func (s *Store) ListStaleSince(status string, olderThan time.Duration) ([]*ReviewState, error) {
	cutoff := fmt.Sprintf("-%d seconds", int(olderThan.Seconds()))
	rows, err := s.conn.Query(
		`SELECT id, owner, repo, pr, head_sha, status, total_tasks, tasks_completed,
		 results, errors, failure_reason, final_report, created_at, updated_at
		 FROM reviews WHERE status = ? AND updated_at < datetime('now', ?)
		 ORDER BY updated_at, id`,
		status, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale reviews: %w", err)
	}
	defer rows.Close()

	var states []*ReviewState
	for rows.Next() {
		st, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (*ReviewState, error) {
	var st ReviewState
	var resultsJSON, errorsJSON string
	var failureReason, finalReport sql.NullString
	err := row.Scan(&st.ID, &st.Key.Owner, &st.Key.Repo, &st.Key.Number, &st.HeadSHA,
		&st.Status, &st.TotalTasks, &st.TasksCompleted, &resultsJSON, &errorsJSON,
		&failureReason, &finalReport, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan review: %w", err)
	}
	if err := json.Unmarshal([]byte(resultsJSON), &st.Results); err != nil {
		return nil, fmt.Errorf("decode results for %s: %w", st.ID, err)
	}
	if err := json.Unmarshal([]byte(errorsJSON), &st.Errors); err != nil {
		return nil, fmt.Errorf("decode errors for %s: %w", st.ID, err)
	}
	if failureReason.Valid {
		st.FailureReason = failureReason.String
	}
	if finalReport.Valid {
		st.FinalReport = finalReport.String
	}
	return &st, nil
}
