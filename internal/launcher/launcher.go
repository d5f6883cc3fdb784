// Package launcher consumes one queue topic and starts a worker run per
// delivery. It holds no state and never touches review records: delivery is
// at-least-once, so duplicate launches are expected and correctness lives in
// the workers' conditional writes.
package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/omjadhav9271/code-review-copilot/internal/queue"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

// TaskRunner runs one specialist task.
type TaskRunner interface {
	Run(ctx context.Context, msg review.TaskMessage) error
}

// ConsolidationRunner runs one consolidation.
type ConsolidationRunner interface {
	Run(ctx context.Context, msg review.ConsolidationMessage) error
}

// Launcher drains a topic, invoking a handler per message.
type Launcher struct {
	topic  string
	queue  *queue.Queue
	handle func(ctx context.Context, payload []byte) error
	logger *log.Logger
}

// NewTaskLauncher creates a launcher feeding a specialist's topic to its runner.
func NewTaskLauncher(role review.Role, q *queue.Queue, runner TaskRunner, logger *log.Logger) *Launcher {
	return &Launcher{
		topic:  review.TopicForRole(role),
		queue:  q,
		logger: logger,
		handle: func(ctx context.Context, payload []byte) error {
			var msg review.TaskMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				return &rejectError{err: err}
			}
			return runner.Run(ctx, msg)
		},
	}
}

// NewConsolidationLauncher creates a launcher feeding the consolidation topic
// to the synthesizer.
func NewConsolidationLauncher(q *queue.Queue, runner ConsolidationRunner, logger *log.Logger) *Launcher {
	return &Launcher{
		topic:  review.TopicConsolidation,
		queue:  q,
		logger: logger,
		handle: func(ctx context.Context, payload []byte) error {
			var msg review.ConsolidationMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				return &rejectError{err: err}
			}
			return runner.Run(ctx, msg)
		},
	}
}

// rejectError marks a message that can never be processed (undecodable); it
// is acked and dropped instead of redelivered forever.
type rejectError struct {
	err error
}

func (e *rejectError) Error() string { return "rejected: " + e.err.Error() }
func (e *rejectError) Unwrap() error { return e.err }

// Run consumes the topic until the context is done. A successful run acks the
// message; a failed run leaves it leased, and the lease expiry redelivers it.
func (l *Launcher) Run(ctx context.Context) error {
	for {
		d, err := l.queue.Receive(ctx, l.topic)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		err = l.handle(ctx, d.Payload)
		switch {
		case err == nil:
			if ackErr := l.queue.Ack(d.MessageID); ackErr != nil {
				l.logger.Printf("%s: ack %s: %v", l.topic, d.MessageID, ackErr)
			}
		case isReject(err):
			l.logger.Printf("%s: dropping undecodable message %s: %v", l.topic, d.MessageID, err)
			if ackErr := l.queue.Ack(d.MessageID); ackErr != nil {
				l.logger.Printf("%s: ack %s: %v", l.topic, d.MessageID, ackErr)
			}
		default:
			// No ack: the message redelivers after its lease expires.
			l.logger.Printf("%s: attempt %d of message %s failed: %v", l.topic, d.Attempt, d.MessageID, err)
		}
	}
}

func isReject(err error) bool {
	var r *rejectError
	return errors.As(err, &r)
}
