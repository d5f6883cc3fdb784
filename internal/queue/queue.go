// Package queue implements a durable, at-least-once message queue with named
// topics on top of the shared SQLite database. A received message is leased,
// not removed; Ack deletes it, and a message whose lease expires without an
// ack becomes visible again. Consumers must therefore tolerate duplicates.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue provides publish/receive/ack over queue_messages.
type Queue struct {
	conn  *sql.DB
	lease time.Duration
	poll  time.Duration
}

// New creates a Queue. lease is how long a received message stays invisible
// before redelivery; poll is the idle sleep between receive attempts.
func New(conn *sql.DB, lease, poll time.Duration) *Queue {
	return &Queue{conn: conn, lease: lease, poll: poll}
}

// Delivery is one received message. Attempt starts at 1 and counts
// redeliveries.
type Delivery struct {
	MessageID string
	Topic     string
	Payload   []byte
	Attempt   int
}

// Publish appends a message to a topic.
func (q *Queue) Publish(topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("publish: empty topic")
	}
	_, err := q.conn.Exec(
		`INSERT INTO queue_messages (id, topic, payload) VALUES (?, ?, ?)`,
		uuid.NewString(), topic, payload,
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Receive blocks until a message is available on the topic or the context is
// done. The claimed message is leased: it will be redelivered (with a bumped
// attempt count) unless Ack is called before the lease expires.
func (q *Queue) Receive(ctx context.Context, topic string) (*Delivery, error) {
	for {
		d, err := q.tryClaim(topic)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

// tryClaim leases the oldest visible message on the topic, or returns nil.
func (q *Queue) tryClaim(topic string) (*Delivery, error) {
	tx, err := q.conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	var d Delivery
	err = tx.QueryRow(
		`SELECT id, payload, attempts FROM queue_messages
		 WHERE topic = ? AND lease_expires_ms <= ?
		 ORDER BY rowid LIMIT 1`,
		topic, now,
	).Scan(&d.MessageID, &d.Payload, &d.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim from %s: %w", topic, err)
	}

	_, err = tx.Exec(
		`UPDATE queue_messages SET lease_expires_ms = ?, attempts = attempts + 1 WHERE id = ?`,
		now+q.lease.Milliseconds(), d.MessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("lease message %s: %w", d.MessageID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim from %s: %w", topic, err)
	}

	d.Topic = topic
	d.Attempt++
	return &d, nil
}

// Ack removes a delivered message. Acking an already-removed message is a
// no-op, so duplicate acks after redelivery are harmless.
func (q *Queue) Ack(messageID string) error {
	_, err := q.conn.Exec(`DELETE FROM queue_messages WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("ack message %s: %w", messageID, err)
	}
	return nil
}

// Depth returns the number of messages on a topic, leased or not.
func (q *Queue) Depth(topic string) (int, error) {
	var n int
	err := q.conn.QueryRow(`SELECT COUNT(*) FROM queue_messages WHERE topic = ?`, topic).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("depth of %s: %w", topic, err)
	}
	return n, nil
}
