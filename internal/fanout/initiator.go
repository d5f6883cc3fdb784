// Package fanout receives triggering events and fans them out: it creates the
// review state record, then publishes one task message per specialist.
package fanout

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/omjadhav9271/code-review-copilot/internal/queue"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

// Initiator creates review records and publishes the per-specialist tasks.
type Initiator struct {
	store         *store.Store
	queue         *queue.Queue
	roles         []review.Role
	credentialRef string
	logger        *log.Logger
}

// NewInitiator creates an Initiator fanning out to the given roles.
// credentialRef names the credential workers should use for the content
// source (an opaque reference, carried in the task message).
func NewInitiator(st *store.Store, q *queue.Queue, roles []review.Role, credentialRef string, logger *log.Logger) *Initiator {
	return &Initiator{store: st, queue: q, roles: roles, credentialRef: credentialRef, logger: logger}
}

// Dispatch handles one triggering event: create the state record first, then
// publish the task messages. Creation failure publishes nothing, so a task
// can never exist without a backing record. Publish failures are returned to
// the caller; redelivering the event is safe because Create is idempotent.
func (i *Initiator) Dispatch(key review.Key, headSHA string) (string, error) {
	st, err := i.store.Create(key, headSHA, len(i.roles))
	if err != nil {
		return "", fmt.Errorf("create review state: %w", err)
	}

	for _, role := range i.roles {
		msg := review.TaskMessage{
			ReviewID:      st.ID,
			Key:           key,
			HeadSHA:       headSHA,
			Role:          role,
			CredentialRef: i.credentialRef,
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return "", fmt.Errorf("marshal task for %s: %w", role, err)
		}
		if err := i.queue.Publish(review.TopicForRole(role), payload); err != nil {
			return "", fmt.Errorf("publish task for %s: %w", role, err)
		}
	}

	i.logger.Printf("dispatched review %s at %s to %d specialists", st.ID, headSHA, len(i.roles))
	return st.ID, nil
}
