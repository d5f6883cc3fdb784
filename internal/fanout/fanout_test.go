package fanout

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/db"
	"github.com/omjadhav9271/code-review-copilot/internal/queue"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

var testSecret = []byte("hush")

func testDeps(t *testing.T) (*store.Store, *queue.Queue) {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return store.New(d.Conn()), queue.New(d.Conn(), time.Minute, 5*time.Millisecond)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestDispatchFansOut(t *testing.T) {
	st, q := testDeps(t)
	init := NewInitiator(st, q, review.DefaultRoles(), "GITHUB_TOKEN", quietLogger())

	key := review.Key{Owner: "octo", Repo: "demo", Number: 3}
	id, err := init.Dispatch(key, "sha1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if id != "octo_demo_3" {
		t.Errorf("review id = %q", id)
	}

	rec, err := st.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != store.StatusPending || rec.TotalTasks != 3 {
		t.Errorf("record = %+v", rec)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, role := range review.DefaultRoles() {
		d, err := q.Receive(ctx, review.TopicForRole(role))
		if err != nil {
			t.Fatalf("receive %s: %v", role, err)
		}
		var msg review.TaskMessage
		if err := json.Unmarshal(d.Payload, &msg); err != nil {
			t.Fatalf("decode %s: %v", role, err)
		}
		if msg.ReviewID != id || msg.HeadSHA != "sha1" || msg.Role != role {
			t.Errorf("%s message = %+v", role, msg)
		}
		if msg.CredentialRef != "GITHUB_TOKEN" {
			t.Errorf("credential ref = %q", msg.CredentialRef)
		}
	}
}

// TestDispatchCreateFailurePublishesNothing checks the ordering contract:
// no task message may exist without a backing state record.
func TestDispatchCreateFailurePublishesNothing(t *testing.T) {
	st, q := testDeps(t)
	// Zero roles makes the create invalid (total_tasks must be positive).
	init := NewInitiator(st, q, nil, "", quietLogger())

	key := review.Key{Owner: "octo", Repo: "demo", Number: 3}
	if _, err := init.Dispatch(key, "sha1"); err == nil {
		t.Fatal("expected dispatch to fail")
	}

	for _, role := range review.DefaultRoles() {
		depth, err := q.Depth(review.TopicForRole(role))
		if err != nil {
			t.Fatalf("depth: %v", err)
		}
		if depth != 0 {
			t.Errorf("orphan task message on %s", review.TopicForRole(role))
		}
	}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func prEventBody(action string) []byte {
	return []byte(`{
		"action": "` + action + `",
		"number": 9,
		"repository": {"full_name": "octo/demo"},
		"pull_request": {"head": {"sha": "abc"}}
	}`)
}

func testServer(t *testing.T) (*Server, *store.Store, *queue.Queue) {
	t.Helper()
	st, q := testDeps(t)
	init := NewInitiator(st, q, review.DefaultRoles(), "GITHUB_TOKEN", quietLogger())
	return NewServer(init, st, testSecret, quietLogger()), st, q
}

func TestWebhookAcceptsSignedEvent(t *testing.T) {
	srv, st, _ := testServer(t)

	body := prEventBody("opened")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if _, err := st.Get("octo_demo_9"); err != nil {
		t.Errorf("review record not created: %v", err)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, st, _ := testServer(t)

	body := prEventBody("opened")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	if _, err := st.Get("octo_demo_9"); err == nil {
		t.Error("record created despite rejected signature")
	}
}

func TestWebhookUnsupportedScheme(t *testing.T) {
	srv, _, _ := testServer(t)

	body := prEventBody("opened")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha1=abcdef")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", w.Code)
	}
}

func TestWebhookIgnoresOtherActions(t *testing.T) {
	srv, st, q := testServer(t)

	body := prEventBody("closed")
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if _, err := st.Get("octo_demo_9"); err == nil {
		t.Error("record created for ignored action")
	}
	if depth, _ := q.Depth(review.TopicForRole(review.RoleQuality)); depth != 0 {
		t.Error("task published for ignored action")
	}
}

func TestReviewEndpoint(t *testing.T) {
	srv, st, _ := testServer(t)
	key := review.Key{Owner: "octo", Repo: "demo", Number: 4}
	if _, err := st.Create(key, "sha", 3); err != nil {
		t.Fatalf("create: %v", err)
	}

	req := httptest.NewRequest("GET", "/reviews/octo_demo_4", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got store.ReviewState
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "octo_demo_4" || got.Status != store.StatusPending {
		t.Errorf("record = %+v", got)
	}

	req = httptest.NewRequest("GET", "/reviews/nope", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing review status = %d, want 404", w.Code)
	}
}
