package fanout

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/omjadhav9271/code-review-copilot/internal/github"
	"github.com/omjadhav9271/code-review-copilot/internal/store"
)

// Server is the webhook HTTP endpoint. It authenticates the triggering event,
// filters the actions that matter, and hands the event to the Initiator. It
// also serves a read-only status view of review records.
type Server struct {
	initiator *Initiator
	store     *store.Store
	secret    []byte
	logger    *log.Logger
}

// NewServer creates a webhook server. secret is the shared HMAC webhook secret.
func NewServer(initiator *Initiator, st *store.Store, secret []byte, logger *log.Logger) *Server {
	return &Server{initiator: initiator, store: st, secret: secret, logger: logger}
}

// Handler returns the http.Handler for the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /reviews/{id}", s.handleReview)
	return mux
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Hub-Signature-256")
	if err := github.VerifySignature(s.secret, body, sig); err != nil {
		status := http.StatusForbidden
		if strings.Contains(err.Error(), "unsupported signature algorithm") {
			status = http.StatusNotImplemented
		}
		s.logger.Printf("webhook rejected: %v", err)
		http.Error(w, err.Error(), status)
		return
	}

	ev, err := github.ParsePullRequestEvent(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !ev.Triggers() {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	key, err := ev.Key()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ev.PullRequest.Head.SHA == "" {
		http.Error(w, "missing head SHA", http.StatusBadRequest)
		return
	}

	reviewID, err := s.initiator.Dispatch(key, ev.PullRequest.Head.SHA)
	if err != nil {
		s.logger.Printf("dispatch %s failed: %v", key.ID(), err)
		http.Error(w, "dispatch failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "review_id": reviewID})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "read review", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
