package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// offerRequest is the body of POST /call/new: the client's session
// description. Only offers are accepted.
type offerRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// handleNewCall performs the offer/answer exchange that opens a session
// (RFC 3264). The peer connection, its pumps and the conversation pipeline
// are all created here; everything after the answer is event-driven off the
// connection state.
func (s *Server) handleNewCall(w http.ResponseWriter, r *http.Request) {
	var offer offerRequest
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil {
		http.Error(w, "malformed offer: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if offer.Type != "offer" {
		http.Error(w, `session description type must be "offer"`, http.StatusBadRequest)
		return
	}

	id := uuid.NewString()
	logger := slog.With("session_id", id)
	logger.Info("server: got offer", "remote", r.RemoteAddr)

	conv, err := s.deps.NewConversation(r.Context(), id)
	if err != nil {
		logger.Error("server: conversation setup failed", "err", err)
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}

	sess, err := newSession(id, conv, s.cfg, func(d time.Duration) {
		s.deps.Sessions.Remove(id, d)
	})
	if err != nil {
		conv.Chatter.Stop()
		logger.Error("server: peer setup failed", "err", err)
		http.Error(w, "session setup failed", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Sessions.Add(sess); err != nil {
		sess.Close()
		logger.Warn("server: session rejected", "err", err)
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	answer, err := sess.Answer(r.Context(), offer.SDP)
	if err != nil {
		sess.Close()
		if errors.Is(err, errRejectedOffer) {
			logger.Warn("server: offer rejected", "err", err)
			http.Error(w, "invalid offer", http.StatusBadRequest)
			return
		}
		logger.Error("server: answer failed", "err", err)
		http.Error(w, "negotiation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(answer); err != nil {
		logger.Warn("server: answer write failed", "err", err)
		return
	}
	logger.Info("server: call answered")
}
