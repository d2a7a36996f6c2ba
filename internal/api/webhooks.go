package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
)

// pubsubEnvelope is the pub/sub push wrapper around a Gmail notification.
type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the payload inside the pub/sub data field.
type gmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// handlePushProbe answers provider verification GETs.
func (s *Server) handlePushProbe(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handlePush receives both Gmail pub/sub pushes and Calendar channel pushes
// on one endpoint; the X-Goog-Channel-ID header tells them apart.
//
// The contract with the provider: 401 only for failed verifiable auth, 202
// for everything else. Returning errors for malformed or unknown payloads
// would just make the provider retry them forever.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if channelID := r.Header.Get("X-Goog-Channel-ID"); channelID != "" {
		s.handleChannelPush(w, r, channelID)
		return
	}
	s.handlePubSubPush(w, r)
}

// handleChannelPush authenticates a calendar channel notification against the
// per-source HMAC token and kicks a debounced sync.
func (s *Server) handleChannelPush(w http.ResponseWriter, r *http.Request, channelID string) {
	token := r.Header.Get("X-Goog-Channel-Token")

	src, err := s.sources.FindByChannelID(r.Context(), channelID)
	if err != nil {
		// Stale channel from a rotated watch; benign.
		log.Printf("[API] channel push for unknown channel %s", channelID)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if !s.syncer.VerifyChannelToken(src.ID, token) {
		writeError(w, http.StatusUnauthorized, "channel token mismatch")
		return
	}

	// The sync state tells us nothing useful here; "exists" fires on channel
	// creation and "sync"/"update" on changes. Any authenticated ping is a
	// reason to look.
	s.syncer.NotifyChannelPush(r.Context(), channelID)
	w.WriteHeader(http.StatusAccepted)
}

// handlePubSubPush authenticates a Gmail pub/sub push by its bearer JWT and
// kicks a debounced sync for the notified mailbox.
func (s *Server) handlePubSubPush(w http.ResponseWriter, r *http.Request) {
	if s.validator != nil {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if err := s.validator(r.Context(), token, s.google.PubSubAudience); err != nil {
			log.Printf("[API] push JWT rejected: %v", err)
			writeError(w, http.StatusUnauthorized, "invalid push token")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var envelope pubsubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Printf("[API] malformed push envelope: %v", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
	}
	if err != nil {
		log.Printf("[API] undecodable push data: %v", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var notif gmailNotification
	if err := json.Unmarshal(data, &notif); err != nil || notif.EmailAddress == "" {
		log.Printf("[API] malformed gmail notification")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.syncer.NotifyMailPush(r.Context(), notif.EmailAddress)
	w.WriteHeader(http.StatusAccepted)
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}
