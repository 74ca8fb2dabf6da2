package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/relay"
)

// streamBatchSize caps how many messages one SSE poll emits.
const streamBatchSize = 100

// SendRequest is the body of POST /messages.
type SendRequest struct {
	Content  string  `json:"content"`
	Receiver *string `json:"receiver_node"`
}

// handleListMessages returns one page of stored messages, newest first.
// A missing or malformed page reads as page 1.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page = n
		}
	}

	result, err := s.messages.List(r.Context(), page, message.DefaultPerPage)
	if err != nil {
		s.logger.Error("listing messages", "error", err)
		writeInternalError(w, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSendMessage sends a message through the relay and stores it.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "content is required")
		return
	}

	env, err := s.relay.SendMessage(req.Content, req.Receiver)
	if err != nil {
		s.writeSendError(w, err)
		return
	}

	m, err := s.recorder.Record(r.Context(), env, message.DirectionOutbound)
	if err != nil {
		s.logger.Error("sent message not stored", "error", err)
		writeInternalError(w, "message sent but not stored")
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// writeSendError maps relay errors to HTTP responses.
func (s *Server) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrContactNotFound):
		writeError(w, http.StatusBadRequest, ErrCodeContactNotFound, err.Error())
	case errors.Is(err, relay.ErrNotConnected), errors.Is(err, relay.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, "radio is not connected")
	case errors.Is(err, relay.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "radio did not respond in time")
	default:
		s.logger.Warn("send failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeSendFailed, err.Error())
	}
}

// handleMessageStream streams new messages as Server-Sent Events.
//
// The stream starts after the newest message stored when the client
// connects and emits every later message once, in insertion order.
func (s *Server) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	//nolint:errcheck // Not every writer supports deadlines; the stream still works
	rc.SetWriteDeadline(time.Time{})

	ctx := r.Context()
	var lastID int64
	latest, err := s.messages.Latest(ctx)
	switch {
	case err == nil:
		lastID = latest.ID
	case !errors.Is(err, message.ErrMessageNotFound):
		s.logger.Error("starting message stream", "error", err)
		writeInternalError(w, "failed to read messages")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("message stream not flushable", "error", err)
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		batch, err := s.messages.ListAfter(ctx, lastID, streamBatchSize)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("polling message stream", "error", err)
			}
			continue
		}
		for _, m := range batch {
			if err := writeEvent(w, m); err != nil {
				return
			}
			lastID = m.ID
		}
		if len(batch) > 0 {
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// writeEvent writes m as one SSE data event.
func writeEvent(w http.ResponseWriter, m message.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding stream event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", m.ID, data)
	return err
}
