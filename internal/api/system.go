package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/meshlink/internal/message"
	"github.com/nerrad567/meshlink/internal/relay"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Service  relay.Status   `json:"service"`
	Database DatabaseStatus `json:"database"`
}

// DatabaseStatus summarises stored data.
type DatabaseStatus struct {
	MessageCount  int              `json:"message_count"`
	ContactCount  int              `json:"contact_count"`
	LatestMessage *message.Message `json:"latest_message"`
}

// handleStatus returns relay status together with database counts.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Service: s.relay.GetStatus()}

	var err error
	if resp.Database.MessageCount, err = s.messages.Count(ctx); err != nil {
		s.logger.Error("counting messages", "error", err)
		writeInternalError(w, "failed to read database status")
		return
	}
	if resp.Database.ContactCount, err = s.contacts.Count(ctx); err != nil {
		s.logger.Error("counting contacts", "error", err)
		writeInternalError(w, "failed to read database status")
		return
	}
	latest, err := s.messages.Latest(ctx)
	switch {
	case err == nil:
		resp.Database.LatestMessage = latest
	case !errors.Is(err, message.ErrMessageNotFound):
		s.logger.Error("reading latest message", "error", err)
		writeInternalError(w, "failed to read database status")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleNode returns the radio's node ID.
func (s *Server) handleNode(w http.ResponseWriter, _ *http.Request) {
	id, err := s.relay.GetNodeID()
	if err != nil {
		s.writeSendError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"node_id": id})
}

// handleListContacts returns active contacts, most recently seen first.
func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.contacts.ListActive(r.Context())
	if err != nil {
		s.logger.Error("listing contacts", "error", err)
		writeInternalError(w, "failed to list contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": contacts,
		"count":    len(contacts),
	})
}
