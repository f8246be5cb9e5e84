package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"agentpunk/internal/protocol"
	"agentpunk/internal/session"
	"agentpunk/internal/snapshot"
)

type writeInputRequest struct {
	Data string `json:"data"`
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type renameRequest struct {
	Label string `json:"label"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError encodes the message so quotes and backslashes in wrapped
// errors cannot break the JSON body.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateSessionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := session.LaunchKind(req.LaunchKind)
	switch kind {
	case session.LaunchAgent, session.LaunchResumedAgent, session.LaunchShell:
	default:
		writeError(w, http.StatusBadRequest, "unknown launchKind")
		return
	}

	sess, err := s.manager.Create(session.Descriptor{
		Name:  req.Name,
		Path:  req.Path,
		Icon:  req.Icon,
		Color: req.Color,
		Label: req.Label,
	}, kind, req.Dangerous)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrMaxSessions) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess.Info())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.List()
	infos := make([]protocol.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (s *Server) handleRecoverable(w http.ResponseWriter, r *http.Request) {
	records := s.recovered
	if records == nil {
		records = []snapshot.Record{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Kill(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"terminated"}`))
}

func (s *Server) handleWriteInput(w http.ResponseWriter, r *http.Request) {
	var req writeInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Data == "" {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	// Input against a dead or unknown session is deliberately a no-op.
	s.manager.WriteInput(r.PathValue("id"), []byte(req.Data))

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		writeError(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}

	s.manager.Resize(r.PathValue("id"), req.Cols, req.Rows)

	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.manager.Rename(r.PathValue("id"), req.Label); err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"renamed"}`))
}
