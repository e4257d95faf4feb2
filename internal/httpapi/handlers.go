package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antoniostano/pitchcoach/internal/feedback"
	"github.com/antoniostano/pitchcoach/internal/history"
	"github.com/antoniostano/pitchcoach/internal/policy"
	"github.com/antoniostano/pitchcoach/internal/scenario"
	"github.com/antoniostano/pitchcoach/internal/session"
	"github.com/antoniostano/pitchcoach/internal/transcript"
)

const anonymousUser = "anonymous"

func (s *Server) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"scenarios": scenario.All()})
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	sc, ok := scenario.Lookup(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, "scenario_not_found", "unknown scenario")
		return
	}
	respondJSON(w, http.StatusOK, sc)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.Scenario = strings.TrimSpace(req.Scenario)
	if req.UserID == "" {
		req.UserID = anonymousUser
	}
	if req.Scenario == "" {
		req.Scenario = string(scenario.Default)
	}

	sess := s.deps.Sessions.Create(req.UserID, req.Scenario)
	s.metrics.SetActiveSessions(s.deps.Sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Scenario:        sess.ScenarioID,
		ConversationID:  sess.ConversationID,
		OpeningLine:     scenario.OpeningLine(sess.ScenarioID),
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.deps.Sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "sessions not configured")
		return
	}
	id := chi.URLParam(r, "id")
	sess, err := s.deps.Sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	out := map[string]any{"session": sess}
	if s.deps.Coach != nil {
		if st, ok := s.deps.Coach.Snapshot(id); ok {
			out["state"] = st
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// handleDestroySession is best effort: unknown or already ended sessions still succeed.
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Coach != nil {
		if err := s.deps.Coach.Destroy(id, session.ReasonDestroyed); err != nil {
			s.logger.Debug("destroy session", "session_id", id, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

type chatRequest struct {
	Messages []transcript.Turn `json:"messages"`
	Scenario string            `json:"scenario"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Exchange == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "chat not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := transcript.New(req.Messages...); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_messages", err.Error())
		return
	}
	turn := s.deps.Exchange.Exchange(r.Context(), req.Messages, req.Scenario)
	respondJSON(w, http.StatusOK, map[string]string{"message": turn.Text})
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Synthesizer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech synthesis not configured")
		return
	}
	var req ttsRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "Text is required")
		return
	}

	audio, err := s.deps.Synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("tts request failed", "error", err, "text", policy.LogSnippet(req.Text, 60))
		s.metrics.ObserveProviderError("tts", "http_synthesize_failed")
		respondError(w, http.StatusInternalServerError, "tts_failed", "Failed to generate speech")
		return
	}
	w.Header().Set("Content-Type", audio.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

type feedbackRequest struct {
	Messages       []transcript.Turn `json:"messages"`
	Scenario       string            `json:"scenario"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scorer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "scoring not configured")
		return
	}
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, err := transcript.New(req.Messages...); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_messages", err.Error())
		return
	}

	fb, err := s.deps.Scorer.Score(r.Context(), req.Messages, req.Scenario)
	switch {
	case errors.Is(err, feedback.ErrTranscriptTooShort):
		respondError(w, http.StatusBadRequest, "transcript_too_short", err.Error())
		return
	case err != nil:
		s.logger.Error("feedback scoring failed", "error", err)
		respondError(w, http.StatusBadGateway, "feedback_failed", "Failed to generate feedback")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if s.deps.History != nil && userID != "" {
		convID := strings.TrimSpace(req.ConversationID)
		if convID == "" {
			convID = uuid.NewString()
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if _, err := s.deps.History.Save(ctx, history.Conversation{
			ID:         convID,
			UserID:     userID,
			ScenarioID: req.Scenario,
			Messages:   req.Messages,
			Feedback:   &fb,
		}); err != nil {
			s.logger.Error("persist feedback failed", "conversation_id", convID, "error", err)
		}
	}
	respondJSON(w, http.StatusOK, fb)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history not configured")
		return
	}
	limit := s.cfg.HistoryPageLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}

	items, err := s.deps.History.List(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		respondError(w, http.StatusInternalServerError, "history_failed", "failed to load history")
		return
	}
	if items == nil {
		items = []history.Conversation{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": items, "count": len(items)})
}

func (s *Server) handleLatestConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history not configured")
		return
	}
	c, err := s.deps.History.Latest(r.Context(), chi.URLParam(r, "userID"))
	s.respondConversation(w, c, err)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "history not configured")
		return
	}
	c, err := s.deps.History.Get(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "id"))
	s.respondConversation(w, c, err)
}

func (s *Server) respondConversation(w http.ResponseWriter, c history.Conversation, err error) {
	switch {
	case errors.Is(err, history.ErrNotFound):
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
	case err != nil:
		s.logger.Error("load conversation failed", "error", err)
		respondError(w, http.StatusInternalServerError, "history_failed", "failed to load conversation")
	default:
		respondJSON(w, http.StatusOK, c)
	}
}

func (s *Server) handleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" || userID == anonymousUser {
		respondError(w, http.StatusBadRequest, "invalid_user", "a signed-in user id is required")
		return
	}

	ended := 0
	if s.deps.Coach != nil {
		ended = s.deps.Coach.EndUser(userID, session.ReasonUserDeleted)
	}
	deleted := 0
	if s.deps.History != nil {
		n, err := s.deps.History.DeleteUser(r.Context(), userID)
		if err != nil {
			s.logger.Error("delete user history failed", "error", err)
			respondError(w, http.StatusInternalServerError, "delete_failed", "failed to delete user data")
			return
		}
		deleted = n
	}
	s.metrics.ObserveSessionEvent("user_deleted")
	respondJSON(w, http.StatusOK, map[string]any{
		"message":               "Account data deleted successfully",
		"sessions_ended":        ended,
		"conversations_deleted": deleted,
	})
}
