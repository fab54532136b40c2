package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/flow"
	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/store"
	"github.com/BTreeMap/EvaluBot/internal/summary"
	"github.com/BTreeMap/EvaluBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/EvaluBot/internal/util"
	"github.com/gorilla/mux"
)

const chatErrorMessage = "An error occurred while processing the chat."

// SummariesResponse is the result of the summary endpoints.
type SummariesResponse struct {
	Subject     string      `json:"subject"`
	Summaries   summary.Set `json:"summaries"`
	UniqueUsers int         `json:"uniqueUsers"`
	Generated   bool        `json:"generated"`
	UpdatedAt   *time.Time  `json:"updatedAt,omitempty"`
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, s.streamer, func(req *models.ChatRequest) string { return req.StreamerName })
}

func (s *Server) teachChatHandler(w http.ResponseWriter, r *http.Request) {
	s.handleChat(w, r, s.teaching, func(req *models.ChatRequest) string { return req.CourseName })
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, engine *flow.Engine, subjectOf func(*models.ChatRequest) string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.handleChat: failed to decode JSON", "error", err, "path", r.URL.Path)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.handleChat: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = util.GenerateAnonymousUserID()
		slog.Debug("Server.handleChat: assigned anonymous user ID", "userID", userID)
	}

	res, err := engine.Turn(r.Context(), userID, req.Message, subjectOf(&req))
	if err != nil {
		slog.Error("Server.handleChat: turn failed", "error", err, "userID", userID, "domain", engine.Domain().Name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(chatErrorMessage))
		return
	}
	s.recordTurn(r.Context(), userID, req.Message, res)

	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatResponse{
		Reply:  res.Reply,
		UserID: userID,
		Mode:   res.Mode,
		Stage:  string(res.Stage),
	}))
}

// recordTurn appends the user message and the reply to the transcript.
// Failures are logged and never reach the caller.
func (s *Server) recordTurn(ctx context.Context, userID, message string, res flow.TurnResult) {
	now := time.Now()
	entries := []models.ChatMessage{
		{UserID: userID, SubjectName: res.Subject, Role: models.RoleUser, Content: message, Mode: res.Mode, CreatedAt: now},
		{UserID: userID, SubjectName: res.Subject, Role: models.RoleAssistant, Content: res.Reply, Mode: res.Mode, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, m := range entries {
		if err := s.st.SaveMessage(ctx, m); err != nil {
			slog.Error("Server.recordTurn: failed to save message", "error", err, "userID", userID, "role", m.Role)
		}
	}
	s.refresher.MarkDirty(res.Subject)
}

func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.createSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	name := strings.TrimSpace(req.StreamerName)
	if err := models.ValidateSubjectName(name); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	token, err := util.GenerateSessionToken()
	if err != nil {
		slog.Error("Server.createSessionHandler: failed to generate token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}
	sess := models.Session{
		SubjectName:          name,
		Token:                token,
		FeedbackFromViewers:  req.FeedbackFromViewers,
		FeedbackFromExternal: req.FeedbackFromExternal,
	}
	if err := s.st.CreateSession(r.Context(), sess); err != nil {
		slog.Error("Server.createSessionHandler: failed to save session", "error", err, "subject", name)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create session"))
		return
	}

	slog.Info("Server.createSessionHandler: session created", "subject", name)
	writeJSONResponse(w, http.StatusOK, models.Success(models.CreateSessionResponse{
		Link:  "/chat/" + url.PathEscape(name) + "?token=" + token,
		Token: token,
	}))
}

func (s *Server) verifyDashboardAccessHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject := strings.TrimSpace(q.Get("streamerName"))
	token := q.Get("token")

	unauthorized := models.NewAPIResponseBuilder().
		WithStatus(models.APIStatusError).
		WithMessage("Unauthorized access").
		WithResult(models.VerifyAccessResponse{Valid: false}).
		Build()
	if subject == "" || token == "" {
		writeJSONResponse(w, http.StatusUnauthorized, unauthorized)
		return
	}

	if _, err := s.st.GetSession(r.Context(), subject, token); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			slog.Warn("Server.verifyDashboardAccessHandler: unknown session", "subject", subject)
			writeJSONResponse(w, http.StatusUnauthorized, unauthorized)
			return
		}
		slog.Error("Server.verifyDashboardAccessHandler: session lookup failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to verify token"))
		return
	}

	access, exp, err := s.tokens.Issue(subject)
	if err != nil {
		slog.Error("Server.verifyDashboardAccessHandler: failed to issue token", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to verify token"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.VerifyAccessResponse{
		Valid:       true,
		AccessToken: access,
		ExpiresAt:   exp.Unix(),
	}))
}

func (s *Server) saveChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.SaveChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.saveChatMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	m := req.ToChatMessage()
	if err := m.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if m.Mode != "" && !models.IsValidMode(m.Mode) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidMode.Error()))
		return
	}
	if err := s.st.SaveMessage(r.Context(), m); err != nil {
		slog.Error("Server.saveChatMessageHandler: failed to save message", "error", err, "userID", m.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save message"))
		return
	}
	s.refresher.MarkDirty(m.SubjectName)
	writeJSONResponse(w, http.StatusOK, models.Recorded())
}

func (s *Server) getChatMessagesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subject := strings.TrimSpace(q.Get("streamerName"))
	if subject == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Streamer name is required."))
		return
	}
	if !authorizedFor(r, subject) {
		writeJSONResponse(w, http.StatusForbidden, models.Error("Access token does not grant access to this subject"))
		return
	}

	var (
		msgs []models.ChatMessage
		err  error
	)
	if userID := strings.TrimSpace(q.Get("userId")); userID != "" {
		msgs, err = s.st.GetUserMessages(r.Context(), subject, userID)
	} else {
		msgs, err = s.st.GetMessages(r.Context(), subject)
	}
	if err != nil {
		slog.Error("Server.getChatMessagesHandler: query failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch messages"))
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ChatMessagesResponse{Messages: msgs}))
}

func (s *Server) getChatSummariesHandler(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("streamerName"))
	if subject == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Streamer name is required."))
		return
	}
	if !authorizedFor(r, subject) {
		writeJSONResponse(w, http.StatusForbidden, models.Error("Access token does not grant access to this subject"))
		return
	}

	users, err := s.st.CountUsers(r.Context(), subject)
	if err != nil {
		slog.Error("Server.getChatSummariesHandler: user count failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("An error occurred while fetching or generating summaries."))
		return
	}

	stored, err := s.st.GetSummary(r.Context(), subject)
	switch {
	case err == nil:
		updated := stored.UpdatedAt
		writeJSONResponse(w, http.StatusOK, models.Success(SummariesResponse{
			Subject:     subject,
			Summaries:   summary.FromSubjectSummary(*stored),
			UniqueUsers: users,
			UpdatedAt:   &updated,
		}))
	case errors.Is(err, store.ErrSummaryNotFound):
		slog.Info("Server.getChatSummariesHandler: no summaries stored, generating", "subject", subject)
		s.writeGenerated(w, r, subject, users)
	default:
		slog.Error("Server.getChatSummariesHandler: summary lookup failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("An error occurred while fetching or generating summaries."))
	}
}

func (s *Server) generateSummariesHandler(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(mux.Vars(r)["subject"])
	if !authorizedFor(r, subject) {
		writeJSONResponse(w, http.StatusForbidden, models.Error("Access token does not grant access to this subject"))
		return
	}
	users, err := s.st.CountUsers(r.Context(), subject)
	if err != nil {
		slog.Error("Server.generateSummariesHandler: user count failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to generate summaries"))
		return
	}
	s.writeGenerated(w, r, subject, users)
}

// writeGenerated runs the aggregator and writes its outcome.
func (s *Server) writeGenerated(w http.ResponseWriter, r *http.Request, subject string, users int) {
	if s.summaries == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Summary generation is not configured"))
		return
	}
	set, err := s.summaries.Generate(r.Context(), subject)
	if err != nil {
		if errors.Is(err, summary.ErrNoMessages) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("No messages available for summarization"))
			return
		}
		slog.Error("Server.writeGenerated: generation failed", "error", err, "subject", subject)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("An error occurred while fetching or generating summaries."))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Summaries generated successfully.", SummariesResponse{
		Subject:     subject,
		Summaries:   set,
		UniqueUsers: users,
		Generated:   true,
	}))
}

func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if s.wa == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("WhatsApp channel not configured"))
		return
	}
	if s.waChecker != nil && !s.waChecker.ValidateRequest(r) {
		writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid request signature"))
		return
	}
	in, err := twiliowhatsapp.ParseInbound(r)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: bad inbound message", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	userID, err := twiliowhatsapp.CanonicalizeNumber(in.From)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: bad sender", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	slog.Info("Server.twilioWebhookHandler: inbound WhatsApp message", "from", userID)

	res, err := s.streamer.Turn(r.Context(), userID, in.Body, r.URL.Query().Get("subject"))
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: turn failed", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(chatErrorMessage))
		return
	}
	s.recordTurn(r.Context(), userID, in.Body, res)

	if err := s.wa.SendMessage(r.Context(), userID, res.Reply); err != nil {
		slog.Error("Server.twilioWebhookHandler: reply not delivered", "error", err, "userID", userID)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to send reply"))
		return
	}
	writeTwiMLResponse(w)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	active, err := s.streamer.ActiveConversations(r.Context())
	if err != nil {
		slog.Error("Server.healthHandler: state store unavailable", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Conversation state store unavailable"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"activeConversations": active,
		"uptimeSeconds":       int64(time.Since(s.startedAt).Seconds()),
		"summaries":           s.summaries != nil,
		"whatsapp":            s.wa != nil,
	}))
}
