package app

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/conversation"
	"triage/api/internal/export"
	"triage/api/internal/logging"
	"triage/api/internal/store"
)

type conversationView struct {
	ID              string    `json:"id"`
	ClientName      string    `json:"clientName"`
	ClientPhone     string    `json:"clientPhone"`
	Status          string    `json:"status"`
	RejectionReason *string   `json:"rejectionReason,omitempty"`
	Avatar          string    `json:"avatar"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func viewConversation(c store.Conversation) conversationView {
	return conversationView{
		ID:              c.ID,
		ClientName:      c.ClientName,
		ClientPhone:     c.ClientPhone,
		Status:          string(c.Status),
		RejectionReason: c.RejectionReason,
		Avatar:          conversation.Initials(c.ClientName),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (s *HTTPServer) handleListConversations(c echo.Context) error {
	items, err := s.deps.Conversations.List(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleGetConversation(c echo.Context) error {
	item, err := s.deps.Conversations.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewConversation(item))
}

// handleUpdateStatus answers {ok:false} with the mapped status when the write fails.
func (s *HTTPServer) handleUpdateStatus(c echo.Context) error {
	var body struct {
		Status string  `json:"status"`
		Reason *string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	status, err := store.ParseConversationStatus(body.Status)
	if err != nil {
		return apperr.Invalid("status", "must be approved or rejected")
	}
	actor := identity(c)
	updated, err := s.deps.Conversations.Transition(c.Request().Context(), c.Param("id"), conversation.StatusRequest{
		Status:    status,
		Reason:    body.Reason,
		ActorID:   actor.User.ID,
		ActorName: actor.User.Name,
	})
	if err != nil {
		mapped := mapError(err)
		if mapped.Status >= http.StatusInternalServerError {
			logging.FromContext(c.Request().Context()).Error("update conversation status", zap.Error(err))
		}
		return c.JSON(mapped.Status, map[string]any{"ok": false, "code": mapped.Code, "error": mapped.Message})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "conversation": viewConversation(updated)})
}

func (s *HTTPServer) handleListMessages(c echo.Context) error {
	items, err := s.deps.Messages.List(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleAppendMessage(c echo.Context) error {
	var body struct {
		Text string `json:"text"`
		IsAI bool   `json:"isAi"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	msg, err := s.deps.Messages.Append(c.Request().Context(), c.Param("id"), body.Text, body.IsAI)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *HTTPServer) handleReviewMessage(c echo.Context) error {
	var body struct {
		Approved *bool `json:"approved"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	if body.Approved == nil {
		return apperr.Invalid("approved", "is required")
	}
	msg, err := s.deps.Messages.Review(c.Request().Context(), c.Param("id"), *body.Approved)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, msg)
}

func (s *HTTPServer) handleExport(c echo.Context) error {
	format, err := export.ParseFormat(c.QueryParam("format"))
	if err != nil {
		return apperr.Invalid("format", "must be txt, pdf or csv")
	}
	res, err := s.deps.Exports.Export(c.Request().Context(), c.Param("id"), format)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", res.Filename))
	return c.Blob(http.StatusOK, res.MimeType, res.Data)
}

func (s *HTTPServer) handleArchive(c echo.Context) error {
	if s.deps.Archiver == nil {
		return domainError(http.StatusServiceUnavailable, "ARCHIVE_UNAVAILABLE", "Transcript archive is not configured", nil)
	}
	archived, err := s.deps.Archiver.ArchiveTranscript(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, archived)
}

func (s *HTTPServer) handleHistory(c echo.Context) error {
	ctx := c.Request().Context()
	if _, err := s.deps.Conversations.Get(ctx, c.Param("id")); err != nil {
		return err
	}
	if s.deps.History == nil {
		return c.JSON(http.StatusOK, map[string]any{"items": []any{}})
	}
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		return err
	}
	items, err := s.deps.History.History(ctx, c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func intQuery(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Invalid(name, "must be a non-negative integer")
	}
	return n, nil
}

