package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"triage/api/internal/logging"
	"triage/api/internal/session"
)

type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      session.User `json:"user"`
}

func (s *HTTPServer) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": "database unreachable"}
		}
	}
	return c.JSON(statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) issue(c echo.Context, status int, id session.Identity) error {
	token, expires, err := s.deps.Tokens.Issue(id.User.ID, id.SessionID, id.User.Name, id.User.Email)
	if err != nil {
		return err
	}
	return c.JSON(status, authResponse{Token: token, ExpiresAt: expires, User: id.User})
}

func (s *HTTPServer) handleRegister(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	id, err := s.deps.Sessions.Register(c.Request().Context(), body.Email, body.Password, body.Name)
	if err != nil {
		return err
	}
	return s.issue(c, http.StatusCreated, id)
}

func (s *HTTPServer) handleLogin(c echo.Context) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	id, err := s.deps.Sessions.Login(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return s.issue(c, http.StatusOK, id)
}

// handleForgotPassword always answers ok so callers cannot probe for accounts.
func (s *HTTPServer) handleForgotPassword(c echo.Context) error {
	var body struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.deps.Credentials.RequestPasswordReset(c.Request().Context(), body.Email); err != nil {
		mapped := mapError(err)
		if mapped.Status == http.StatusUnprocessableEntity {
			return err
		}
		logging.FromContext(c.Request().Context()).Error("request password reset", zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleResetPassword(c echo.Context) error {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	if err := s.deps.Credentials.ResetPassword(c.Request().Context(), body.Token, body.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSession(c echo.Context) error {
	id, err := s.identityFromRequest(c)
	if err != nil {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"authenticated": true, "user": id.User})
}

func (s *HTTPServer) handleLogout(c echo.Context) error {
	if err := s.deps.Sessions.Logout(c.Request().Context()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleUpdateProfile(c echo.Context) error {
	var body struct {
		Name    *string `json:"name"`
		Avatar  *string `json:"avatar"`
		CPFCNPJ *string `json:"cpfCnpj"`
		Email   *string `json:"email"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	id, err := s.deps.Sessions.UpdateProfile(c.Request().Context(), session.ProfilePatch{
		Name:    body.Name,
		Avatar:  body.Avatar,
		CPFCNPJ: body.CPFCNPJ,
		Email:   body.Email,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": id.User})
}
