package app

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/logging"
	"triage/api/internal/session"
)

const identityKey = "identity"

// requestLogger tags the request with an id, stores a request-scoped logger in the
// context and logs one line per request.
func requestLogger(base *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			logger := base.With(zap.String("request_id", requestID))
			c.SetRequest(req.WithContext(logging.WithContext(req.Context(), logger)))

			started := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			logger.Info("request",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(started)),
				zap.String("ip", c.RealIP()),
			)
			return nil
		}
	}
}

// requireAuth accepts a bearer token only while it names the live session.
func (s *HTTPServer) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := s.identityFromRequest(c)
		if err != nil {
			logging.FromContext(c.Request().Context()).Debug("rejected bearer token", zap.Error(err))
			return apperr.ErrNotAuthenticated
		}
		c.Set(identityKey, id)
		return next(c)
	}
}

func (s *HTTPServer) identityFromRequest(c echo.Context) (session.Identity, error) {
	token := bearerToken(c)
	if token == "" {
		return session.Identity{}, apperr.ErrNotAuthenticated
	}
	claims, err := s.deps.Tokens.Parse(token)
	if err != nil {
		return session.Identity{}, err
	}
	return s.deps.Sessions.Verify(claims.Subject, claims.ID)
}

func identity(c echo.Context) session.Identity {
	id, _ := c.Get(identityKey).(session.Identity)
	return id
}

func bearerToken(c echo.Context) string {
	header := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

