// Package app exposes the review dashboard over HTTP.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"triage/api/internal/archive"
	"triage/api/internal/attendance"
	"triage/api/internal/auth"
	"triage/api/internal/conversation"
	"triage/api/internal/export"
	"triage/api/internal/message"
	"triage/api/internal/metrics"
	"triage/api/internal/objectstore"
	"triage/api/internal/search"
	"triage/api/internal/session"
	"triage/api/internal/store"
	"triage/api/internal/syscheck"
)

type Sessions interface {
	Login(ctx context.Context, email, password string) (session.Identity, error)
	Register(ctx context.Context, email, password, name string) (session.Identity, error)
	Logout(ctx context.Context) error
	Current() (session.Identity, bool)
	UpdateProfile(ctx context.Context, patch session.ProfilePatch) (session.Identity, error)
	Verify(userID, sessionID string) (session.Identity, error)
}

type Tokens interface {
	Issue(userID, sessionID, name, email string) (string, time.Time, error)
	Parse(token string) (auth.Claims, error)
}

type Credentials interface {
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type Conversations interface {
	List(ctx context.Context, status string) ([]conversation.Summary, error)
	Get(ctx context.Context, id string) (store.Conversation, error)
	Transition(ctx context.Context, id string, req conversation.StatusRequest) (store.Conversation, error)
}

type Messages interface {
	List(ctx context.Context, conversationID string) ([]message.Message, error)
	Append(ctx context.Context, conversationID, text string, isAI bool) (message.Message, error)
	Review(ctx context.Context, messageID string, approved bool) (message.Message, error)
}

type Activity interface {
	Recent(ctx context.Context, limit int) ([]store.Activity, error)
	Record(ctx context.Context, entry store.Activity) (store.Activity, error)
}

type Stats interface {
	Get(ctx context.Context) (store.Stats, error)
}

type Attendances interface {
	List(ctx context.Context, f attendance.Filter) ([]attendance.Attendance, error)
	Apply(ctx context.Context, id string, p attendance.Patch) (attendance.Attendance, error)
}

type Exporter interface {
	Export(ctx context.Context, conversationID string, format export.Format) (*export.Result, error)
}

type TranscriptArchiver interface {
	ArchiveTranscript(ctx context.Context, conversationID string) (objectstore.Archived, error)
}

type DecisionHistory interface {
	History(ctx context.Context, conversationID string, limit int) ([]archive.CommitInfo, error)
}

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type SystemChecker interface {
	Check(ctx context.Context) syscheck.Report
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the HTTP layer routes to. Archiver, History, Search and
// Metrics are optional.
type Deps struct {
	Sessions      Sessions
	Tokens        Tokens
	Credentials   Credentials
	Conversations Conversations
	Messages      Messages
	Activity      Activity
	Stats         Stats
	Attendances   Attendances
	Exports       Exporter
	Archiver      TranscriptArchiver
	History       DecisionHistory
	Search        Searcher
	Checker       SystemChecker
	DB            Pinger
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	CORSOrigin    string
}

type HTTPServer struct {
	deps Deps
	echo *echo.Echo
}

func NewHTTPServer(deps Deps) *HTTPServer {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CORSOrigin == "" {
		deps.CORSOrigin = "*"
	}
	s := &HTTPServer{deps: deps, echo: echo.New()}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = errorHandler
	s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

func (s *HTTPServer) routes() {
	e := s.echo
	if s.deps.Metrics != nil {
		e.Use(s.deps.Metrics.Middleware())
	}
	e.Use(requestLogger(s.deps.Logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{s.deps.CORSOrigin},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderXRequestID},
		ExposeHeaders: []string{echo.HeaderXRequestID, echo.HeaderContentDisposition},
	}))

	e.GET("/api/health", s.handleHealth)
	e.GET("/api/ready", s.handleReady)
	if s.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}

	e.POST("/api/auth/register", s.handleRegister)
	e.POST("/api/auth/login", s.handleLogin)
	e.POST("/api/auth/forgot-password", s.handleForgotPassword)
	e.POST("/api/auth/reset-password", s.handleResetPassword)
	e.GET("/api/session", s.handleSession)

	api := e.Group("/api", s.requireAuth)
	api.POST("/auth/logout", s.handleLogout)
	api.PATCH("/profile", s.handleUpdateProfile)

	api.GET("/conversations", s.handleListConversations)
	api.GET("/conversations/:id", s.handleGetConversation)
	api.PUT("/conversations/:id/status", s.handleUpdateStatus)
	api.GET("/conversations/:id/messages", s.handleListMessages)
	api.POST("/conversations/:id/messages", s.handleAppendMessage)
	api.GET("/conversations/:id/export", s.handleExport)
	api.POST("/conversations/:id/archive", s.handleArchive)
	api.GET("/conversations/:id/history", s.handleHistory)
	api.POST("/messages/:id/review", s.handleReviewMessage)

	api.GET("/activity", s.handleRecentActivity)
	api.POST("/activity", s.handleRecordActivity)
	api.GET("/stats", s.handleStats)
	api.GET("/attendances", s.handleListAttendances)
	api.PATCH("/attendances/:id", s.handleUpdateAttendance)
	api.GET("/search", s.handleSearch)
	api.GET("/system/check", s.handleSystemCheck)
}

// Start serves on addr until ctx is canceled, then drains in-flight requests.
func (s *HTTPServer) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.deps.Logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

