package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/export"
	"triage/api/internal/logging"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// mapError translates service errors into the HTTP contract. Anything unrecognised,
// persistence failures included, becomes a generic 500.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Error(), map[string]string{"field": validation.Field})
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Code {
		case http.StatusNotFound:
			return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		case http.StatusMethodNotAllowed:
			return domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		case http.StatusBadRequest, http.StatusUnsupportedMediaType:
			return domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid request body", nil)
		}
		return domainError(httpErr.Code, "HTTP_ERROR", http.StatusText(httpErr.Code), nil)
	}

	switch {
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email ou senha incorretos", nil)
	case errors.Is(err, apperr.ErrAccountInactive):
		return domainError(http.StatusForbidden, "ACCOUNT_INACTIVE", "Conta inativa", nil)
	case errors.Is(err, apperr.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_TAKEN", "Email já cadastrado", nil)
	case errors.Is(err, apperr.ErrInvalidOrExpiredToken):
		return domainError(http.StatusBadRequest, "INVALID_TOKEN", "Token inválido ou expirado", nil)
	case errors.Is(err, apperr.ErrNotAuthenticated):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, apperr.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return domainError(http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available", nil)
	}
	return domainError(http.StatusInternalServerError, "INTERNAL", "Server error", nil)
}

// errorHandler renders every error returned by a handler as {"code", "error"}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	mapped := mapError(err)
	if mapped.Status >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	_ = writeError(c, mapped.Status, mapped.Code, mapped.Message, mapped.Details)
}

func writeError(c echo.Context, status int, code, message string, details any) error {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	return c.JSON(status, response)
}
