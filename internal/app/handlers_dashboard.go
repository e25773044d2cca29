package app

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"triage/api/internal/attendance"
	"triage/api/internal/search"
	"triage/api/internal/store"
)

func (s *HTTPServer) handleRecentActivity(c echo.Context) error {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return err
	}
	items, err := s.deps.Activity.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleRecordActivity(c echo.Context) error {
	var body struct {
		Type        string  `json:"type"`
		Title       string  `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
		Avatar      *string `json:"avatar"`
	}
	if err := c.Bind(&body); err != nil {
		return err
	}
	saved, err := s.deps.Activity.Record(c.Request().Context(), store.Activity{
		Type:        body.Type,
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
		Avatar:      body.Avatar,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, saved)
}

func (s *HTTPServer) handleStats(c echo.Context) error {
	stats, err := s.deps.Stats.Get(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *HTTPServer) handleListAttendances(c echo.Context) error {
	items, err := s.deps.Attendances.List(c.Request().Context(), attendance.Filter{
		Query:  c.QueryParam("q"),
		Status: c.QueryParam("status"),
		Date:   c.QueryParam("date"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleUpdateAttendance(c echo.Context) error {
	var patch attendance.Patch
	if err := c.Bind(&patch); err != nil {
		return err
	}
	updated, err := s.deps.Attendances.Apply(c.Request().Context(), c.Param("id"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "attendance": updated})
}

func (s *HTTPServer) handleSearch(c echo.Context) error {
	resultType, err := search.ParseResultType(c.QueryParam("type"))
	if err != nil {
		return err
	}
	limit, err := intQuery(c, "limit", 20)
	if err != nil {
		return err
	}
	if s.deps.Search == nil {
		return c.JSON(http.StatusOK, search.Response{Results: []search.Result{}, Query: c.QueryParam("q"), Engine: "none"})
	}
	resp := s.deps.Search.Search(c.Request().Context(), search.Query{
		Text:       c.QueryParam("q"),
		FilterType: resultType,
		Limit:      limit,
	})
	return c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleSystemCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Checker.Check(c.Request().Context()))
}
