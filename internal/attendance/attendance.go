// Package attendance serves the client service records list.
package attendance

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

type Store interface {
	ListAttendances(ctx context.Context, filter store.AttendanceFilter) ([]store.Attendance, error)
	UpdateAttendance(ctx context.Context, id string, patch store.AttendancePatch) (store.Attendance, error)
}

type Attendance struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	Date            string     `json:"date"`
	Status          string     `json:"status"`
	LastInteraction *time.Time `json:"lastInteraction,omitempty"`
	MessageCount    int        `json:"messageCount"`
	ConversationID  *string    `json:"conversationId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func fromStore(a store.Attendance) Attendance {
	return Attendance{
		ID:              a.ID,
		Name:            a.Name,
		Phone:           a.Phone,
		Date:            a.Date.Format(time.DateOnly),
		Status:          string(a.Status),
		LastInteraction: a.LastInteraction,
		MessageCount:    a.MessageCount,
		ConversationID:  a.ConversationID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

// Filter mirrors the list screen's controls. Empty fields match everything.
type Filter struct {
	Query  string
	Status string
	Date   string
}

type Patch struct {
	Status          *string    `json:"status"`
	LastInteraction *time.Time `json:"lastInteraction"`
	MessageCount    *int       `json:"messageCount"`
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(st Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, logger: logger}
}

// List returns matching attendances, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Attendance, error) {
	filter := store.AttendanceFilter{Query: strings.TrimSpace(f.Query)}
	if strings.TrimSpace(f.Status) != "" {
		status, err := store.ParseAttendanceStatus(f.Status)
		if err != nil {
			return nil, apperr.Invalid("status", err.Error())
		}
		filter.Status = status
	}
	if strings.TrimSpace(f.Date) != "" {
		day, err := time.Parse(time.DateOnly, strings.TrimSpace(f.Date))
		if err != nil {
			return nil, apperr.Invalid("date", "must be YYYY-MM-DD")
		}
		filter.Date = &day
	}

	rows, err := s.store.ListAttendances(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Attendance, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromStore(row))
	}
	return out, nil
}

// Apply writes patch and returns the stored record.
func (s *Service) Apply(ctx context.Context, id string, p Patch) (Attendance, error) {
	var patch store.AttendancePatch
	if p.Status != nil {
		status, err := store.ParseAttendanceStatus(*p.Status)
		if err != nil {
			return Attendance{}, apperr.Invalid("status", err.Error())
		}
		patch.Status = &status
	}
	if p.MessageCount != nil && *p.MessageCount < 0 {
		return Attendance{}, apperr.Invalid("messageCount", "must not be negative")
	}
	patch.LastInteraction = p.LastInteraction
	patch.MessageCount = p.MessageCount

	updated, err := s.store.UpdateAttendance(ctx, id, patch)
	if err != nil {
		return Attendance{}, err
	}
	return fromStore(updated), nil
}

// Update is Apply reduced to a success flag; failures are logged.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Attendance, bool) {
	updated, err := s.Apply(ctx, id, p)
	if err != nil {
		s.logger.Error("update attendance", zap.String("attendance_id", id), zap.Error(err))
		return Attendance{}, false
	}
	return updated, true
}
