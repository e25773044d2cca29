package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

type fakeStore struct {
	lastFilter store.AttendanceFilter
	rows       map[string]store.Attendance
}

func (f *fakeStore) ListAttendances(_ context.Context, filter store.AttendanceFilter) ([]store.Attendance, error) {
	f.lastFilter = filter
	var out []store.Attendance
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) UpdateAttendance(_ context.Context, id string, patch store.AttendancePatch) (store.Attendance, error) {
	row, ok := f.rows[id]
	if !ok {
		return store.Attendance{}, apperr.ErrNotFound
	}
	if patch.Status != nil {
		row.Status = *patch.Status
	}
	if patch.MessageCount != nil {
		row.MessageCount = *patch.MessageCount
	}
	row.UpdatedAt = row.UpdatedAt.Add(time.Minute)
	f.rows[id] = row
	return row, nil
}

func TestListParsesFilter(t *testing.T) {
	st := &fakeStore{rows: map[string]store.Attendance{
		"a1": {ID: "a1", Name: "Carla", Date: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), Status: store.AttendancePending},
	}}
	svc := NewService(st, nil)

	items, err := svc.List(context.Background(), Filter{Query: " carla ", Status: "No_Response", Date: "2026-04-02"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if st.lastFilter.Query != "carla" || st.lastFilter.Status != store.AttendanceNoResponse || st.lastFilter.Date == nil {
		t.Fatalf("unexpected filter: %+v", st.lastFilter)
	}
	if len(items) != 1 || items[0].Date != "2026-04-02" {
		t.Fatalf("unexpected items: %+v", items)
	}

	for _, f := range []Filter{{Status: "lost"}, {Date: "02/04/2026"}} {
		if _, err := svc.List(context.Background(), f); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("%+v: expected validation error, got %v", f, err)
		}
	}
}

func TestUpdateReturnsSuccessFlag(t *testing.T) {
	st := &fakeStore{rows: map[string]store.Attendance{"a1": {ID: "a1", Status: store.AttendancePending}}}
	svc := NewService(st, nil)

	approved := "approved"
	got, ok := svc.Update(context.Background(), "a1", Patch{Status: &approved})
	if !ok || got.Status != "approved" {
		t.Fatalf("update: %+v %v", got, ok)
	}

	bad := "maybe"
	if _, ok := svc.Update(context.Background(), "a1", Patch{Status: &bad}); ok {
		t.Fatal("expected invalid status to fail")
	}
	negative := -1
	if _, ok := svc.Update(context.Background(), "a1", Patch{MessageCount: &negative}); ok {
		t.Fatal("expected negative count to fail")
	}
	if _, ok := svc.Update(context.Background(), "missing", Patch{Status: &approved}); ok {
		t.Fatal("expected missing record to fail")
	}
}
