package syscheck

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDB struct {
	broken map[string]bool
	down   bool
}

func (f fakeDB) Ping(context.Context) error {
	if f.down {
		return errors.New("connection refused")
	}
	return nil
}

func (f fakeDB) ProbeTable(_ context.Context, table string) error {
	if f.down || f.broken[table] {
		return errors.New("relation does not exist")
	}
	return nil
}

func TestCheckReportsFailuresSorted(t *testing.T) {
	c := NewChecker(time.Second)
	c.AddDatabase(fakeDB{broken: map[string]bool{"users": true, "attendances": true}}, []string{"conversations", "messages", "attendances", "users"})
	c.Add("redis", func(context.Context) error { return nil })

	report := c.Check(context.Background())
	if report.Healthy {
		t.Fatal("expected unhealthy report")
	}
	if len(report.Failures) != 2 || report.Failures[0] != "attendances" || report.Failures[1] != "users" {
		t.Fatalf("unexpected failures %v", report.Failures)
	}
	if !report.Components["database"].OK || !report.Components["redis"].OK {
		t.Fatalf("unexpected components %+v", report.Components)
	}
	if report.Components["users"].Error == "" {
		t.Fatal("expected error text for failing probe")
	}
	if report.CheckedAt.IsZero() {
		t.Fatal("expected checkedAt")
	}
}

func TestCheckBoundsSlowProbes(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Add("search", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	started := time.Now()
	report := c.Check(context.Background())
	if report.Components["search"].OK {
		t.Fatal("expected timeout failure")
	}
	if time.Since(started) > time.Second {
		t.Fatal("probe was not bounded by the timeout")
	}
}

func TestHealthyReport(t *testing.T) {
	c := NewChecker(0)
	c.AddDatabase(fakeDB{}, []string{"conversations"})
	report := c.Check(context.Background())
	if !report.Healthy || len(report.Failures) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}
