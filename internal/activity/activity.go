// Package activity serves the dashboard's recent-activity feed.
package activity

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"triage/api/internal/apperr"
	"triage/api/internal/store"
)

const (
	DefaultLimit = 10
	// MaxLimit caps how many records a single Recent call reads.
	MaxLimit = 100
)

type Store interface {
	RecentActivity(ctx context.Context, limit int) ([]store.Activity, error)
	InsertActivity(ctx context.Context, entry store.Activity) (store.Activity, error)
}

// Aggregator reads and appends activity records, keeping a capped newest-first
// view in its Feed.
type Aggregator struct {
	store  Store
	feed   Feed
	limit  int
	logger *zap.Logger
}

func NewAggregator(st Store, feed Feed, limit int, logger *zap.Logger) *Aggregator {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if feed == nil {
		feed = NewMemoryFeed()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: st, feed: feed, limit: limit, logger: logger}
}

func (a *Aggregator) Limit() int { return a.limit }

// Recent returns up to limit records, newest first. Zero or negative limit means the
// aggregator's default; anything above MaxLimit is clamped.
func (a *Aggregator) Recent(ctx context.Context, limit int) ([]store.Activity, error) {
	if limit <= 0 {
		limit = a.limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if limit <= a.limit {
		cached, warm, err := a.feed.Load(ctx)
		if err != nil {
			a.logger.Warn("load activity feed", zap.Error(err))
		} else if warm {
			return head(cached, limit), nil
		}
	}

	gen, genErr := a.feed.Generation(ctx)
	fetch := limit
	if fetch < a.limit {
		fetch = a.limit
	}
	items, err := a.store.RecentActivity(ctx, fetch)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		a.logger.Warn("read activity feed generation", zap.Error(genErr))
	} else if applied, err := a.feed.Replace(ctx, head(items, a.limit), gen); err != nil {
		a.logger.Warn("warm activity feed", zap.Error(err))
	} else if !applied {
		a.logger.Debug("activity recorded during warm-up, feed left cold")
	}
	return head(items, limit), nil
}

// Record stores entry and prepends it to the cached view, which stays capped at the limit.
func (a *Aggregator) Record(ctx context.Context, entry store.Activity) (store.Activity, error) {
	entry.Type = strings.TrimSpace(entry.Type)
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.Type == "" {
		return store.Activity{}, apperr.Invalid("type", "is required")
	}
	if entry.Title == "" {
		return store.Activity{}, apperr.Invalid("title", "is required")
	}

	saved, err := a.store.InsertActivity(ctx, entry)
	if err != nil {
		return store.Activity{}, fmt.Errorf("record activity: %w", err)
	}
	if err := a.feed.Push(ctx, saved, a.limit); err != nil {
		a.logger.Warn("push activity feed", zap.String("activity_id", saved.ID), zap.Error(err))
	}
	return saved, nil
}

func head(items []store.Activity, n int) []store.Activity {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
