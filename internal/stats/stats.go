// Package stats reports the dashboard's pipeline counters.
package stats

import (
	"context"

	"triage/api/internal/store"
)

type Store interface {
	Stats(ctx context.Context) (store.Stats, error)
}

type Service struct {
	store Store
}

func NewService(st Store) *Service {
	return &Service{store: st}
}

// Get returns conversation totals by status plus the attendance count.
func (s *Service) Get(ctx context.Context) (store.Stats, error) {
	return s.store.Stats(ctx)
}
