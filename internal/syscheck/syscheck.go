// Package syscheck probes the service's backing systems for the status screen.
package syscheck

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Probe returns nil when its component is healthy.
type Probe func(ctx context.Context) error

type Component struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type Report struct {
	Components map[string]Component `json:"components"`
	Failures   []string             `json:"failures"`
	Healthy    bool                 `json:"healthy"`
	CheckedAt  time.Time            `json:"checkedAt"`
}

// TableProber is satisfied by the relational store.
type TableProber interface {
	Ping(ctx context.Context) error
	ProbeTable(ctx context.Context, table string) error
}

type Checker struct {
	mu      sync.Mutex
	probes  map[string]Probe
	timeout time.Duration
	now     func() time.Time
}

func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{probes: map[string]Probe{}, timeout: timeout, now: time.Now}
}

func (c *Checker) Add(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// AddDatabase registers a "database" probe plus one probe per table.
func (c *Checker) AddDatabase(db TableProber, tables []string) {
	c.Add("database", db.Ping)
	for _, table := range tables {
		table := table
		c.Add(table, func(ctx context.Context) error { return db.ProbeTable(ctx, table) })
	}
}

// Check runs every probe concurrently, each under the checker's timeout.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.Unlock()

	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results = make(map[string]Component, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			comp := Component{OK: true}
			if err := probe(pctx); err != nil {
				comp = Component{OK: false, Error: err.Error()}
			}
			resMu.Lock()
			results[name] = comp
			resMu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	failures := []string{}
	for name, comp := range results {
		if !comp.OK {
			failures = append(failures, name)
		}
	}
	sort.Strings(failures)
	return Report{
		Components: results,
		Failures:   failures,
		Healthy:    len(failures) == 0,
		CheckedAt:  c.now().UTC(),
	}
}
