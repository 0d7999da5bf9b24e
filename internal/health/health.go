// Package health reports whether the API's external dependencies answer.
package health

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"

	// DefaultTimeout bounds each individual check.
	DefaultTimeout = 3 * time.Second
)

// Pinger is anything that can report reachability: stores and generators both qualify.
type Pinger interface {
	Ping(ctx context.Context) error
}

type check struct {
	name string
	p    Pinger
}

// Checker runs a fixed set of named checks concurrently.
type Checker struct {
	Timeout time.Duration
	checks  []check
}

func NewChecker() *Checker {
	return &Checker{Timeout: DefaultTimeout}
}

// Add registers p under name. Names become keys of Report.Checks.
func (c *Checker) Add(name string, p Pinger) *Checker {
	c.checks = append(c.checks, check{name: name, p: p})
	return c
}

// Report maps every check to "ok" or its error message.
type Report struct {
	Status string
	Checks map[string]string
}

func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// Fields flattens the report for JSON output: {"status": ..., "<check>": ...}.
func (r Report) Fields() map[string]string {
	out := make(map[string]string, len(r.Checks)+1)
	for k, v := range r.Checks {
		out[k] = v
	}
	out["status"] = r.Status
	return out
}

// Run executes every check under its own timeout.
func (c *Checker) Run(ctx context.Context) Report {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	results := make([]string, len(c.checks))
	var wg sync.WaitGroup
	for i, ch := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := ch.p.Ping(cctx); err != nil {
				results[i] = err.Error()
				return
			}
			results[i] = "ok"
		}()
	}
	wg.Wait()

	rep := Report{Status: StatusHealthy, Checks: make(map[string]string, len(c.checks))}
	for i, ch := range c.checks {
		rep.Checks[ch.name] = results[i]
		if results[i] != "ok" {
			rep.Status = StatusUnhealthy
		}
	}
	return rep
}
