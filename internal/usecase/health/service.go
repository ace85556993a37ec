package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates an embedding provider is failing; other tools still work.
	Degraded Status = "degraded"
	// Unhealthy indicates the search backend is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

const searchCheck = "search"

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	search     SearchPinger
	embedders  map[string]EmbeddingChecker
	perCheckTO time.Duration
}

// New creates a Service. embedders is keyed by embedder name and may be empty.
func New(search SearchPinger, embedders map[string]EmbeddingChecker) *Service {
	return &Service{search: search, embedders: embedders, perCheckTO: 5 * time.Second}
}

// Check runs all component checks concurrently.
func (s *Service) Check(ctx context.Context) Report {
	var mu sync.Mutex
	checks := make(map[string]CheckResult, len(s.embedders)+1)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			checks[name] = CheckError
		} else {
			checks[name] = CheckOK
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cctx, cancel := context.WithTimeout(gctx, s.perCheckTO)
		defer cancel()
		record(searchCheck, s.search.Ping(cctx))
		return nil
	})
	for _, name := range s.names() {
		checker := s.embedders[name]
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.perCheckTO)
			defer cancel()
			record("embedding:"+name, checker.HealthCheck(cctx))
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	for name, v := range checks {
		if v != CheckError {
			continue
		}
		if name == searchCheck {
			status = Unhealthy
			break
		}
		status = Degraded
	}

	return Report{Status: status, Checks: checks}
}

func (s *Service) names() []string {
	names := make([]string, 0, len(s.embedders))
	for n := range s.embedders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
