// Package health runs dependency probes and serves their aggregate status on
// the admin mux. A critical check failing marks the service unhealthy; a
// non-critical one only degrades it.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Status is the outcome of one check or the aggregate.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one probe outcome.
type CheckResult struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Critical  bool          `json:"critical"`
}

// Checker probes one dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
}

// Manager runs registered checks on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// NewManager creates a health manager with a per-check timeout.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{timeout: 3 * time.Second, logger: logger}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// Report runs all checks and aggregates their status.
func (m *Manager) Report(ctx context.Context) (Status, []CheckResult) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	overall := StatusHealthy
	results := make([]CheckResult, 0, len(checkers))
	for _, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		err := c.Check(cctx)
		cancel()

		res := CheckResult{
			Component: c.Name(),
			Status:    StatusHealthy,
			Duration:  time.Since(start),
			Critical:  c.Critical(),
		}
		if err != nil {
			res.Error = err.Error()
			if c.Critical() {
				res.Status = StatusUnhealthy
				overall = StatusUnhealthy
			} else {
				res.Status = StatusDegraded
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
			m.logger.Warn("health check failed",
				zap.String("component", c.Name()),
				zap.Bool("critical", c.Critical()),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Component < results[j].Component })
	return overall, results
}

// Handler serves GET /healthz. Unhealthy reports 503, everything else 200.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overall, results := m.Report(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if overall == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}

// RedisChecker probes the transcript store connection. Redis is optional, so
// the check is non-critical.
type RedisChecker struct {
	Client *redis.Client
}

func (c RedisChecker) Name() string   { return "redis" }
func (c RedisChecker) Critical() bool { return false }

func (c RedisChecker) Check(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

// RoleServiceChecker probes the agent service backing the three roles.
type RoleServiceChecker struct {
	BaseURL string
	Client  *http.Client
}

func (c RoleServiceChecker) Name() string   { return "role_service" }
func (c RoleServiceChecker) Critical() bool { return true }

func (c RoleServiceChecker) Check(ctx context.Context) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("role service returned status %d", resp.StatusCode)
	}
	return nil
}
