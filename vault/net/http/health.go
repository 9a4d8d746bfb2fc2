package http

import (
	"context"
	"sync"
	"time"

	"github.com/LerianStudio/shared-vault/vault/errgroup"
	"github.com/gofiber/fiber/v2"
)

const (
	statusAvailable = "available"
	statusDegraded  = "degraded"

	healthCheckTimeout = 2 * time.Second
)

// DependencyCheck reports the health of one dependency.
type DependencyCheck struct {
	Name string
	// Check returns nil when the dependency is usable.
	Check func(ctx context.Context) error
	// State optionally describes the dependency, such as a breaker state.
	State func() string
}

// DependencyStatus is the reported health of one dependency.
type DependencyStatus struct {
	Healthy bool   `json:"healthy"`
	State   string `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (dep DependencyCheck) run(ctx context.Context) DependencyStatus {
	result := DependencyStatus{Healthy: true}

	if dep.State != nil {
		result.State = dep.State()
	}

	if dep.Check != nil {
		if err := dep.Check(ctx); err != nil {
			result.Healthy = false
			result.Error = err.Error()
		}
	}

	return result
}

// Health runs every check concurrently and reports 200 when all are
// healthy, 503 otherwise. A check that panics counts as unhealthy.
func Health(checks ...DependencyCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), healthCheckTimeout)
		defer cancel()

		var mu sync.Mutex

		deps := make(map[string]DependencyStatus, len(checks))
		group := &errgroup.Group{}

		for _, dep := range checks {
			group.Go(func() error {
				result := dep.run(ctx)

				mu.Lock()
				deps[dep.Name] = result
				mu.Unlock()

				return nil
			})
		}

		_ = group.Wait()

		overall, status := statusAvailable, fiber.StatusOK

		for _, dep := range checks {
			if _, ok := deps[dep.Name]; !ok {
				deps[dep.Name] = DependencyStatus{Error: "check panicked"}
			}

			if !deps[dep.Name].Healthy {
				overall, status = statusDegraded, fiber.StatusServiceUnavailable
			}
		}

		return JSONResponse(c, status, fiber.Map{
			"status":       overall,
			"dependencies": deps,
		})
	}
}

// Version returns the service version.
func Version(version string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return OK(c, fiber.Map{
			"version":     version,
			"requestDate": time.Now().UTC(),
		})
	}
}
