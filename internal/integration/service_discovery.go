package integration

import (
	"context"
	"net/http"
	"time"

	"forge/internal/config"
	"forge/internal/logging"
)

const (
	defaultHealthPollTimeout  = 120 * time.Second
	defaultHealthPollInterval = 3 * time.Second
)

// ServiceDiscovery health-checks compose services over HTTP. Grounded on
// service_discovery.py's ServiceDiscovery, using stdlib net/http directly
// the way other HTTP clients in this codebase do rather than pulling in a
// third-party HTTP client nothing else here needs.
type ServiceDiscovery struct {
	client       *http.Client
	pollTimeout  time.Duration
	pollInterval time.Duration
}

// NewServiceDiscovery builds a ServiceDiscovery from IntegrationConfig,
// defaulting to a 120s overall timeout and a 3s poll interval.
func NewServiceDiscovery(cfg config.IntegrationConfig) *ServiceDiscovery {
	pollTimeout := defaultHealthPollTimeout
	if cfg.HealthPollTimeout != "" {
		if d, err := time.ParseDuration(cfg.HealthPollTimeout); err == nil {
			pollTimeout = d
		}
	}
	pollInterval := defaultHealthPollInterval
	if cfg.HealthPollInterval != "" {
		if d, err := time.ParseDuration(cfg.HealthPollInterval); err == nil {
			pollInterval = d
		}
	}
	return &ServiceDiscovery{
		client:       &http.Client{Timeout: 30 * time.Second},
		pollTimeout:  pollTimeout,
		pollInterval: pollInterval,
	}
}

// CheckHealth performs one GET against url, returning true for any
// response under 400.
func (d *ServiceDiscovery) CheckHealth(ctx context.Context, serviceName, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		logging.Get(logging.CategoryIntegration).Warn("health check request build failed for %s: %v", serviceName, err)
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		logging.Get(logging.CategoryIntegration).Warn("health check failed for %s at %s: %v", serviceName, url, err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode < 400
	if !healthy {
		logging.Get(logging.CategoryIntegration).Warn("service %s unhealthy: status %d from %s", serviceName, resp.StatusCode, url)
	}
	return healthy
}

// WaitAllHealthy polls every service's URL until all report healthy or
// the configured poll timeout elapses, returning the final per-service
// status map alongside the overall verdict.
func (d *ServiceDiscovery) WaitAllHealthy(ctx context.Context, services map[string]string) (bool, map[string]bool) {
	deadline := time.Now().Add(d.pollTimeout)
	statuses := make(map[string]bool, len(services))

	for time.Now().Before(deadline) {
		allOK := true
		for name, url := range services {
			healthy := d.CheckHealth(ctx, name, url)
			statuses[name] = healthy
			if !healthy {
				allOK = false
			}
		}
		if allOK && len(statuses) > 0 {
			return true, statuses
		}

		select {
		case <-ctx.Done():
			return false, statuses
		case <-time.After(d.pollInterval):
		}
	}
	return false, statuses
}
