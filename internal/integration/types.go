// Package integration renders Docker Compose + Traefik configuration for
// the services a pipeline run produces, drives their lifecycle through
// `docker compose`, and polls their health endpoints. It stays
// intentionally thin — string templates and map-to-YAML marshaling, not a
// general compose DOM — since the phase executor only needs something
// concrete to call once builders finish, not a full orchestration engine.
// Grounded on integrator/compose_generator.py, integrator/traefik_config.py,
// integrator/docker_orchestrator.py and integrator/service_discovery.py.
package integration

// ServiceInfo is one service the integration phase wires into compose,
// mirroring build3_shared.models.ServiceInfo's fields used by the
// generator and discovery code.
type ServiceInfo struct {
	ServiceID      string
	Domain         string
	Port           int
	HealthEndpoint string
}

func (s ServiceInfo) port() int {
	if s.Port == 0 {
		return 8080
	}
	return s.Port
}

func (s ServiceInfo) healthEndpoint() string {
	if s.HealthEndpoint == "" {
		return "/health"
	}
	return s.HealthEndpoint
}
