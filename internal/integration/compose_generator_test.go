package integration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/config"
)

func TestTraefikLabelsUsesBacktickPathPrefix(t *testing.T) {
	labels := TraefikLabels("auth-service", 8081)
	assert.Equal(t, "true", labels["traefik.enable"])
	assert.Equal(t, "PathPrefix(`/auth-service`)", labels["traefik.http.routers.auth_service.rule"])
	assert.Equal(t, "8081", labels["traefik.http.services.auth_service.loadbalancer.server.port"])
}

func TestTraefikStaticConfigDisablesDashboard(t *testing.T) {
	out, err := TraefikStaticConfig()
	require.NoError(t, err)
	assert.Contains(t, out, "dashboard: false")
	assert.Contains(t, out, "exposedByDefault: false")
}

func TestComposeGeneratorIncludesInfraAndAppServices(t *testing.T) {
	gen := NewComposeGenerator(config.IntegrationConfig{}, "demo")
	yamlStr, err := gen.Generate([]ServiceInfo{
		{ServiceID: "auth-service", Port: 8081},
		{ServiceID: "billing-service"},
	})
	require.NoError(t, err)

	assert.Contains(t, yamlStr, "traefik:")
	assert.Contains(t, yamlStr, "postgres:")
	assert.Contains(t, yamlStr, "redis:")
	assert.Contains(t, yamlStr, "auth-service:")
	assert.Contains(t, yamlStr, "billing-service:")
	assert.Contains(t, yamlStr, "demo-traefik")
}

func TestComposeGeneratorDefaultsPortWhenUnset(t *testing.T) {
	gen := NewComposeGenerator(config.IntegrationConfig{}, "demo")
	yamlStr, err := gen.Generate([]ServiceInfo{{ServiceID: "billing-service"}})
	require.NoError(t, err)
	assert.Contains(t, yamlStr, "PORT:")
	assert.Contains(t, yamlStr, "8080")
}

func TestWriteComposeWritesFile(t *testing.T) {
	dir := t.TempDir()
	gen := NewComposeGenerator(config.IntegrationConfig{TraefikImage: "traefik:v3.0"}, "demo")
	path, err := gen.WriteCompose(dir, []ServiceInfo{{ServiceID: "auth-service", Port: 8081}})
	require.NoError(t, err)
	assert.FileExists(t, path)
}
