package integration

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"forge/internal/config"
)

// ComposeGenerator renders docker-compose.yml content: Traefik, Postgres,
// Redis plus one app service entry per ServiceInfo. Network segmentation
// mirrors the original generator exactly — Traefik and app services sit
// on "frontend", Postgres/Redis/app services sit on "backend", so the
// reverse proxy never reaches the data tier directly.
type ComposeGenerator struct {
	traefikImage  string
	postgresImage string
	redisImage    string
	projectName   string
}

// NewComposeGenerator builds a generator from IntegrationConfig, defaulting
// an empty project name to "forge-run".
func NewComposeGenerator(cfg config.IntegrationConfig, projectName string) *ComposeGenerator {
	traefikImage := cfg.TraefikImage
	if traefikImage == "" {
		traefikImage = "traefik:v3.0"
	}
	if projectName == "" {
		projectName = "forge-run"
	}
	return &ComposeGenerator{
		traefikImage:  traefikImage,
		postgresImage: "postgres:16-alpine",
		redisImage:    "redis:7-alpine",
		projectName:   projectName,
	}
}

// Generate renders a full docker-compose.yml as a YAML string for the
// given services, with Traefik, Postgres and Redis always present.
func (g *ComposeGenerator) Generate(services []ServiceInfo) (string, error) {
	compose := map[string]interface{}{
		"version": "3.8",
		"services": map[string]interface{}{
			"traefik":  g.traefikService(),
			"postgres": g.postgresService(),
			"redis":    g.redisService(),
		},
		"networks": map[string]interface{}{
			"frontend": map[string]interface{}{"driver": "bridge"},
			"backend":  map[string]interface{}{"driver": "bridge"},
		},
		"volumes": map[string]interface{}{
			"postgres-data": nil,
		},
	}
	svcMap := compose["services"].(map[string]interface{})
	for _, svc := range services {
		svcMap[svc.ServiceID] = g.appService(svc)
	}

	data, err := yaml.Marshal(compose)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteCompose renders and writes docker-compose.yml under outputDir,
// returning its path.
func (g *ComposeGenerator) WriteCompose(outputDir string, services []ServiceInfo) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	content, err := g.Generate(services)
	if err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, "docker-compose.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (g *ComposeGenerator) traefikService() map[string]interface{} {
	return map[string]interface{}{
		"image":         g.traefikImage,
		"container_name": g.projectName + "-traefik",
		"ports":         []string{"80:80"},
		"volumes":       []string{"/var/run/docker.sock:/var/run/docker.sock:ro"},
		"command": []string{
			"--api.dashboard=false",
			"--providers.docker=true",
			"--providers.docker.exposedbydefault=false",
			"--entrypoints.web.address=:80",
			"--ping=true",
		},
		"networks": []string{"frontend"},
		"mem_limit": "256m",
		"healthcheck": map[string]interface{}{
			"test":     []string{"CMD", "traefik", "healthcheck", "--ping"},
			"interval": "10s",
			"timeout":  "5s",
			"retries":  3,
		},
	}
}

func (g *ComposeGenerator) postgresService() map[string]interface{} {
	return map[string]interface{}{
		"image":         g.postgresImage,
		"container_name": g.projectName + "-postgres",
		"environment": map[string]string{
			"POSTGRES_USER":     "${POSTGRES_USER:-app}",
			"POSTGRES_PASSWORD": "${POSTGRES_PASSWORD:-changeme}",
			"POSTGRES_DB":       "${POSTGRES_DB:-app}",
		},
		"volumes":   []string{"postgres-data:/var/lib/postgresql/data"},
		"networks":  []string{"backend"},
		"mem_limit": "512m",
		"healthcheck": map[string]interface{}{
			"test":     []string{"CMD-SHELL", "pg_isready -U app"},
			"interval": "10s",
			"timeout":  "5s",
			"retries":  5,
		},
	}
}

func (g *ComposeGenerator) redisService() map[string]interface{} {
	return map[string]interface{}{
		"image":         g.redisImage,
		"container_name": g.projectName + "-redis",
		"networks":      []string{"backend"},
		"mem_limit":     "256m",
		"healthcheck": map[string]interface{}{
			"test":     []string{"CMD", "redis-cli", "ping"},
			"interval": "10s",
			"timeout":  "5s",
			"retries":  3,
		},
	}
}

// appService places a generated service on both networks so it can
// receive Traefik traffic and reach Postgres/Redis.
func (g *ComposeGenerator) appService(svc ServiceInfo) map[string]interface{} {
	return map[string]interface{}{
		"build": map[string]interface{}{
			"context":    "./" + svc.ServiceID,
			"dockerfile": "Dockerfile",
		},
		"container_name": g.projectName + "-" + svc.ServiceID,
		"labels":         TraefikLabels(svc.ServiceID, svc.port()),
		"networks":       []string{"frontend", "backend"},
		"depends_on": map[string]interface{}{
			"postgres": map[string]interface{}{"condition": "service_healthy"},
			"redis":    map[string]interface{}{"condition": "service_healthy"},
		},
		"healthcheck": map[string]interface{}{
			"test":         []string{"CMD-SHELL", "curl -f http://localhost:" + strconv.Itoa(svc.port()) + svc.healthEndpoint() + " || exit 1"},
			"interval":     "15s",
			"timeout":      "5s",
			"retries":      3,
			"start_period": "30s",
		},
		"environment": map[string]string{
			"SERVICE_ID": svc.ServiceID,
			"PORT":       strconv.Itoa(svc.port()),
		},
		"mem_limit": "768m",
	}
}
