package integration

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// TraefikLabels generates the Docker labels that route PathPrefix traffic
// to a service through Traefik v3, using backtick rule syntax as Traefik
// v3 requires. Ported from TraefikConfigGenerator.generate_labels.
func TraefikLabels(serviceID string, port int) map[string]string {
	pathPrefix := "/" + serviceID
	router := strings.ReplaceAll(serviceID, "-", "_")

	return map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", router):                      fmt.Sprintf("PathPrefix(`%s`)", pathPrefix),
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", router):               "web",
		fmt.Sprintf("traefik.http.routers.%s.middlewares", router):               router + "-strip",
		fmt.Sprintf("traefik.http.middlewares.%s-strip.stripprefix.prefixes", router): pathPrefix,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", router):  fmt.Sprintf("%d", port),
	}
}

// TraefikStaticConfig renders traefik.yml's static configuration: the
// Docker provider watching the socket, dashboard disabled, ping enabled.
func TraefikStaticConfig() (string, error) {
	doc := map[string]interface{}{
		"api": map[string]interface{}{"dashboard": false, "insecure": false},
		"entryPoints": map[string]interface{}{
			"web": map[string]interface{}{"address": ":80"},
		},
		"providers": map[string]interface{}{
			"docker": map[string]interface{}{
				"endpoint":         "unix:///var/run/docker.sock",
				"exposedByDefault": false,
				"watch":            true,
			},
		},
		"ping": map[string]interface{}{},
		"log":  map[string]interface{}{"level": "WARN"},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
