package config

// IntegrationConfig controls the integration phase's compose/traefik
// rendering and health-poll behavior.
type IntegrationConfig struct {
	TraefikImage      string `yaml:"traefik_image"`
	ComposeTimeout    string `yaml:"compose_timeout"`
	HealthPollTimeout string `yaml:"health_poll_timeout"`
	HealthPollInterval string `yaml:"health_poll_interval"`
}
