package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// Websocket auth
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Cluster watch
	KubeconfigPath string `envconfig:"KUBECONFIG_PATH"`

	// Projects registry
	ProjectsFile string `envconfig:"PROJECTS_FILE" default:"projects.yaml"`

	// Ticket source (optional — dashboard starts without tickets)
	GitHubOwner        string        `envconfig:"GITHUB_OWNER"`
	GitHubRepo         string        `envconfig:"GITHUB_REPO"`
	GitHubToken        string        `envconfig:"GITHUB_TOKEN"`
	TicketPollInterval time.Duration `envconfig:"TICKET_POLL_INTERVAL" default:"1m"`
	TicketDBPath       string        `envconfig:"TICKET_DB_PATH" default:"tickets.db"`

	// Suppressed ticket labels, comma-separated (hideTicketLabels filter)
	SuppressedTicketLabels string `envconfig:"SUPPRESSED_TICKET_LABELS"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"SLACK_CHANNEL" default:"#fleet-alerts"`

	// Ops API
	OpsListenAddr  string `envconfig:"OPS_LISTEN_ADDR" default:":8090"`
	OpsAPIKey      string `envconfig:"OPS_API_KEY"`
	OpsCORSOrigins string `envconfig:"OPS_CORS_ORIGINS"`
}

// TicketsEnabled returns true if a GitHub repository is configured.
func (c *Config) TicketsEnabled() bool {
	return c.GitHubOwner != "" && c.GitHubRepo != ""
}

// SlackEnabled returns true if a Slack bot token is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != ""
}

// SuppressedLabelList returns the parsed suppression label list.
func (c *Config) SuppressedLabelList() []string {
	if c.SuppressedTicketLabels == "" {
		return nil
	}
	parts := strings.Split(c.SuppressedTicketLabels, ",")
	labels := make([]string, 0, len(parts))
	for _, l := range parts {
		l = strings.TrimSpace(l)
		if l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
