// Package config loads condrulesd's daemon configuration from a UCI-style
// file (the same "config <section> '<name>'" / "option <key> '<value>'"
// format OpenWRT systems use, as the teacher's pkg/uci does), falling back
// to built-in defaults for anything the file omits or for a missing file
// entirely.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is condrulesd's full daemon configuration.
type Config struct {
	// Main
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file"`
	PIDFile    string `json:"pid_file"`
	ConfigFile string `json:"-"`

	MetricsListener bool `json:"metrics_listener"`
	MetricsPort     int  `json:"metrics_port"`
	HealthListener  bool `json:"health_listener"`
	HealthPort      int  `json:"health_port"`

	// Persistence
	AuditDBPath    string `json:"audit_db_path"`
	RegistryDBPath string `json:"registry_db_path"`

	// MQTT event source
	MQTTEnabled  bool   `json:"mqtt_enabled"`
	MQTTBroker   string `json:"mqtt_broker"`
	MQTTClientID string `json:"mqtt_client_id"`
	MQTTTopics   []string `json:"mqtt_topics"`
	MQTTUsername string `json:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password"`

	// Websocket stream plugin
	StreamEnabled bool   `json:"stream_enabled"`
	StreamURL     string `json:"stream_url"`

	// Geofence utility plugin
	GeofenceEnabled bool   `json:"geofence_enabled"`
	GeofenceAPIKey  string `json:"geofence_api_key"`

	// Trend utility plugin
	TrendEnabled bool `json:"trend_enabled"`
	TrendWindow  int  `json:"trend_window_samples"`

	ShutdownGrace time.Duration `json:"-"`
}

const (
	// DefaultLogLevel is used when the file sets no log_level or sets an
	// unrecognized one.
	DefaultLogLevel = "info"
	// DefaultMetricsPort is the Prometheus listener's default port.
	DefaultMetricsPort = 9090
	// DefaultHealthPort is the health-check listener's default port.
	DefaultHealthPort = 8080
	// DefaultTrendWindow is the default sample window for the regression
	// trend utility.
	DefaultTrendWindow = 20
)

// Load reads the UCI-style file at path, applying it on top of defaults. A
// missing file is not an error: defaults are returned as-is, the same
// behavior the teacher's loadConfigFromFile falls back to.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	cfg.ConfigFile = path

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if err := cfg.parseUCI(path); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:        DefaultLogLevel,
		PIDFile:         "/var/run/condrulesd.pid",
		MetricsListener: true,
		MetricsPort:     DefaultMetricsPort,
		HealthListener:  true,
		HealthPort:      DefaultHealthPort,
		AuditDBPath:     "/var/lib/condrulesd/audit.db",
		RegistryDBPath:  "/var/lib/condrulesd/registry.db",
		MQTTClientID:    "condrulesd",
		TrendWindow:     DefaultTrendWindow,
		ShutdownGrace:   10 * time.Second,
	}
}

func (c *Config) validate() error {
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d", c.MetricsPort)
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("invalid health_port: %d", c.HealthPort)
	}
	if c.MQTTEnabled && c.MQTTBroker == "" {
		return fmt.Errorf("mqtt_enabled requires mqtt_broker")
	}
	if c.StreamEnabled && c.StreamURL == "" {
		return fmt.Errorf("stream_enabled requires stream_url")
	}
	if c.TrendWindow <= 1 {
		return fmt.Errorf("invalid trend_window_samples: %d", c.TrendWindow)
	}
	return nil
}

// parseUCI implements a small UCI-file parser: "config <type> '<name>'"
// opens a section, "option <key> '<value>'" sets a field within it,
// "list <key> '<value>'" appends to a string-slice field.
func (c *Config) parseUCI(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var sectionType string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "config "):
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				sectionType = parts[1]
			}
		case strings.HasPrefix(line, "option "):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				c.applyOption(sectionType, parts[1], unquote(strings.Join(parts[2:], " ")))
			}
		case strings.HasPrefix(line, "list "):
			parts := strings.Fields(line)
			if len(parts) >= 3 {
				c.applyList(sectionType, parts[1], unquote(strings.Join(parts[2:], " ")))
			}
		}
	}
	return nil
}

func unquote(v string) string {
	v = strings.TrimSpace(v)
	return strings.Trim(v, "'\"")
}

func (c *Config) applyOption(section, key, value string) {
	switch section {
	case "main":
		c.applyMainOption(key, value)
	case "audit":
		switch key {
		case "db_path":
			c.AuditDBPath = value
		}
	case "registry":
		switch key {
		case "db_path":
			c.RegistryDBPath = value
		}
	case "mqtt":
		c.applyMQTTOption(key, value)
	case "stream":
		switch key {
		case "enable":
			c.StreamEnabled = value == "1"
		case "url":
			c.StreamURL = value
		}
	case "geofence":
		switch key {
		case "enable":
			c.GeofenceEnabled = value == "1"
		case "api_key":
			c.GeofenceAPIKey = value
		}
	case "trend":
		switch key {
		case "enable":
			c.TrendEnabled = value == "1"
		case "window_samples":
			if v, err := strconv.Atoi(value); err == nil && v > 1 {
				c.TrendWindow = v
			}
		}
	}
}

func (c *Config) applyMainOption(key, value string) {
	switch key {
	case "log_level":
		c.LogLevel = value
	case "log_file":
		c.LogFile = value
	case "pid_file":
		c.PIDFile = value
	case "metrics_listener":
		c.MetricsListener = value == "1"
	case "metrics_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.MetricsPort = v
		}
	case "health_listener":
		c.HealthListener = value == "1"
	case "health_port":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			c.HealthPort = v
		}
	case "shutdown_grace_s":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			c.ShutdownGrace = time.Duration(v) * time.Second
		}
	}
}

func (c *Config) applyMQTTOption(key, value string) {
	switch key {
	case "enable":
		c.MQTTEnabled = value == "1"
	case "broker":
		c.MQTTBroker = value
	case "client_id":
		c.MQTTClientID = value
	case "username":
		c.MQTTUsername = value
	case "password":
		c.MQTTPassword = value
	}
}

func (c *Config) applyList(section, key, value string) {
	if section == "mqtt" && key == "topic" {
		c.MQTTTopics = append(c.MQTTTopics, value)
	}
}
