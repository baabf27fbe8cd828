package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broadcast modes for the cross-process event bus.
const (
	BroadcastNone     = "none"
	BroadcastEmbedded = "embedded"
	BroadcastExternal = "external"
)

// Config holds daemon configuration paths, upstream settings and timings.
type Config struct {
	ConfigPath         string
	DataDir            string
	RunDir             string
	SocketPath         string
	DBPath             string
	MetricsListen      string
	UpstreamURL        string
	UpstreamTimeout    time.Duration
	StreamEnabled      bool
	BufferSize         int
	ReplayTick         time.Duration
	HealthInterval     time.Duration
	PlayerPollInterval time.Duration
	ReconnectBase      time.Duration
	ReconnectMax       time.Duration
	ReconnectJitter    time.Duration
	HeartbeatInterval  time.Duration
	StaleAfter         time.Duration
	BroadcastMode      string
	BroadcastURL       string
	BroadcastHost      string
	BroadcastPort      int
	BroadcastSubject   string
	RemoteArchives     bool
	ExportRecipients   []string
	SeedFiles          []string
}

// FileConfig represents supported YAML config overrides.
//
// Durations are Go duration strings ("450ms", "10s"). Booleans are pointers
// so that an explicit false overrides a true default.
type FileConfig struct {
	DataDir            string   `yaml:"data_dir"`
	RunDir             string   `yaml:"run_dir"`
	SocketPath         string   `yaml:"socket_path"`
	DBPath             string   `yaml:"db_path"`
	MetricsListen      string   `yaml:"metrics_listen"`
	UpstreamURL        string   `yaml:"upstream_url"`
	UpstreamTimeout    string   `yaml:"upstream_timeout"`
	StreamEnabled      *bool    `yaml:"stream_enabled"`
	BufferSize         int      `yaml:"buffer_size"`
	ReplayTick         string   `yaml:"replay_tick"`
	HealthInterval     string   `yaml:"health_interval"`
	PlayerPollInterval string   `yaml:"player_poll_interval"`
	ReconnectBase      string   `yaml:"reconnect_base"`
	ReconnectMax       string   `yaml:"reconnect_max"`
	ReconnectJitter    string   `yaml:"reconnect_jitter"`
	HeartbeatInterval  string   `yaml:"heartbeat_interval"`
	StaleAfter         string   `yaml:"stale_after"`
	BroadcastMode      string   `yaml:"broadcast_mode"`
	BroadcastURL       string   `yaml:"broadcast_url"`
	BroadcastHost      string   `yaml:"broadcast_host"`
	BroadcastPort      int      `yaml:"broadcast_port"`
	BroadcastSubject   string   `yaml:"broadcast_subject"`
	RemoteArchives     *bool    `yaml:"remote_archives"`
	ExportRecipients   []string `yaml:"export_recipients"`
	SeedFiles          []string `yaml:"seed_files"`
}

func DefaultConfig() Config {
	dataDir := "/var/lib/vexdash"
	runDir := "/run/vexdash"
	return Config{
		ConfigPath:         "/etc/vexdash/config.yaml",
		DataDir:            dataDir,
		RunDir:             runDir,
		SocketPath:         filepath.Join(runDir, "vexdashd.sock"),
		DBPath:             filepath.Join(dataDir, "vexdash.db"),
		MetricsListen:      "",
		UpstreamURL:        "http://localhost:3390/api",
		UpstreamTimeout:    5 * time.Second,
		StreamEnabled:      true,
		BufferSize:         1200,
		ReplayTick:         450 * time.Millisecond,
		HealthInterval:     10 * time.Second,
		PlayerPollInterval: 5 * time.Second,
		ReconnectBase:      time.Second,
		ReconnectMax:       30 * time.Second,
		ReconnectJitter:    500 * time.Millisecond,
		HeartbeatInterval:  5 * time.Second,
		StaleAfter:         15 * time.Second,
		BroadcastMode:      BroadcastNone,
		BroadcastHost:      "127.0.0.1",
		BroadcastSubject:   "vexdash.bus",
	}
}

// Load reads the YAML config file and applies overrides to defaults.
//
// A missing file is only an error when path was given explicitly.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if explicit {
		cfg.ConfigPath = path
	}
	data, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("read config %s: %w", cfg.ConfigPath, err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	if err := applyFileConfig(&cfg, fileCfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", cfg.ConfigPath, err)
	}
	if fileCfg.DataDir != "" && fileCfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "vexdash.db")
	}
	if fileCfg.RunDir != "" && fileCfg.SocketPath == "" {
		cfg.SocketPath = filepath.Join(cfg.RunDir, "vexdashd.sock")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) error {
	if fileCfg.DataDir != "" {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.RunDir != "" {
		cfg.RunDir = fileCfg.RunDir
	}
	if fileCfg.SocketPath != "" {
		cfg.SocketPath = fileCfg.SocketPath
	}
	if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	}
	if fileCfg.MetricsListen != "" {
		cfg.MetricsListen = fileCfg.MetricsListen
	}
	if fileCfg.UpstreamURL != "" {
		cfg.UpstreamURL = fileCfg.UpstreamURL
	}
	if fileCfg.StreamEnabled != nil {
		cfg.StreamEnabled = *fileCfg.StreamEnabled
	}
	if fileCfg.BufferSize > 0 {
		cfg.BufferSize = fileCfg.BufferSize
	}
	if fileCfg.BroadcastMode != "" {
		cfg.BroadcastMode = strings.ToLower(strings.TrimSpace(fileCfg.BroadcastMode))
	}
	if fileCfg.BroadcastURL != "" {
		cfg.BroadcastURL = fileCfg.BroadcastURL
	}
	if fileCfg.BroadcastHost != "" {
		cfg.BroadcastHost = fileCfg.BroadcastHost
	}
	if fileCfg.BroadcastPort > 0 {
		cfg.BroadcastPort = fileCfg.BroadcastPort
	}
	if fileCfg.BroadcastSubject != "" {
		cfg.BroadcastSubject = fileCfg.BroadcastSubject
	}
	if fileCfg.RemoteArchives != nil {
		cfg.RemoteArchives = *fileCfg.RemoteArchives
	}
	if len(fileCfg.ExportRecipients) > 0 {
		cfg.ExportRecipients = append([]string(nil), fileCfg.ExportRecipients...)
	}
	if len(fileCfg.SeedFiles) > 0 {
		cfg.SeedFiles = append([]string(nil), fileCfg.SeedFiles...)
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"upstream_timeout", fileCfg.UpstreamTimeout, &cfg.UpstreamTimeout},
		{"replay_tick", fileCfg.ReplayTick, &cfg.ReplayTick},
		{"health_interval", fileCfg.HealthInterval, &cfg.HealthInterval},
		{"player_poll_interval", fileCfg.PlayerPollInterval, &cfg.PlayerPollInterval},
		{"reconnect_base", fileCfg.ReconnectBase, &cfg.ReconnectBase},
		{"reconnect_max", fileCfg.ReconnectMax, &cfg.ReconnectMax},
		{"reconnect_jitter", fileCfg.ReconnectJitter, &cfg.ReconnectJitter},
		{"heartbeat_interval", fileCfg.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"stale_after", fileCfg.StaleAfter, &cfg.StaleAfter},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

// Validate performs basic validation.
func (c Config) Validate() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config_path is required")
	}
	if c.RunDir == "" {
		return fmt.Errorf("run_dir is required")
	}
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive")
	}
	if strings.TrimSpace(c.UpstreamURL) != "" {
		u, err := url.Parse(c.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upstream_url must be an http(s) URL (got %q)", c.UpstreamURL)
		}
	} else if c.StreamEnabled {
		return fmt.Errorf("upstream_url is required when stream_enabled is true")
	}
	positive := []struct {
		key   string
		value time.Duration
	}{
		{"upstream_timeout", c.UpstreamTimeout},
		{"replay_tick", c.ReplayTick},
		{"health_interval", c.HealthInterval},
		{"player_poll_interval", c.PlayerPollInterval},
		{"reconnect_base", c.ReconnectBase},
		{"reconnect_max", c.ReconnectMax},
		{"heartbeat_interval", c.HeartbeatInterval},
		{"stale_after", c.StaleAfter},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive", p.key)
		}
	}
	if c.ReconnectJitter < 0 {
		return fmt.Errorf("reconnect_jitter must not be negative")
	}
	if c.ReconnectMax < c.ReconnectBase {
		return fmt.Errorf("reconnect_max must be at least reconnect_base")
	}
	if c.StaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("stale_after must exceed heartbeat_interval")
	}
	switch c.BroadcastMode {
	case BroadcastNone:
	case BroadcastEmbedded:
		if c.BroadcastPort < 0 || c.BroadcastPort > 65535 {
			return fmt.Errorf("broadcast_port must be 0-65535")
		}
		if !isLoopbackHost(c.BroadcastHost) {
			return fmt.Errorf("broadcast_host must be localhost-only (got %q)", c.BroadcastHost)
		}
	case BroadcastExternal:
		if strings.TrimSpace(c.BroadcastURL) == "" {
			return fmt.Errorf("broadcast_url is required when broadcast_mode is external")
		}
	default:
		return fmt.Errorf("broadcast_mode must be none, embedded or external (got %q)", c.BroadcastMode)
	}
	if strings.TrimSpace(c.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.MetricsListen)
		if err != nil {
			return fmt.Errorf("metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
