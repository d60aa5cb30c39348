package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Limits for runtime-adjustable settings. Admin config updates and file
// loads are validated against the same bounds.
const (
	MinPoolSize        = 1
	MaxPoolSize        = 20
	MinSessionDuration = 60
	MaxSessionDuration = 1800
)

type Container struct {
	Image       string  `yaml:"image"`
	StreamPort  int     `yaml:"stream_port"`  // port the streaming endpoint listens on inside the container
	ShmSizeMB   int     `yaml:"shm_size_mb"`  // browsers need a large /dev/shm
	MemLimitMB  int     `yaml:"mem_limit_mb"`
	CPULimit    float64 `yaml:"cpu_limit"`
	GPUDevice   string  `yaml:"gpu_device"`   // device node for hardware encoding, empty disables
	PolicyDir   string  `yaml:"policy_dir"`   // read-only browser policy mount
	ScriptsDir  string  `yaml:"scripts_dir"`  // read-only launch scripts mount
	AssetsDir   string  `yaml:"assets_dir"`   // read-only static assets mount
	NetworkName string  `yaml:"network_name"`
}

type Config struct {
	Listen          string    `yaml:"listen"`
	PoolSize        int       `yaml:"pool_size"`
	PortRangeStart  int       `yaml:"port_range_start"`
	PortRangeEnd    int       `yaml:"port_range_end"`
	SessionDuration int       `yaml:"session_duration"` // seconds
	RateLimitPerDay int       `yaml:"rate_limit_per_day"`
	FrontendURL     string    `yaml:"frontend_url"`
	AdminUser       string    `yaml:"admin_user"`
	AdminPassword   string    `yaml:"admin_password"`
	DataDir         string    `yaml:"data_dir"`
	LogLevel        string    `yaml:"log_level"`
	Container       Container `yaml:"container"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:          "127.0.0.1:3001",
		PoolSize:        3,
		PortRangeStart:  4000,
		PortRangeEnd:    4100,
		SessionDuration: 300,
		RateLimitPerDay: 10,
		AdminUser:       "admin",
		DataDir:         "./data",
		LogLevel:        "info",
		Container: Container{
			Image:       "kiosk-browser:latest",
			StreamPort:  8080,
			ShmSizeMB:   1024,
			MemLimitMB:  2048,
			CPULimit:    2.0,
			GPUDevice:   "/dev/dri/renderD128",
			NetworkName: "schaufenster-net",
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.PoolSize < MinPoolSize || c.PoolSize > MaxPoolSize {
		return fmt.Errorf("pool_size must be in [%d,%d], got %d", MinPoolSize, MaxPoolSize, c.PoolSize)
	}
	if c.SessionDuration < MinSessionDuration || c.SessionDuration > MaxSessionDuration {
		return fmt.Errorf("session_duration must be in [%d,%d], got %d", MinSessionDuration, MaxSessionDuration, c.SessionDuration)
	}
	if c.PortRangeStart <= 0 || c.PortRangeEnd < c.PortRangeStart {
		return fmt.Errorf("invalid port range [%d,%d]", c.PortRangeStart, c.PortRangeEnd)
	}
	if c.PortRangeEnd-c.PortRangeStart+1 < c.PoolSize {
		return fmt.Errorf("port range [%d,%d] smaller than pool size %d", c.PortRangeStart, c.PortRangeEnd, c.PoolSize)
	}
	if c.RateLimitPerDay <= 0 {
		return fmt.Errorf("rate_limit_per_day must be positive, got %d", c.RateLimitPerDay)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("PORT_RANGE_START"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRangeStart = n
		}
	}
	if v := os.Getenv("PORT_RANGE_END"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortRangeEnd = n
		}
	}
	if v := os.Getenv("CONTAINER_IMAGE"); v != "" {
		cfg.Container.Image = v
	}
	if v := os.Getenv("SESSION_DURATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionDuration = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerDay = n
		}
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURL = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		cfg.AdminUser = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
