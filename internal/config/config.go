package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	// Upstream conferencing backend.
	APIBaseURL string `mapstructure:"api_base_url"`
	BusHost    string `mapstructure:"bus_host"`

	// Event bus liveness.
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// Bridge reconnect policy.
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectBackoffBase time.Duration `mapstructure:"reconnect_backoff_base"`
	ReconnectBackoffCap  time.Duration `mapstructure:"reconnect_backoff_cap"`

	// Join/subscribe coordination.
	BusIDPollTimeout  time.Duration `mapstructure:"bus_id_poll_timeout"`
	BusIDPollInterval time.Duration `mapstructure:"bus_id_poll_interval"`
	ConnectionWait    time.Duration `mapstructure:"connection_wait"`
	SubscribeSettle   time.Duration `mapstructure:"subscribe_settle"`
	SubscribeAttempts int           `mapstructure:"subscribe_attempts"`

	// Media negotiation.
	ICEGatherTimeout time.Duration `mapstructure:"ice_gather_timeout"`
	STUNServers      []string      `mapstructure:"stun_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("api_base_url", "https://ivcs.example.com/api/rest")
	v.SetDefault("bus_host", "ivcs.example.com")
	v.SetDefault("ping_period", "25s")
	v.SetDefault("connect_timeout", "10s")
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("reconnect_backoff_base", "1s")
	v.SetDefault("reconnect_backoff_cap", "5s")
	v.SetDefault("bus_id_poll_timeout", "5s")
	v.SetDefault("bus_id_poll_interval", "100ms")
	v.SetDefault("connection_wait", "15s")
	v.SetDefault("subscribe_settle", "1s")
	v.SetDefault("subscribe_attempts", 5)
	v.SetDefault("ice_gather_timeout", "3s")
	v.SetDefault("stun_servers", []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
	})

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Upstream: %s\n", cfg.Mode, cfg.Port, cfg.APIBaseURL)
	return &cfg, nil
}
