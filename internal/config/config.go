package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	APIBase        string        `mapstructure:"api_base"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ReactionTTL    time.Duration `mapstructure:"reaction_ttl"`
	Secret         string        `mapstructure:"secret"`
	StunURL        string        `mapstructure:"stun_url"`
	AudioEnabled   bool          `mapstructure:"audio_enabled"`
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
	v.SetDefault("api_base", "http://localhost:8080")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("reaction_ttl", "2s")
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	v.SetDefault("audio_enabled", false)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | API: %s\n", cfg.Mode, cfg.Port, cfg.APIBase)
	return &cfg, nil
}
