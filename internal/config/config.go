// Package config loads CoinJam service configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full service configuration.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Redis    RedisConfig   `yaml:"redis"`
	Session  SessionConfig `yaml:"session"`
	GenAI    GenAIConfig   `yaml:"genai"`
	IPFS     IPFSConfig    `yaml:"ipfs"`
	Social   SocialConfig  `yaml:"social"`
	Chain    ChainConfig   `yaml:"chain"`
	Sweep    SweepConfig   `yaml:"sweep"`
	LogLevel string        `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	JWTSecret    string        `yaml:"jwt_secret"`
}

// RedisConfig configures the session store backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SessionConfig bounds session creation parameters.
type SessionConfig struct {
	MaxPromptLength    int `yaml:"max_prompt_length"`
	MaxParticipantsCap int `yaml:"max_participants_cap"`
}

// GenAIConfig configures the generative text and image clients.
type GenAIConfig struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	TextModel  string        `yaml:"text_model"`
	ImageModel string        `yaml:"image_model"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerMin int           `yaml:"rate_per_min"`
}

// IPFSConfig configures the pinning service client.
type IPFSConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	GatewayURL string        `yaml:"gateway_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SocialConfig configures the social graph service client.
type SocialConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ChainConfig configures the coin-issuance platform client.
type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	DeployerAddress string        `yaml:"deployer_address"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	ReservePercent  int           `yaml:"reserve_percent"`
}

// SweepConfig configures the stuck-session sweeper.
type SweepConfig struct {
	Schedule           string        `yaml:"schedule"`
	GeneratingDeadline time.Duration `yaml:"generating_deadline"`
}

// Load reads configuration from the given path, falling back to defaults when
// the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.Chain.MaxAttempts <= 0 {
		return nil, fmt.Errorf("chain max_attempts must be positive, got %d", cfg.Chain.MaxAttempts)
	}
	if cfg.Chain.ReservePercent < 0 || cfg.Chain.ReservePercent > 100 {
		return nil, fmt.Errorf("chain reserve_percent must be 0-100, got %d", cfg.Chain.ReservePercent)
	}
	return cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Session: SessionConfig{
			MaxPromptLength:    280,
			MaxParticipantsCap: 16,
		},
		GenAI: GenAIConfig{
			BaseURL:    "https://api.openai.com/v1",
			TextModel:  "gpt-4o-mini",
			ImageModel: "gpt-image-1",
			Timeout:    120 * time.Second,
			RatePerMin: 30,
		},
		IPFS: IPFSConfig{
			BaseURL:    "https://api.pinata.cloud",
			GatewayURL: "https://gateway.pinata.cloud",
			Timeout:    60 * time.Second,
		},
		Social: SocialConfig{
			Timeout: 15 * time.Second,
		},
		Chain: ChainConfig{
			MaxAttempts:    3,
			RetryDelay:     5 * time.Second,
			ConfirmTimeout: 90 * time.Second,
			ReservePercent: 10,
		},
		Sweep: SweepConfig{
			Schedule:           "*/5 * * * *",
			GeneratingDeadline: 15 * time.Minute,
		},
		LogLevel: "info",
	}
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "COINJAM_ADDR")
	setString(&c.Server.JWTSecret, "COINJAM_JWT_SECRET")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.GenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.GenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.IPFS.APIKey, "PINATA_API_KEY")
	setString(&c.IPFS.BaseURL, "PINATA_BASE_URL")
	setString(&c.Social.APIKey, "SOCIAL_API_KEY")
	setString(&c.Social.BaseURL, "SOCIAL_BASE_URL")
	setString(&c.Chain.RPCURL, "CHAIN_RPC_URL")
	setString(&c.Chain.DeployerAddress, "CHAIN_DEPLOYER_ADDRESS")
	setString(&c.LogLevel, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
