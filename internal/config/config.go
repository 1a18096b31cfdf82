package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

type Config struct {
	ServerAddr     string          `mapstructure:"server_addr"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	WebSocket      WebSocketConfig `mapstructure:"websocket"`
	Log            LogConfig       `mapstructure:"log"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	// SendBufferSize bounds each connection's outbound queue. A peer that
	// falls this far behind is disconnected.
	SendBufferSize int `mapstructure:"send_buffer_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultWebSocketConfig mirrors the defaults registered in SetDefaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		PingInterval:   54 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 1024,
		SendBufferSize: 256,
	}
}

func SetDefaults(v *viper.Viper) {
	ws := DefaultWebSocketConfig()
	v.SetDefault("server_addr", "localhost:8765")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("websocket.ping_interval", ws.PingInterval)
	v.SetDefault("websocket.pong_wait", ws.PongWait)
	v.SetDefault("websocket.write_wait", ws.WriteWait)
	v.SetDefault("websocket.max_message_size", ws.MaxMessageSize)
	v.SetDefault("websocket.send_buffer_size", ws.SendBufferSize)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load builds a Config from v. If configFile is set it must exist;
// environment variables prefixed with RELAY_ override file values.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// comma-separated env values arrive as a single element
	cfg.AllowedOrigins = splitOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return errors.New("server address cannot be empty")
	}

	ws := c.WebSocket
	if ws.PingInterval <= 0 || ws.PongWait <= 0 || ws.WriteWait <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	if ws.PingInterval >= ws.PongWait {
		return fmt.Errorf("ping interval %s must be shorter than pong wait %s", ws.PingInterval, ws.PongWait)
	}
	if ws.MaxMessageSize <= 0 {
		return errors.New("max message size must be positive")
	}
	if ws.SendBufferSize <= 0 {
		return errors.New("send buffer size must be positive")
	}

	return nil
}

func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, o := range strings.Split(s, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}
