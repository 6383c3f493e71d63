package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultDomain         = "huddle.qzz.io"
	DefaultCodec          = "json"
	DefaultMediaSource    = "device"
	DefaultVideoWidth     = 1280
	DefaultVideoHeight    = 720
	DefaultTypingTimeout  = time.Second
	DefaultCallLogTimeout = 10 * time.Second
	DefaultRelayAddr      = ":8080"
)

// DefaultSTUN is the fixed public STUN list. No TURN relay is configured, so
// peers behind symmetric NATs may not connect.
var DefaultSTUN = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Config holds application configuration
type Config struct {
	// Domain is the backend server domain
	Domain string `mapstructure:"domain"`

	// APIURL and SignalingURL are derived from Domain unless set explicitly
	APIURL       string `mapstructure:"api_url"`
	SignalingURL string `mapstructure:"signaling_url"`

	// Token is the bearer token for the REST backend
	Token string `mapstructure:"token"`

	// Codec selects the signaling wire format: json or msgpack
	Codec string `mapstructure:"codec"`

	STUNServers []string `mapstructure:"stun_servers"`

	// MediaSource is device (camera/mic) or synthetic (headless)
	MediaSource string `mapstructure:"media_source"`
	VideoWidth  int    `mapstructure:"video_width"`
	VideoHeight int    `mapstructure:"video_height"`

	TypingTimeout  time.Duration `mapstructure:"typing_timeout"`
	CallLogTimeout time.Duration `mapstructure:"call_log_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	RelayAddr   string `mapstructure:"relay_addr"`
}

// flagKeys maps config keys to the CLI flag names that override them.
var flagKeys = map[string]string{
	"domain":        "domain",
	"api_url":       "api-url",
	"signaling_url": "signaling-url",
	"token":         "token",
	"codec":         "codec",
	"stun_servers":  "stun",
	"media_source":  "media",
	"video_width":   "width",
	"video_height":  "height",
	"metrics_addr":  "metrics-addr",
	"relay_addr":    "addr",
}

// Load reads configuration with the following priority:
// 1. CLI flags (bound from flags) - highest priority
// 2. Environment variables (HUDDLE_*)
// 3. Config file (huddle.yaml), if present
// 4. Hardcoded defaults - lowest priority
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("codec", DefaultCodec)
	v.SetDefault("stun_servers", DefaultSTUN)
	v.SetDefault("media_source", DefaultMediaSource)
	v.SetDefault("video_width", DefaultVideoWidth)
	v.SetDefault("video_height", DefaultVideoHeight)
	v.SetDefault("typing_timeout", DefaultTypingTimeout)
	v.SetDefault("call_log_timeout", DefaultCallLogTimeout)
	v.SetDefault("relay_addr", DefaultRelayAddr)

	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("huddle")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "huddle"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.SignalingURL == "" {
		cfg.SignalingURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = fmt.Sprintf("https://%s/api", cfg.Domain)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the call core cannot work with.
func (c *Config) Validate() error {
	switch c.Codec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown signaling codec %q", c.Codec)
	}

	switch c.MediaSource {
	case "device", "synthetic":
	default:
		return fmt.Errorf("unknown media source %q", c.MediaSource)
	}

	if len(c.STUNServers) == 0 {
		return errors.New("at least one STUN server is required")
	}
	for _, raw := range c.STUNServers {
		u, err := stun.ParseURI(raw)
		if err != nil {
			return fmt.Errorf("invalid STUN server %q: %w", raw, err)
		}
		if u.Scheme != stun.SchemeTypeSTUN && u.Scheme != stun.SchemeTypeSTUNS {
			return fmt.Errorf("%q is not a STUN server", raw)
		}
	}

	if c.VideoWidth <= 0 || c.VideoHeight <= 0 {
		return fmt.Errorf("invalid video resolution %dx%d", c.VideoWidth, c.VideoHeight)
	}
	return nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	return c.STUNServers
}
