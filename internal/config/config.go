package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	SecurityNone     = "none"
	SecurityTLSFiles = "tls_files"

	AuthNone  = "none"
	AuthToken = "token"

	// AutoEndpoint makes the server advertise the first routable IPv4 address.
	AutoEndpoint = "auto"
)

type Config struct {
	Host         string `mapstructure:"host"`
	IPEndpoint   string `mapstructure:"ip-endpoint"`
	SignalPort   int    `mapstructure:"signal-port"`
	MediaPortMin int    `mapstructure:"media-port-min"`
	MediaPortMax int    `mapstructure:"media-port-max"`
	Env          string `mapstructure:"env"`
	Level        string `mapstructure:"level"`

	TransportSecurity string `mapstructure:"transport-security"`
	TLSCertFile       string `mapstructure:"tls-cert-file"`
	TLSKeyFile        string `mapstructure:"tls-key-file"`
	Auth              string `mapstructure:"auth"`
	Secret            string `mapstructure:"secret"`

	SignalingTimeout time.Duration `mapstructure:"signaling-timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle-timeout"`
	MailboxSize      int           `mapstructure:"mailbox-size"`

	RateLimit float64 `mapstructure:"rate-limit"`
	RateBurst int     `mapstructure:"rate-burst"`

	ReadLimit  int64         `mapstructure:"ws-read-limit"`
	PingPeriod time.Duration `mapstructure:"ws-ping-period"`

	MDNS bool `mapstructure:"mdns"`

	// Advertised is IPEndpoint resolved once at load time.
	Advertised netip.Addr `mapstructure:"-"`

	v *viper.Viper
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("beep-sfu", pflag.ContinueOnError)
	fs.String("config", "", "optional YAML configuration file")
	fs.String("host", "127.0.0.1", "address the signaling and media sockets bind to")
	fs.String("ip-endpoint", "127.0.0.1", "address advertised in ICE candidates, or \"auto\"")
	fs.Int("signal-port", 8080, "signaling HTTP port")
	fs.Int("media-port-min", 3478, "first UDP media port (inclusive)")
	fs.Int("media-port-max", 3479, "last UDP media port (inclusive)")
	fs.String("env", EnvProd, "runtime environment: dev or prod")
	fs.String("level", "info", "log level: error, warn, info, debug or trace")
	fs.String("transport-security", SecurityNone, "none or tls_files")
	fs.String("tls-cert-file", "", "PEM certificate for tls_files")
	fs.String("tls-key-file", "", "PEM private key for tls_files")
	fs.String("auth", AuthNone, "none or token")
	fs.String("secret", "", "HS256 secret used to verify bearer tokens")
	fs.Duration("signaling-timeout", 5*time.Second, "how long a signaling request waits for its media worker")
	fs.Duration("handshake-timeout", 30*time.Second, "DTLS handshake timeout")
	fs.Duration("idle-timeout", 30*time.Second, "endpoints without traffic for this long are removed")
	fs.Int("mailbox-size", 64, "signaling queue length per media worker")
	fs.Float64("rate-limit", 50, "signaling requests per second accepted by the HTTP front")
	fs.Int("rate-burst", 100, "signaling request burst accepted by the HTTP front")
	fs.Int64("ws-read-limit", 32768, "maximum websocket message size")
	fs.Duration("ws-ping-period", 54*time.Second, "websocket keepalive period")
	fs.Bool("mdns", false, "advertise the signaling service over mDNS")
	return fs
}

// Load resolves the configuration from flags, SFU_* environment variables,
// an optional YAML file and the flag defaults, in that order of precedence.
func Load(args []string) (*Config, error) {
	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}
	v.SetEnvPrefix("SFU")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config file")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.v = v

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.resolveEndpoint(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := netip.ParseAddr(c.Host); err != nil {
		errs = append(errs, fmt.Errorf("host %q: %w", c.Host, err))
	}
	if c.IPEndpoint != AutoEndpoint {
		if _, err := netip.ParseAddr(c.IPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("ip-endpoint %q: %w", c.IPEndpoint, err))
		}
	}
	if c.SignalPort < 0 || c.SignalPort > 65535 {
		errs = append(errs, fmt.Errorf("signal-port %d out of range", c.SignalPort))
	}
	if c.MediaPortMin < 1 || c.MediaPortMax > 65535 || c.MediaPortMin > c.MediaPortMax {
		errs = append(errs, fmt.Errorf("media port range %d..%d is invalid", c.MediaPortMin, c.MediaPortMax))
	}
	switch c.Env {
	case EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env %q: expected dev or prod", c.Env))
	}
	switch strings.ToLower(c.Level) {
	case "error", "warn", "info", "debug", "trace":
	default:
		errs = append(errs, fmt.Errorf("level %q is not recognized", c.Level))
	}
	switch c.TransportSecurity {
	case SecurityNone:
	case SecurityTLSFiles:
		if c.TLSCertFile == "" || c.TLSKeyFile == "" {
			errs = append(errs, errors.New("tls_files requires tls-cert-file and tls-key-file"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport-security %q: expected none or tls_files", c.TransportSecurity))
	}
	switch c.Auth {
	case AuthNone:
	case AuthToken:
		if c.Secret == "" {
			errs = append(errs, errors.New("auth token requires a secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth %q: expected none or token", c.Auth))
	}
	if c.SignalingTimeout <= 0 {
		errs = append(errs, errors.New("signaling-timeout must be positive"))
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		errs = append(errs, errors.New("rate-limit and rate-burst must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) resolveEndpoint() error {
	if c.IPEndpoint != AutoEndpoint {
		c.Advertised = netip.MustParseAddr(c.IPEndpoint)
		return nil
	}
	addr, err := DetectIPv4()
	if err != nil {
		return fmt.Errorf("config: ip-endpoint auto: %w", err)
	}
	c.Advertised = addr
	return nil
}

// MediaPorts lists the configured UDP ports, inclusive on both ends.
func (c *Config) MediaPorts() []uint16 {
	if c.MediaPortMin > c.MediaPortMax {
		return nil
	}
	ports := make([]uint16, 0, c.MediaPortMax-c.MediaPortMin+1)
	for p := c.MediaPortMin; p <= c.MediaPortMax; p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

func (c *Config) SignalAddr() string {
	return netip.AddrPortFrom(netip.MustParseAddr(c.Host), uint16(c.SignalPort)).String()
}

// ConfigFile returns the YAML file the configuration was read from, if any.
func (c *Config) ConfigFile() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// WatchLevel calls fn with the new level each time the config file changes.
// It is a no-op when no config file was given.
func (c *Config) WatchLevel(fn func(level string)) bool {
	if c.ConfigFile() == "" {
		return false
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := c.v.GetString("level")
		log.Info().Str("module", "config").Str("file", e.Name).Str("level", level).Msg("config changed")
		fn(level)
	})
	c.v.WatchConfig()
	return true
}
