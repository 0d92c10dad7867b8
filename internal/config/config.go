package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/sfu/internal/core"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Host           string        `mapstructure:"host"`
	SignalPort     int           `mapstructure:"signal_port"`
	MediaPortMin   uint16        `mapstructure:"media_port_min"`
	MediaPortMax   uint16        `mapstructure:"media_port_max"`
	ForceLocalLoop bool          `mapstructure:"force_local_loop"`
	LogLevel       string        `mapstructure:"log_level"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CertFile       string        `mapstructure:"cert_file"`
	Secret         string        `mapstructure:"secret"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	OfferLimit     int           `mapstructure:"offer_limit"`
	OfferInterval  time.Duration `mapstructure:"offer_interval"`

	Transceivers []core.TransceiverTemplate `mapstructure:"transceivers"`

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("signal_port", 8080)
	v.SetDefault("media_port_min", 3478)
	v.SetDefault("media_port_max", 3479)
	v.SetDefault("force_local_loop", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("idle_timeout", "30s")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("offer_limit", 5)
	v.SetDefault("offer_interval", "10s")
}

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("sfu", pflag.ContinueOnError)
	fs.String("host", "127.0.0.1", "address media ports bind to")
	fs.Int("signal-port", 8080, "HTTP signaling port")
	fs.Uint16("media-port-min", 3478, "first media port")
	fs.Uint16("media-port-max", 3479, "last media port")
	fs.Bool("force-local-loop", false, "bind media ports on 127.0.0.1")
	fs.String("log-level", "info", "trace, debug, info, warn or error")
	fs.Duration("idle-timeout", 30*time.Second, "candidate idle timeout")
	fs.String("cert-file", "", "PEM file with DTLS private key and certificate")
	return fs
}

// Load reads config/config.<CONFIG_ENV>.yaml, then SFU_* environment
// variables, then command line flags, each overriding the previous one.
func Load(args []string) (*Config, error) {
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
	setDefaults(v)

	v.SetEnvPrefix("SFU")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs := flags()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		}
	})

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.v = v
	if len(cfg.Transceivers) == 0 {
		cfg.Transceivers = core.DefaultTransceivers()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("signal_port", cfg.SignalPort).
		Uint16("media_port_min", cfg.MediaPortMin).
		Uint16("media_port_max", cfg.MediaPortMax).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MediaPortMin == 0 || c.MediaPortMin > c.MediaPortMax {
		return fmt.Errorf("%w: media ports %d-%d", ErrInvalidConfig, c.MediaPortMin, c.MediaPortMax)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout %s", ErrInvalidConfig, c.IdleTimeout)
	}
	if c.OfferLimit <= 0 || c.OfferInterval <= 0 {
		return fmt.Errorf("%w: offer rate %d per %s", ErrInvalidConfig, c.OfferLimit, c.OfferInterval)
	}
	return nil
}

func (c *Config) MediaPorts() []uint16 {
	ports := make([]uint16, 0, int(c.MediaPortMax-c.MediaPortMin)+1)
	for p := int(c.MediaPortMin); p <= int(c.MediaPortMax); p++ {
		ports = append(ports, uint16(p))
	}
	return ports
}

// MediaHost is the address media sockets bind to.
func (c *Config) MediaHost() string {
	if c.ForceLocalLoop {
		return "127.0.0.1"
	}
	return c.Host
}

// OnLogLevelChange calls fn with the new log_level whenever the config
// file changes. It does nothing when no file was loaded.
func (c *Config) OnLogLevelChange(fn func(level string)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	if _, err := os.Stat(c.v.ConfigFileUsed()); err != nil {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := c.v.GetString("log_level")
		log.Info().Str("module", "config").Str("file", e.Name).Str("log_level", level).Msg("config changed")
		fn(level)
	})
	c.v.WatchConfig()
}
