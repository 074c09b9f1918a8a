// Package config provides configuration loading and validation for svcbridge.
// Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dray-io/svcbridge/internal/pool"
	"github.com/dray-io/svcbridge/internal/topic"
	"github.com/dray-io/svcbridge/internal/transport/kafka"
)

// Participant kinds.
const (
	KindLocal = "local"
	KindEcho  = "echo"
	KindKafka = "kafka"
)

// PathEnv names the environment variable Load reads the config path from.
const PathEnv = "SVCBRIDGE_CONFIG"

// DefaultPaths are tried in order by Load when PathEnv is unset.
var DefaultPaths = []string{"svcbridge.yaml", "/etc/svcbridge/config.yaml"}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds all configuration for a svcbridge router.
type Config struct {
	Router        RouterConfig        `yaml:"router"`
	Participants  []ParticipantConfig `yaml:"participants"`
	Services      []ServiceConfig     `yaml:"services"`
	BuiltinTopics []TopicConfig       `yaml:"builtinTopics"`
	Topics        topic.Filter        `yaml:"topics"`
	Pool          pool.Config         `yaml:"pool"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type RouterConfig struct {
	// ID identifies this router instance. Generated when empty.
	ID             string           `yaml:"id" env:"SVCBRIDGE_ROUTER_ID"`
	PumpIntervalMs int64            `yaml:"pumpIntervalMs" env:"SVCBRIDGE_PUMP_INTERVAL_MS"`
	Convention     ConventionConfig `yaml:"convention"`
}

// ConventionConfig overrides service topic naming. Empty fields keep the
// default tokens.
type ConventionConfig struct {
	RequestPrefix  string `yaml:"requestPrefix" env:"SVCBRIDGE_REQUEST_PREFIX"`
	ReplyPrefix    string `yaml:"replyPrefix" env:"SVCBRIDGE_REPLY_PREFIX"`
	RequestSuffix  string `yaml:"requestSuffix" env:"SVCBRIDGE_REQUEST_SUFFIX"`
	ReplySuffix    string `yaml:"replySuffix" env:"SVCBRIDGE_REPLY_SUFFIX"`
	ResponseSuffix string `yaml:"responseSuffix" env:"SVCBRIDGE_RESPONSE_SUFFIX"`
}

type ParticipantConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
	// Verbose makes echo participants log payloads.
	Verbose bool         `yaml:"verbose"`
	Kafka   kafka.Config `yaml:"kafka"`
}

// ServiceConfig names one side of a service and the participant hosting it.
type ServiceConfig struct {
	Topic  string `yaml:"topic"`
	Type   string `yaml:"type"`
	Server string `yaml:"server"`
}

// TopicConfig names a plain topic bridged from startup, before any
// participant announces it.
type TopicConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// TopicValue returns the configured topic.
func (t TopicConfig) TopicValue() topic.Topic {
	return topic.New(t.Name, t.Type)
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"SVCBRIDGE_METRICS_ADDR"`
	HealthAddr  string `yaml:"healthAddr" env:"SVCBRIDGE_HEALTH_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"SVCBRIDGE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"SVCBRIDGE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults: one in-process
// participant and one echo participant, no services.
func Default() *Config {
	return &Config{
		Router: RouterConfig{
			PumpIntervalMs: 10,
		},
		Participants: []ParticipantConfig{
			{ID: "local", Kind: KindLocal},
			{ID: "echo", Kind: KindEcho},
		},
		Pool: pool.Config{
			InitialSize: 16,
			BatchSize:   16,
			BufferSize:  4096,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			HealthAddr:  ":9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load reads the file named by SVCBRIDGE_CONFIG, or the first of
// DefaultPaths that exists. Without a file it returns the defaults.
// Environment overrides are applied in every case.
func Load() (*Config, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return LoadFromPath(p)
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return LoadFromPath(p)
		}
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads a YAML file on top of the defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and applies environment
// overrides.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Participants) == 0 {
		invalid("no participants")
	}
	seen := make(map[string]bool, len(c.Participants))
	for i, p := range c.Participants {
		switch {
		case p.ID == "":
			invalid("participant %d has no id", i)
		case seen[p.ID]:
			invalid("participant %s listed twice", p.ID)
		}
		seen[p.ID] = true

		switch p.Kind {
		case KindLocal, KindEcho:
		case KindKafka:
			if len(p.Kafka.Brokers) == 0 {
				invalid("kafka participant %s has no brokers", p.ID)
			}
		default:
			invalid("participant %s has unknown kind %q", p.ID, p.Kind)
		}
	}

	conv := c.Router.Convention.Convention()
	for _, s := range c.Services {
		t := s.TopicValue()
		switch {
		case !t.Valid():
			invalid("service needs both topic and type, got %s", t)
		case !conv.IsService(t):
			invalid("%s is not a service topic", t)
		case !seen[s.Server]:
			invalid("service %s is hosted by unknown participant %q", t.Name, s.Server)
		}
	}

	for _, b := range c.BuiltinTopics {
		if t := b.TopicValue(); !t.Valid() {
			invalid("builtin topic needs both name and type, got %s", t)
		}
	}

	if err := c.Pool.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: pool: %w", ErrInvalid, err))
	}
	if c.Router.PumpIntervalMs <= 0 {
		invalid("pump interval must be positive")
	}
	return errors.Join(errs...)
}

// PumpInterval returns the pump interval as a duration.
func (c *Config) PumpInterval() time.Duration {
	return time.Duration(c.Router.PumpIntervalMs) * time.Millisecond
}

// TopicValue returns the configured topic.
func (s ServiceConfig) TopicValue() topic.Topic {
	return topic.New(s.Topic, s.Type)
}

// Convention returns the naming convention with defaults filled in.
func (c ConventionConfig) Convention() topic.Convention {
	conv := topic.DefaultConvention
	if c.RequestPrefix != "" {
		conv.RequestPrefix = c.RequestPrefix
	}
	if c.ReplyPrefix != "" {
		conv.ReplyPrefix = c.ReplyPrefix
	}
	if c.RequestSuffix != "" {
		conv.Request = c.RequestSuffix
	}
	if c.ReplySuffix != "" {
		conv.Reply = c.ReplySuffix
	}
	if c.ResponseSuffix != "" {
		conv.Response = c.ResponseSuffix
	}
	return conv
}
