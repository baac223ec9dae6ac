package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPort = "1935"

// BuffioSize is the size of the buffered reader/writer wrapped around every connection.
const BuffioSize = 1024 * 64

const DefaultClientWindowSize uint32 = 2500000
const DefaultPeerBandwidth uint32 = 2500000

// DefaultChunkSize is the chunk size the server announces to its peers right after connect. The peer's
// chunk size starts at the protocol default of 128 bytes until it sends a SetChunkSize message.
const DefaultChunkSize uint32 = 4096

// MaxChunkSize is the largest chunk size a peer is allowed to announce.
const MaxChunkSize uint32 = 0xFFFFFF

const DefaultHandshakeTimeout = 5 * time.Second

// DefaultWriteTimeout bounds how long a flush to a peer may block.
const DefaultWriteTimeout = 10 * time.Second

// DefaultSubscriberBuffer is the number of media frames queued for a single player before frames start
// being dropped.
const DefaultSubscriberBuffer = 512

const FlashMediaServerVersion string = "FMS/3,5,7,7009"

const Capabilities int = 31

const Mode int = 1

// Config holds the complete server configuration.
type Config struct {
	RTMP    RTMPConfig    `yaml:"rtmp"`
	Logging LoggingConfig `yaml:"logging"`
}

// RTMPConfig defines the listener and protocol settings. Apps lists the application names clients may
// connect to; an empty list accepts any app.
type RTMPConfig struct {
	Addr             string        `yaml:"addr"`
	ChunkSize        uint32        `yaml:"chunk_size"`
	WindowAckSize    uint32        `yaml:"window_ack_size"`
	PeerBandwidth    uint32        `yaml:"peer_bandwidth"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Apps             []string      `yaml:"apps,omitempty"`
	DisablePlay      bool          `yaml:"disable_play,omitempty"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// LoggingConfig selects the zap logger flavor and level.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development,omitempty"`
}

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// Load reads configuration from a YAML file. Unknown fields are rejected, unset fields get their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Config, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RTMP.Addr == "" {
		c.RTMP.Addr = ":" + DefaultPort
	}
	if c.RTMP.ChunkSize == 0 {
		c.RTMP.ChunkSize = DefaultChunkSize
	}
	if c.RTMP.WindowAckSize == 0 {
		c.RTMP.WindowAckSize = DefaultClientWindowSize
	}
	if c.RTMP.PeerBandwidth == 0 {
		c.RTMP.PeerBandwidth = DefaultPeerBandwidth
	}
	if c.RTMP.HandshakeTimeout == 0 {
		c.RTMP.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.RTMP.WriteTimeout == 0 {
		c.RTMP.WriteTimeout = DefaultWriteTimeout
	}
	if c.RTMP.SubscriberBuffer == 0 {
		c.RTMP.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if err := c.RTMP.Validate(); err != nil {
		return errors.Wrap(err, "rtmp config")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging config")
	}
	return nil
}

// Validate checks the protocol settings.
func (r *RTMPConfig) Validate() error {
	if r.ChunkSize < 128 || r.ChunkSize > MaxChunkSize {
		return errors.Errorf("chunk_size must be between 128 and %d, got %d", MaxChunkSize, r.ChunkSize)
	}
	if r.HandshakeTimeout < 0 {
		return errors.Errorf("handshake_timeout must not be negative, got %s", r.HandshakeTimeout)
	}
	if r.WriteTimeout < 0 {
		return errors.Errorf("write_timeout must not be negative, got %s", r.WriteTimeout)
	}
	if r.SubscriberBuffer < 0 {
		return errors.Errorf("subscriber_buffer must not be negative, got %d", r.SubscriberBuffer)
	}
	for _, app := range r.Apps {
		if app == "" {
			return errors.New("apps must not contain an empty name")
		}
	}
	return nil
}

// AllowsApp reports whether clients may connect to the given application name.
func (r *RTMPConfig) AllowsApp(app string) bool {
	if len(r.Apps) == 0 {
		return true
	}
	for _, a := range r.Apps {
		if a == app {
			return true
		}
	}
	return false
}
