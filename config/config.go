// Package config loads mini-varlink client settings from TOML.
//
//	[connection]
//	write_buffer = 1024
//	read_buffer = 1024
//	read_increment = 1024
//	read_ceiling = 1048576
//	fixed = false
//
//	[transport]
//	network = "tcp"
//	address = "127.0.0.1:9000"
//	dial_timeout = "5s"
//
//	[registry]
//	endpoints = ["127.0.0.1:2379"]
//
//	[log]
//	level = "info"
package config

import (
	"strings"
	"time"

	"mini-varlink/buffer"
	"mini-varlink/codec"
	"mini-varlink/connection"
	"mini-varlink/logging"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type Config struct {
	Connection Connection     `toml:"connection"`
	Transport  Transport      `toml:"transport"`
	Registry   Registry       `toml:"registry"`
	Client     Client         `toml:"client"`
	Log        logging.Config `toml:"log"`
}

// Connection sizes the per-connection buffers.
type Connection struct {
	WriteBuffer      int    `toml:"write_buffer"`
	MethodNameBuffer int    `toml:"method_name_buffer"`
	ReadBuffer       int    `toml:"read_buffer"`
	ReadIncrement    int    `toml:"read_increment"`
	ReadCeiling      int    `toml:"read_ceiling"`
	Fixed            bool   `toml:"fixed"` // Never grow the read buffer
	Codec            string `toml:"codec"` // "json" or "ugorji"
}

type Transport struct {
	Network     string   `toml:"network"`
	Address     string   `toml:"address"` // Static address; empty means resolve through the registry
	DialTimeout Duration `toml:"dial_timeout"`
	OpTimeout   Duration `toml:"op_timeout"` // Per read/write deadline, 0 disables
	RateLimit   float64  `toml:"rate_limit"` // Calls per second, 0 disables
	RateBurst   int      `toml:"rate_burst"`
}

type Registry struct {
	Endpoints []string `toml:"endpoints"`
	Prefix    string   `toml:"prefix"`
	TTL       int64    `toml:"ttl"` // Lease TTL in seconds
}

type Client struct {
	PoolSize int    `toml:"pool_size"`
	Balancer string `toml:"balancer"` // "round_robin" or "weighted_random"
}

// Duration is a time.Duration read from a TOML string such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Connection: Connection{
			WriteBuffer:      buffer.DefaultSize,
			MethodNameBuffer: buffer.MethodNameSize,
			ReadBuffer:       buffer.DefaultSize,
			ReadIncrement:    buffer.DefaultIncrement,
			ReadCeiling:      buffer.DefaultCeiling,
			Codec:            "json",
		},
		Transport: Transport{
			Network:     "tcp",
			DialTimeout: Duration{5 * time.Second},
			RateBurst:   1,
		},
		Registry: Registry{
			Prefix: "mini-varlink",
			TTL:    10,
		},
		Client: Client{
			PoolSize: 4,
			Balancer: "round_robin",
		},
		Log: logging.Config{Level: "info"},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config load failed (%s)", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, errors.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "config invalid (%s)", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	cc := c.Connection
	if cc.WriteBuffer < 2 {
		return errors.New("connection.write_buffer must hold at least one byte and a terminator")
	}
	if cc.MethodNameBuffer < 3 {
		return errors.New("connection.method_name_buffer too small")
	}
	if cc.ReadBuffer < 2 {
		return errors.New("connection.read_buffer must hold at least one byte and a terminator")
	}
	if !cc.Fixed {
		if cc.ReadIncrement <= 0 {
			return errors.New("connection.read_increment must be positive")
		}
		if cc.ReadCeiling < cc.ReadBuffer {
			return errors.Errorf("connection.read_ceiling (%d) below read_buffer (%d)", cc.ReadCeiling, cc.ReadBuffer)
		}
	}
	switch cc.Codec {
	case "", "json", "ugorji":
	default:
		return errors.Errorf("connection.codec %q not supported", cc.Codec)
	}
	if c.Transport.Address == "" && len(c.Registry.Endpoints) == 0 {
		return errors.New("either transport.address or registry.endpoints is required")
	}
	if c.Transport.RateLimit < 0 {
		return errors.New("transport.rate_limit must not be negative")
	}
	if c.Client.PoolSize <= 0 {
		return errors.New("client.pool_size must be positive")
	}
	switch c.Client.Balancer {
	case "", "round_robin", "weighted_random":
	default:
		return errors.Errorf("client.balancer %q not supported", c.Client.Balancer)
	}
	return nil
}

// NewReadBuffer builds a fresh read buffer following the configured discipline.
func (c Connection) NewReadBuffer() buffer.Policy {
	if c.Fixed {
		return buffer.NewFixed(c.ReadBuffer)
	}
	return buffer.NewGrowable(c.ReadBuffer, c.ReadIncrement, c.ReadCeiling)
}

// Options returns connection options for one new connection. Each call allocates
// a separate read buffer.
func (c Connection) Options() connection.Options {
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	if c.Codec == "ugorji" {
		cdc = codec.GetCodec(codec.CodecTypeUgorjiJSON)
	}
	return connection.Options{
		WriteBufferSize: c.WriteBuffer,
		MethodNameSize:  c.MethodNameBuffer,
		ReadBuffer:      c.NewReadBuffer(),
		Codec:           cdc,
	}
}
