package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// ErrInvalidConfiguration reports a value that cannot be used or clamped.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Transport kinds.
const (
	TransportLocal = "local"
	TransportGRPC  = "grpc"
)

// Config holds everything read from config.toml and the environment.
type Config struct {
	Conference Conference `toml:"conference"`
	Transport  Transport  `toml:"transport"`
	Log        Log        `toml:"log"`
	Metrics    Metrics    `toml:"metrics"`
}

// Conference sizes one conference.
type Conference struct {
	Peers     int `toml:"peers"`
	Rounds    int `toml:"rounds"`
	MinPeers  int `toml:"min_peers"`
	MaxPeers  int `toml:"max_peers"`
	MaxRounds int `toml:"max_rounds"`
	// Hold is how long a peer stays at the table.
	Hold time.Duration `toml:"hold"`
	// Jitter bounds the random pause before requesting and after exiting.
	Jitter          time.Duration `toml:"jitter"`
	RandomizeClocks bool          `toml:"randomize_clocks"`
}

// Transport selects the link fabric. An empty Controller with Kind "grpc"
// starts an embedded relay on a loopback port.
type Transport struct {
	Kind       string `toml:"kind"`
	Controller string `toml:"controller"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// Trace is the path of the JSONL execution trace; empty disables it.
	Trace string `toml:"trace"`
}

// Metrics serves Prometheus metrics on Addr; empty disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Conference: Conference{
			Peers:           5,
			Rounds:          1,
			MinPeers:        3,
			MaxPeers:        10,
			MaxRounds:       100,
			Hold:            3 * time.Second,
			RandomizeClocks: true,
		},
		Transport: Transport{Kind: TransportLocal},
		Log:       Log{Level: "info", Format: "logfmt"},
	}
}

// LoadConfig reads the TOML file at path on top of Default.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %q", path)
	}
	conf, err := Parse(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "config file %q", path)
	}
	return conf, nil
}

// Parse decodes TOML on top of Default. Unknown keys are rejected.
func Parse(data string) (*Config, error) {
	conf := Default()
	md, err := toml.Decode(data, conf)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfiguration, "%v", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Wrapf(ErrInvalidConfiguration, "unknown keys %s", strings.Join(keys, ", "))
	}
	return conf, nil
}

// ApplyEnv loads envFile, if it exists, into the process environment and
// applies the CONFERENCE_* overrides. Variables already set in the
// environment win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to read env file %q", envFile)
		}
	}

	ints := map[string]*int{
		"CONFERENCE_PEERS":  &c.Conference.Peers,
		"CONFERENCE_ROUNDS": &c.Conference.Rounds,
	}
	for name, dst := range ints {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(ErrInvalidConfiguration, "%s=%q", name, v)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CONFERENCE_HOLD":   &c.Conference.Hold,
		"CONFERENCE_JITTER": &c.Conference.Jitter,
	}
	for name, dst := range durations {
		if v, ok := os.LookupEnv(name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				return errors.Wrapf(ErrInvalidConfiguration, "%s=%q", name, v)
			}
			*dst = d
		}
	}

	if v, ok := os.LookupEnv("CONFERENCE_TRANSPORT"); ok {
		c.Transport.Kind = strings.TrimSpace(v)
	}
	return nil
}

// Validate rejects values that cannot be clamped into something usable.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportLocal, TransportGRPC:
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "transport kind %q", c.Transport.Kind)
	}
	switch c.Log.Format {
	case "json", "logfmt":
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "log format %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Wrapf(ErrInvalidConfiguration, "log level %q", c.Log.Level)
	}

	cc := c.Conference
	if cc.MaxRounds < 1 {
		return errors.Wrapf(ErrInvalidConfiguration, "max rounds %d", cc.MaxRounds)
	}
	return cc.CheckBounds()
}

// CheckBounds rejects peer bounds that no peer count can satisfy. Zero
// bounds stand for the defaults, as in Clamp.
func (c Conference) CheckBounds() error {
	def := Default().Conference
	if c.MinPeers == 0 {
		c.MinPeers = def.MinPeers
	}
	if c.MaxPeers == 0 {
		c.MaxPeers = def.MaxPeers
	}
	if c.MinPeers < 2 || c.MaxPeers < c.MinPeers {
		return errors.Wrapf(ErrInvalidConfiguration, "peer bounds [%d, %d]", c.MinPeers, c.MaxPeers)
	}
	return nil
}

// Clamp moves out-of-range values into range and describes each change.
// Zero bounds fall back to the defaults.
func (c Conference) Clamp() (Conference, []string) {
	def := Default().Conference
	if c.MinPeers <= 0 {
		c.MinPeers = def.MinPeers
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = def.MaxPeers
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = def.MaxRounds
	}

	var warnings []string
	clamp := func(name string, v *int, lo, hi int) {
		switch {
		case *v < lo:
			warnings = append(warnings, fmt.Sprintf("%s %d raised to %d", name, *v, lo))
			*v = lo
		case *v > hi:
			warnings = append(warnings, fmt.Sprintf("%s %d lowered to %d", name, *v, hi))
			*v = hi
		}
	}
	clamp("peers", &c.Peers, c.MinPeers, c.MaxPeers)
	clamp("rounds", &c.Rounds, 1, c.MaxRounds)

	if c.Hold < 0 {
		warnings = append(warnings, fmt.Sprintf("hold %s raised to 0s", c.Hold))
		c.Hold = 0
	}
	if c.Jitter < 0 {
		warnings = append(warnings, fmt.Sprintf("jitter %s raised to 0s", c.Jitter))
		c.Jitter = 0
	}
	return c, warnings
}
