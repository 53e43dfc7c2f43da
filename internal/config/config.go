// Package config holds the CLI configuration: defaults, YAML file loading,
// flag binding and validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/peersync/internal/playsync"
	"github.com/1ureka/peersync/internal/relay"
	"github.com/1ureka/peersync/internal/signaling"
	"github.com/1ureka/peersync/internal/transport"
)

// Role is the part this process plays.
type Role string

const (
	RoleRelay    Role = "relay"
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Config stores all parameters from the config file, flags and interactive
// prompts.
type Config struct {
	Role Role `yaml:"role"`

	// PeerID identifies this peer on the relay and decides offer collisions.
	// Defaults to a random UUID.
	PeerID string `yaml:"peer_id"`

	// RelayURL is the WebSocket URL peers dial (e.g. ws://host:8080/ws).
	RelayURL string `yaml:"relay_url"`

	// Listen is the relay's HTTP listen address.
	Listen string `yaml:"listen"`

	// File is the video the viewer asks the streamer to play.
	File string `yaml:"file"`

	ICEServers []string `yaml:"ice_servers"`

	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	ReconnectJitter   time.Duration `yaml:"reconnect_jitter"`

	// NegotiateTimeout is how long an offer may go unanswered before it is
	// sent again. Covers a peer that joins the relay after the offer.
	NegotiateTimeout time.Duration `yaml:"negotiate_timeout"`

	// DriftThreshold is in seconds.
	DriftThreshold float64       `yaml:"drift_threshold"`
	SuppressWindow time.Duration `yaml:"suppress_window"`

	RelayRate  float64 `yaml:"relay_rate"`
	RelayBurst int     `yaml:"relay_burst"`

	Debug bool `yaml:"debug"`
}

// Default returns a config with every field at its default and a fresh
// peer ID.
func Default() *Config {
	backoff := signaling.DefaultBackoff()
	policy := playsync.DefaultPolicy()
	relayOpts := relay.DefaultOptions()

	return &Config{
		PeerID:            uuid.NewString(),
		Listen:            ":8080",
		ICEServers:        append([]string(nil), transport.DefaultSTUNServers...),
		ReconnectInterval: backoff.Interval,
		ReconnectJitter:   backoff.Jitter,
		NegotiateTimeout:  5 * time.Second,
		DriftThreshold:    policy.DriftThreshold,
		SuppressWindow:    policy.SuppressWindow,
		RelayRate:         relayOpts.MessageRate,
		RelayBurst:        relayOpts.Burst,
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Parse builds a config from command-line arguments. If --config names a
// file it is loaded first; flags given explicitly override its values.
func Parse(args []string) (*Config, error) {
	path, err := configPath(args)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}

	fs := pflag.NewFlagSet("peersync", pflag.ContinueOnError)
	fs.String("config", path, "YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return cfg, nil
}

// configPath pre-parses args only to find --config.
func configPath(args []string) (string, error) {
	var path string
	fs := pflag.NewFlagSet("peersync", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "")
	Default().BindFlags(fs)
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}
	return path, nil
}

// BindFlags registers a flag for every field, using the current values as
// defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar((*string)(&c.Role), "role", string(c.Role), "relay, streamer or viewer (prompted if empty)")
	fs.StringVar(&c.PeerID, "id", c.PeerID, "peer ID (random by default)")
	fs.StringVar(&c.RelayURL, "relay", c.RelayURL, "relay WebSocket URL, e.g. ws://host:8080/ws")
	fs.StringVar(&c.Listen, "listen", c.Listen, "relay listen address")
	fs.StringVar(&c.File, "file", c.File, "file to request from the streamer (viewer)")
	fs.StringSliceVar(&c.ICEServers, "ice", c.ICEServers, "STUN server URLs")
	fs.DurationVar(&c.ReconnectInterval, "reconnect", c.ReconnectInterval, "relay reconnect interval")
	fs.DurationVar(&c.ReconnectJitter, "reconnect-jitter", c.ReconnectJitter, "random extra reconnect delay")
	fs.DurationVar(&c.NegotiateTimeout, "negotiate-timeout", c.NegotiateTimeout, "re-offer after this long without an answer")
	fs.Float64Var(&c.DriftThreshold, "drift", c.DriftThreshold, "seconds of drift before seeking to the peer")
	fs.DurationVar(&c.SuppressWindow, "suppress", c.SuppressWindow, "echo suppression window after a remote update")
	fs.Float64Var(&c.RelayRate, "relay-rate", c.RelayRate, "relay messages per second per connection")
	fs.IntVar(&c.RelayBurst, "relay-burst", c.RelayBurst, "relay message burst per connection")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
}

// Validate checks that the configuration is usable for its role.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleRelay:
		if c.Listen == "" {
			return fmt.Errorf("%w: listen address is required", ErrInvalid)
		}
		if c.RelayRate <= 0 {
			return fmt.Errorf("%w: relay rate must be positive", ErrInvalid)
		}
		if c.RelayBurst < 1 {
			return fmt.Errorf("%w: relay burst must be at least 1", ErrInvalid)
		}
		return nil

	case RoleStreamer, RoleViewer:
		// Checked below.

	case "":
		return fmt.Errorf("%w: role is required", ErrInvalid)

	default:
		return fmt.Errorf("%w: unknown role %q (supported: relay, streamer, viewer)", ErrInvalid, c.Role)
	}

	if c.PeerID == "" {
		return fmt.Errorf("%w: peer ID is required", ErrInvalid)
	}
	u, err := url.Parse(c.RelayURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: relay URL %q must be ws:// or wss://", ErrInvalid, c.RelayURL)
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("%w: reconnect interval must be positive", ErrInvalid)
	}
	if c.ReconnectJitter < 0 {
		return fmt.Errorf("%w: reconnect jitter must not be negative", ErrInvalid)
	}
	if c.NegotiateTimeout <= 0 {
		return fmt.Errorf("%w: negotiate timeout must be positive", ErrInvalid)
	}
	if c.DriftThreshold <= 0 || c.DriftThreshold > 5 {
		return fmt.Errorf("%w: drift threshold %v must be in (0, 5]", ErrInvalid, c.DriftThreshold)
	}
	if c.SuppressWindow <= 0 {
		return fmt.Errorf("%w: suppression window must be positive", ErrInvalid)
	}
	return nil
}

// Backoff returns the relay reconnect policy.
func (c *Config) Backoff() signaling.Backoff {
	return signaling.Backoff{Interval: c.ReconnectInterval, Jitter: c.ReconnectJitter}
}

// SyncPolicy returns the playback sync policy.
func (c *Config) SyncPolicy() playsync.Policy {
	return playsync.Policy{DriftThreshold: c.DriftThreshold, SuppressWindow: c.SuppressWindow}
}

// RelayOptions returns the relay hub options.
func (c *Config) RelayOptions() relay.Options {
	opts := relay.DefaultOptions()
	opts.MessageRate = c.RelayRate
	opts.Burst = c.RelayBurst
	return opts
}

// Transport returns the peer transport config.
func (c *Config) Transport() transport.Config {
	return transport.Config{ICEServers: c.ICEServers}
}
