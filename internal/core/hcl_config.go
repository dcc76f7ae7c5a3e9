package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

const (
	BaseDirName    = ".config/logwarden"
	ConfigFileName = "config.hcl"
	PidFileName    = "daemon.pid"
	LockFileName   = "logwarden.lock"
	DatabaseName   = "logwarden.db"
	DaemonLogName  = "daemon.log"
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete logwarden configuration
type Configuration struct {
	ConfigPath string // Directory containing config, lock, pid and database files
	Verbose    int    // Verbosity level
	Socket     string // Control socket address, "@name" for the abstract namespace
	LogFile    string // Persistent filtered log
	Source     SourceConfig
	Channels   map[string]ChannelConfig // Keyed by "event" and "log"
	Subscriber SubscriberConfig
	Supervised SupervisedConfig
}

// SourceConfig describes the external log-source invocation
type SourceConfig struct {
	Binary         string
	Buffers        []string // Candidate buffers, filtered by probing at startup
	Format         string
	Tags           []string
	ExtraFilters   []string
	DroppedMarker  byte
	RestartBackoff time.Duration
}

// ChannelConfig holds the substring filters for one fan-out channel
type ChannelConfig struct {
	Include []string
	Exclude []string
}

// SubscriberConfig holds settings for attached subscriber sinks
type SubscriberConfig struct {
	WriteTimeout time.Duration
}

// SupervisedConfig describes the process the watchdog keeps alive.
// An empty Socket disables the watchdog.
type SupervisedConfig struct {
	Socket       string
	Command      []string
	Handshake    string
	GracePeriod  time.Duration
	RetryBackoff time.Duration
	SpawnTimeout time.Duration
}

// HCL parsing structs

type hclConfig struct {
	Verbose    int            `hcl:"verbose,optional"`
	Socket     string         `hcl:"socket,optional"`
	LogFile    string         `hcl:"log_file,optional"`
	Source     *hclSource     `hcl:"source,block"`
	Channels   []hclChannel   `hcl:"channel,block"`
	Subscriber *hclSubscriber `hcl:"subscriber,block"`
	Supervised *hclSupervised `hcl:"supervised,block"`
}

type hclSource struct {
	Binary         string   `hcl:"binary,optional"`
	Buffers        []string `hcl:"buffers,optional"`
	Format         string   `hcl:"format,optional"`
	Tags           []string `hcl:"tags,optional"`
	ExtraFilters   []string `hcl:"extra_filters,optional"`
	DroppedMarker  string   `hcl:"dropped_marker,optional"`
	RestartBackoff string   `hcl:"restart_backoff,optional"`
}

type hclChannel struct {
	Name    string   `hcl:"name,label"`
	Include []string `hcl:"include,optional"`
	Exclude []string `hcl:"exclude,optional"`
}

type hclSubscriber struct {
	WriteTimeout string `hcl:"write_timeout,optional"`
}

type hclSupervised struct {
	Socket       string   `hcl:"socket,optional"`
	Command      []string `hcl:"command,optional"`
	Handshake    string   `hcl:"handshake,optional"`
	GracePeriod  string   `hcl:"grace_period,optional"`
	RetryBackoff string   `hcl:"retry_backoff,optional"`
	SpawnTimeout string   `hcl:"spawn_timeout,optional"`
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Socket:  "@logwarden",
		LogFile: "/cache/logwarden.log",
		Source: SourceConfig{
			Binary:         "/system/bin/logcat",
			Buffers:        []string{"main", "events", "crash"},
			Format:         "threadtime",
			Tags:           []string{"am_proc_start", "Magisk"},
			DroppedMarker:  '-',
			RestartBackoff: time.Second,
		},
		Channels: map[string]ChannelConfig{
			"event": {Include: []string{"am_proc_start"}},
			"log":   {Exclude: []string{"am_proc_start"}},
		},
		Subscriber: SubscriberConfig{
			WriteTimeout: 2 * time.Second,
		},
		Supervised: SupervisedConfig{
			Handshake:    "HANDSHAKE",
			GracePeriod:  5 * time.Second,
			RetryBackoff: time.Second,
			SpawnTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct.
// Unset keys keep their defaults.
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	if err := hclsimple.DecodeFile(filename, nil, &hclCfg); err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose
	if hclCfg.Socket != "" {
		cfg.Socket = hclCfg.Socket
	}
	if hclCfg.LogFile != "" {
		cfg.LogFile = hclCfg.LogFile
	}

	if src := hclCfg.Source; src != nil {
		if src.Binary != "" {
			cfg.Source.Binary = src.Binary
		}
		if src.Buffers != nil {
			cfg.Source.Buffers = src.Buffers
		}
		if src.Format != "" {
			cfg.Source.Format = src.Format
		}
		if src.Tags != nil {
			cfg.Source.Tags = src.Tags
		}
		cfg.Source.ExtraFilters = src.ExtraFilters
		if src.DroppedMarker != "" {
			if len(src.DroppedMarker) != 1 {
				return nil, fmt.Errorf("source.dropped_marker must be a single byte, got %q", src.DroppedMarker)
			}
			cfg.Source.DroppedMarker = src.DroppedMarker[0]
		}
		if err := parseDuration("source.restart_backoff", src.RestartBackoff, &cfg.Source.RestartBackoff); err != nil {
			return nil, err
		}
	}

	for _, ch := range hclCfg.Channels {
		if ch.Name != "event" && ch.Name != "log" {
			return nil, fmt.Errorf("unknown channel %q (expected \"event\" or \"log\")", ch.Name)
		}
		cfg.Channels[ch.Name] = ChannelConfig{Include: ch.Include, Exclude: ch.Exclude}
	}

	if sub := hclCfg.Subscriber; sub != nil {
		if err := parseDuration("subscriber.write_timeout", sub.WriteTimeout, &cfg.Subscriber.WriteTimeout); err != nil {
			return nil, err
		}
	}

	if sup := hclCfg.Supervised; sup != nil {
		cfg.Supervised.Socket = sup.Socket
		cfg.Supervised.Command = sup.Command
		if sup.Handshake != "" {
			cfg.Supervised.Handshake = sup.Handshake
		}
		durations := []struct {
			key   string
			value string
			dst   *time.Duration
		}{
			{"supervised.grace_period", sup.GracePeriod, &cfg.Supervised.GracePeriod},
			{"supervised.retry_backoff", sup.RetryBackoff, &cfg.Supervised.RetryBackoff},
			{"supervised.spawn_timeout", sup.SpawnTimeout, &cfg.Supervised.SpawnTimeout},
		}
		for _, d := range durations {
			if err := parseDuration(d.key, d.value, d.dst); err != nil {
				return nil, err
			}
		}
	}

	return cfg, nil
}

// LoadConfigFromDir loads config.hcl from dir, falling back to defaults when the
// file does not exist. ConfigPath is always set to dir.
func LoadConfigFromDir(dir string) (*Configuration, error) {
	filename := filepath.Join(dir, ConfigFileName)
	if !ConfigExists(filename) {
		cfg := GetDefaultConfig()
		cfg.ConfigPath = dir
		return cfg, nil
	}
	cfg, err := LoadConfig(filename)
	if err != nil {
		return nil, err
	}
	cfg.ConfigPath = dir
	return cfg, nil
}

func parseDuration(key, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	*dst = d
	return nil
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// GetSocketPath returns the control socket address
func GetSocketPath() string {
	return Config.Socket
}

// GetPIDFilePath returns the path of the daemon's PID file
func GetPIDFilePath() string {
	return filepath.Join(Config.ConfigPath, PidFileName)
}

// GetDatabasePath returns the path of the event journal
func GetDatabasePath() string {
	return filepath.Join(Config.ConfigPath, DatabaseName)
}

// GetDaemonLogPath returns the file a detached daemon writes its own log to
func GetDaemonLogPath() string {
	return filepath.Join(Config.ConfigPath, DaemonLogName)
}
