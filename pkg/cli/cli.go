package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dmdmdm-nz/reachd/pkg/version"
)

const (
	DefaultPort         = 60106
	DefaultHost         = "127.0.0.1"
	DefaultPollInterval = 30 * time.Second
)

// Config holds the application configuration. Values come from the defaults,
// then the optional YAML file, then command line flags.
type Config struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	LogLevel      string        `yaml:"logLevel"`
	Targets       []string      `yaml:"targets"`
	Any           bool          `yaml:"any"`
	PollInterval  time.Duration `yaml:"pollInterval"`
	Advertise     bool          `yaml:"advertise"`
	AdvertiseName string        `yaml:"advertiseName"`

	ConfigFile  string `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		LogLevel:     "info",
		PollInterval: DefaultPollInterval,
	}
}

// ParseFlags parses the process arguments and returns a Config. It exits on
// invalid arguments and after printing the version.
func ParseFlags() *Config {
	cfg, err := Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reachd: %v\n", err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("reachd version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
		os.Exit(0)
	}
	return cfg
}

// Parse builds a Config from args without touching process state.
func Parse(args []string) (*Config, error) {
	def := defaults()
	flags := &Config{}
	fs := flag.NewFlagSet("reachd", flag.ContinueOnError)

	fs.IntVarP(&flags.Port, "port", "p", def.Port, "Port to listen on")
	fs.StringVar(&flags.Host, "host", def.Host, "Host to bind to")
	fs.StringVar(&flags.LogLevel, "log-level", def.LogLevel, "Log level (trace, debug, info, warn, error)")
	fs.StringArrayVarP(&flags.Targets, "target", "t", nil, "Host name or IP address to watch (repeatable)")
	fs.BoolVar(&flags.Any, "any", false, "Watch general connectivity (any interface)")
	fs.DurationVar(&flags.PollInterval, "poll-interval", def.PollInterval, "How often targets are resampled without a network change (0 disables)")
	fs.BoolVar(&flags.Advertise, "advertise", false, "Advertise the API over DNS-SD as _reachd._tcp")
	fs.StringVar(&flags.AdvertiseName, "advertise-name", "", "DNS-SD instance name (default \"reachd on <hostname>\")")
	fs.StringVarP(&flags.ConfigFile, "config", "c", "", "YAML configuration file")
	fs.BoolVar(&flags.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := def
	if flags.ConfigFile != "" {
		if err := cfg.load(flags.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg.ConfigFile = flags.ConfigFile
	cfg.ShowVersion = flags.ShowVersion

	if fs.Changed("port") {
		cfg.Port = flags.Port
	}
	if fs.Changed("host") {
		cfg.Host = flags.Host
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if fs.Changed("target") {
		cfg.Targets = flags.Targets
	}
	if fs.Changed("any") {
		cfg.Any = flags.Any
	}
	if fs.Changed("poll-interval") {
		cfg.PollInterval = flags.PollInterval
	}
	if fs.Changed("advertise") {
		cfg.Advertise = flags.Advertise
	}
	if fs.Changed("advertise-name") {
		cfg.AdvertiseName = flags.AdvertiseName
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll interval %s is negative", c.PollInterval)
	}
	return nil
}

// Level returns the logrus level for LogLevel, defaulting to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("Host: %s, Port: %d, LogLevel: %s, Targets: %v, Any: %t, PollInterval: %s, Advertise: %t",
		c.Host, c.Port, c.LogLevel, c.Targets, c.Any, c.PollInterval, c.Advertise)
}
