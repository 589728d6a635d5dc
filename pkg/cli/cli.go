package cli

import (
	"errors"
	"fmt"
	"time"

	urfave "github.com/urfave/cli/v2"

	"github.com/dmdmdm-nz/netmond/pkg/version"
)

const (
	FlagLogLevel         = "log-level"
	FlagMetricsAddress   = "metrics-address"
	FlagMetricsPath      = "metrics-path"
	FlagMaxReceiveCycles = "max-receive-cycles"
	FlagSetupAttempts    = "setup-attempts"
	FlagRetryMaxDelay    = "retry-max-delay"
)

// Config holds the application configuration from CLI flags
type Config struct {
	LogLevel         string
	MetricsAddress   string
	MetricsPath      string
	MaxReceiveCycles int
	SetupAttempts    uint
	RetryMaxDelay    time.Duration
}

// NewApp builds the command line application. run is called with the parsed
// configuration.
func NewApp(run func(cfg *Config) error) *urfave.App {
	app := urfave.NewApp()
	app.Name = "netmond"
	app.Usage = "Reports link, address and route changes from the Linux kernel"
	app.Version = version.Version

	app.Flags = []urfave.Flag{
		&urfave.StringFlag{
			Name:    FlagLogLevel,
			Value:   "info",
			Usage:   "Log level (trace, debug, info, warn, error)",
			EnvVars: []string{"NETMOND_LOG_LEVEL"},
		},
		&urfave.StringFlag{
			Name:    FlagMetricsAddress,
			Value:   "",
			Usage:   "Address to serve Prometheus metrics on, empty to disable",
			EnvVars: []string{"NETMOND_METRICS_ADDRESS"},
		},
		&urfave.StringFlag{
			Name:    FlagMetricsPath,
			Value:   "/metrics",
			Usage:   "HTTP path for Prometheus metrics",
			EnvVars: []string{"NETMOND_METRICS_PATH"},
		},
		&urfave.IntFlag{
			Name:    FlagMaxReceiveCycles,
			Value:   0,
			Usage:   "Datagrams read per wait before giving up, 0 for no limit",
			EnvVars: []string{"NETMOND_MAX_RECEIVE_CYCLES"},
		},
		&urfave.UintFlag{
			Name:    FlagSetupAttempts,
			Value:   5,
			Usage:   "Attempts to open the netlink socket before exiting, 0 to retry forever",
			EnvVars: []string{"NETMOND_SETUP_ATTEMPTS"},
		},
		&urfave.DurationFlag{
			Name:    FlagRetryMaxDelay,
			Value:   30 * time.Second,
			Usage:   "Upper bound of the backoff between socket setup attempts",
			EnvVars: []string{"NETMOND_RETRY_MAX_DELAY"},
		},
	}

	app.Action = func(c *urfave.Context) error {
		cfg, err := configFromContext(c)
		if err != nil {
			return err
		}
		return run(cfg)
	}

	return app
}

func init() {
	urfave.VersionPrinter = func(c *urfave.Context) {
		fmt.Fprintf(c.App.Writer, "netmond version %s (commit: %s, built at: %s)\n",
			version.Version,
			version.CommitHash,
			version.BuildTime)
	}
}

func configFromContext(c *urfave.Context) (*Config, error) {
	cfg := &Config{
		LogLevel:         c.String(FlagLogLevel),
		MetricsAddress:   c.String(FlagMetricsAddress),
		MetricsPath:      c.String(FlagMetricsPath),
		MaxReceiveCycles: c.Int(FlagMaxReceiveCycles),
		SetupAttempts:    c.Uint(FlagSetupAttempts),
		RetryMaxDelay:    c.Duration(FlagRetryMaxDelay),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the flag parser cannot.
func (c *Config) Validate() error {
	var errs []error
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid %s %q", FlagLogLevel, c.LogLevel))
	}
	if c.MaxReceiveCycles < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", FlagMaxReceiveCycles))
	}
	if c.RetryMaxDelay < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", FlagRetryMaxDelay))
	}
	if c.MetricsAddress != "" && (c.MetricsPath == "" || c.MetricsPath[0] != '/') {
		errs = append(errs, fmt.Errorf("%s must start with /", FlagMetricsPath))
	}
	return errors.Join(errs...)
}

// String returns a string representation of the Config
func (c *Config) String() string {
	return fmt.Sprintf("LogLevel: %s, MetricsAddress: %q, MetricsPath: %s, MaxReceiveCycles: %d, SetupAttempts: %d, RetryMaxDelay: %s",
		c.LogLevel, c.MetricsAddress, c.MetricsPath, c.MaxReceiveCycles, c.SetupAttempts, c.RetryMaxDelay)
}
