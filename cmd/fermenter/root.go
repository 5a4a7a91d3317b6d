package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/fermenter/internal/config"
	"github.com/sweeney/fermenter/internal/logger"
	"github.com/sweeney/fermenter/internal/relay"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	logLevel   string
	httpAddr   string
	broker     string
	setpoint   float64
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "fermenter",
		Short: "Run the fermentation temperature controller.",
		Long: `Runs the fermentation fridge controller.

The beer setpoint drives a fridge air target; the compressor relay is switched
to hold the fridge air around that target, with minimum on and off times to
protect the compressor. State is published to MQTT and served on a web page.
Settings come from the YAML configuration file; flags override it.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.Flags().StringVar(&opts.httpAddr, "http", "", "HTTP dashboard address (overrides config)")
	root.Flags().StringVar(&opts.broker, "broker", "", "MQTT broker address (overrides config)")
	root.Flags().Float64Var(&opts.setpoint, "setpoint", config.Default().Control.Setpoint, "beer setpoint in °C (overrides config)")

	root.AddCommand(newReadCmd(opts), newInitCmd(opts), newVersionCmd())
	return root
}

// loadConfig reads the configuration file, applies flag overrides and sets
// the log level. A missing default file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config"):
		logger.Warnf(cmd.Context(), "config file %s not found, using defaults", opts.configPath)
		cfg = config.Default()
	default:
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if flags.Changed("http") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if flags.Changed("broker") {
		cfg.MQTT.Broker = opts.broker
	}
	if flags.Changed("setpoint") {
		cfg.Control.Setpoint = opts.setpoint
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logger.SetLevel(level)
	return cfg, nil
}

func newReadCmd(opts *options) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Print the current sensor readings and exit.",
		Long: `Opens the configured temperature sensors, prints one reading from each and
exits. Tilt readings arrive over MQTT, so the command waits for a beacon.
Relays are not touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return printReadings(cmd.Context(), cmd.OutOrStdout(), cfg, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for a first reading")
	return cmd
}

func newInitCmd(opts *options) *cobra.Command {
	var heater, force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file.",
		Long: `Writes the built-in defaults to the configuration file so they can be edited.
With --heater a heater relay is added on its default pin. An existing file is
left alone unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(opts.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", opts.configPath)
			}

			cfg := config.Default()
			if heater {
				cfg.HeaterRelay = &config.Relay{
					Type:       config.RelayGPIO,
					Chip:       cfg.CompressorRelay.Chip,
					Pin:        relay.DefaultPinHeater,
					ActiveHigh: true,
				}
			}
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "wrote", opts.configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&heater, "heater", false, "include a heater relay")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "fermenter", version)
		},
	}
}
