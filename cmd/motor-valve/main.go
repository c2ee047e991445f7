// Command motor-valve drives time-estimated motorized valves from MQTT and
// HTTP commands and publishes their state.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sweeney/motor-valve/internal/config"
	"github.com/sweeney/motor-valve/internal/logger"
)

var (
	configPath string
	logLevel   string
	forceFake  bool
)

var rootCmd = &cobra.Command{
	Use:   "motor-valve",
	Short: "Drive motorized valves by travel time and publish their state.",
	Long: `Runs the valve daemon: every valve's open/close relays are sequenced from
the configured travel time, commands arrive on MQTT and HTTP, and state
changes are published as retained MQTT messages.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the valve table.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		printValves(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&forceFake, "fake", false, "use fake outputs instead of hardware")
	rootCmd.AddCommand(checkCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.Errorf("fatal: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	lvl, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	logger.SetLevel(lvl)
	if forceFake {
		cfg.ForceFake()
	}
	return cfg, nil
}

func printValves(out io.Writer, cfg *config.Config) {
	drivers := make(map[string]string, len(cfg.Outputs))
	for _, o := range cfg.Outputs {
		drivers[o.Name] = o.Driver
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VALVE\tOUTPUT\tDRIVER\tOPEN\tCLOSE\tRANGE\tTRAVEL\tCALIBRATE")
	for _, v := range cfg.Valves {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d-%d\t%v\t%s\n",
			v.Name, v.Output, drivers[v.Output], v.OpenPin, v.ClosePin,
			v.StartAngle, v.MaxAngle, v.TravelTime, v.CalibrationDirection)
	}
	tw.Flush()
}
