package main

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
)

var (
	cfgPath    string
	debugLevel int
	mockFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "shaker",
	Short: "Level a vibrating granular-matter table",
	Long: "Drive the shaker power supply and the two levelling stepper motors, and level the table " +
		"by moving the feet until the particle centre of mass sits on the boundary centroid.",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("shaker: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join("configs", "shaker.yaml"), "path to config file")
	rootCmd.PersistentFlags().IntVar(&debugLevel, "debug", -1, "debug level 0-4, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&mockFlag, "mock", false, "simulate all hardware, overrides the config file")

	rootCmd.AddCommand(levelCmd, dutyCmd, rampCmd, moveCmd, positionCmd, originCmd,
		boundaryCmd, boundsCmd, warmupCmd, stateCmd, trialsCmd, serveCmd, portsCmd)
}

// loadConfig reads the settings file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	applyGlobalOverrides(cfg, debugLevel, cmd.Flags().Changed("mock"), mockFlag)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock hardware", cfg.Defaults.MockHardware)
	return cfg, nil
}

// applyGlobalOverrides mutates cfg with the persistent flags. A negative
// debug level means "use the config file".
func applyGlobalOverrides(cfg *config.Config, level int, mockSet, mock bool) {
	if level >= 0 {
		cfg.Defaults.DebugLevel = min(level, debug.LevelTrace)
	}
	if mockSet {
		cfg.Defaults.MockHardware = mock
	}
}
