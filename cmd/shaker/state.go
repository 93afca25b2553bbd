package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Manage the target boundary",
}

var boundarySetCmd = &cobra.Command{
	Use:   "set <x,y> <x,y> <x,y>...",
	Short: "Set the boundary polygon in image pixels",
	Long: "Set the boundary of the experimental region as at least three x,y image points. The levelling " +
		"target is their centroid.",
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pts, err := parsePoints(args)
		if err != nil {
			return err
		}
		s, changed, err := updateState(cmd, config.StatePatch{Boundary: pts})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "boundary of %d points, centroid (%.2f, %.2f)%s\n",
			len(s.Boundary.Points), s.Boundary.Centroid.X, s.Boundary.Centroid.Y, unchangedNote(changed))
		return nil
	},
}

var boundsCmd = &cobra.Command{
	Use:   "bounds",
	Short: "Manage the motor search bounds",
}

var boundsSetCmd = &cobra.Command{
	Use:   "set <x1> <y1> <x2> <y2>",
	Short: "Set the rectangle of motor positions the optimizer may try",
	Long: "Set the search bounds from two opposite corners in motor steps. Levelling is refused until " +
		"bounds are set. Put -- before negative values: shaker bounds set -- -100 -100 100 100.",
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		x1, y1, err := parseXY(args[0], args[1])
		if err != nil {
			return err
		}
		x2, y2, err := parseXY(args[2], args[3])
		if err != nil {
			return err
		}
		b := geometry.NewSearchBounds(x1, y1, x2, y2)
		if err := b.Validate(); err != nil {
			return err
		}
		if b.IsZero() {
			return fmt.Errorf("search bounds must not be empty")
		}
		_, changed, err := updateState(cmd, config.StatePatch{SearchBounds: &b})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "search bounds x [%d, %d] y [%d, %d]%s\n",
			b.X.Min, b.X.Max, b.Y.Min, b.Y.Max, unchangedNote(changed))
		return nil
	},
}

var warmupOpts struct {
	initialDuty, measureDuty int
	wait, ramp, measure      time.Duration
}

var warmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Manage the shaking protocol run before each picture",
}

var warmupSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the warm-up protocol; unset flags keep their value",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := config.LoadState(cfg.Paths.State)
		if err != nil {
			return err
		}
		w := applyWarmupFlags(s.Warmup, cmd)
		s, changed, err := saveState(cfg, s.Merge(config.StatePatch{Warmup: &w}))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "warm-up %+v%s\n", s.Warmup, unchangedNote(changed))
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the saved rig state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := config.LoadState(cfg.Paths.State)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(s)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if s.Defaulted {
			fmt.Fprintf(out, "# %s not found, showing defaults\n", cfg.Paths.State)
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	boundaryCmd.AddCommand(boundarySetCmd)
	boundsCmd.AddCommand(boundsSetCmd)
	warmupCmd.AddCommand(warmupSetCmd)

	f := warmupSetCmd.Flags()
	f.IntVar(&warmupOpts.initialDuty, "initial-duty", 0, "duty shaken first to reset the packing")
	f.IntVar(&warmupOpts.measureDuty, "measure-duty", 0, "duty held while measuring")
	f.DurationVar(&warmupOpts.wait, "wait", 0, "time at the initial duty")
	f.DurationVar(&warmupOpts.ramp, "ramp", 0, "time to ramp down to the measuring duty (0 = step)")
	f.DurationVar(&warmupOpts.measure, "measure", 0, "settling time at the measuring duty before the picture")
}

// updateState loads the rig state, applies p and saves it.
func updateState(cmd *cobra.Command, p config.StatePatch) (config.State, bool, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.State{}, false, err
	}
	s, err := config.LoadState(cfg.Paths.State)
	if err != nil {
		return config.State{}, false, err
	}
	return saveState(cfg, s.Merge(p))
}

func saveState(cfg *config.Config, s config.State) (config.State, bool, error) {
	changed, err := config.SaveState(cfg.Paths.State, s)
	if err != nil {
		return s, false, err
	}
	return s, changed, nil
}

func applyWarmupFlags(w config.WarmupState, cmd *cobra.Command) config.WarmupState {
	f := cmd.Flags()
	if f.Changed("initial-duty") {
		w.InitialDuty = warmupOpts.initialDuty
	}
	if f.Changed("measure-duty") {
		w.MeasureDuty = warmupOpts.measureDuty
	}
	if f.Changed("wait") {
		w.WaitTimeMs = int(warmupOpts.wait.Milliseconds())
	}
	if f.Changed("ramp") {
		w.RampTimeMs = int(warmupOpts.ramp.Milliseconds())
	}
	if f.Changed("measure") {
		w.MeasureTimeMs = int(warmupOpts.measure.Milliseconds())
	}
	return w
}

// parsePoints reads "x,y" arguments.
func parsePoints(args []string) ([]geometry.Point, error) {
	pts := make([]geometry.Point, 0, len(args))
	for _, a := range args {
		xs, ys, ok := strings.Cut(a, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: want x,y", a)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: bad x: %w", a, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: bad y: %w", a, err)
		}
		pts = append(pts, geometry.Point{X: x, Y: y})
	}
	return pts, nil
}

func unchangedNote(changed bool) string {
	if changed {
		return ""
	}
	return " (unchanged)"
}
