package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/hw/serial"
	"github.com/mikesmithlab/shaker/internal/hw/shaker"
)

var dutyOpts struct {
	record bool
	hold   time.Duration
}

var dutyCmd = &cobra.Command{
	Use:   "duty <value>",
	Short: "Set the shaker duty cycle (0-999)",
	Long: "Set the duty cycle and keep shaking until interrupted, or for --for. The supply is stopped " +
		"and handed back to manual control on exit.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := parseDuty(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r := newRig(cfg, config.State{})
		defer func() { debug.Error(r.Close()) }()

		drv, err := r.openShaker()
		if err != nil {
			return err
		}
		if dutyOpts.record {
			err = drv.SetDutyAndRecord(value)
		} else {
			err = drv.SetDuty(value)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "duty %03d (%s mode)\n", drv.Duty(), drv.Mode())
		return hold(cmd.Context(), dutyOpts.hold)
	},
}

var rampOpts struct {
	rate      float64
	step      int
	record    bool
	stopAtEnd bool
	hold      time.Duration
}

var rampCmd = &cobra.Command{
	Use:   "ramp <start> <stop>",
	Short: "Ramp the shaker duty cycle from start to stop",
	Long: "Apply duty values from start to stop inclusive at --rate values per second. Steps that cannot " +
		"be sent in time are reported as timing violations; none are skipped.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseDuty(args[0])
		if err != nil {
			return err
		}
		stop, err := parseDuty(args[1])
		if err != nil {
			return err
		}
		if rampOpts.rate <= 0 {
			return fmt.Errorf("rate must be positive, got %g", rampOpts.rate)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r := newRig(cfg, config.State{})
		defer func() { debug.Error(r.Close()) }()

		drv, err := r.openShaker()
		if err != nil {
			return err
		}
		violations, err := drv.Ramp(start, stop, rampOpts.rate, shaker.RampOptions{
			StepSize:  rampOpts.step,
			Record:    rampOpts.record,
			StopAtEnd: rampOpts.stopAtEnd,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ramp %d -> %d done, duty %03d\n", start, stop, drv.Duty())
		for _, v := range violations {
			fmt.Fprintf(out, "  timing violation: %s\n", v)
		}
		if rampOpts.hold == 0 || rampOpts.stopAtEnd {
			return nil
		}
		return hold(cmd.Context(), rampOpts.hold)
	},
}

func init() {
	dutyCmd.Flags().BoolVar(&dutyOpts.record, "record", false, "also toggle the camera recording")
	dutyCmd.Flags().DurationVar(&dutyOpts.hold, "for", 0, "shake for this long (0 = until interrupted)")

	f := rampCmd.Flags()
	f.Float64Var(&rampOpts.rate, "rate", 10, "duty values per second")
	f.IntVar(&rampOpts.step, "step", 1, "duty increment")
	f.BoolVar(&rampOpts.record, "record", false, "record the ramp with the camera")
	f.BoolVar(&rampOpts.stopAtEnd, "stop-at-end", false, "set the duty to 0 when the ramp completes")
	f.DurationVar(&rampOpts.hold, "hold", 0, "keep the final duty for this long (-1s = until interrupted)")
}

// hold blocks for d, or until interrupted when d is not positive.
func hold(ctx context.Context, d time.Duration) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if d > 0 {
		var c context.CancelFunc
		ctx, c = context.WithTimeout(ctx, d)
		defer c()
		debug.Info("holding for %v", d)
	} else {
		debug.Info("holding until interrupted")
	}
	<-ctx.Done()
	return nil
}

func parseDuty(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("duty %q is not an integer", s)
	}
	if v < shaker.MinDuty || v > shaker.MaxDuty {
		return 0, fmt.Errorf("%w: %d", shaker.ErrDutyOutOfRange, v)
	}
	return v, nil
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List the serial ports present on this machine",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}
