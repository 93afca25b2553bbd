package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
)

var moveRelative bool

var moveCmd = &cobra.Command{
	Use:   "move <x> <y>",
	Short: "Move the motors to an absolute position",
	Long: "Move the motors to (x, y) in the motor frame. With --relative the values are offsets from the " +
		"current position. The new position is saved once both motors confirm. Put -- before negative " +
		"values: shaker move -- -40 25.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, y, err := parseXY(args[0], args[1])
		if err != nil {
			return err
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r := newRig(cfg, config.State{})
		defer func() { debug.Error(r.Close()) }()

		ctrl, err := r.openMotors()
		if err != nil {
			return err
		}
		from := ctrl.CurrentPosition()
		if moveRelative {
			err = ctrl.Jog(x, y)
		} else {
			err = ctrl.MoveTo(x, y)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "moved %v -> %v\n", from, ctrl.CurrentPosition())
		return nil
	},
}

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Print the saved motor position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		p, err := motion.NewFilePositionStore(cfg.Paths.Position).Load()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), motion.FormatPosition(p))
		return nil
	},
}

var originCmd = &cobra.Command{
	Use:   "origin",
	Short: "Declare the current motor position to be (0,0)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r := newRig(cfg, config.State{})
		defer func() { debug.Error(r.Close()) }()

		ctrl, err := r.openMotors()
		if err != nil {
			return err
		}
		was := ctrl.CurrentPosition()
		if err := ctrl.SetOrigin(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "origin set (was %v)\n", was)
		return nil
	},
}

func init() {
	moveCmd.Flags().BoolVar(&moveRelative, "relative", false, "treat x and y as offsets from the current position")
}

func parseXY(xs, ys string) (int, int, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return 0, 0, fmt.Errorf("x %q is not an integer", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return 0, 0, fmt.Errorf("y %q is not an integer", ys)
	}
	return x, y, nil
}
