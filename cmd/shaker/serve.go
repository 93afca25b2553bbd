package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/balance"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
	"github.com/mikesmithlab/shaker/internal/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the levelling status page and API",
	Long: "Open the rig and serve GET /status, GET /trials, POST /level and the GET /status/stream event " +
		"stream. One levelling run at a time.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		port := cfg.Defaults.WebPort
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("port must be 1-65535, got %d", port)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer func() { debug.Error(s.Close()) }()

		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		s.balancer.OnTrial = broadcaster.BroadcastTrial

		formDefaults := web.LevelRequest{
			InitialBatchSize: cfg.Level.InitialBatchSize,
			CallBudget:       cfg.Level.CallBudget,
			Tolerance:        cfg.Level.Tolerance,
			MaxBatchSize:     cfg.Level.MaxBatchSize,
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", port), broadcaster, sessionRig{s}, s.level, formDefaults)
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "HTTP port (default from config)")
}

// sessionRig exposes a session to the web handlers.
type sessionRig struct {
	s *session
}

func (r sessionRig) Position() motion.Position        { return r.s.motors.CurrentPosition() }
func (r sessionRig) Centroid() geometry.Point         { return r.s.balancer.Centroid() }
func (r sessionRig) Boundary() geometry.Boundary      { return r.s.balancer.Boundary() }
func (r sessionRig) Bounds() geometry.SearchBounds    { return r.s.state.SearchBounds }
func (r sessionRig) Trials() ([]balance.Trial, error) { return r.s.balancer.History(), nil }
