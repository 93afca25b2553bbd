package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/config"
	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/logic/balance"
	"github.com/mikesmithlab/shaker/internal/logic/geometry"
	"github.com/mikesmithlab/shaker/internal/logic/motion"
	"github.com/mikesmithlab/shaker/internal/store/trialdb"
	"github.com/mikesmithlab/shaker/internal/store/triallog"
	"github.com/mikesmithlab/shaker/internal/web"
)

var errNoBounds = errors.New("search bounds are not set; run 'shaker bounds set' first")

var (
	levelReq       web.LevelRequest
	levelWarmStart string
)

var levelCmd = &cobra.Command{
	Use:   "level",
	Short: "Level the table",
	Long: "Run the optimisation loop: move the motors, shake, measure the centre of mass and score its " +
		"distance to the boundary centroid, within the call budget. Each trial is appended to the trial log " +
		"and the trial database.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := web.ValidateLevelRequest(levelReq); err != nil {
			return fmt.Errorf("invalid override: %w", err)
		}
		if levelWarmStart != "" {
			cfg.Level.WarmStart = levelWarmStart
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		s, err := openSession(cfg)
		if err != nil {
			return err
		}
		defer func() { debug.Error(s.Close()) }()

		best, err := s.level(ctx, levelReq)
		if best.Trials > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: best (%d,%d) cost %.3f ± %.3f at trial %d of %d\n",
				best.RunID, best.X, best.Y, best.Cost, best.Fluctuation, best.Iteration, best.Trials)
		}
		return err
	},
}

func init() {
	f := levelCmd.Flags()
	f.IntVar(&levelReq.InitialBatchSize, "batch", 0, "initial number of pictures per trial (0 = config)")
	f.IntVar(&levelReq.CallBudget, "budget", 0, "number of trials (0 = config)")
	f.Float64Var(&levelReq.Tolerance, "tolerance", 0, "cost in pixels under which the batch stops growing (0 = config)")
	f.IntVar(&levelReq.MaxBatchSize, "max-batch", 0, "cap on the batch size (0 = config)")
	f.BoolVar(&levelReq.MoveToBest, "move-to-best", false, "move the motors to the best trial when done")
	f.StringVar(&levelWarmStart, "warm-start", "", "seed the optimizer from the trial log (last), the trial database (best) or not at all (none)")
}

// session is the rig plus everything a levelling run records into.
type session struct {
	cfg      *config.Config
	state    config.State
	rig      *rig
	motors   *motion.Controller
	balancer *balance.Balancer
	log      *triallog.Log
	db       *trialdb.Store
}

// openSession loads the rig state, opens the hardware and the trial
// stores, and initialises the balancer. Levelling is refused until search
// bounds have been set.
func openSession(cfg *config.Config) (*session, error) {
	state, err := config.LoadState(cfg.Paths.State)
	if err != nil {
		return nil, err
	}
	if state.SearchBounds.IsZero() {
		return nil, errNoBounds
	}
	debug.PrintStruct("Rig state", state)

	s := &session{cfg: cfg, state: state, rig: newRig(cfg, state), log: triallog.New(cfg.Paths.TrialLog)}
	fail := func(err error) (*session, error) {
		debug.Error(s.Close())
		return nil, err
	}

	debug.Step(1, "Opening trial database")
	if s.db, err = trialdb.Open(cfg.Paths.TrialDB); err != nil {
		return fail(fmt.Errorf("open trial database: %w", err))
	}
	debug.Step(2, "Initializing motors")
	if s.motors, err = s.rig.openMotors(); err != nil {
		return fail(err)
	}
	debug.Step(3, "Initializing measurement")
	m, err := s.rig.openMeasurer(s.motors)
	if err != nil {
		return fail(err)
	}

	s.balancer = balance.New(s.motors, m,
		balance.NewOptimizerFactory(cfg.Level.Optimizer, cfg.OptimizerOptions()),
		balance.RecorderFunc(s.appendLog),
		balance.RecorderFunc(s.recordDB),
	)
	if err := s.balancer.Initialize(geometry.NewBoundary(state.Boundary.Points), state.SearchBounds); err != nil {
		return fail(err)
	}
	debug.Value("Centroid", s.balancer.Centroid())
	return s, nil
}

func (s *session) appendLog(t balance.Trial) error {
	return s.log.Append(triallog.Row{X: t.X, Y: t.Y, Cost: t.Cost, Fluctuation: t.Fluctuation})
}

func (s *session) recordDB(t balance.Trial) error {
	return s.db.Record(trialdb.Trial(t))
}

// Close releases the hardware and the database.
func (s *session) Close() error {
	var dbErr error
	if s.db != nil {
		dbErr = s.db.Close()
	}
	return errors.Join(s.rig.Close(), dbErr)
}

// level runs one levelling session with req overriding the configured
// defaults, then optionally moves to the best trial.
func (s *session) level(ctx context.Context, req web.LevelRequest) (balance.BestResult, error) {
	p, err := s.params(req)
	if err != nil {
		return balance.BestResult{}, err
	}
	best, err := s.balancer.Level(ctx, p)
	if err != nil {
		return best, err
	}
	if req.MoveToBest && best.Trials > 0 {
		debug.Info("moving to best trial (%d,%d)", best.X, best.Y)
		if err := s.motors.MoveTo(best.X, best.Y); err != nil {
			return best, fmt.Errorf("move to best: %w", err)
		}
	}
	return best, nil
}

// params merges the request into the configured level defaults and adds
// the warm-start seeds.
func (s *session) params(req web.LevelRequest) (balance.Params, error) {
	p := levelParams(s.cfg.Level, req)
	seeds, err := s.seeds()
	if err != nil {
		return p, err
	}
	p.Seeds = seeds
	return p, nil
}

// levelParams applies the non-zero request fields over the defaults.
func levelParams(c config.LevelConfig, req web.LevelRequest) balance.Params {
	p := balance.Params{
		InitialBatchSize: c.InitialBatchSize,
		CallBudget:       c.CallBudget,
		Tolerance:        c.Tolerance,
		MaxBatchSize:     c.MaxBatchSize,
	}
	if req.InitialBatchSize > 0 {
		p.InitialBatchSize = req.InitialBatchSize
	}
	if req.CallBudget > 0 {
		p.CallBudget = req.CallBudget
	}
	if req.Tolerance > 0 {
		p.Tolerance = req.Tolerance
	}
	if req.MaxBatchSize > 0 {
		p.MaxBatchSize = req.MaxBatchSize
	}
	return p
}

// seeds returns the warm-start points. "last" re-measures the final
// position of the previous run; "best" tells the optimizer the best
// recorded trials without measuring them again.
func (s *session) seeds() ([]balance.Seed, error) {
	switch s.cfg.Level.WarmStart {
	case "last":
		row, err := s.log.Last()
		if errors.Is(err, triallog.ErrEmpty) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("warm start from %s: %w", s.log.Path(), err)
		}
		debug.Info("warm start at last trial (%d,%d)", row.X, row.Y)
		return []balance.Seed{{X: row.X, Y: row.Y}}, nil

	case "best":
		trials, err := s.db.Best(s.cfg.Level.BestSeeds)
		if err != nil {
			return nil, fmt.Errorf("warm start from trial database: %w", err)
		}
		seeds := make([]balance.Seed, 0, len(trials))
		for _, t := range trials {
			seeds = append(seeds, balance.Seed{X: t.X, Y: t.Y, Cost: t.Cost, Known: true})
		}
		debug.Info("warm start with %d recorded trial(s)", len(seeds))
		return seeds, nil

	default:
		return nil, nil
	}
}
