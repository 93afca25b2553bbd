package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikesmithlab/shaker/internal/debug"
	"github.com/mikesmithlab/shaker/internal/store/trialdb"
	"github.com/mikesmithlab/shaker/internal/store/triallog"
)

var trialsOpts struct {
	run  string
	best int
	log  bool
}

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "Show recorded levelling runs and trials",
	Long: "List the runs in the trial database, newest first. --run shows the trials of one run, --best the " +
		"lowest cost trials over all runs and --log the rows of the CSV trial log.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if trialsOpts.log {
			rows, err := triallog.New(cfg.Paths.TrialLog).ReadAll()
			if err != nil {
				return err
			}
			return printRows(out, rows)
		}

		db, err := trialdb.Open(cfg.Paths.TrialDB)
		if err != nil {
			return err
		}
		defer func() { debug.Error(db.Close()) }()

		switch {
		case trialsOpts.run != "":
			trials, err := db.RunTrials(trialsOpts.run)
			if err != nil {
				return err
			}
			return printTrials(out, trials)
		case trialsOpts.best > 0:
			trials, err := db.Best(trialsOpts.best)
			if err != nil {
				return err
			}
			return printTrials(out, trials)
		default:
			runs, err := db.Runs()
			if err != nil {
				return err
			}
			return printRuns(out, runs)
		}
	},
}

func init() {
	f := trialsCmd.Flags()
	f.StringVar(&trialsOpts.run, "run", "", "show the trials of this run id")
	f.IntVar(&trialsOpts.best, "best", 0, "show the n lowest cost trials")
	f.BoolVar(&trialsOpts.log, "log", false, "show the CSV trial log instead of the database")
	trialsCmd.MarkFlagsMutuallyExclusive("run", "best", "log")
}

func printRuns(w io.Writer, runs []trialdb.Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTRIALS\tBEST COST")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3f\n", r.RunID, r.StartedAt.Format(time.DateTime), r.Trials, r.BestCost)
	}
	return tw.Flush()
}

func printTrials(w io.Writer, trials []trialdb.Trial) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\t#\tX\tY\tCOST\t±\tBATCH\tCOM")
	for _, t := range trials {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.3f\t%.3f\t%d\t(%.1f, %.1f)\n",
			shortID(t.RunID), t.Iteration, t.X, t.Y, t.Cost, t.Fluctuation, t.BatchSize, t.MeanX, t.MeanY)
	}
	return tw.Flush()
}

func printRows(w io.Writer, rows []triallog.Row) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "X\tY\tCOST\t±")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%.3f\t%.3f\n", r.X, r.Y, r.Cost, r.Fluctuation)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
