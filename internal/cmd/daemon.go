package cmd

import (
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/output"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon [job-pattern...]",
	Short: "Tick on a cron schedule until interrupted",
	Long: `Run tick on scheduler.tick (a cron spec such as "@every 5m" or
"*/10 * * * *") until SIGINT or SIGTERM.

The jobs file is reloaded before every tick; an invalid edit is logged and
the previous definitions stay in effect. A tick that is still running when
the next one fires is skipped, never overlapped.

Examples:
  cadence daemon
  cadence daemon --tick '@every 1m' 'acme-*'`,
	RunE: runDaemon,
}

var (
	daemonTick   string
	daemonRunNow bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().StringVar(&daemonTick, "tick", "", "Cron spec overriding scheduler.tick")
	daemonCmd.Flags().BoolVar(&daemonRunNow, "run-now", true, "Tick once at startup")
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{ledger: true, runner: true})
	if err != nil {
		return err
	}
	defer a.close()

	spec := a.cfg.Scheduler.Tick
	if daemonTick != "" {
		spec = daemonTick
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid tick schedule", err)
	}
	if _, err := a.jobs.Select(args); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job selection", err)
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()

	jobs := &jobsReloader{path: a.cfg.JobsFile, current: a.jobs, logger: a.logger}
	tick := func() {
		selected, err := jobs.reload().Select(args)
		if err != nil {
			a.logger.Error("Job selection failed", zap.Error(err))
			return
		}
		if err := tickOnce(ctx, a.runner, selected, time.Now(), w, a.logger); err != nil {
			a.logger.Error("Tick output failed", zap.Error(err))
		}
	}

	logger := cronLogger{s: a.logger.Named("cron").Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, tick); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid tick schedule", err)
	}

	a.logger.Info("Daemon started", zap.String("tick", spec), zap.Strings("patterns", args))
	if daemonRunNow {
		tick()
	}
	c.Start()
	<-ctx.Done()

	a.logger.Info("Daemon stopping; waiting for the running tick")
	<-c.Stop().Done()
	return nil
}

// jobsReloader rereads the jobs file, keeping the last valid version.
type jobsReloader struct {
	mu      sync.Mutex
	path    string
	current *jobconfig.File
	logger  *zap.Logger
}

func (r *jobsReloader) reload() *jobconfig.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := jobconfig.Load(r.path)
	if err != nil {
		r.logger.Warn("Jobs file reload failed; keeping previous definitions", zap.String("path", r.path), zap.Error(err))
		return r.current
	}
	r.current = f
	return f
}
