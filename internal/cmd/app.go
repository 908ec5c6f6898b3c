package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/internal/config"
	"github.com/3leaps/cadence/internal/observability"
	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/activity/aggregate"
	"github.com/3leaps/cadence/pkg/activity/github"
	"github.com/3leaps/cadence/pkg/generate"
	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/notify"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/provider/file"
	"github.com/3leaps/cadence/pkg/provider/s3"
	"github.com/3leaps/cadence/pkg/retry"
	"github.com/3leaps/cadence/pkg/runner"
	"github.com/3leaps/cadence/pkg/slot"
)

// app is everything one command invocation needs. Built per invocation
// from the loaded configuration.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	store     provider.Store
	storeName string

	jobs   *jobconfig.File
	ledger *ledger.Ledger
	runner *runner.Runner

	invocationID string
}

type setupOpts struct {
	// ledger opens the run ledger when the config enables it.
	ledger bool

	// runner builds sources, generators and the notifier.
	runner bool
}

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(ctx, cfgFile, flagOverrides())
	if err != nil {
		var ve *config.ValidationError
		if errors.As(err, &ve) {
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
		}
		if cfgFile != "" && errors.Is(err, os.ErrNotExist) {
			return nil, exitError(foundry.ExitFileNotFound, "Config file not found", err)
		}
		return nil, exitError(foundry.ExitFileReadError, "Failed to load configuration", err)
	}
	return cfg, nil
}

func setup(cmd *cobra.Command, opts setupOpts) (*app, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	logger, err := observability.NewLogger(observability.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	a := &app{cfg: cfg, logger: logger, invocationID: uuid.NewString()}

	a.store, err = newStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open storage", err)
	}
	a.storeName = cfg.Storage.Backend

	a.jobs, err = jobconfig.Load(cfg.JobsFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(foundry.ExitFileNotFound, "Jobs file not found", err)
		}
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid jobs file", err)
	}

	if opts.ledger && cfg.Ledger.Enabled {
		a.ledger, err = ledger.Open(ctx, ledger.Config{Path: cfg.Ledger.Path, URL: cfg.Ledger.URL, AuthToken: cfg.Ledger.AuthToken})
		if err != nil {
			// The ledger is observational; runs proceed without it.
			logger.Warn("Run ledger unavailable", zap.String("path", cfg.Ledger.Path), zap.Error(err))
			a.ledger = nil
		}
	}

	if opts.runner {
		if a.runner, err = a.newRunner(); err != nil {
			a.close()
			return nil, exitError(foundry.ExitInvalidArgument, "Invalid runner configuration", err)
		}
	}

	logger.Debug("Configuration loaded",
		zap.String("config_file", cfg.File),
		zap.String("jobs_file", cfg.JobsFile),
		zap.String("store", a.storeName),
		zap.Int("jobs", len(a.jobs.Jobs)),
	)
	return a, nil
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("close ledger", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *app) job(id string) (*jobconfig.Job, error) {
	job, ok := a.jobs.Lookup(id)
	if !ok {
		return nil, exitError(foundry.ExitInvalidArgument, "Unknown job", fmt.Errorf("no job %q in %s", id, a.cfg.JobsFile))
	}
	return job, nil
}

// atFor resolves an --at value in job's timezone. Empty means now.
func atFor(job *jobconfig.Job, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Now(), nil
	}
	t, err := slot.ParseAt(value, job.Schedule, job.Location())
	if err != nil {
		return time.Time{}, exitError(foundry.ExitInvalidArgument, "Invalid --at value", err)
	}
	return t, nil
}

func (a *app) newRunner() (*runner.Runner, error) {
	locks := index.NewLocker()
	cfg := a.cfg

	gh := github.New(github.Config{
		BaseURL:     cfg.GitHub.APIURL,
		Token:       cfg.GitHub.Token,
		RateLimit:   cfg.GitHub.RateLimit,
		Concurrency: cfg.GitHub.Concurrency,
		Retry:       policy(cfg.GitHub.MaxRetries),
	}, a.logger.Named("github"))

	gens := generate.Set{Digest: generate.Digest{}}
	if strings.TrimSpace(cfg.LLM.APIKey) != "" {
		llm, err := generate.NewOpenAI(generate.OpenAIConfig{
			BaseURL:   cfg.LLM.BaseURL,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.LLM.MaxTokens,
			Timeout:   cfg.LLM.Timeout,
			Retry:     policy(cfg.LLM.MaxRetries),
		})
		if err != nil {
			return nil, err
		}
		gens.LLM = llm
	}

	deps := runner.Deps{
		Store: a.store,
		Sources: map[jobconfig.Kind]activity.Source{
			jobconfig.KindActivity:  gh,
			jobconfig.KindAggregate: aggregate.New(a.store, cfg.Storage.Prefix, a.logger.Named("aggregate")),
		},
		Generators: gens,
		Notifier:   notify.NewWebhook(&http.Client{Timeout: cfg.Notify.Timeout}, policy(cfg.Notify.MaxRetries)),
		Locks:      locks,
	}
	if a.ledger != nil {
		deps.Ledger = a.ledger
	}
	return runner.New(deps, runner.Config{
		Prefix:      cfg.Storage.Prefix,
		Concurrency: cfg.Scheduler.Concurrency,
	}, a.logger)
}

func policy(attempts int) retry.Policy {
	p := retry.Default
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

// newStore opens the configured object store. Throttled and unavailable
// calls are retried.
func newStore(ctx context.Context, sc config.StorageConfig) (provider.Store, error) {
	var (
		store provider.Store
		err   error
	)
	switch sc.Backend {
	case "", "file":
		store, err = file.New(file.Config{BaseDir: sc.BaseDir})
	case "s3":
		store, err = s3.New(ctx, s3.Config{
			Bucket:         sc.Bucket,
			Region:         sc.Region,
			Endpoint:       sc.Endpoint,
			Profile:        sc.Profile,
			ForcePathStyle: sc.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", sc.Backend)
	}
	if err != nil {
		return nil, err
	}
	return provider.WithRetry(store, policy(sc.MaxRetries)), nil
}
