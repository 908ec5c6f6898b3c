package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/internal/config"
	"github.com/3leaps/cadence/internal/observability"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/preflight"
)

var (
	doctorProvider   string
	doctorJSON       bool
	doctorWriteProbe bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration, the jobs file, storage and
the run ledger, and suggest fixes for common issues.

Examples:
  cadence doctor                 # Full environment check
  cadence doctor --provider s3   # Also check AWS credentials and region
  cadence doctor --write-probe   # Put, read back and delete a probe object
  cadence doctor --json          # One JSONL check record per check`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Emit JSONL check records instead of log lines")
	doctorCmd.Flags().BoolVar(&doctorWriteProbe, "write-probe", false, "Verify storage write and delete permissions with a probe object")
}

// doctorReport collects check outcomes and renders them either as log lines
// or as JSONL check records.
type doctorReport struct {
	ctx    context.Context
	logger *zap.Logger
	w      output.Writer
	checks []output.CheckRecord
}

func (r *doctorReport) add(name string, ok bool, detail string, fields ...zap.Field) {
	rec := output.CheckRecord{Check: name, OK: ok, Detail: detail}
	r.checks = append(r.checks, rec)
	if r.w != nil {
		_ = r.w.WriteCheck(r.ctx, &rec)
		return
	}
	msg := fmt.Sprintf("[%d] Checking %s... ", len(r.checks), name)
	if ok {
		r.logger.Info(msg+"✅ "+detail, fields...)
	} else {
		r.logger.Error(msg+"❌ "+detail, fields...)
	}
}

func (r *doctorReport) failed() int {
	n := 0
	for _, c := range r.checks {
		if !c.OK {
			n++
		}
	}
	return n
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger, err := observability.NewLogger(observability.Config{Level: "info", Format: observability.FormatConsole})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	rep := &doctorReport{ctx: ctx, logger: logger}
	if doctorJSON {
		w := output.NewJSONLWriter(cmd.OutOrStdout(), uuid.NewString(), "")
		defer func() { _ = w.Close() }()
		rep.w = w
	}

	bannerName := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		bannerName = id.BinaryName + " doctor"
	}
	if !doctorJSON {
		logger.Info("=== " + bannerName + " ===")
		logger.Info("Running diagnostic checks...")
	}

	goVersion := runtime.Version()
	rep.add("Go version", goVersion >= "go1.23", goVersion, zap.String("go_version", goVersion))

	version := crucible.GetVersion()
	rep.add("Crucible access", version.Crucible != "", "v"+version.Crucible, zap.String("crucible_version", version.Crucible))
	rep.add("Gofulmen access", version.Gofulmen != "", "v"+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
	rep.add("environment", true, runtime.GOOS+"/"+runtime.GOARCH)

	cfg, cfgErr := loadConfig(ctx)
	if cfgErr != nil {
		rep.add("configuration", false, cfgErr.Error())
	} else {
		detail := "built-in defaults"
		if cfg.File != "" {
			detail = cfg.File
		}
		rep.add("configuration", true, detail, zap.String("config_file", cfg.File))
		mode := preflight.ModeReadSafe
		if doctorWriteProbe {
			mode = preflight.ModeWriteProbe
		}
		doctorAppChecks(ctx, rep, cfg, mode)
	}

	if doctorProvider == "s3" || (cfg != nil && cfg.Storage.Backend == "s3") {
		doctorS3Checks(ctx, rep, cfg)
	}

	failed := rep.failed()
	if !doctorJSON {
		if failed == 0 {
			logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		logger.Info("=== End Diagnostics ===")
	}
	if failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", fmt.Errorf("%d of %d checks failed", failed, len(rep.checks)))
	}
	return nil
}

// doctorAppChecks checks the jobs file, storage and ledger named by cfg.
func doctorAppChecks(ctx context.Context, rep *doctorReport, cfg *config.Config, mode preflight.Mode) {
	if jobs, err := jobconfig.Load(cfg.JobsFile); err != nil {
		rep.add("jobs file", false, err.Error(), zap.String("jobs_file", cfg.JobsFile))
	} else {
		rep.add("jobs file", true, fmt.Sprintf("%s (%d jobs, %d enabled)", cfg.JobsFile, len(jobs.Jobs), len(jobs.Enabled())))
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		rep.add("storage", false, err.Error(), zap.String("backend", cfg.Storage.Backend))
	} else {
		rep.add("storage", true, cfg.Storage.Backend, zap.String("backend", cfg.Storage.Backend))
		pf, _ := preflight.Store(ctx, store, cfg.Storage.Prefix, mode)
		for _, res := range pf.Results {
			detail := res.Method
			if !res.Allowed {
				detail = res.ErrorCode + ": " + res.Detail
			}
			rep.add(res.Capability, res.Allowed, detail, zap.String("backend", cfg.Storage.Backend))
		}
	}

	if !cfg.Ledger.Enabled {
		rep.add("run ledger", true, "disabled")
	} else if l, err := ledger.Open(ctx, ledger.Config{Path: cfg.Ledger.Path, URL: cfg.Ledger.URL, AuthToken: cfg.Ledger.AuthToken}); err != nil {
		rep.add("run ledger", false, err.Error(), zap.String("path", cfg.Ledger.Path))
	} else {
		_ = l.Close()
		rep.add("run ledger", true, cfg.Ledger.Path, zap.String("path", cfg.Ledger.Path))
	}

	if cfg.GitHub.Token == "" {
		rep.add("GitHub token", true, "not set; unauthenticated requests are limited to 60/hour")
	} else {
		rep.add("GitHub token", true, "set")
	}
	if cfg.LLM.APIKey == "" {
		rep.add("LLM generator", true, "not configured; jobs with generator: llm will fail")
	} else {
		rep.add("LLM generator", true, cfg.LLM.Model+" at "+cfg.LLM.BaseURL)
	}
}

// doctorS3Checks verifies AWS credentials and, on EC2, the instance region.
func doctorS3Checks(ctx context.Context, rep *doctorReport, cfg *config.Config) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg != nil && cfg.Storage.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Storage.Profile))
	}
	if cfg != nil && cfg.Storage.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Storage.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		rep.add("AWS config", false, err.Error())
		printAWSCredentialsHelp(rep)
		return
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		rep.add("AWS credentials", false, err.Error())
		printAWSCredentialsHelp(rep)
		return
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	rep.add("AWS credentials", true, maskAccessKey(creds.AccessKeyID)+" from "+source,
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("credential_source", source))

	if awsCfg.Region != "" {
		rep.add("AWS region", true, awsCfg.Region)
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := imds.NewFromConfig(awsCfg).GetRegion(probeCtx, &imds.GetRegionInput{})
	if err != nil {
		rep.add("AWS region", false, "not configured and instance metadata is unreachable; set storage.region or AWS_REGION")
		return
	}
	rep.add("AWS region", true, out.Region+" (instance metadata)")
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp(rep *doctorReport) {
	if rep.w != nil {
		return
	}
	lines := []string{
		"To configure AWS credentials:",
		"  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or",
		"  2. Run 'aws configure' to set up a profile and set storage.profile, or",
		"  3. Use an IAM role when running on AWS infrastructure",
		"For S3-compatible storage (MinIO, Wasabi, etc.), also set storage.endpoint",
		"and usually storage.force_path_style.",
	}
	for _, l := range lines {
		rep.logger.Info(l)
	}
}
