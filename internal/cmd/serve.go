package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/internal/server"
	"github.com/3leaps/cadence/internal/server/handlers"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/storekey"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve stored reports over a read-only JSON API",
	Long: `Serve stored reports, index files and job registries over HTTP.

Routes:
  GET /health, /health/live, /health/ready, /version
  GET /v1/{ownerType}/{owner}/jobs
  GET /v1/{ownerType}/{owner}/{jobId}/latest
  GET /v1/{ownerType}/{owner}/{jobId}/index[?status=failed&limit=10]
  GET /v1/{ownerType}/{owner}/{jobId}/index/{YYYY-MM}
  GET /v1/{ownerType}/{owner}/{jobId}/slots/{slotKey}/manifest|summary|output

Examples:
  cadence serve
  cadence serve --port 9000 --host 0.0.0.0`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

// identityHealthChecker reports a misconfigured application identity.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}

// storeHealthChecker lists the index root to prove the store is reachable.
type storeHealthChecker struct {
	store  provider.Store
	prefix string
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	root := storekey.IndexRoot(c.prefix) + "/"
	if _, err := c.store.List(ctx, root); err != nil && !errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("list %s: %w", root, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{})
	if err != nil {
		return err
	}
	defer a.close()

	host, port := a.cfg.Server.Host, a.cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	id := GetAppIdentity()

	srv := server.New(host, port,
		server.WithLogger(a.logger.Named("http")),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithReports(a.store, a.cfg.Storage.Prefix),
		server.WithChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		}),
		server.WithChecker("store", storeHealthChecker{store: a.store, prefix: a.cfg.Storage.Prefix}),
		server.WithTimeouts(server.Timeouts{
			Read:     a.cfg.Server.ReadTimeout,
			Write:    a.cfg.Server.WriteTimeout,
			Idle:     a.cfg.Server.IdleTimeout,
			Shutdown: a.cfg.Server.ShutdownTimeout,
		}),
	)

	a.logger.Info("Starting server", zap.String("addr", srv.Addr()), zap.String("store", a.storeName))
	if err := srv.Run(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	return nil
}
