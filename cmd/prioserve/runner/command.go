/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package runner

import (
	"flag"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	logutil "github.com/prioserve/prioserve/pkg/common/observability/logging"
	"github.com/prioserve/prioserve/pkg/common/observability/tracing"
	"github.com/prioserve/prioserve/pkg/prioserve/auth"
	"github.com/prioserve/prioserve/pkg/prioserve/config"
	"github.com/prioserve/prioserve/version"
)

var setupLog = ctrl.Log.WithName("setup")

// flags holds the command-line settings. Only flags the user set override the configuration file and environment.
type flags struct {
	configFile      string
	listenAddress   string
	adminAddress    string
	healthPort      int
	workers         int
	maxQueueLength  int
	orderingPolicy  string
	journalPath     string
	processingDelay time.Duration
	enablePprof     bool
	tracing         bool
	logVerbosity    int
	zapOpts         zap.Options
}

// NewCommand returns the prioserve root command.
func NewCommand() *cobra.Command {
	f := &flags{zapOpts: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:   "prioserve",
		Short: "Serve HTTP/1.1 requests in priority order instead of arrival order",
		Long: "prioserve accepts requests on a TCP socket, classifies them by path and authentication, and " +
			"hands them to a fixed pool of workers through a blocking priority queue.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.run(cmd)
		},
	}

	f.addFlags(cmd.Flags())
	goFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	f.zapOpts.BindFlags(goFlags)
	cmd.Flags().AddGoFlagSet(goFlags)

	cmd.AddCommand(newDigestCommand(), newVersionCommand())
	return cmd
}

// addFlags registers the prioserve settings on fs.
func (f *flags) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.configFile, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&f.listenAddress, "listen", "", "Address to accept requests on (default :8080)")
	fs.StringVar(&f.adminAddress, "admin-listen", "", "Address of the admin HTTP server; empty string disables it (default :9090)")
	fs.IntVar(&f.healthPort, "health-port", 0, "Port of the gRPC health service; 0 disables it (default 9003)")
	fs.IntVar(&f.workers, "workers", 0, "Number of workers (default 4)")
	fs.IntVar(&f.maxQueueLength, "max-queue-length", 0, "Maximum pending requests; 0 means unbounded")
	fs.StringVar(&f.orderingPolicy, "ordering-policy", "", "Name of the ordering policy (default category-auth-fcfs)")
	fs.StringVar(&f.journalPath, "journal", "", "SQLite file journaling processed requests; empty disables it")
	fs.DurationVar(&f.processingDelay, "processing-delay", 0, "Artificial delay before each request is processed, e.g. 500ms")
	fs.BoolVar(&f.enablePprof, "enable-pprof", false, "Serve /debug/pprof on the admin server")
	fs.BoolVar(&f.tracing, "tracing", false, "Export OpenTelemetry spans, configured through the OTEL_* environment variables")
	fs.IntVarP(&f.logVerbosity, "verbosity", "v", logutil.DEFAULT, "number for the log level verbosity")
}

func (f *flags) run(cmd *cobra.Command) error {
	verbosity := f.logVerbosity
	// Unless -zap-log-level is explicitly set, use -v
	if cmd.Flags().Changed("zap-log-level") {
		verbosity = -1
	}
	logutil.InitLogging(&f.zapOpts, verbosity)
	setupLog.Info("prioserve build", "version", version.Version, "commit-sha", version.CommitSHA, "build-ref", version.BuildRef)

	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLog.Info("Configuration loaded", "config", cfg)

	ctx := log.IntoContext(cmd.Context(), ctrl.Log.WithName("prioserve"))
	if cfg.EnableTracing {
		if err := tracing.InitTracing(ctx, setupLog); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}
	in, err := newInstance(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up prioserve: %w", err)
	}
	defer func() {
		if err := in.close(); err != nil {
			setupLog.Error(err, "Failed to release resources")
		}
	}()
	return in.run(ctx)
}

// loadConfig layers defaults, the config file, PRIOSERVE_* environment variables and explicitly set flags.
func (f *flags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(setupLog)

	changed := cmd.Flags().Changed
	var opts []config.Option
	if changed("listen") {
		opts = append(opts, config.WithListenAddress(f.listenAddress))
	}
	if changed("admin-listen") {
		opts = append(opts, config.WithAdminAddress(f.adminAddress))
	}
	if changed("health-port") {
		opts = append(opts, config.WithHealthPort(f.healthPort))
	}
	if changed("workers") {
		opts = append(opts, config.WithWorkers(f.workers))
	}
	if changed("max-queue-length") {
		opts = append(opts, config.WithMaxQueueLength(f.maxQueueLength))
	}
	if changed("ordering-policy") {
		opts = append(opts, config.WithOrderingPolicy(f.orderingPolicy))
	}
	if changed("journal") {
		opts = append(opts, config.WithJournalPath(f.journalPath))
	}
	if changed("processing-delay") {
		opts = append(opts, config.WithProcessingDelay(f.processingDelay))
	}
	if changed("enable-pprof") {
		opts = append(opts, config.WithPprof(f.enablePprof))
	}
	if changed("tracing") {
		opts = append(opts, config.WithTracing(f.tracing))
	}

	if err := cfg.Apply(opts...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newDigestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "digest TOKEN",
		Short: "Print the SHA3-256 digest of a token for the authTokenDigests setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), auth.Digest(args[0]))
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "prioserve %s (commit %q, ref %q)\n",
				version.Version, version.CommitSHA, version.BuildRef)
			return err
		},
	}
}
