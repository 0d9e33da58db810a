package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"wfsetl/internal/dbconfig"
	"wfsetl/internal/materialize"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// runConfig holds the parsed flags for a run.
type runConfig struct {
	PlanName string

	Overwrite bool
	Drop      bool
	Styles    bool
	Metadata  bool
	Validate  bool

	// Sleep is only applied when SleepSet; otherwise the plan's value wins.
	Sleep    float64
	SleepSet bool

	DBConfig    string
	DBEnv       string
	SchemaDrift string

	MaxRPS  float64
	Timeout time.Duration

	// Metrics falls back to METRICS_BACKEND only when not MetricsSet.
	Metrics        string
	MetricsSet     bool
	PushgatewayURL string

	LogFormat string
	Verbose   bool
}

var (
	metricsBackends = []string{"none", "datadog", "pushgateway"}
	logFormats      = []string{"console", "json"}
)

func registerFlags(f *pflag.FlagSet, cfg *runConfig) {
	f.BoolVar(&cfg.Overwrite, "overwrite", false, "replace existing files and tables")
	f.BoolVar(&cfg.Drop, "drop", false, "with --overwrite, drop and recreate tables instead of clearing them")
	f.BoolVar(&cfg.Styles, "styles", false, "download the SLD style of every layer")
	f.BoolVar(&cfg.Metadata, "metadata", false, "write a metadata document for every layer")
	f.BoolVar(&cfg.Validate, "validate", false, "validate the plan and exit")
	f.Float64Var(&cfg.Sleep, "sleep", 0, "seconds to wait between layer requests (overrides the plan)")
	f.StringVar(&cfg.DBConfig, "db-config", dbconfig.DefaultPath, "database configuration INI file")
	f.StringVar(&cfg.DBEnv, "db-env", dbconfig.DefaultEnv, "section of the database configuration to use")
	f.StringVar(&cfg.SchemaDrift, "schema-drift", string(materialize.DriftCoerce), "handling of features that diverge from the table: coerce or reject")
	f.Float64Var(&cfg.MaxRPS, "max-rps", 0, "upstream request rate limit (0 disables)")
	f.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "per-request HTTP timeout")
	f.StringVar(&cfg.Metrics, "metrics", "none", "metrics backend: "+strings.Join(metricsBackends, ", "))
	f.StringVar(&cfg.PushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	f.StringVar(&cfg.LogFormat, "log-format", "console", "log encoding: console or json")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "enable debug logs")
}

func newRootCmd(cfg *runConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wfsload <plan>",
		Short: "Download WFS layers into files and database tables",
		Long: "wfsload reads an ingestion plan (JSON or YAML), fetches every listed layer\n" +
			"from its feature service and writes it to the configured files and tables.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.PlanName = args[0]
			cfg.SleepSet = cmd.Flags().Changed("sleep")
			cfg.MetricsSet = cmd.Flags().Changed("metrics")
			return cfg.check()
		},
	}
	registerFlags(cmd.Flags(), cfg)
	return cmd
}

// parseFlags parses args. It returns pflag.ErrHelp after printing help.
func parseFlags(args []string, stdout io.Writer) (runConfig, error) {
	var cfg runConfig
	cmd := newRootCmd(&cfg)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)

	if err := cmd.Execute(); err != nil {
		return runConfig{}, fmt.Errorf("%w\n%s", err, cmd.UseLine())
	}
	if cfg.PlanName == "" {
		// --help short-circuits RunE.
		return runConfig{}, pflag.ErrHelp
	}
	return cfg, nil
}

func (c *runConfig) check() error {
	var result *multierror.Error
	if c.Sleep < 0 {
		result = multierror.Append(result, fmt.Errorf("--sleep must be >= 0, got %v", c.Sleep))
	}
	if c.MaxRPS < 0 {
		result = multierror.Append(result, fmt.Errorf("--max-rps must be >= 0, got %v", c.MaxRPS))
	}
	if c.Timeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("--timeout must be > 0, got %s", c.Timeout))
	}
	if !slices.Contains(metricsBackends, c.Metrics) {
		result = multierror.Append(result, fmt.Errorf("--metrics: unknown backend %q", c.Metrics))
	}
	if !slices.Contains(logFormats, c.LogFormat) {
		result = multierror.Append(result, fmt.Errorf("--log-format: unknown format %q", c.LogFormat))
	}
	if _, err := materialize.ParseDriftMode(c.SchemaDrift); err != nil {
		result = multierror.Append(result, fmt.Errorf("--schema-drift: %w", err))
	}
	return result.ErrorOrNil()
}

// throttle picks the pause between layers: --sleep, else the plan, else none.
func (c *runConfig) throttle(planSleep *float64) time.Duration {
	secs := 0.0
	if planSleep != nil {
		secs = *planSleep
	}
	if c.SleepSet {
		secs = c.Sleep
	}
	return time.Duration(secs * float64(time.Second))
}
