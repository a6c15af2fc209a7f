// Eventforge-hecsend generates events for one product and posts them to an
// HTTP event collector one by one.
//
// It is the sender subprocess the eventforge daemon runs for HEC
// destinations, and can be run by hand:
//
//	S1_HEC_URL=https://hec.example.com/services/collector S1_HEC_TOKEN=... \
//	  eventforge-hecsend --product okta_authentication -n 5 --print-responses
//
// The token and collector URL are read from the environment only:
//
//	S1_HEC_TOKEN           collector token (required)
//	S1_HEC_URL             collector base URL
//	S1_HEC_EVENT_URL_BASE  overrides the /event endpoint
//	S1_HEC_RAW_URL_BASE    overrides the /raw endpoint
//	S1_HEC_DEBUG=1         prints one routing line per event
//
// Progress goes to stdout; diagnostics go to stderr.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyrsmithlabs/eventforge/internal/delivery"
	"github.com/fyrsmithlabs/eventforge/internal/executor"
	"github.com/spf13/cobra"
)

var opts = options{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "eventforge-hecsend",
	Short: "Generate product events and send them to an HTTP event collector",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return send(ctx, opts, os.Getenv, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
	SilenceUsage: true,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.product, "product", "", "Product whose generator produces the events (required)")
	f.IntVarP(&opts.count, "count", "n", 1, "How many events to send")
	f.Float64Var(&opts.minDelay, "min-delay", 0.020, "Minimum delay between events in seconds")
	f.Float64Var(&opts.maxDelay, "max-delay", 60.0, "Maximum delay between events in seconds")
	f.BoolVar(&opts.printResponses, "print-responses", false, "Print each collector response as it arrives")
	f.StringVar(&opts.sourcetype, "sourcetype", "", "Sourcetype sent with every event (defaults to the product)")
	f.StringVar(&opts.generatorsDir, "generators-dir", envOr(delivery.EnvGeneratorsDir, "."), "Directory holding the product generators")
	f.StringVar(&opts.interpreter, "interpreter", envOr(delivery.EnvInterpreter, executor.DefaultInterpreter), "Interpreter for .py generators")
	f.DurationVar(&opts.genTimeout, "generator-timeout", 5*time.Minute, "Upper bound on generator run time")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Diagnostic log level (stderr)")
	_ = rootCmd.MarkFlagRequired("product")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
