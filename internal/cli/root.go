package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/harun/taskpilot/internal/observability"
	"github.com/harun/taskpilot/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile     string
	logLevel    string
	metricsAddr string

	metricsServer *http.Server
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Taskpilot - tool-calling agent for projects and tasks",
	Long: `Taskpilot drives a conversational model through rounds of tool calls
against a local project and task store. Every store mutation is serialized,
user input is guarded before it reaches the model, and tool output is turned
into readable text with reference markers.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := tracing.InitOpenTelemetry("taskpilot", tracing.WithServiceVersion(version)); err != nil {
			return err
		}
		return startMetricsServer(metricsAddr)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopMetricsServer(ctx)
		return tracing.ShutdownOpenTelemetry(ctx)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskpilot/taskpilot.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// startMetricsServer exposes /metrics on addr. An empty addr disables it.
func startMetricsServer(addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}(metricsServer)
	log.Debug().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return nil
}

func stopMetricsServer(ctx context.Context) {
	if metricsServer == nil {
		return
	}
	_ = metricsServer.Shutdown(ctx)
	metricsServer = nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
