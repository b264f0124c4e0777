package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	configPath  string
	logLevel    string
	logJSON     bool
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "dgsolve",
		Short: "Newton-Krylov solver for DG diffusion reaction problems",
		Long: `dgsolve discretises a manufactured diffusion reaction problem with
a modal DG method and solves it with a globalised Newton-Krylov method,
optionally preconditioned by aggregation multigrid.`,
		SilenceUsage: true,
	}

	solveCmd = &cobra.Command{
		Use:   "solve",
		Short: "Run one nonlinear solve and report the discretisation error",
		RunE:  solve,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE:  printConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
	solveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while solving")
	rootCmd.AddCommand(solveCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if logJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
}

func printConfig(cmd *cobra.Command, _ []string) error {
	rc, err := loadRunConfig(configPath)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(rc)
}

func solve(cmd *cobra.Command, _ []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	rc, err := loadRunConfig(configPath)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()

	g, ctx := errgroup.WithContext(cmd.Context())
	done := make(chan struct{})
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-done:
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	var rep Report
	g.Go(func() error {
		defer close(done)
		var err error
		rep, err = runSolve(rc, log, reg)
		return err
	})
	if err = g.Wait(); err != nil {
		log.Error("solve failed", "err", err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "status=%s iterations=%d residual=%.3e l2_error=%.3e unknowns=%d levels=%d krylov=%d\n",
		rep.Result.Status, rep.Result.Iterations, rep.Result.ResidualNorm, rep.L2Error,
		rep.Unknowns, rep.Levels, rep.Result.LinearIterations)
	return nil
}
