// Package cmd implements the livecrawl command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/zhihu-live-crawler/internal/app"
	"github.com/JakeFAU/zhihu-live-crawler/internal/config"
	"github.com/JakeFAU/zhihu-live-crawler/internal/logging"
)

// Runner is the part of the application the command drives.
// Tests swap newApp for a fake.
type Runner interface {
	Run(ctx context.Context) (time.Duration, error)
	Close() error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "livecrawl",
		Short: "Crawl the Zhihu Live listings and store every live found.",
		Long: `livecrawl seeds one request per category and page offset, follows the
paging links of each listing with a fixed pool of workers, and stores the lives
and speakers it finds. It exits once every discovered page has been processed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, cfgFile)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file (optional)")
	return cmd
}

func runCrawl(cmd *cobra.Command, cfgFile string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	crawl, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if closeErr := crawl.Close(); closeErr != nil {
			logger.Warn("shutdown incomplete", zap.Error(closeErr))
		}
	}()

	elapsed, runErr := crawl.Run(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Finished in %.3f secs\n", elapsed.Seconds())
	return runErr
}

// Execute runs the root command with SIGINT and SIGTERM wired to cancellation.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "livecrawl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
