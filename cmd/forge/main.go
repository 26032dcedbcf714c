// Package main implements the forge CLI: init, run, resume and status
// subcommands over the pipeline package. Grounded on cmd/nerd's
// entry-point shape (root cobra.Command, persistent flags, zap for CLI
// output, a separate file-based logger for telemetry).
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"forge/internal/logging"
)

var (
	verbose    bool
	configPath string
	outputDir  string
	budget     float64

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "forge orchestrates PRD-driven multi-service builds",
	Long: `forge decomposes a product requirements document into services,
dispatches a builder per service, integrates the result, and runs a
quality gate with bounded fix passes -- a state machine over one pipeline
run, resumable at every phase boundary.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		zapCfg.Encoding = "console"
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		dir := outputDir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		logging.Configure(verbose, dir, !verbose)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to forge.yaml (defaults embedded if omitted)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output", "o", "", "pipeline output directory (default .forge/output)")
	rootCmd.PersistentFlags().Float64Var(&budget, "budget", 0, "total cost budget in dollars (0 disables the budget gate)")
	rootCmd.PersistentFlags().DurationVar(&architectTimeoutFlag, "architect-timeout", 0, "override the architect phase timeout")

	rootCmd.AddCommand(initCmd, runCmd, resumeCmd, statusCmd)
}

var architectTimeoutFlag time.Duration

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("forge failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
