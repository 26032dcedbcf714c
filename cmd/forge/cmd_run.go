package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"forge/internal/config"
	"forge/internal/pipeline"
	"forge/internal/state"
)

var depthFlag string

var runCmd = &cobra.Command{
	Use:   "run <prd-path>",
	Short: "run a pipeline from a PRD file to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrResume(cmd.Context(), args[0], false)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "resume an interrupted pipeline from its saved snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOrResume(cmd.Context(), "", true)
	},
}

func init() {
	runCmd.Flags().StringVar(&depthFlag, "depth", string(state.DepthStandard), "builder depth: quick, standard, thorough")
}

func runOrResume(ctx context.Context, prdPath string, resume bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	dir := outputDir
	if dir == "" {
		dir = cfg.OutputDir
	}
	if budget > 0 {
		cfg.BudgetLimit = &budget
	}
	if architectTimeoutFlag > 0 {
		cfg.Architect.Timeout = architectTimeoutFlag.String()
	}

	depth := state.Depth(depthFlag)
	if depth == "" {
		depth = state.DepthStandard
	}

	pipelineID := uuid.NewString()
	p, err := pipeline.New(ctx, cfg, pipelineID, prdPath, configPath, depth, dir, resume)
	if err != nil {
		return fmt.Errorf("initializing pipeline: %w", err)
	}

	if logger != nil {
		logger.Info("pipeline starting", zap.String("id", pipelineID), zap.Bool("resume", resume), zap.String("output_dir", dir))
		p.SetOnPhase(func(state string) {
			logger.Info("entering phase", zap.String("id", pipelineID), zap.String("state", state))
		})
	}

	runErr := p.Run(ctx)
	snap := p.Snapshot()
	if logger != nil {
		logger.Info("pipeline finished",
			zap.String("id", snap.PipelineID),
			zap.String("state", snap.CurrentState),
			zap.Int("phases_complete", len(snap.CompletedPhases)),
		)
	} else {
		fmt.Printf("pipeline %s finished in state %s (%d phases complete)\n",
			snap.PipelineID, snap.CurrentState, len(snap.CompletedPhases))
	}
	return runErr
}
