package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"forge/internal/config"
	"forge/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show the saved state of the pipeline in the output directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		dir := outputDir
		if dir == "" {
			dir = cfg.OutputDir
		}

		snap, err := state.Load(dir)
		if err != nil {
			return fmt.Errorf("no pipeline state found in %s: %w", dir, err)
		}

		fmt.Printf("pipeline:   %s\n", snap.PipelineID)
		fmt.Printf("state:      %s\n", snap.CurrentState)
		fmt.Printf("phases:     %v\n", snap.CompletedPhases)
		fmt.Printf("builders:   %d/%d succeeded\n", snap.SuccessfulBuilders, snap.TotalBuilders)
		fmt.Printf("cost:       $%.4f\n", snap.TotalCost)
		if snap.Interrupted {
			fmt.Printf("interrupted: %s\n", snap.InterruptReason)
		}
		if verdict, ok := snap.LastQualityResults["overall_verdict"]; ok {
			fmt.Printf("quality:    %v\n", verdict)
		}
		return nil
	},
}
