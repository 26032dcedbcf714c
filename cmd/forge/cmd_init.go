package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"forge/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "write a default forge.yaml configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = "forge.yaml"
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}
