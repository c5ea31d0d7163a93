package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/magi-sh/magi/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .magi.yaml config file",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := ".magi.yaml"
	if cfgFile != "" {
		path = cfgFile
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteFile(path, config.Default()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	cmd.Printf("wrote %s\n", path)
	return nil
}
