package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global flags
var (
	repoFlag string // Repository path; defaults to the current directory
)

var rootCmd = &cobra.Command{
	Use:   "crossroads",
	Short: "Multi-agent coding orchestrator",
	Long: `Crossroads drives several interactive coding-assistant CLIs in parallel
against a single repository.

Given a PRD decomposed into user stories with declared dependencies, it:
- computes topological layers over the story graph
- provisions one isolated working copy per worker slot
- launches one CLI agent per slot inside a pseudo-terminal
- coordinates completion through a shared status document
- unblocks dependent stories as prerequisites finish
- merges every slot branch back into the base branch

Use "crossroads [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveRepo returns the repository path from the flag or the working
// directory.
func resolveRepo() (string, error) {
	if repoFlag != "" {
		return repoFlag, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return wd, nil
}

func init() {
	rootCmd.Version = Version()
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository path (default: current directory)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(singleCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(initCmd)
}
