package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/git"
	"github.com/sambaleuk/crossroads/internal/provision"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned slot working copies from prior runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := resolveRepo()
		if err != nil {
			return err
		}

		cfg, err := config.Load(repoPath)
		if err != nil {
			return err
		}

		repo := git.NewRunner(repoPath)
		repo.SetCommandTimeout(cfg.Git.CommandTimeout)
		provisioner := provision.New(repo, cfg.Git.WorktreeBaseDir)

		orphans, err := provisioner.Orphans(nil)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			fmt.Println("nothing to clean up")
			return nil
		}

		for _, path := range orphans {
			if cleanupDryRun {
				fmt.Printf("would remove %s\n", path)
				continue
			}
			if err := provisioner.RemoveOrphan(path); err != nil {
				fmt.Printf("failed to remove %s: %v\n", path, err)
				continue
			}
			fmt.Printf("removed %s\n", path)
		}
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Only print what would be removed")
}
