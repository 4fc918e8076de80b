package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const configTemplate = `# crossroads project configuration
# agents:
#   claude: claude
#   codex: codex
# scripts:
#   search_paths: []
#   max_iterations: 50
#   sleep_seconds: 10
# scheduler:
#   poll_interval: 5s
# git:
#   command_timeout: 60s
`

const prdTemplate = `name: example-feature
description: Describe the feature here.
author: you
stories:
  - id: US-001
    title: First story
    priority: high
    complexity: 2
    acceptance_criteria:
      - Something observable happens
  - id: US-002
    title: Depends on the first
    priority: medium
    complexity: 1
    depends_on: [US-001]
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .crossroads directory with starter config and PRD template",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := resolveRepo()
		if err != nil {
			return err
		}

		dir := filepath.Join(repoPath, ".crossroads")
		if err := os.MkdirAll(filepath.Join(dir, "scripts"), 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		files := map[string]string{
			filepath.Join(dir, "config.yaml"): configTemplate,
			filepath.Join(dir, "prd.yaml"):    prdTemplate,
		}
		for path, content := range files {
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("kept existing %s\n", path)
				continue
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("wrote %s\n", path)
		}

		fmt.Println("\nnext: put per-agent loop scripts (e.g. claude-loop.sh) into .crossroads/scripts")
		return nil
	},
}
