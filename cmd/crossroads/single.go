package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/orchestrator"
	"github.com/sambaleuk/crossroads/pkg/models"
)

var (
	singleAgent string
	singlePath  string
)

var singleCmd = &cobra.Command{
	Use:   "single <instruction...>",
	Short: "Run one agent against one directory with one instruction",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := singlePath
		if path == "" {
			repo, err := resolveRepo()
			if err != nil {
				return err
			}
			path = repo
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		orch := orchestrator.New(cfg)
		defer orch.Close()

		result, err := orch.Dispatch(orchestrator.Request{
			Mode:        orchestrator.ModeSingle,
			Agent:       models.AgentKind(singleAgent),
			Path:        path,
			Instruction: strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		streamEvents(orch, result.RequestID)
		_, err = orch.Wait(result.RequestID)
		return err
	},
}

func init() {
	singleCmd.Flags().StringVar(&singleAgent, "agent", string(models.AgentClaude), "Agent kind to launch")
	singleCmd.Flags().StringVar(&singlePath, "path", "", "Working directory (default: repository path)")
}
