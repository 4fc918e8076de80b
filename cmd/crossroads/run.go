package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sambaleuk/crossroads/internal/config"
	"github.com/sambaleuk/crossroads/internal/merge"
	"github.com/sambaleuk/crossroads/internal/orchestrator"
	"github.com/sambaleuk/crossroads/internal/prdfile"
	"github.com/sambaleuk/crossroads/pkg/models"
)

var (
	runSlots       int
	runAgent       string
	runResume      bool
	runAutoResolve bool
	runFollow      bool
)

var runCmd = &cobra.Command{
	Use:   "run <prd-file>",
	Short: "Dispatch a PRD across parallel agent slots",
	Long: `Run loads a PRD file (YAML or JSON), computes dependency layers, and
dispatches the stories across worker slots. Slot assignments embedded in the
file under "slots:" are used as-is; otherwise stories are distributed
round-robin over --slots agents of kind --agent.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runSlots, "slots", 3, "Number of worker slots when the PRD embeds no slot map")
	runCmd.Flags().StringVar(&runAgent, "agent", string(models.AgentClaude), "Agent kind for generated slot assignments")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Reuse an existing status document")
	runCmd.Flags().BoolVar(&runAutoResolve, "auto-resolve", false, "Attempt automated three-way resolution of merge conflicts")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "Show the live slot board instead of plain output")
}

func runRun(cmd *cobra.Command, args []string) error {
	repoPath, err := resolveRepo()
	if err != nil {
		return err
	}

	prd, assignments, err := prdfile.Load(args[0])
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		assignments = prdfile.DefaultAssignments(prd, runSlots, models.AgentKind(runAgent))
	}

	cfg, err := config.Load(repoPath)
	if err != nil {
		return err
	}

	orch := orchestrator.New(cfg)
	defer orch.Close()

	result, err := orch.Dispatch(orchestrator.Request{
		Mode:        orchestrator.ModePRD,
		RepoPath:    repoPath,
		PRD:         prd,
		Assignments: assignments,
		Resume:      runResume,
		AutoResolve: runAutoResolve,
	})
	if err != nil {
		return err
	}

	// Forward Ctrl-C to a clean cancellation.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\ninterrupted, terminating agents...")
		_ = orch.Cancel(result.RequestID)
	}()

	if runFollow {
		if err := followDispatch(orch, result.RequestID, len(assignments)); err != nil {
			return err
		}
	} else {
		streamEvents(orch, result.RequestID)
	}

	mergeResult, err := orch.Wait(result.RequestID)
	if err != nil {
		return err
	}
	printMergeResult(mergeResult)
	return nil
}

// streamEvents prints the event stream until the dispatch completes.
func streamEvents(orch *orchestrator.Orchestrator, requestID string) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	for ev := range orch.Events() {
		if ev.RequestID != requestID {
			continue
		}
		switch ev.Type {
		case orchestrator.EventPhaseChanged:
			bold.Printf("phase: %s\n", ev.Phase)
		case orchestrator.EventProgress:
			dim.Printf("  [%d/%d layers, %d/%d stories] %s\n",
				ev.Progress.CurrentLayer+1, ev.Progress.TotalLayers,
				ev.Progress.StoriesComplete, ev.Progress.TotalStories,
				ev.Progress.Message)
		case orchestrator.EventSlotUpdated:
			dim.Printf("  slot %d: %s\n", ev.SlotNumber, ev.Slot.Lifecycle)
		case orchestrator.EventSlotOutput:
			for _, line := range strings.Split(strings.TrimRight(ev.Chunk, "\n"), "\n") {
				fmt.Printf("  [%d] %s\n", ev.SlotNumber, line)
			}
		case orchestrator.EventSlotTerminated:
			dim.Printf("  slot %d exited with code %d\n", ev.SlotNumber, ev.ExitCode)
		case orchestrator.EventSlotDivergence:
			yellow.Printf("  slot %d exited 0 but stories are incomplete: %s\n",
				ev.SlotNumber, strings.Join(ev.StuckStories, ", "))
		case orchestrator.EventError:
			red.Printf("error: %s\n", ev.Message)
		case orchestrator.EventCompleted:
			bold.Println("dispatch finished")
			return
		}
	}
}

// printMergeResult summarises the merge coordinator's outcome.
func printMergeResult(result *merge.Result) {
	if result == nil {
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	if result.Success {
		green.Printf("merged %d branch(es) into base\n", len(result.MergedBranches))
	} else {
		red.Println("merge stopped on conflict:")
		for _, c := range result.Conflicts {
			fmt.Printf("  %s: %s\n", c.Branch, strings.Join(c.Files, ", "))
		}
		if result.RolledBack {
			fmt.Println("  in-progress merge was rolled back")
		}
	}
	if len(result.Resolved) > 0 {
		fmt.Printf("auto-resolved: %s\n", strings.Join(result.Resolved, ", "))
	}
}
