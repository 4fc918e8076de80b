package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sambaleuk/crossroads/internal/state"
	"github.com/sambaleuk/crossroads/internal/status"
	"github.com/sambaleuk/crossroads/pkg/models"
)

var statusHistory int

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	faintStyle  = lipgloss.NewStyle().Faint(true)
	stateStyles = map[models.StoryStatus]lipgloss.Style{
		models.StoryStatusPending:    lipgloss.NewStyle().Faint(true),
		models.StoryStatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		models.StoryStatusReady:      lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		models.StoryStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		models.StoryStatusComplete:   lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		models.StoryStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status document and recent session history",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := resolveRepo()
		if err != nil {
			return err
		}

		store := status.NewStore(status.Path(repoPath))
		doc, err := store.Document()
		switch {
		case errors.Is(err, status.ErrNoDocument):
			fmt.Println(faintStyle.Render("no status document; nothing dispatched yet"))
		case err != nil:
			return err
		default:
			renderDocument(doc)
		}

		return renderHistory(repoPath, statusHistory)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusHistory, "history", 5, "Number of past sessions to show")
}

func renderDocument(doc *status.Document) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s  (session %s)", doc.PRDName, doc.SessionID)))
	fmt.Println(faintStyle.Render(fmt.Sprintf("started %s, updated %s",
		doc.StartedAt.Local().Format(time.RFC822), doc.UpdatedAt.Local().Format(time.RFC822))))
	fmt.Println()

	for i, layer := range doc.Layers {
		marker := " "
		if i == doc.CurrentLayer {
			marker = ">"
		}
		fmt.Printf("%s layer %d\n", marker, i)
		for _, id := range layer {
			track, ok := doc.Stories[id]
			if !ok {
				continue
			}
			style, found := stateStyles[track.Status]
			if !found {
				style = faintStyle
			}
			line := fmt.Sprintf("    %-8s %-12s", id, track.Status)
			if track.AssignedToSlot > 0 {
				line += fmt.Sprintf(" slot %d", track.AssignedToSlot)
			}
			if track.LastError != nil {
				line += "  " + *track.LastError
			}
			fmt.Println(style.Render(line))
		}
	}
	fmt.Printf("\n%d/%d stories complete\n\n", doc.CompleteCount(), len(doc.Stories))
}

func renderHistory(repoPath string, limit int) error {
	db, err := state.OpenProject(repoPath)
	if err != nil {
		// No history database is not an error for status display.
		return nil
	}
	defer db.Close()

	sessions, err := db.ListSessions(limit)
	if err != nil || len(sessions) == 0 {
		return nil
	}

	fmt.Println(headerStyle.Render("recent sessions"))
	for _, rec := range sessions {
		line := fmt.Sprintf("  %s  %-20s %-10s %s",
			rec.ID[:8], rec.PRDName, rec.Phase, rec.StartedAt.Local().Format(time.RFC822))
		fmt.Println(faintStyle.Render(line))
	}
	return nil
}
