package provision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// EncodePRD serialises a PRD as pretty-printed JSON with a trailing newline.
func EncodePRD(prd *models.PRD) ([]byte, error) {
	data, err := json.MarshalIndent(prd, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// skillPrompts maps action kinds to the role instructions embedded in the
// brief.
var skillPrompts = map[models.ActionKind]string{
	models.ActionImplement: "Implement each assigned story to satisfy its acceptance criteria. Commit early and often with focused messages.",
	models.ActionTest:      "Write tests that pin down each assigned story's acceptance criteria. Run the project's test suite before marking a story complete.",
	models.ActionReview:    "Review the changes committed for each assigned story against its acceptance criteria. Record findings in progress.txt and fix what you can.",
	models.ActionDocument:  "Document each assigned story: update README and reference docs to cover the new behaviour.",
}

// BuildBrief renders the agent-facing AGENT.md instructions for a slot.
func BuildBrief(session *models.Session, a models.SlotAssignment) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Slot %d — %s (%s)\n\n", a.Slot, a.Agent, a.Action)
	fmt.Fprintf(&b, "Session `%s` is implementing **%s**.\n\n", session.ID, session.PRD.Name)
	if session.PRD.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", session.PRD.Description)
	}

	b.WriteString("## Your stories\n\n")
	for _, id := range a.StoryIDs {
		story := session.PRD.Story(id)
		if story == nil {
			continue
		}
		fmt.Fprintf(&b, "### %s: %s\n\n", story.ID, story.Title)
		if story.Description != "" {
			fmt.Fprintf(&b, "%s\n\n", story.Description)
		}
		if len(story.DependsOn) > 0 {
			fmt.Fprintf(&b, "Prerequisites: %s\n\n", strings.Join(story.DependsOn, ", "))
		}
		if len(story.AcceptanceCriteria) > 0 {
			b.WriteString("Acceptance criteria:\n\n")
			for _, ac := range story.AcceptanceCriteria {
				fmt.Fprintf(&b, "- %s\n", ac)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Status protocol\n\n")
	fmt.Fprintf(&b, "The shared status document lives at `%s`.\n\n", session.StatusPath)
	b.WriteString(`Before starting a story, read the document and confirm the story's status
is "ready". Stories marked "blocked" have incomplete prerequisites owned by
other slots; skip them and check again later.

To update a story's status:

1. Read the whole document.
2. Set ` + "`stories.<id>.status`" + ` ("in-progress" when you start, "complete" when
   every acceptance criterion passes, "failed" only on an unrecoverable
   error) and refresh ` + "`updatedAt`" + `.
3. Write the full document to a temporary file next to it.
4. Rename the temporary file onto the document.

Never edit the document in place and never hold it open for writing.

`)

	b.WriteString("## Ground rules\n\n")
	b.WriteString(`- Work only inside this directory; commit to the current branch.
- Do not run blocking commands: anything that does not terminate on its own
  (watch modes, dev servers, interactive REPLs) will stall the whole session.
- Log notable progress and decisions in progress.txt.

`)

	b.WriteString("## Role\n\n")
	if prompt, ok := skillPrompts[a.Action]; ok {
		b.WriteString(prompt + "\n")
	}
	for _, skill := range a.Skills {
		fmt.Fprintf(&b, "\n%s\n", skill)
	}

	return b.String()
}
