package models

import "fmt"

// PRD is a product requirements document: a named feature decomposed into
// user stories with declared prerequisites. It is immutable once dispatch
// starts.
type PRD struct {
	// Name is the feature name.
	Name string `json:"name" yaml:"name"`
	// Description summarises the feature.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Author is who wrote the PRD.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	// Template tags the PRD template the document was authored from.
	Template string `json:"template,omitempty" yaml:"template,omitempty"`
	// Stories is the ordered, non-empty list of user stories.
	Stories []*Story `json:"stories" yaml:"stories"`
}

// Validate checks the PRD for structural problems: empty story list,
// duplicate IDs, unknown prerequisite references, and per-story field errors.
// Cycle detection is the graph package's job, not Validate's.
func (p *PRD) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("prd has empty name")
	}
	if len(p.Stories) == 0 {
		return fmt.Errorf("prd %q has no stories", p.Name)
	}

	seen := make(map[string]bool, len(p.Stories))
	for _, story := range p.Stories {
		if err := story.Validate(); err != nil {
			return err
		}
		if seen[story.ID] {
			return fmt.Errorf("duplicate story id %s", story.ID)
		}
		seen[story.ID] = true
	}

	for _, story := range p.Stories {
		for _, dep := range story.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("story %s depends on unknown story %s", story.ID, dep)
			}
		}
	}
	return nil
}

// Story returns the story with the given ID, or nil if not present.
func (p *PRD) Story(id string) *Story {
	for _, s := range p.Stories {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StoryIDs returns the IDs of all stories in document order.
func (p *PRD) StoryIDs() []string {
	ids := make([]string, 0, len(p.Stories))
	for _, s := range p.Stories {
		ids = append(ids, s.ID)
	}
	return ids
}

// Filtered returns a copy of the PRD containing only the given stories.
// Dependency edges are preserved verbatim, including edges that point at
// stories outside the filter, so agents can still see cross-slot ordering.
func (p *PRD) Filtered(storyIDs []string) *PRD {
	want := make(map[string]bool, len(storyIDs))
	for _, id := range storyIDs {
		want[id] = true
	}

	out := &PRD{
		Name:        p.Name,
		Description: p.Description,
		Author:      p.Author,
		Template:    p.Template,
	}
	for _, s := range p.Stories {
		if want[s.ID] {
			copied := *s
			out.Stories = append(out.Stories, &copied)
		}
	}
	return out
}
