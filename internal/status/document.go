// Package status maintains the shared on-disk status document through which
// the orchestrator and the agents coordinate story completion.
package status

import (
	"encoding/json"
	"time"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// StoryTrack is the per-story tracking record inside the status document.
// Field names are the on-disk protocol names shared with agents.
type StoryTrack struct {
	// ID is the story ID.
	ID string `json:"id"`
	// Status is the story's lifecycle state.
	Status models.StoryStatus `json:"status"`
	// AssignedToSlot is the owning slot number, 0 if unassigned.
	AssignedToSlot int `json:"assignedToSlot,omitempty"`
	// DependsOn lists prerequisite story IDs.
	DependsOn []string `json:"dependsOn"`
	// StartedAt is when the story first entered in-progress.
	StartedAt *time.Time `json:"startedAt"`
	// CompletedAt is when the story entered complete.
	CompletedAt *time.Time `json:"completedAt"`
	// LastError is the most recent failure message, if any.
	LastError *string `json:"lastError"`
}

// Document is the decoded status document. Serialised as pretty-printed JSON
// with sorted keys and RFC 3339 timestamps for stable diffs.
type Document struct {
	// SessionID is the orchestration session's UUID.
	SessionID string `json:"sessionId"`
	// PRDName is the feature name from the PRD.
	PRDName string `json:"prdName"`
	// StartedAt is when the session began.
	StartedAt time.Time `json:"startedAt"`
	// UpdatedAt is the time of the last write. Monotonic: never regresses.
	UpdatedAt time.Time `json:"updatedAt"`
	// CurrentLayer is the index of the layer currently being worked.
	CurrentLayer int `json:"currentLayer"`
	// Layers holds story IDs grouped by topological depth.
	Layers [][]string `json:"layers"`
	// Stories maps story ID to its tracking record.
	Stories map[string]*StoryTrack `json:"stories"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Layers = make([][]string, len(d.Layers))
	for i, layer := range d.Layers {
		out.Layers[i] = append([]string(nil), layer...)
	}
	out.Stories = make(map[string]*StoryTrack, len(d.Stories))
	for id, track := range d.Stories {
		copied := *track
		copied.DependsOn = append([]string(nil), track.DependsOn...)
		if track.StartedAt != nil {
			t := *track.StartedAt
			copied.StartedAt = &t
		}
		if track.CompletedAt != nil {
			t := *track.CompletedAt
			copied.CompletedAt = &t
		}
		if track.LastError != nil {
			msg := *track.LastError
			copied.LastError = &msg
		}
		out.Stories[id] = &copied
	}
	return &out
}

// Encode serialises the document: pretty-printed, every object's keys sorted,
// LF line endings, trailing newline. encoding/json sorts map keys but keeps
// struct fields in declaration order, so the document is round-tripped
// through a generic value before indenting.
func (d *Document) Encode() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(generic, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses a status document from bytes.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// AllComplete reports whether every story is complete.
func (d *Document) AllComplete() bool {
	for _, track := range d.Stories {
		if track.Status != models.StoryStatusComplete {
			return false
		}
	}
	return true
}

// AllTerminal reports whether every story is complete or failed.
func (d *Document) AllTerminal() bool {
	for _, track := range d.Stories {
		if !track.Status.Terminal() {
			return false
		}
	}
	return true
}

// LayerComplete reports whether every story in the given layer is complete.
func (d *Document) LayerComplete(layer int) bool {
	if layer < 0 || layer >= len(d.Layers) {
		return false
	}
	for _, id := range d.Layers[layer] {
		track, ok := d.Stories[id]
		if !ok || track.Status != models.StoryStatusComplete {
			return false
		}
	}
	return true
}

// CompleteCount returns how many stories are complete.
func (d *Document) CompleteCount() int {
	n := 0
	for _, track := range d.Stories {
		if track.Status == models.StoryStatusComplete {
			n++
		}
	}
	return n
}
