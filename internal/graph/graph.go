// Package graph provides the story dependency graph used for layered
// scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sambaleuk/crossroads/pkg/models"
)

// ErrCyclicPrerequisites indicates a circular dependency in the story graph.
var ErrCyclicPrerequisites = errors.New("cyclic prerequisites detected")

// DependencyGraph is a directed acyclic graph of story prerequisites.
// Stories are nodes; edges point at the stories a node is blocked by.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps story ID to the story itself.
	nodes map[string]*models.Story
	// edges maps story ID to the IDs of its prerequisites.
	edges map[string][]string
	// complete tracks which stories have been marked complete.
	complete map[string]bool
	// order preserves PRD document order for stable layer output.
	order []string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*models.Story),
		edges:    make(map[string][]string),
		complete: make(map[string]bool),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the graph from the PRD's stories. Returns an error if a
// prerequisite references an unknown story or the graph contains a cycle.
func (g *DependencyGraph) Build(stories []*models.Story) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d stories", len(stories))

	for _, story := range stories {
		g.nodes[story.ID] = story
		g.edges[story.ID] = nil
		g.order = append(g.order, story.ID)
	}

	for _, story := range stories {
		for _, depID := range story.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("story %s depends on unknown story %s", story.ID, depID)
			}
			g.edges[story.ID] = append(g.edges[story.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return ErrCyclicPrerequisites
	}

	g.debugLog("[graph.Build] graph built with %d nodes", len(g.nodes))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked runs a depth-first search with coloring to find back edges.
// Assumes the lock is held.
func (g *DependencyGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// Layers partitions the stories into topological layers: layer 0 holds
// stories with no prerequisites, layer n holds stories whose deepest
// prerequisite sits in layer n-1. Within a layer, stories keep PRD document
// order. Returns ErrCyclicPrerequisites if any stories cannot be placed.
func (g *DependencyGraph) Layers() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	placed := make(map[string]int, len(g.nodes))
	var layers [][]string

	for len(placed) < len(g.nodes) {
		var layer []string
		for _, id := range g.order {
			if _, done := placed[id]; done {
				continue
			}
			ok := true
			for _, depID := range g.edges[id] {
				if _, done := placed[depID]; !done {
					ok = false
					break
				}
			}
			if ok {
				layer = append(layer, id)
			}
		}

		if len(layer) == 0 {
			// No placeable stories remain: the rest form a cycle.
			return nil, ErrCyclicPrerequisites
		}

		depth := len(layers)
		for _, id := range layer {
			placed[id] = depth
		}
		layers = append(layers, layer)
		g.debugLog("[graph.Layers] layer %d: %v", depth, layer)
	}

	return layers, nil
}

// GetReady returns IDs of stories whose prerequisites are all complete and
// that are not themselves complete. The result is sorted for determinism.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, story := range g.nodes {
		if g.complete[id] || story.Status.Terminal() {
			continue
		}
		ok := true
		for _, depID := range g.edges[id] {
			if !g.complete[depID] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// MarkComplete marks a story as completed in the graph.
func (g *DependencyGraph) MarkComplete(storyID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.complete[storyID] = true
}

// GetStory returns the story for a given ID, or nil if not found.
func (g *DependencyGraph) GetStory(storyID string) *models.Story {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[storyID]
}

// GetPrerequisites returns the IDs the given story depends on.
func (g *DependencyGraph) GetPrerequisites(storyID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[storyID]
}

// GetDependents returns the IDs of stories that depend on the given story.
func (g *DependencyGraph) GetDependents(storyID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == storyID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// Size returns the number of stories in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
