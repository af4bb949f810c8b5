package rules

import (
	"fmt"
	"sort"

	"github.com/reforge-inc/reforge-engine/pkg/apperrors"
)

// ChapterGraph holds the dependency edges between report sections:
// section -> the set of sections it depends on. The graph is immutable once
// built and must be acyclic; NewChapterGraph rejects cycles.
type ChapterGraph struct {
	deps     map[string][]string
	sections []string
}

// NewChapterGraph builds a chapter graph from dependency edges and verifies
// it is acyclic. Sections that only appear on the right-hand side of an edge
// are registered too.
func NewChapterGraph(deps map[string][]string) (*ChapterGraph, error) {
	sectionSet := make(map[string]bool)
	copied := make(map[string][]string, len(deps))
	for section, parents := range deps {
		sectionSet[section] = true
		copied[section] = append([]string(nil), parents...)
		for _, p := range parents {
			sectionSet[p] = true
		}
	}

	sections := make([]string, 0, len(sectionSet))
	for s := range sectionSet {
		sections = append(sections, s)
	}
	sort.Strings(sections)

	g := &ChapterGraph{deps: copied, sections: sections}
	if cycle := g.findCycle(); cycle != "" {
		return nil, fmt.Errorf("section %q: %w", cycle, apperrors.ErrCyclicChapterGraph)
	}
	return g, nil
}

// Sections returns every known section, sorted.
func (g *ChapterGraph) Sections() []string {
	return append([]string(nil), g.sections...)
}

// DependsOn returns the sections the given section depends on.
func (g *ChapterGraph) DependsOn(section string) []string {
	return append([]string(nil), g.deps[section]...)
}

// Closure expands the seed set to include every section that transitively
// depends on a member of the set. It iterates to a fixed point, which is
// finite because the graph is acyclic. Closure is idempotent:
// Closure(Closure(s)) == Closure(s). The result is sorted.
func (g *ChapterGraph) Closure(seed []string) []string {
	affected := make(map[string]bool, len(seed))
	for _, s := range seed {
		affected[s] = true
	}

	for {
		added := false
		for section, parents := range g.deps {
			if affected[section] {
				continue
			}
			for _, p := range parents {
				if affected[p] {
					affected[section] = true
					added = true
					break
				}
			}
		}
		if !added {
			break
		}
	}

	result := make([]string, 0, len(affected))
	for s := range affected {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// findCycle runs a three-color DFS over the dependency edges. Returns the
// name of a section on a cycle, or "" when the graph is acyclic.
func (g *ChapterGraph) findCycle() string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(g.sections))
	var visit func(section string) string
	visit = func(section string) string {
		color[section] = gray
		for _, p := range g.deps[section] {
			switch color[p] {
			case gray:
				return p
			case white:
				if c := visit(p); c != "" {
					return c
				}
			}
		}
		color[section] = black
		return ""
	}

	for _, s := range g.sections {
		if color[s] == white {
			if c := visit(s); c != "" {
				return c
			}
		}
	}
	return ""
}
