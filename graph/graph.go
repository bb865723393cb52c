// Package graph validates task dependencies and derives the execution order.
package graph

import (
	"github.com/warriorguo/ensemble/types"
)

// Graph is an immutable, validated dependency graph.
// It is safe for concurrent read access.
type Graph struct {
	tasks []*types.TaskDefinition
	index map[string]int

	levels [][]string
	order  []string

	dependents map[string][]string
}

// Build validates the tasks and computes their execution order.
//
// Tasks become ready level by level: a level holds every task whose
// dependencies all sit in earlier levels, in definition order. The order is
// the concatenation of the levels, so the same input always yields the same
// order.
func Build(tasks []*types.TaskDefinition) (*Graph, error) {
	g := &Graph{
		tasks:      tasks,
		index:      make(map[string]int, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for i, task := range tasks {
		if _, exists := g.index[task.ID]; exists {
			return nil, types.NewDuplicateTask(task.ID)
		}
		g.index[task.ID] = i
	}
	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			if _, exists := g.index[dep]; !exists {
				return nil, types.NewUnknownDependency(task.ID, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], task.ID)
		}
	}

	placed := make(map[string]bool, len(tasks))
	remaining := append([]*types.TaskDefinition{}, tasks...)
	for len(remaining) > 0 {
		level := make([]string, 0)
		rest := make([]*types.TaskDefinition, 0, len(remaining))
		for _, task := range remaining {
			if allPlaced(placed, task.DependsOn) {
				level = append(level, task.ID)
			} else {
				rest = append(rest, task)
			}
		}
		if len(level) == 0 {
			return nil, types.NewCyclicDependency(cycleMembers(rest)...)
		}
		for _, id := range level {
			placed[id] = true
		}
		g.levels = append(g.levels, level)
		g.order = append(g.order, level...)
		remaining = rest
	}
	return g, nil
}

func allPlaced(placed map[string]bool, deps []string) bool {
	for _, dep := range deps {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// cycleMembers drops the unplaced tasks that only wait behind a cycle,
// leaving the tasks that form (or connect) cycles, in definition order.
func cycleMembers(unplaced []*types.TaskDefinition) []string {
	alive := make(map[string]bool, len(unplaced))
	for _, task := range unplaced {
		alive[task.ID] = true
	}
	for pruned := true; pruned; {
		pruned = false
		needed := make(map[string]bool, len(alive))
		for _, task := range unplaced {
			if !alive[task.ID] {
				continue
			}
			for _, dep := range task.DependsOn {
				needed[dep] = true
			}
		}
		for _, task := range unplaced {
			if alive[task.ID] && !needed[task.ID] {
				delete(alive, task.ID)
				pruned = true
			}
		}
	}

	members := make([]string, 0, len(alive))
	for _, task := range unplaced {
		if alive[task.ID] {
			members = append(members, task.ID)
		}
	}
	return members
}

// Order returns the task ids in execution order.
func (g *Graph) Order() []string {
	return append([]string{}, g.order...)
}

// Levels returns the groups of tasks that become ready together.
func (g *Graph) Levels() [][]string {
	levels := make([][]string, len(g.levels))
	for i, level := range g.levels {
		levels[i] = append([]string{}, level...)
	}
	return levels
}

// OrderedTasks returns the definitions in execution order.
func (g *Graph) OrderedTasks() []*types.TaskDefinition {
	out := make([]*types.TaskDefinition, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[g.index[id]])
	}
	return out
}

func (g *Graph) Task(id string) (*types.TaskDefinition, bool) {
	i, exists := g.index[id]
	if !exists {
		return nil, false
	}
	return g.tasks[i], true
}

func (g *Graph) Len() int {
	return len(g.tasks)
}

func (g *Graph) Dependencies(id string) []string {
	task, exists := g.Task(id)
	if !exists {
		return nil
	}
	return append([]string{}, task.DependsOn...)
}

// Dependents returns the tasks depending directly on id, in definition order.
func (g *Graph) Dependents(id string) []string {
	return append([]string{}, g.dependents[id]...)
}

// Downstream returns every task that transitively depends on id, in execution order.
func (g *Graph) Downstream(id string) []string {
	reached := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.dependents[current] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}

	out := make([]string, 0, len(reached))
	for _, candidate := range g.order {
		if reached[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}
