package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warriorguo/ensemble/types"
)

// RenderDOT draws the workflow as a graphviz digraph, tasks filled by status
// and grouped by the level they become ready at.
func RenderDOT(status *types.WorkflowStatus) string {
	r := newWorkflowRenderer()
	return r.generateDOT(status)
}

func newWorkflowRenderer() *workflowRenderer {
	return &workflowRenderer{&strings.Builder{}}
}

type workflowRenderer struct {
	sb *strings.Builder
}

func (d *workflowRenderer) generateDOT(status *types.WorkflowStatus) string {
	d.write("digraph D {")
	d.write("rankdir=\"TB\"")
	d.write("label=%s", quoteString(fmt.Sprintf("%s (%s) %s", status.Name, status.ID, status.Status)))

	for i, level := range taskLevels(status) {
		d.write("subgraph level_%d {", i)
		d.write("rank=\"same\"")
		for _, task := range level {
			d.drawTask(task)
		}
		d.write("}")
	}
	d.drawLinks(status)
	d.write("}")
	return d.sb.String()
}

// taskLevels groups tasks by the length of their longest dependency chain.
func taskLevels(status *types.WorkflowStatus) [][]types.TaskRunStatus {
	depth := make(map[string]int, len(status.Tasks))
	levels := [][]types.TaskRunStatus{}

	for _, task := range status.Tasks {
		level := 0
		for _, dep := range task.DependsOn {
			if d, exists := depth[dep]; exists && d+1 > level {
				level = d + 1
			}
		}
		depth[task.TaskID] = level

		for len(levels) <= level {
			levels = append(levels, nil)
		}
		levels[level] = append(levels[level], task)
	}
	return levels
}

func statusColor(s types.TaskStatus) string {
	switch s {
	case types.TaskRunning:
		return "yellow"
	case types.TaskCompleted:
		return "green"
	case types.TaskFailed:
		return "red"
	default:
		return "white"
	}
}

func packToComment(task types.TaskRunStatus) string {
	s, _ := json.Marshal(map[string]any{
		"status":     task.Status,
		"run_handle": task.RunHandle,
		"error":      task.Error,
	})
	return formatNL(addSlashes(string(s)))
}

func (d *workflowRenderer) drawTask(task types.TaskRunStatus) {
	label := task.TaskID
	if string(task.Type) != task.TaskID {
		label += "\n" + string(task.Type)
	}
	d.write("%s [label=%s shape=\"record\" style=\"filled\" fillcolor=\"%s\" comment=\"%s\"]",
		quoteString(task.TaskID), quoteString(formatNL(label)), statusColor(task.Status), packToComment(task))
}

func (d *workflowRenderer) drawLinks(status *types.WorkflowStatus) {
	for _, task := range status.Tasks {
		for _, dep := range task.DependsOn {
			d.write("%s -> %s", quoteString(dep), quoteString(task.TaskID))
		}
	}
}

func (d *workflowRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}
