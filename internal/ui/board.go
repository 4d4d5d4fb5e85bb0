package ui

import (
	"fmt"
	"strings"

	"github.com/devfocus/devfocus/internal/model"
)

// RenderBoard renders the kanban board as four column sections.
func RenderBoard(tasks []*model.Task, projects []*model.Project) string {
	projectNames := make(map[string]string, len(projects))
	for _, p := range projects {
		projectNames[p.ID] = p.Name
	}

	var b strings.Builder
	for _, status := range model.Statuses {
		column := model.TasksInStatus(tasks, status)
		fmt.Fprintf(&b, "%s %s\n", columnStyle.Render(status.Label()), Dim(fmt.Sprintf("(%d)", len(column))))
		if len(column) == 0 {
			b.WriteString(Dim("  (empty)") + "\n")
		}
		for _, task := range column {
			b.WriteString(renderTaskLine(task, projectNames))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderTaskList renders tasks as a flat list, newest first.
func RenderTaskList(tasks []*model.Task, projects []*model.Project) string {
	projectNames := make(map[string]string, len(projects))
	for _, p := range projects {
		projectNames[p.ID] = p.Name
	}

	var b strings.Builder
	for _, task := range tasks {
		b.WriteString(renderTaskLine(task, projectNames))
	}
	if len(tasks) == 0 {
		b.WriteString(Dim("No tasks.") + "\n")
	}
	return b.String()
}

func renderTaskLine(task *model.Task, projectNames map[string]string) string {
	parts := []string{"  " + idStyle.Render(task.ID), titleStyle.Render(task.Title)}

	if badge := PriorityBadge(task.Priority); badge != "" {
		parts = append(parts, badge)
	}
	if task.DueDate != nil {
		parts = append(parts, DueBadge(*task.DueDate))
	}
	// Dangling project references read as "no project".
	if name, ok := projectNames[task.ProjectID]; ok && task.ProjectID != "" {
		parts = append(parts, Dim("@"+name))
	}
	for _, tag := range task.Tags {
		parts = append(parts, tagStyle.Render("#"+tag.Name))
	}
	if total := len(task.Subtasks); total > 0 {
		done := 0
		for _, st := range task.Subtasks {
			if st.Completed {
				done++
			}
		}
		parts = append(parts, Dim(fmt.Sprintf("[%d/%d]", done, total)))
	}

	return strings.Join(parts, " ") + "\n"
}

// RenderProjects renders the project list.
func RenderProjects(projects []*model.Project, taskCounts map[string]int) string {
	var b strings.Builder
	for _, p := range projects {
		line := fmt.Sprintf("  %s %s", idStyle.Render(p.ID), titleStyle.Render(p.Name))
		if count, ok := taskCounts[p.ID]; ok {
			line += " " + Dim(fmt.Sprintf("(%d tasks)", count))
		}
		b.WriteString(line + "\n")
	}
	if len(projects) == 0 {
		b.WriteString(Dim("No projects.") + "\n")
	}
	return b.String()
}
