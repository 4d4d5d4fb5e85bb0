package model

import "sort"

// SortByCreatedDesc orders tasks newest-first. This is the default
// listing order when no manual ordering applies.
func SortByCreatedDesc(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}

// TasksInStatus returns the tasks in the given status sorted by their
// manual order key ascending. The input slice is not modified.
func TasksInStatus(tasks []*Task, status Status) []*Task {
	var out []*Task
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortKey() < out[j].SortKey()
	})
	return out
}
