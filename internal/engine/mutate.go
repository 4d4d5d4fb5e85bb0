package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/store"
)

// ErrNotFound is returned when a mutation targets an id that does not
// exist locally.
var ErrNotFound = errors.New("not found")

// AddTask creates a task. Missing fields get defaults, the write lands
// in the local store and the queue atomically, and a drain is kicked
// off in the background. The task is visible locally immediately.
func (e *Engine) AddTask(ctx context.Context, task *model.Task) (*model.Task, error) {
	if task == nil {
		return nil, fmt.Errorf("task cannot be nil")
	}
	task.SetDefaults()
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	if _, err := e.store.PutTaskAndEnqueue(ctx, task, store.ActionCreate); err != nil {
		return e.absorbTaskWrite(task, err)
	}
	e.afterMutation(ctx)
	return task, nil
}

// UpdateTask applies a patch to an existing task.
func (e *Engine) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error) {
	task, err := e.loadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(task)
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	if _, err := e.store.PutTaskAndEnqueue(ctx, task, store.ActionUpdate); err != nil {
		return e.absorbTaskWrite(task, err)
	}
	e.afterMutation(ctx)
	return task, nil
}

// DeleteTask removes a task locally and queues the remote delete.
// Deleting an unknown id returns ErrNotFound.
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	if _, err := e.loadTask(ctx, id); err != nil {
		return err
	}

	if _, err := e.store.DeleteTaskAndEnqueue(ctx, id); err != nil {
		e.absorbTaskDelete(id, err)
		return nil
	}
	e.afterMutation(ctx)
	return nil
}

// MoveTask changes a task's kanban column.
func (e *Engine) MoveTask(ctx context.Context, id string, status model.Status) (*model.Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	return e.UpdateTask(ctx, id, model.TaskPatch{Status: &status})
}

// ReorderTask moves a task to targetIndex within its current column.
// The order value is computed from the neighbors at the target
// position: the average of the two surrounding orders, or an offset of
// 1000 past the edge when dropped first or last. Status and every
// other field are untouched.
func (e *Engine) ReorderTask(ctx context.Context, id string, targetIndex int) (*model.Task, error) {
	task, err := e.loadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := e.store.GetAllTasks(ctx)
	if err != nil {
		e.logger.Printf("Local storage unavailable, ordering against in-memory state: %v", err)
		e.mu.Lock()
		e.degraded = true
		all = e.memTasks
		e.mu.Unlock()
	}

	// Siblings in the same column, ordered, without the moving task.
	column := model.TasksInStatus(all, task.Status)
	siblings := make([]*model.Task, 0, len(column))
	for _, t := range column {
		if t.ID != id {
			siblings = append(siblings, t)
		}
	}

	if targetIndex < 0 {
		targetIndex = 0
	}
	if targetIndex > len(siblings) {
		targetIndex = len(siblings)
	}

	var order float64
	switch {
	case len(siblings) == 0:
		order = float64(task.CreatedAt)
	case targetIndex == 0:
		order = siblings[0].SortKey() - 1000
	case targetIndex == len(siblings):
		order = siblings[len(siblings)-1].SortKey() + 1000
	default:
		order = (siblings[targetIndex-1].SortKey() + siblings[targetIndex].SortKey()) / 2
	}

	task.Order = &order
	task.Touch()

	if _, err := e.store.PutTaskAndEnqueue(ctx, task, store.ActionUpdate); err != nil {
		return e.absorbTaskWrite(task, err)
	}
	e.afterMutation(ctx)
	return task, nil
}

// AddProject creates a project.
func (e *Engine) AddProject(ctx context.Context, project *model.Project) (*model.Project, error) {
	if project == nil {
		return nil, fmt.Errorf("project cannot be nil")
	}
	if project.ID == "" {
		project.ID = model.NewID()
	}
	if err := project.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	project.UpdatedAt = model.NowMillis()

	if _, err := e.store.PutProjectAndEnqueue(ctx, project, store.ActionCreate); err != nil {
		e.logger.Printf("Local write failed for project %s, keeping in memory: %v", project.ID, err)
		e.mu.Lock()
		e.degraded = true
		e.memProjects = upsertProject(e.memProjects, project)
		e.mu.Unlock()
		return project, nil
	}
	e.afterMutation(ctx)
	return project, nil
}

// UpdateProject renames or recolors a project.
func (e *Engine) UpdateProject(ctx context.Context, project *model.Project) (*model.Project, error) {
	if project == nil {
		return nil, fmt.Errorf("project cannot be nil")
	}
	if err := project.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	project.UpdatedAt = model.NowMillis()

	if _, err := e.store.PutProjectAndEnqueue(ctx, project, store.ActionUpdate); err != nil {
		e.logger.Printf("Local write failed for project %s, keeping in memory: %v", project.ID, err)
		e.mu.Lock()
		e.degraded = true
		e.memProjects = upsertProject(e.memProjects, project)
		e.mu.Unlock()
		return project, nil
	}
	e.afterMutation(ctx)
	return project, nil
}

// DeleteProject removes a project. Tasks keep their dangling projectId.
func (e *Engine) DeleteProject(ctx context.Context, id string) error {
	if _, err := e.loadProject(ctx, id); err != nil {
		return err
	}

	if _, err := e.store.DeleteProjectAndEnqueue(ctx, id); err != nil {
		e.absorbProjectDelete(id, err)
		return nil
	}
	e.afterMutation(ctx)
	return nil
}

// afterMutation refreshes queue depth, pushes the new collections to
// the UI, and kicks an immediate background drain.
func (e *Engine) afterMutation(ctx context.Context) {
	e.refreshPending()
	e.recomputeStatus()

	if tasks, err := e.store.GetAllTasks(ctx); err == nil {
		e.notifyTasks(tasks)
	}
	if projects, err := e.store.GetAllProjects(ctx); err == nil {
		e.notifyProjects(projects)
	}

	e.kickDrain()
}

// loadTask resolves a task for a mutation: the durable copy, or the
// in-memory fallback when local storage is unavailable. Only unknown
// ids surface an error (ErrNotFound).
func (e *Engine) loadTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err == nil {
		return task, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}

	e.logger.Printf("Local storage unavailable, resolving task %s from memory: %v", id, err)
	e.mu.Lock()
	e.degraded = true
	var found *model.Task
	for _, t := range e.memTasks {
		if t.ID == id {
			found = t
			break
		}
	}
	e.mu.Unlock()
	if found == nil {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return found.Clone(), nil
}

// loadProject resolves a project the same way loadTask does.
func (e *Engine) loadProject(ctx context.Context, id string) (*model.Project, error) {
	project, err := e.store.GetProject(ctx, id)
	if err == nil {
		return project, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	e.logger.Printf("Local storage unavailable, resolving project %s from memory: %v", id, err)
	e.mu.Lock()
	e.degraded = true
	var found *model.Project
	for _, p := range e.memProjects {
		if p.ID == id {
			found = p
			break
		}
	}
	e.mu.Unlock()
	if found == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	clone := *found
	return &clone, nil
}

// absorbTaskWrite handles a local storage failure during a task
// mutation: the change survives in memory so the session keeps
// functioning, and the error does not escape to the UI.
func (e *Engine) absorbTaskWrite(task *model.Task, err error) (*model.Task, error) {
	e.logger.Printf("Local write failed for task %s, keeping in memory: %v", task.ID, err)
	e.mu.Lock()
	e.degraded = true
	e.memTasks = upsertTask(e.memTasks, task)
	cb := e.callbacks.OnTasks
	tasks := e.memTasks
	e.mu.Unlock()
	if cb != nil {
		cb(tasks)
	}
	return task, nil
}

// absorbTaskDelete handles a local storage failure during a task
// delete: the task disappears from the in-memory state so the UI
// reflects the intent.
func (e *Engine) absorbTaskDelete(id string, err error) {
	e.logger.Printf("Local delete failed for task %s, removing from memory: %v", id, err)
	e.mu.Lock()
	e.degraded = true
	e.memTasks = removeTask(e.memTasks, id)
	cb := e.callbacks.OnTasks
	tasks := e.memTasks
	e.mu.Unlock()
	if cb != nil {
		cb(tasks)
	}
}

// absorbProjectDelete mirrors absorbTaskDelete for projects.
func (e *Engine) absorbProjectDelete(id string, err error) {
	e.logger.Printf("Local delete failed for project %s, removing from memory: %v", id, err)
	e.mu.Lock()
	e.degraded = true
	e.memProjects = removeProject(e.memProjects, id)
	cb := e.callbacks.OnProjects
	projects := e.memProjects
	e.mu.Unlock()
	if cb != nil {
		cb(projects)
	}
}

func upsertTask(tasks []*model.Task, task *model.Task) []*model.Task {
	for i, t := range tasks {
		if t.ID == task.ID {
			tasks[i] = task
			return tasks
		}
	}
	return append(tasks, task)
}

func upsertProject(projects []*model.Project, project *model.Project) []*model.Project {
	for i, p := range projects {
		if p.ID == project.ID {
			projects[i] = project
			return projects
		}
	}
	return append(projects, project)
}

func removeTask(tasks []*model.Task, id string) []*model.Task {
	out := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

func removeProject(projects []*model.Project, id string) []*model.Project {
	out := make([]*model.Project, 0, len(projects))
	for _, p := range projects {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
