package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/remote"
	"github.com/devfocus/devfocus/internal/store"
)

// drainLoop runs periodic queue drains until the engine stops.
func (e *Engine) drainLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Drain(e.ctx)
		}
	}
}

// kickDrain starts a background drain pass.
func (e *Engine) kickDrain() {
	go e.Drain(e.ctx)
}

// Drain pushes queued mutations to the remote store in FIFO order. At
// most one drain runs at a time; a pass that finds another in flight
// returns immediately and the periodic trigger retries.
//
// The queue is collapsed first so bursts of edits to one entity cost a
// single remote write. An offline-classified failure aborts the pass
// without touching the failing item's retry count; a rejection bumps
// it, and items that exhaust the retry budget are dropped.
func (e *Engine) Drain(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	e.mu.Lock()
	online, authenticated, namespace := e.online, e.authenticated, e.namespace
	e.mu.Unlock()
	if !online || !authenticated {
		return
	}

	if removed, err := e.store.CollapseQueue(ctx); err != nil {
		e.logger.Printf("Queue collapse failed: %v", err)
	} else if removed > 0 {
		e.logger.Printf("Collapsed %d redundant queue items", removed)
	}

	items, err := e.store.ListPending(ctx)
	if err != nil {
		e.logger.Printf("Failed to list queue: %v", err)
		e.mu.Lock()
		e.failed = true
		e.mu.Unlock()
		e.recomputeStatus()
		return
	}
	e.mu.Lock()
	e.failed = false
	e.mu.Unlock()

	if len(items) == 0 {
		e.refreshPending()
		e.recomputeStatus()
		return
	}

	e.forceStatus(StatusSyncing)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}

		err := e.applyItem(ctx, namespace, item)
		if err == nil {
			if err := e.store.RemoveQueueItem(ctx, item.ID); err != nil {
				e.logger.Printf("Failed to remove applied item %s: %v", item.ID, err)
			}
			continue
		}

		if remote.IsOffline(err) {
			e.logger.Printf("Remote unreachable, pausing drain: %v", err)
			e.SetOnline(false)
			break
		}

		count, bumpErr := e.store.BumpRetry(ctx, item.ID)
		if bumpErr != nil {
			e.logger.Printf("Failed to bump retry for %s: %v", item.ID, bumpErr)
			continue
		}
		if count >= e.config.MaxRetries {
			e.logger.Printf("Dropping %s %s %s after %d attempts: %v",
				item.Action, item.Entity, item.EntityID, count, err)
			if err := e.store.RemoveQueueItem(ctx, item.ID); err != nil {
				e.logger.Printf("Failed to drop item %s: %v", item.ID, err)
			}
		} else {
			e.logger.Printf("Remote rejected %s %s %s (attempt %d): %v",
				item.Action, item.Entity, item.EntityID, count, err)
		}
	}

	e.refreshPending()
	e.recomputeStatus()
}

// applyItem performs one queue item against the gateway.
func (e *Engine) applyItem(ctx context.Context, namespace string, item *store.QueueItem) error {
	var collection string
	switch item.Entity {
	case store.EntityTask:
		collection = remote.CollectionTasks
	case store.EntityProject:
		collection = remote.CollectionProjects
	default:
		return fmt.Errorf("unknown entity %q", item.Entity)
	}

	if item.Action == store.ActionDelete {
		return e.gateway.DeleteEntity(ctx, namespace, collection, item.EntityID)
	}
	return e.gateway.WriteEntity(ctx, namespace, collection, item.EntityID, item.Payload)
}

// hydrate pulls the remote collections into the local store. Remote
// tasks overwrite local state whenever the remote set is non-empty; an
// empty remote project collection means a fresh namespace, which gets
// the seed projects written through the queue so they reach the remote
// too.
func (e *Engine) hydrate(ctx context.Context) error {
	e.mu.Lock()
	namespace := e.namespace
	e.mu.Unlock()

	taskDocs, err := e.gateway.ReadAll(ctx, namespace, remote.CollectionTasks)
	if err != nil {
		return fmt.Errorf("failed to hydrate tasks: %w", err)
	}
	projectDocs, err := e.gateway.ReadAll(ctx, namespace, remote.CollectionProjects)
	if err != nil {
		return fmt.Errorf("failed to hydrate projects: %w", err)
	}

	if len(taskDocs) > 0 {
		tasks := decodeTasks(taskDocs, e.logger.Printf)
		if err := e.store.ReplaceTasks(ctx, tasks); err != nil {
			return fmt.Errorf("failed to store hydrated tasks: %w", err)
		}
		e.logger.Printf("Hydrated %d tasks", len(tasks))
		e.notifyTasks(tasks)
	}

	if len(projectDocs) == 0 {
		// Empty remote never wins over local data. Seed defaults only
		// when local has nothing either, through the queue so the
		// seeds reach the remote too.
		localCount, err := e.store.ProjectCount(ctx)
		if err != nil {
			return fmt.Errorf("failed to count local projects: %w", err)
		}
		if localCount == 0 {
			e.logger.Printf("Fresh namespace, seeding %d projects", len(e.config.SeedProjects))
			for _, p := range e.config.SeedProjects {
				if _, err := e.store.PutProjectAndEnqueue(ctx, p, store.ActionCreate); err != nil {
					return fmt.Errorf("failed to seed project %s: %w", p.ID, err)
				}
			}
			e.notifyProjects(e.config.SeedProjects)
		}
	} else {
		projects := decodeProjects(projectDocs, e.logger.Printf)
		if err := e.store.ReplaceProjects(ctx, projects); err != nil {
			return fmt.Errorf("failed to store hydrated projects: %w", err)
		}
		e.logger.Printf("Hydrated %d projects", len(projects))
		e.notifyProjects(projects)
	}

	return nil
}

// setupSubscriptions opens live snapshot subscriptions for both
// collections.
func (e *Engine) setupSubscriptions() {
	e.mu.Lock()
	namespace := e.namespace
	e.mu.Unlock()

	taskDebounce := newDebouncer(e.config.DebounceInterval, func(docs []remote.Document) {
		e.applyTaskSnapshot(docs)
	})
	projectDebounce := newDebouncer(e.config.DebounceInterval, func(docs []remote.Document) {
		e.applyProjectSnapshot(docs)
	})

	e.mu.Lock()
	e.debouncers[remote.CollectionTasks] = taskDebounce
	e.debouncers[remote.CollectionProjects] = projectDebounce
	e.mu.Unlock()

	unsubTasks, err := e.gateway.Subscribe(e.ctx, namespace, remote.CollectionTasks,
		taskDebounce.Deliver, e.onSubscriptionError)
	if err != nil {
		e.logger.Printf("Failed to subscribe to tasks: %v", err)
	} else {
		e.mu.Lock()
		e.unsubscribes = append(e.unsubscribes, unsubTasks)
		e.mu.Unlock()
	}

	unsubProjects, err := e.gateway.Subscribe(e.ctx, namespace, remote.CollectionProjects,
		projectDebounce.Deliver, e.onSubscriptionError)
	if err != nil {
		e.logger.Printf("Failed to subscribe to projects: %v", err)
	} else {
		e.mu.Lock()
		e.unsubscribes = append(e.unsubscribes, unsubProjects)
		e.mu.Unlock()
	}
}

// teardownSubscriptions closes all live subscriptions and flushes the
// debouncers.
func (e *Engine) teardownSubscriptions() {
	e.mu.Lock()
	unsubs := e.unsubscribes
	e.unsubscribes = nil
	debouncers := e.debouncers
	e.debouncers = make(map[string]*debouncer)
	e.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, d := range debouncers {
		d.Stop()
	}
}

// onSubscriptionError maps subscription failures onto the online flag.
func (e *Engine) onSubscriptionError(err error) {
	if remote.IsOffline(err) {
		e.SetOnline(false)
		return
	}
	e.logger.Printf("Subscription error: %v", err)
}

// applyTaskSnapshot overwrites the local task collection with a remote
// snapshot. Snapshots also prove the remote is reachable.
func (e *Engine) applyTaskSnapshot(docs []remote.Document) {
	e.mu.Lock()
	e.authoritative[remote.CollectionTasks] = true
	e.mu.Unlock()
	e.SetOnline(true)

	tasks := decodeTasks(docs, e.logger.Printf)
	if err := e.store.ReplaceTasks(e.ctx, tasks); err != nil {
		e.logger.Printf("Failed to apply task snapshot: %v", err)
		e.notifyTasks(tasks)
		return
	}
	e.notifyTasks(tasks)
}

// applyProjectSnapshot overwrites the local project collection with a
// remote snapshot.
func (e *Engine) applyProjectSnapshot(docs []remote.Document) {
	e.mu.Lock()
	e.authoritative[remote.CollectionProjects] = true
	e.mu.Unlock()
	e.SetOnline(true)

	projects := decodeProjects(docs, e.logger.Printf)
	if err := e.store.ReplaceProjects(e.ctx, projects); err != nil {
		e.logger.Printf("Failed to apply project snapshot: %v", err)
		e.notifyProjects(projects)
		return
	}
	e.notifyProjects(projects)
}

// Authoritative reports whether a live snapshot has been applied for
// the collection, making the remote copy the source of truth.
func (e *Engine) Authoritative(collection string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authoritative[collection]
}

func decodeTasks(docs []remote.Document, logf func(string, ...any)) []*model.Task {
	tasks := make([]*model.Task, 0, len(docs))
	for _, doc := range docs {
		var task model.Task
		if err := json.Unmarshal(doc.Data, &task); err != nil {
			logf("Skipping malformed remote task %s: %v", doc.ID, err)
			continue
		}
		if task.ID == "" {
			task.ID = doc.ID
		}
		tasks = append(tasks, &task)
	}
	model.SortByCreatedDesc(tasks)
	return tasks
}

func decodeProjects(docs []remote.Document, logf func(string, ...any)) []*model.Project {
	projects := make([]*model.Project, 0, len(docs))
	for _, doc := range docs {
		var project model.Project
		if err := json.Unmarshal(doc.Data, &project); err != nil {
			logf("Skipping malformed remote project %s: %v", doc.ID, err)
			continue
		}
		if project.ID == "" {
			project.ID = doc.ID
		}
		projects = append(projects, &project)
	}
	return projects
}

// debouncer coalesces bursts of snapshots: the first delivery applies
// immediately, deliveries inside the window replace the pending
// snapshot, and the trailing edge applies the latest one so no final
// state is lost.
type debouncer struct {
	interval time.Duration
	apply    func(docs []remote.Document)

	mu      sync.Mutex
	last    time.Time
	pending []remote.Document
	armed   bool
	timer   *time.Timer
	stopped bool
}

func newDebouncer(interval time.Duration, apply func(docs []remote.Document)) *debouncer {
	return &debouncer{interval: interval, apply: apply}
}

// Deliver hands a snapshot to the debouncer.
func (d *debouncer) Deliver(docs []remote.Document) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	now := time.Now()
	if !d.armed && now.Sub(d.last) >= d.interval {
		d.last = now
		d.mu.Unlock()
		d.apply(docs)
		return
	}

	d.pending = docs
	if !d.armed {
		d.armed = true
		d.timer = time.AfterFunc(d.interval, d.fire)
	}
	d.mu.Unlock()
}

func (d *debouncer) fire() {
	d.mu.Lock()
	docs := d.pending
	d.pending = nil
	d.armed = false
	d.last = time.Now()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped || docs == nil {
		return
	}
	d.apply(docs)
}

// Stop discards any pending snapshot.
func (d *debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
	d.mu.Unlock()
}
