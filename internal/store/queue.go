package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/devfocus/devfocus/internal/model"
)

// Entity names the kind of record a queue item refers to.
type Entity string

const (
	EntityTask    Entity = "task"
	EntityProject Entity = "project"
)

// Action names the remote operation a queue item represents.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueueItem is one pending remote write. Payload holds the full entity
// snapshot for create/update and is nil for delete.
type QueueItem struct {
	ID         string
	Entity     Entity
	Action     Action
	EntityID   string
	Payload    json.RawMessage
	EnqueuedAt int64
	RetryCount int
}

// NewQueueID generates a queue item id: sync_<millis>_<random base36>.
func NewQueueID() string {
	return "sync_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + randBase36(9)
}

func randBase36(n int) string {
	id := model.NewID()
	if len(id) >= n {
		return id[len(id)-n:]
	}
	return id
}

// Enqueue appends a pending change with zero retries.
func (s *Store) Enqueue(ctx context.Context, entity Entity, action Action, entityID string, payload json.RawMessage) (*QueueItem, error) {
	item := &QueueItem{
		ID:         NewQueueID(),
		Entity:     entity,
		Action:     action,
		EntityID:   entityID,
		Payload:    payload,
		EnqueuedAt: model.NowMillis(),
	}
	var p any
	if item.Payload != nil {
		p = string(item.Payload)
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (id, entity, action, payload, entity_id, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, 0)`,
		item.ID, string(item.Entity), string(item.Action), p, item.EntityID, item.EnqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s %s %s: %w", entity, action, entityID, err)
	}
	return item, nil
}

// ListPending returns queue items oldest-first. Drain order must follow
// this order so per-entity changes apply in the sequence they were made.
func (s *Store) ListPending(ctx context.Context) ([]*QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, entity, action, payload, entity_id, enqueued_at, retry_count
	FROM sync_queue ORDER BY enqueued_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	defer rows.Close()

	var items []*QueueItem
	for rows.Next() {
		var item QueueItem
		var entity, action string
		var payload *string
		if err := rows.Scan(&item.ID, &entity, &action, &payload, &item.EntityID, &item.EnqueuedAt, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Entity = Entity(entity)
		item.Action = Action(action)
		if payload != nil {
			item.Payload = json.RawMessage(*payload)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync queue: %w", err)
	}
	return items, nil
}

// RemoveQueueItem deletes an item after confirmed remote application.
// Removing an already-absent item is a no-op.
func (s *Store) RemoveQueueItem(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue item %s: %w", id, err)
	}
	return nil
}

// BumpRetry increments an item's retry count and returns the new count.
func (s *Store) BumpRetry(ctx context.Context, id string) (int, error) {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1 WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("failed to bump retry for %s: %w", id, err)
	}
	var count int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT retry_count FROM sync_queue WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count for %s: %w", id, err)
	}
	return count, nil
}

// QueueCount returns the number of pending items.
func (s *Store) QueueCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return count, nil
}

// ClearQueue removes every pending item.
func (s *Store) ClearQueue(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}

// CollapseQueue merges same-entity queue items before a drain pass so
// a single remote write reflects the latest local state:
//
//   - a delete supersedes every earlier item for the same entity; only
//     the delete survives
//   - consecutive create/update items keep one survivor at the earliest
//     position, carrying the newest payload; the action stays "create"
//     if any collapsed item was a create, so the entity is still
//     created remotely
//
// Returns the number of items removed.
func (s *Store) CollapseQueue(ctx context.Context) (int, error) {
	items, err := s.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	if len(items) < 2 {
		return 0, nil
	}

	type group struct {
		survivor *QueueItem
		doomed   []*QueueItem
	}
	groups := make(map[string]*group)
	order := make([]string, 0, len(items))

	for _, item := range items {
		key := string(item.Entity) + "/" + item.EntityID
		g, ok := groups[key]
		if !ok {
			groups[key] = &group{survivor: item}
			order = append(order, key)
			continue
		}
		if item.Action == ActionDelete {
			// Delete supersedes everything queued before it.
			g.doomed = append(g.doomed, g.survivor)
			g.survivor = item
			continue
		}
		// Later create/update: keep the earliest slot, newest payload.
		g.survivor.Payload = item.Payload
		if g.survivor.Action != ActionCreate {
			g.survivor.Action = item.Action
		}
		g.doomed = append(g.doomed, item)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, key := range order {
		g := groups[key]
		if len(g.doomed) == 0 {
			continue
		}
		for _, d := range g.doomed {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, d.ID); err != nil {
				return 0, fmt.Errorf("failed to remove collapsed item %s: %w", d.ID, err)
			}
			removed++
		}
		var payload any
		if g.survivor.Payload != nil {
			payload = string(g.survivor.Payload)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_queue SET action = ?, payload = ? WHERE id = ?`,
			string(g.survivor.Action), payload, g.survivor.ID); err != nil {
			return 0, fmt.Errorf("failed to update collapsed item %s: %w", g.survivor.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit queue collapse: %w", err)
	}
	return removed, nil
}

// ===== Combined entity + queue transactions =====

// PutTaskAndEnqueue writes the task and appends the matching queue item
// in one transaction.
func (s *Store) PutTaskAndEnqueue(ctx context.Context, task *model.Task, action Action) (*QueueItem, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}
	item := &QueueItem{
		ID:         NewQueueID(),
		Entity:     EntityTask,
		Action:     action,
		EntityID:   task.ID,
		Payload:    data,
		EnqueuedAt: model.NowMillis(),
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO tasks (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		task.ID, string(data), task.CreatedAt, task.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to put task %s: %w", task.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (id, entity, action, payload, entity_id, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, 0)`,
		item.ID, string(item.Entity), string(item.Action), string(data), task.ID, item.EnqueuedAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task mutation: %w", err)
	}
	return item, nil
}

// DeleteTaskAndEnqueue removes the task and appends a delete queue item
// in one transaction.
func (s *Store) DeleteTaskAndEnqueue(ctx context.Context, id string) (*QueueItem, error) {
	item := &QueueItem{
		ID:         NewQueueID(),
		Entity:     EntityTask,
		Action:     ActionDelete,
		EntityID:   id,
		EnqueuedAt: model.NowMillis(),
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (id, entity, action, payload, entity_id, enqueued_at, retry_count)
	VALUES (?, ?, ?, NULL, ?, ?, 0)`,
		item.ID, string(item.Entity), string(item.Action), id, item.EnqueuedAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue task delete %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit task delete: %w", err)
	}
	return item, nil
}

// PutProjectAndEnqueue writes the project and appends the matching
// queue item in one transaction.
func (s *Store) PutProjectAndEnqueue(ctx context.Context, project *model.Project, action Action) (*QueueItem, error) {
	if err := project.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project: %w", err)
	}
	data, err := json.Marshal(project)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	item := &QueueItem{
		ID:         NewQueueID(),
		Entity:     EntityProject,
		Action:     action,
		EntityID:   project.ID,
		Payload:    data,
		EnqueuedAt: model.NowMillis(),
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO projects (id, data) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		project.ID, string(data)); err != nil {
		return nil, fmt.Errorf("failed to put project %s: %w", project.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (id, entity, action, payload, entity_id, enqueued_at, retry_count)
	VALUES (?, ?, ?, ?, ?, ?, 0)`,
		item.ID, string(item.Entity), string(item.Action), string(data), project.ID, item.EnqueuedAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue project %s: %w", project.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project mutation: %w", err)
	}
	return item, nil
}

// DeleteProjectAndEnqueue removes the project and appends a delete
// queue item in one transaction.
func (s *Store) DeleteProjectAndEnqueue(ctx context.Context, id string) (*QueueItem, error) {
	item := &QueueItem{
		ID:         NewQueueID(),
		Entity:     EntityProject,
		Action:     ActionDelete,
		EntityID:   id,
		EnqueuedAt: model.NowMillis(),
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO sync_queue (id, entity, action, payload, entity_id, enqueued_at, retry_count)
	VALUES (?, ?, ?, NULL, ?, ?, 0)`,
		item.ID, string(item.Entity), string(item.Action), id, item.EnqueuedAt); err != nil {
		return nil, fmt.Errorf("failed to enqueue project delete %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project delete: %w", err)
	}
	return item, nil
}
