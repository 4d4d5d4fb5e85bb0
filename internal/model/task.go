// Package model provides the task and project data structures shared by
// the local store, the sync engine, and the remote gateway.
package model

import (
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// Status is the board column a task lives in.
type Status string

const (
	StatusBacklog    Status = "BACKLOG"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReview     Status = "REVIEW"
	StatusDone       Status = "DONE"
)

// Statuses lists every valid status in board order.
var Statuses = []Status{StatusBacklog, StatusInProgress, StatusReview, StatusDone}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Label returns the human-readable name for a status.
func (s Status) Label() string {
	switch s {
	case StatusBacklog:
		return "Backlog"
	case StatusInProgress:
		return "In Progress"
	case StatusReview:
		return "Review"
	case StatusDone:
		return "Done"
	}
	return string(s)
}

// Priority is an optional task priority. The empty string means unset.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
	PriorityNone   Priority = ""
)

// Valid reports whether p is a known priority (including unset).
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow, PriorityNone:
		return true
	}
	return false
}

// Tag is a label attached to a task. Color carries the UI color token.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Subtask is a checklist entry under a task.
type Subtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Task is the unit of work tracked by the application.
//
// Timestamps are unix milliseconds. UpdatedAt is refreshed on every
// mutation. Order is an optional sortable real number for manual
// ordering within a status; when absent, CreatedAt is used instead.
// ProjectID is a weak reference: a dangling id is tolerated and read
// as "no project". SyncedAt is server-assigned and never set locally.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"` // markdown supported
	Status      Status    `json:"status"`
	Tags        []Tag     `json:"tags"`
	CreatedAt   int64     `json:"createdAt"`
	UpdatedAt   int64     `json:"updatedAt"`
	ProjectID   string    `json:"projectId,omitempty"`
	Order       *float64  `json:"order,omitempty"`
	DueDate     *int64    `json:"dueDate,omitempty"`
	Priority    Priority  `json:"priority,omitempty"`
	Subtasks    []Subtask `json:"subtasks,omitempty"`
	SyncedAt    *int64    `json:"syncedAt,omitempty"`
}

// Validate checks that the task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if t.CreatedAt == 0 {
		return fmt.Errorf("createdAt is required")
	}
	if t.UpdatedAt == 0 {
		return fmt.Errorf("updatedAt is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	now := NowMillis()
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if t.Tags == nil {
		t.Tags = []Tag{}
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.UpdatedAt == 0 {
		t.UpdatedAt = now
	}
}

// Touch refreshes UpdatedAt. Call this whenever any field is modified.
func (t *Task) Touch() {
	t.UpdatedAt = NowMillis()
}

// SortKey returns the manual order value, falling back to CreatedAt
// when no explicit order has been assigned.
func (t *Task) SortKey() float64 {
	if t.Order != nil {
		return *t.Order
	}
	return float64(t.CreatedAt)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Tags != nil {
		c.Tags = append([]Tag(nil), t.Tags...)
	}
	if t.Subtasks != nil {
		c.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	if t.Order != nil {
		v := *t.Order
		c.Order = &v
	}
	if t.DueDate != nil {
		v := *t.DueDate
		c.DueDate = &v
	}
	if t.SyncedAt != nil {
		v := *t.SyncedAt
		c.SyncedAt = &v
	}
	return &c
}

// NowMillis returns the current time as unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewID generates an opaque unique id: base36 timestamp plus a random
// base36 suffix. Uniqueness is only required within one namespace.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + randSuffix(9)
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36[rand.Intn(len(base36))]
	}
	return string(b)
}
