package model

// TaskPatch is a partial task update. Nil fields are left unchanged.
// Clearing an optional field is expressed by pointing at the zero
// value (e.g. ClearDueDate for DueDate).
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *Status
	Tags         []Tag
	ProjectID    *string
	Order        *float64
	DueDate      *int64
	ClearDueDate bool
	Priority     *Priority
	Subtasks     []Subtask
}

// Apply copies the set fields of the patch onto the task and refreshes
// UpdatedAt. It does not validate; callers validate the result.
func (p *TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.Order != nil {
		v := *p.Order
		t.Order = &v
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		v := *p.DueDate
		t.DueDate = &v
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Subtasks != nil {
		t.Subtasks = p.Subtasks
	}
	t.Touch()
}
