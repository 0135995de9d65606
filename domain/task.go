package domain

// Task represents a single day entry of a planner week.
type Task struct {
	ID          string  `json:"id"`
	YearWeek    string  `json:"yearweek"`
	DayOfWeek   string  `json:"dayofweek"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Color       string  `json:"color"`
	TimeStart   string  `json:"time_start"`
	TimeEnd     string  `json:"time_end"`
	Finished    int     `json:"finished"`
	Priority    int     `json:"priority"`
	File        *string `json:"file,omitempty"`
}

// TaskInput carries the fields of a task to be created. Pointers distinguish
// missing fields from zero values.
type TaskInput struct {
	YearWeek    *string `json:"yearweek"`
	DayOfWeek   *string `json:"dayofweek"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	TimeStart   *string `json:"time_start"`
	TimeEnd     *string `json:"time_end"`
	Finished    *int    `json:"finished"`
	Priority    *int    `json:"priority"`
	File        *string `json:"file,omitempty"`
}

// Validate reports every required field that is absent or empty.
func (in TaskInput) Validate() error {
	var missing []string
	missing = requireString(missing, "yearweek", in.YearWeek)
	missing = requireString(missing, "dayofweek", in.DayOfWeek)
	missing = requireString(missing, "name", in.Name)
	missing = requireString(missing, "description", in.Description)
	missing = requireString(missing, "color", in.Color)
	missing = requireString(missing, "time_start", in.TimeStart)
	missing = requireString(missing, "time_end", in.TimeEnd)
	missing = requireInt(missing, "finished", in.Finished)
	missing = requireInt(missing, "priority", in.Priority)
	if len(missing) > 0 {
		return &ValidationError{Entity: "task", Fields: missing}
	}
	return nil
}

// Task builds the entity described by a validated input.
func (in TaskInput) Task() Task {
	t := Task{
		YearWeek:    deref(in.YearWeek),
		DayOfWeek:   deref(in.DayOfWeek),
		Name:        deref(in.Name),
		Description: deref(in.Description),
		Color:       deref(in.Color),
		TimeStart:   deref(in.TimeStart),
		TimeEnd:     deref(in.TimeEnd),
	}
	if in.Finished != nil {
		t.Finished = *in.Finished
	}
	if in.Priority != nil {
		t.Priority = *in.Priority
	}
	if in.File != nil {
		f := *in.File
		t.File = &f
	}
	return t
}

// TaskPatch carries a partial task update. Nil fields are left untouched.
type TaskPatch struct {
	YearWeek    *string `json:"yearweek,omitempty"`
	DayOfWeek   *string `json:"dayofweek,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
	TimeStart   *string `json:"time_start,omitempty"`
	TimeEnd     *string `json:"time_end,omitempty"`
	Finished    *int    `json:"finished,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	File        *string `json:"file,omitempty"`
}

// Apply returns a copy of t with the supplied fields replaced.
func (p TaskPatch) Apply(t Task) Task {
	if p.YearWeek != nil {
		t.YearWeek = *p.YearWeek
	}
	if p.DayOfWeek != nil {
		t.DayOfWeek = *p.DayOfWeek
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.TimeStart != nil {
		t.TimeStart = *p.TimeStart
	}
	if p.TimeEnd != nil {
		t.TimeEnd = *p.TimeEnd
	}
	if p.Finished != nil {
		t.Finished = *p.Finished
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.File != nil {
		f := *p.File
		t.File = &f
	}
	return t
}

// TaskPatchItem pairs a task id with its patch for bulk updates.
type TaskPatchItem struct {
	ID string `json:"id"`
	TaskPatch
}

func requireString(missing []string, name string, v *string) []string {
	if v == nil || *v == "" {
		return append(missing, name)
	}
	return missing
}

func requireInt(missing []string, name string, v *int) []string {
	if v == nil {
		return append(missing, name)
	}
	return missing
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
