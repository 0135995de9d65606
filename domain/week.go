package domain

// Week represents a planner week.
type Week struct {
	ID          string `json:"id"`
	Year        int    `json:"year"`
	NumWeek     int    `json:"numweek"`
	Color       string `json:"color"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Link        string `json:"link"`
}

// WeekInput carries every field of a week. Weeks are created and replaced
// as a whole, so all fields are required in both cases.
type WeekInput struct {
	Year        *int    `json:"year"`
	NumWeek     *int    `json:"numweek"`
	Color       *string `json:"color"`
	Description *string `json:"description"`
	Priority    *int    `json:"priority"`
	Link        *string `json:"link"`
}

func (in WeekInput) Validate() error {
	var missing []string
	missing = requireInt(missing, "year", in.Year)
	missing = requireInt(missing, "numweek", in.NumWeek)
	missing = requireString(missing, "color", in.Color)
	missing = requireString(missing, "description", in.Description)
	missing = requireInt(missing, "priority", in.Priority)
	missing = requireString(missing, "link", in.Link)
	if len(missing) > 0 {
		return &ValidationError{Entity: "week", Fields: missing}
	}
	return nil
}

// Week builds the entity described by a validated input.
func (in WeekInput) Week(id string) Week {
	w := Week{
		ID:          id,
		Color:       deref(in.Color),
		Description: deref(in.Description),
		Link:        deref(in.Link),
	}
	if in.Year != nil {
		w.Year = *in.Year
	}
	if in.NumWeek != nil {
		w.NumWeek = *in.NumWeek
	}
	if in.Priority != nil {
		w.Priority = *in.Priority
	}
	return w
}
