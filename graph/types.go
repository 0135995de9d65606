package graph

import (
	graphql "github.com/graph-gophers/graphql-go"

	"planner-api/domain"
)

type weekResolver struct{ w domain.Week }

func (r *weekResolver) ID() graphql.ID      { return graphql.ID(r.w.ID) }
func (r *weekResolver) Year() int32         { return int32(r.w.Year) }
func (r *weekResolver) NumWeek() int32      { return int32(r.w.NumWeek) }
func (r *weekResolver) Color() string       { return r.w.Color }
func (r *weekResolver) Description() string { return r.w.Description }
func (r *weekResolver) Priority() int32     { return int32(r.w.Priority) }
func (r *weekResolver) Link() string        { return r.w.Link }

type taskResolver struct{ t domain.Task }

func (r *taskResolver) ID() graphql.ID      { return graphql.ID(r.t.ID) }
func (r *taskResolver) YearWeek() string    { return r.t.YearWeek }
func (r *taskResolver) DayOfWeek() string   { return r.t.DayOfWeek }
func (r *taskResolver) Name() string        { return r.t.Name }
func (r *taskResolver) Description() string { return r.t.Description }
func (r *taskResolver) Color() string       { return r.t.Color }
func (r *taskResolver) TimeStart() string   { return r.t.TimeStart }
func (r *taskResolver) TimeEnd() string     { return r.t.TimeEnd }
func (r *taskResolver) Finished() int32     { return int32(r.t.Finished) }
func (r *taskResolver) Priority() int32     { return int32(r.t.Priority) }
func (r *taskResolver) File() *string       { return r.t.File }

type weekArgs struct {
	Year        int32
	NumWeek     int32
	Color       string
	Description string
	Priority    int32
	Link        string
}

func (a weekArgs) input() domain.WeekInput {
	year, num, prio := int(a.Year), int(a.NumWeek), int(a.Priority)
	return domain.WeekInput{
		Year:        &year,
		NumWeek:     &num,
		Color:       &a.Color,
		Description: &a.Description,
		Priority:    &prio,
		Link:        &a.Link,
	}
}

type updateWeekArgs struct {
	ID          graphql.ID
	Year        int32
	NumWeek     int32
	Color       string
	Description string
	Priority    int32
	Link        string
}

func (a updateWeekArgs) input() domain.WeekInput {
	return weekArgs{
		Year:        a.Year,
		NumWeek:     a.NumWeek,
		Color:       a.Color,
		Description: a.Description,
		Priority:    a.Priority,
		Link:        a.Link,
	}.input()
}

type idArgs struct {
	ID graphql.ID
}

type createTaskArgs struct {
	YearWeek    string
	DayOfWeek   string
	Name        string
	Description string
	Color       string
	TimeStart   string
	TimeEnd     string
	Finished    int32
	Priority    int32
	File        *string
}

func (a createTaskArgs) input() domain.TaskInput {
	finished, prio := int(a.Finished), int(a.Priority)
	return domain.TaskInput{
		YearWeek:    &a.YearWeek,
		DayOfWeek:   &a.DayOfWeek,
		Name:        &a.Name,
		Description: &a.Description,
		Color:       &a.Color,
		TimeStart:   &a.TimeStart,
		TimeEnd:     &a.TimeEnd,
		Finished:    &finished,
		Priority:    &prio,
		File:        a.File,
	}
}

type updateTaskArgs struct {
	ID          graphql.ID
	YearWeek    *string
	DayOfWeek   *string
	Name        *string
	Description *string
	Color       *string
	TimeStart   *string
	TimeEnd     *string
	Finished    *int32
	Priority    *int32
	File        *string
}

func (a updateTaskArgs) patch() domain.TaskPatch {
	return domain.TaskPatch{
		YearWeek:    a.YearWeek,
		DayOfWeek:   a.DayOfWeek,
		Name:        a.Name,
		Description: a.Description,
		Color:       a.Color,
		TimeStart:   a.TimeStart,
		TimeEnd:     a.TimeEnd,
		Finished:    widen(a.Finished),
		Priority:    widen(a.Priority),
		File:        a.File,
	}
}

func widen(v *int32) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
