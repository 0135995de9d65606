package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"planner-api/domain"
)

const (
	weekPartition = "week"
	taskPartition = "task"

	maxConflictRetries = 5
)

// Tables stores weeks and tasks in Azure Table Storage.
type Tables struct {
	weekTable *aztables.Client
	taskTable *aztables.Client
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, weeksTable, tasksTable string) (*Tables, error) {
	svc, err := newServiceClient(connStr)
	if err != nil {
		return nil, err
	}
	return &Tables{weekTable: svc.NewClient(weeksTable), taskTable: svc.NewClient(tasksTable)}, nil
}

func newServiceClient(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type weekEntity struct {
	entityKeys
	Year        int    `json:"Year"`
	NumWeek     int    `json:"NumWeek"`
	Color       string `json:"Color"`
	Description string `json:"Description"`
	Priority    int    `json:"Priority"`
	Link        string `json:"Link"`
}

type taskEntity struct {
	entityKeys
	YearWeek    string  `json:"YearWeek"`
	DayOfWeek   string  `json:"DayOfWeek"`
	Name        string  `json:"Name"`
	Description string  `json:"Description"`
	Color       string  `json:"Color"`
	TimeStart   string  `json:"TimeStart"`
	TimeEnd     string  `json:"TimeEnd"`
	Finished    int     `json:"Finished"`
	Priority    int     `json:"Priority"`
	File        *string `json:"File,omitempty"`
}

func toWeekEntity(w domain.Week) weekEntity {
	return weekEntity{
		entityKeys:  entityKeys{PartitionKey: weekPartition, RowKey: w.ID},
		Year:        w.Year,
		NumWeek:     w.NumWeek,
		Color:       w.Color,
		Description: w.Description,
		Priority:    w.Priority,
		Link:        w.Link,
	}
}

func (e weekEntity) week() domain.Week {
	return domain.Week{
		ID:          e.RowKey,
		Year:        e.Year,
		NumWeek:     e.NumWeek,
		Color:       e.Color,
		Description: e.Description,
		Priority:    e.Priority,
		Link:        e.Link,
	}
}

func toTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		entityKeys:  entityKeys{PartitionKey: taskPartition, RowKey: t.ID},
		YearWeek:    t.YearWeek,
		DayOfWeek:   t.DayOfWeek,
		Name:        t.Name,
		Description: t.Description,
		Color:       t.Color,
		TimeStart:   t.TimeStart,
		TimeEnd:     t.TimeEnd,
		Finished:    t.Finished,
		Priority:    t.Priority,
		File:        t.File,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		YearWeek:    e.YearWeek,
		DayOfWeek:   e.DayOfWeek,
		Name:        e.Name,
		Description: e.Description,
		Color:       e.Color,
		TimeStart:   e.TimeStart,
		TimeEnd:     e.TimeEnd,
		Finished:    e.Finished,
		Priority:    e.Priority,
		File:        e.File,
	}
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func listPartition[T any](ctx context.Context, c *aztables.Client, pk string) ([]T, error) {
	filter := "PartitionKey eq '" + pk + "'"
	pager := c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent T
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	return out, nil
}

// ListWeeks returns every week in creation order.
func (s *Tables) ListWeeks(ctx context.Context) ([]domain.Week, error) {
	ents, err := listPartition[weekEntity](ctx, s.weekTable, weekPartition)
	if err != nil {
		return nil, err
	}
	weeks := make([]domain.Week, 0, len(ents))
	for _, e := range ents {
		weeks = append(weeks, e.week())
	}
	return weeks, nil
}

func (s *Tables) InsertWeek(ctx context.Context, w domain.Week) (domain.Week, error) {
	id, err := newID()
	if err != nil {
		return domain.Week{}, err
	}
	w.ID = id
	payload, err := json.Marshal(toWeekEntity(w))
	if err != nil {
		return domain.Week{}, err
	}
	if _, err := s.weekTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Week{}, err
	}
	return w, nil
}

// ReplaceWeek overwrites an existing week. It returns nil when the week does
// not exist.
func (s *Tables) ReplaceWeek(ctx context.Context, w domain.Week) (*domain.Week, error) {
	payload, err := json.Marshal(toWeekEntity(w))
	if err != nil {
		return nil, err
	}
	et := azcore.ETagAny
	_, err = s.weekTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}

func (s *Tables) DeleteWeek(ctx context.Context, id string) (*domain.Week, error) {
	var deleted *domain.Week
	err := deleteWithETag(ctx, s.weekTable, weekPartition, id, func(raw []byte) error {
		var ent weekEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		w := ent.week()
		deleted = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ListTasks returns every task in creation order.
func (s *Tables) ListTasks(ctx context.Context) ([]domain.Task, error) {
	ents, err := listPartition[taskEntity](ctx, s.taskTable, taskPartition)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(ents))
	for _, e := range ents {
		tasks = append(tasks, e.task())
	}
	return tasks, nil
}

func (s *Tables) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	id, err := newID()
	if err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	payload, err := json.Marshal(toTaskEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// UpdateTask applies patch with optimistic concurrency, retrying when the
// entity changes between read and write.
func (s *Tables) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		resp, err := s.taskTable.GetEntity(ctx, taskPartition, id, nil)
		if err != nil {
			if statusCode(err) == http.StatusNotFound {
				return nil, nil
			}
			return nil, err
		}
		var ent taskEntity
		if err := json.Unmarshal(resp.Value, &ent); err != nil {
			return nil, err
		}
		task := patch.Apply(ent.task())
		payload, err := json.Marshal(toTaskEntity(task))
		if err != nil {
			return nil, err
		}
		etag := resp.ETag
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch statusCode(err) {
		case 0:
			if err != nil {
				return nil, err
			}
			return &task, nil
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return nil, nil
		default:
			return nil, err
		}
	}
	return nil, domain.ErrConcurrencyConflict
}

// DeleteTask removes a task and returns it as it was before the delete.
func (s *Tables) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	var deleted *domain.Task
	err := deleteWithETag(ctx, s.taskTable, taskPartition, id, func(raw []byte) error {
		var ent taskEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return err
		}
		t := ent.task()
		deleted = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// deleteWithETag reads the entity, hands it to decode and deletes exactly the
// version that was read. decode is not called for a missing entity.
func deleteWithETag(ctx context.Context, c *aztables.Client, pk, rk string, decode func([]byte) error) error {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		resp, err := c.GetEntity(ctx, pk, rk, nil)
		if err != nil {
			if statusCode(err) == http.StatusNotFound {
				return nil
			}
			return err
		}
		etag := resp.ETag
		_, err = c.DeleteEntity(ctx, pk, rk, &aztables.DeleteEntityOptions{IfMatch: &etag})
		switch statusCode(err) {
		case 0:
			if err != nil {
				return err
			}
			return decode(resp.Value)
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return nil
		default:
			return err
		}
	}
	return domain.ErrConcurrencyConflict
}

// Ping checks that the tasks table is reachable.
func (s *Tables) Ping(ctx context.Context) error {
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return err
	}
	return nil
}

func (s *Tables) Close() error { return nil }

// CreateTables creates the given tables, ignoring ones that already exist.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := newServiceClient(connStr)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}
