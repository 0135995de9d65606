package domain

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "planner/domain"

// TaskStorage defines the store operations behind task mutations. Update and
// Delete return nil when no task has the given id.
type TaskStorage interface {
	ListTasks(ctx context.Context) ([]Task, error)
	InsertTask(ctx context.Context, t Task) (Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error)
	DeleteTask(ctx context.Context, id string) (*Task, error)
}

// Publisher hands events to subscribers without waiting for them.
type Publisher interface {
	Publish(ev Event)
}

// TaskService performs task writes and publishes the matching events.
type TaskService struct {
	st  TaskStorage
	pub Publisher
	log *log.Logger
}

func NewTaskService(st TaskStorage, pub Publisher, logger *log.Logger) TaskService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return TaskService{st: st, pub: pub, log: logger}
}

// List returns every stored task.
func (s TaskService) List(ctx context.Context) ([]Task, error) {
	tasks, err := s.st.ListTasks(ctx)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	return tasks, nil
}

// Create stores a new task and publishes it on TASK_ADDED.
func (s TaskService) Create(ctx context.Context, in TaskInput) (Task, error) {
	ctx, span := startSpan(ctx, "task.create")
	defer span.End()

	if err := in.Validate(); err != nil {
		failSpan(span, err)
		return Task{}, err
	}
	task, err := s.st.InsertTask(ctx, in.Task())
	if err != nil {
		failSpan(span, err)
		return Task{}, storeErr("create task", err)
	}
	span.SetAttributes(attribute.String("task.id", task.ID))
	s.publish(TopicTaskAdded, task)
	return task, nil
}

// Update applies patch to the task with the given id. A missing task yields
// nil and publishes nothing.
func (s TaskService) Update(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	ctx, span := startSpan(ctx, "task.update", attribute.String("task.id", id))
	defer span.End()

	task, err := s.st.UpdateTask(ctx, id, patch)
	if err != nil {
		failSpan(span, err)
		return nil, storeErr("update task "+id, err)
	}
	if task == nil {
		span.SetAttributes(attribute.Bool("task.found", false))
		s.log.WithField("task", id).Debug("update for missing task")
		return nil, nil
	}
	s.publish(TopicTaskUpdated, *task)
	return task, nil
}

// UpdateMany applies each patch in order. Missing tasks are skipped; the
// first store error aborts the remaining patches.
func (s TaskService) UpdateMany(ctx context.Context, items []TaskPatchItem) ([]Task, error) {
	updated := make([]Task, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return updated, &ValidationError{Entity: "task", Fields: []string{"id"}}
		}
		task, err := s.Update(ctx, item.ID, item.TaskPatch)
		if err != nil {
			return updated, err
		}
		if task != nil {
			updated = append(updated, *task)
		}
	}
	return updated, nil
}

// Delete removes the task with the given id and publishes the removed entity.
func (s TaskService) Delete(ctx context.Context, id string) (*Task, error) {
	ctx, span := startSpan(ctx, "task.delete", attribute.String("task.id", id))
	defer span.End()

	task, err := s.st.DeleteTask(ctx, id)
	if err != nil {
		failSpan(span, err)
		return nil, storeErr("delete task "+id, err)
	}
	if task == nil {
		span.SetAttributes(attribute.Bool("task.found", false))
		s.log.WithField("task", id).Debug("delete for missing task")
		return nil, nil
	}
	s.publish(TopicTaskDeleted, *task)
	return task, nil
}

func (s TaskService) publish(topic Topic, task Task) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(Event{Topic: topic, Task: task})
	s.log.WithFields(log.Fields{"topic": topic, "task": task.ID}).Debug("task event published")
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
