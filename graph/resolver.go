package graph

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"planner-api/domain"
	"planner-api/pubsub"
)

// WeekService performs week reads and writes.
type WeekService interface {
	List(ctx context.Context) ([]domain.Week, error)
	Create(ctx context.Context, in domain.WeekInput) (domain.Week, error)
	Update(ctx context.Context, id string, in domain.WeekInput) (*domain.Week, error)
	Delete(ctx context.Context, id string) (*domain.Week, error)
}

// TaskService performs task reads and writes and publishes task events.
type TaskService interface {
	List(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, in domain.TaskInput) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error)
	Delete(ctx context.Context, id string) (*domain.Task, error)
}

// Subscriber opens live event streams.
type Subscriber interface {
	Subscribe(topics ...domain.Topic) (*pubsub.Subscription, error)
}

// subscriptionTopics maps each Subscription field to the topic it streams.
var subscriptionTopics = map[string]domain.Topic{
	"taskAdded":   domain.TopicTaskAdded,
	"taskUpdated": domain.TopicTaskUpdated,
	"taskDeleted": domain.TopicTaskDeleted,
}

// Resolver is the root resolver for queries, mutations and subscriptions.
type Resolver struct {
	weeks WeekService
	tasks TaskService
	bus   Subscriber
	log   *log.Logger
}

func NewResolver(weeks WeekService, tasks TaskService, bus Subscriber, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Resolver{weeks: weeks, tasks: tasks, bus: bus, log: logger}
}

func (r *Resolver) Weeks(ctx context.Context) ([]*weekResolver, error) {
	weeks, err := r.weeks.List(ctx)
	if err != nil {
		return nil, r.fail("weeks", err)
	}
	out := make([]*weekResolver, len(weeks))
	for i, w := range weeks {
		out[i] = &weekResolver{w: w}
	}
	return out, nil
}

func (r *Resolver) Tasks(ctx context.Context) ([]*taskResolver, error) {
	tasks, err := r.tasks.List(ctx)
	if err != nil {
		return nil, r.fail("tasks", err)
	}
	out := make([]*taskResolver, len(tasks))
	for i, t := range tasks {
		out[i] = &taskResolver{t: t}
	}
	return out, nil
}

func (r *Resolver) CreateWeek(ctx context.Context, args weekArgs) (*weekResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	w, err := r.weeks.Create(ctx, args.input())
	if err != nil {
		return nil, r.fail("createWeek", err)
	}
	return &weekResolver{w: w}, nil
}

func (r *Resolver) UpdateWeek(ctx context.Context, args updateWeekArgs) (*weekResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	w, err := r.weeks.Update(ctx, string(args.ID), args.input())
	if err != nil {
		return nil, r.fail("updateWeek", err)
	}
	if w == nil {
		return nil, nil
	}
	return &weekResolver{w: *w}, nil
}

func (r *Resolver) DeleteWeek(ctx context.Context, args idArgs) (*weekResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	w, err := r.weeks.Delete(ctx, string(args.ID))
	if err != nil {
		return nil, r.fail("deleteWeek", err)
	}
	if w == nil {
		return nil, nil
	}
	return &weekResolver{w: *w}, nil
}

func (r *Resolver) CreateTask(ctx context.Context, args createTaskArgs) (*taskResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	t, err := r.tasks.Create(ctx, args.input())
	if err != nil {
		return nil, r.fail("createTask", err)
	}
	return &taskResolver{t: t}, nil
}

func (r *Resolver) UpdateTask(ctx context.Context, args updateTaskArgs) (*taskResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	t, err := r.tasks.Update(ctx, string(args.ID), args.patch())
	if err != nil {
		return nil, r.fail("updateTask", err)
	}
	if t == nil {
		return nil, nil
	}
	return &taskResolver{t: *t}, nil
}

func (r *Resolver) DeleteTask(ctx context.Context, args idArgs) (*taskResolver, error) {
	if err := mutationAllowed(ctx); err != nil {
		return nil, err
	}
	t, err := r.tasks.Delete(ctx, string(args.ID))
	if err != nil {
		return nil, r.fail("deleteTask", err)
	}
	if t == nil {
		return nil, nil
	}
	return &taskResolver{t: *t}, nil
}

func (r *Resolver) TaskAdded(ctx context.Context) (<-chan *taskResolver, error) {
	return r.stream(ctx, "taskAdded")
}

func (r *Resolver) TaskUpdated(ctx context.Context) (<-chan *taskResolver, error) {
	return r.stream(ctx, "taskUpdated")
}

func (r *Resolver) TaskDeleted(ctx context.Context) (<-chan *taskResolver, error) {
	return r.stream(ctx, "taskDeleted")
}

// stream forwards bus events for field until ctx ends. On a drain signal it
// forwards the events already queued and ends. The bus subscription is
// released when the stream stops.
func (r *Resolver) stream(ctx context.Context, field string) (<-chan *taskResolver, error) {
	sub, err := r.bus.Subscribe(subscriptionTopics[field])
	if err != nil {
		return nil, r.fail(field, err)
	}
	stop := make(chan struct{})
	if drain := DrainSignal(ctx); drain != nil {
		go func() {
			select {
			case <-drain:
				sub.Drain()
			case <-stop:
			}
		}()
	}
	ch := make(chan *taskResolver)
	go func() {
		defer close(ch)
		defer sub.Close()
		defer close(stop)
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				if !errors.Is(err, pubsub.ErrClosed) && ctx.Err() == nil {
					r.log.WithError(err).WithField("operation", field).Warn("subscription stream stopped")
				}
				return
			}
			select {
			case ch <- &taskResolver{t: ev.Task}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// resolverError carries an error code in the GraphQL error extensions.
type resolverError struct {
	msg  string
	code string
	ext  map[string]interface{}
}

func (e *resolverError) Error() string { return e.msg }

func (e *resolverError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.code}
	for k, v := range e.ext {
		ext[k] = v
	}
	return ext
}

type readOnlyKey struct{}

func withReadOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

// mutationAllowed rejects writes on requests that arrived over GET.
func mutationAllowed(ctx context.Context) error {
	if ro, _ := ctx.Value(readOnlyKey{}).(bool); ro {
		return &resolverError{msg: "mutations require POST", code: codeMethodNotAllowed}
	}
	return nil
}

const codeMethodNotAllowed = "METHOD_NOT_ALLOWED"

func (r *Resolver) fail(op string, err error) error {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return &resolverError{msg: verr.Error(), code: "BAD_USER_INPUT", ext: map[string]interface{}{"fields": verr.Fields}}
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		r.log.WithError(err).WithField("operation", op).Warn("graphql write conflicted")
		return &resolverError{msg: domain.ErrConcurrencyConflict.Error(), code: "CONFLICT"}
	}
	r.log.WithError(err).WithField("operation", op).Error("graphql resolver failed")
	return &resolverError{msg: "internal server error", code: "INTERNAL_SERVER_ERROR"}
}
