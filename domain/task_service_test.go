package domain

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func validInput() TaskInput {
	return TaskInput{
		YearWeek:    strp("2024-W12"),
		DayOfWeek:   strp("monday"),
		Name:        strp("write report"),
		Description: strp("quarterly numbers"),
		Color:       strp("#ff0000"),
		TimeStart:   strp("09:00"),
		TimeEnd:     strp("10:30"),
		Finished:    intp(0),
		Priority:    intp(2),
	}
}

func newService() (TaskService, *fakeStore, *recorder) {
	st := newFakeStore()
	rec := &recorder{store: st}
	return NewTaskService(st, rec, nil), st, rec
}

func TestCreatePublishesStoredTask(t *testing.T) {
	svc, st, rec := newService()
	task, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if got := st.tasks[task.ID]; !reflect.DeepEqual(got, task) {
		t.Fatalf("stored %+v, returned %+v", got, task)
	}
	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Topic != TopicTaskAdded || !reflect.DeepEqual(events[0].Task, task) {
		t.Fatalf("unexpected event %+v", events[0])
	}
	if rec.early {
		t.Fatalf("event published before store write")
	}
}

func TestCreateValidationFailurePublishesNothing(t *testing.T) {
	svc, st, rec := newService()
	in := validInput()
	in.Name = strp("")
	in.Priority = nil
	_, err := svc.Create(context.Background(), in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !reflect.DeepEqual(verr.Fields, []string{"name", "priority"}) {
		t.Fatalf("unexpected fields %v", verr.Fields)
	}
	if len(st.tasks) != 0 || len(rec.all()) != 0 {
		t.Fatalf("expected no write and no event")
	}
}

func TestCreateStoreFailurePublishesNothing(t *testing.T) {
	svc, st, rec := newService()
	st.err = errors.New("boom")
	_, err := svc.Create(context.Background(), validInput())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected no event")
	}
}

func TestUpdateConflictIsNotUnavailable(t *testing.T) {
	svc, st, rec := newService()
	st.err = ErrConcurrencyConflict
	_, err := svc.Update(context.Background(), "t1", TaskPatch{})
	if !errors.Is(err, ErrConcurrencyConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("conflict reported as store unavailable: %v", err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected no event")
	}
}

func TestUpdateLeavesOtherFieldsIntact(t *testing.T) {
	svc, _, rec := newService()
	created, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	updated, err := svc.Update(context.Background(), created.ID, TaskPatch{Finished: intp(1)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := created
	want.Finished = 1
	if updated == nil || !reflect.DeepEqual(*updated, want) {
		t.Fatalf("expected %+v, got %+v", want, updated)
	}
	events := rec.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Topic != TopicTaskUpdated || !reflect.DeepEqual(events[1].Task, want) {
		t.Fatalf("unexpected event %+v", events[1])
	}
}

func TestUpdateMissingTaskPublishesNothing(t *testing.T) {
	svc, _, rec := newService()
	got, err := svc.Update(context.Background(), "nope", TaskPatch{Name: strp("x")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected no event")
	}
}

func TestDeletePublishesPreviousEntity(t *testing.T) {
	svc, st, rec := newService()
	created, _ := svc.Create(context.Background(), validInput())
	deleted, err := svc.Delete(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted == nil || !reflect.DeepEqual(*deleted, created) {
		t.Fatalf("expected %+v, got %+v", created, deleted)
	}
	if _, ok := st.tasks[created.ID]; ok {
		t.Fatalf("task still stored")
	}
	events := rec.all()
	if len(events) != 2 || events[1].Topic != TopicTaskDeleted || !reflect.DeepEqual(events[1].Task, created) {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestDeleteMissingTaskPublishesNothing(t *testing.T) {
	svc, _, rec := newService()
	got, err := svc.Delete(context.Background(), "nope")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %+v, %v", got, err)
	}
	if len(rec.all()) != 0 {
		t.Fatalf("expected no event")
	}
}

func TestUpdateManySkipsMissing(t *testing.T) {
	svc, _, rec := newService()
	a, _ := svc.Create(context.Background(), validInput())
	b, _ := svc.Create(context.Background(), validInput())
	items := []TaskPatchItem{
		{ID: a.ID, TaskPatch: TaskPatch{Priority: intp(5)}},
		{ID: "missing", TaskPatch: TaskPatch{Priority: intp(5)}},
		{ID: b.ID, TaskPatch: TaskPatch{Color: strp("blue")}},
	}
	updated, err := svc.UpdateMany(context.Background(), items)
	if err != nil {
		t.Fatalf("update many: %v", err)
	}
	if len(updated) != 2 || updated[0].Priority != 5 || updated[1].Color != "blue" {
		t.Fatalf("unexpected result %+v", updated)
	}
	events := rec.all()
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[2].Task.ID != a.ID || events[3].Task.ID != b.ID {
		t.Fatalf("events out of order: %+v", events[2:])
	}
}

func TestUpdateManyRequiresID(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.UpdateMany(context.Background(), []TaskPatchItem{{TaskPatch: TaskPatch{Name: strp("x")}}})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMutationSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	svc, st, _ := newService()
	if _, err := svc.Create(context.Background(), validInput()); err != nil {
		t.Fatalf("create: %v", err)
	}
	st.err = errors.New("boom")
	if _, err := svc.Delete(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "task.create" || spans[0].Status().Code == codes.Error {
		t.Fatalf("unexpected create span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Name() != "task.delete" || spans[1].Status().Code != codes.Error {
		t.Fatalf("unexpected delete span %s %v", spans[1].Name(), spans[1].Status())
	}
}
