package domain

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// WeekStorage defines the store operations behind week mutations.
type WeekStorage interface {
	ListWeeks(ctx context.Context) ([]Week, error)
	InsertWeek(ctx context.Context, w Week) (Week, error)
	ReplaceWeek(ctx context.Context, w Week) (*Week, error)
	DeleteWeek(ctx context.Context, id string) (*Week, error)
}

// WeekService performs week writes. Weeks have no subscribers.
type WeekService struct{ st WeekStorage }

func NewWeekService(st WeekStorage) WeekService { return WeekService{st: st} }

func (s WeekService) List(ctx context.Context) ([]Week, error) {
	weeks, err := s.st.ListWeeks(ctx)
	if err != nil {
		return nil, storeErr("list weeks", err)
	}
	return weeks, nil
}

func (s WeekService) Create(ctx context.Context, in WeekInput) (Week, error) {
	ctx, span := startSpan(ctx, "week.create")
	defer span.End()

	if err := in.Validate(); err != nil {
		failSpan(span, err)
		return Week{}, err
	}
	w, err := s.st.InsertWeek(ctx, in.Week(""))
	if err != nil {
		failSpan(span, err)
		return Week{}, storeErr("create week", err)
	}
	return w, nil
}

// Update replaces every field of the week with the given id.
func (s WeekService) Update(ctx context.Context, id string, in WeekInput) (*Week, error) {
	ctx, span := startSpan(ctx, "week.update", attribute.String("week.id", id))
	defer span.End()

	if err := in.Validate(); err != nil {
		failSpan(span, err)
		return nil, err
	}
	w, err := s.st.ReplaceWeek(ctx, in.Week(id))
	if err != nil {
		failSpan(span, err)
		return nil, storeErr("update week "+id, err)
	}
	return w, nil
}

func (s WeekService) Delete(ctx context.Context, id string) (*Week, error) {
	ctx, span := startSpan(ctx, "week.delete", attribute.String("week.id", id))
	defer span.End()

	w, err := s.st.DeleteWeek(ctx, id)
	if err != nil {
		failSpan(span, err)
		return nil, storeErr("delete week "+id, err)
	}
	return w, nil
}
