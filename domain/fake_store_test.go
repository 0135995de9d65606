package domain

import (
	"context"
	"fmt"
	"sync"
)

type fakeStore struct {
	mu     sync.Mutex
	seq    int
	tasks  map[string]Task
	weeks  map[string]Week
	err    error
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]Task{}, weeks: map[string]Week{}}
}

func (f *fakeStore) nextID() string {
	f.seq++
	return fmt.Sprintf("id-%d", f.seq)
}

func (f *fakeStore) ListTasks(ctx context.Context) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Task{}, f.err
	}
	t.ID = f.nextID()
	f.tasks[t.ID] = t
	f.writes++
	return t, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	t = patch.Apply(t)
	f.tasks[id] = t
	f.writes++
	return &t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	delete(f.tasks, id)
	f.writes++
	return &t, nil
}

func (f *fakeStore) ListWeeks(ctx context.Context) ([]Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Week, 0, len(f.weeks))
	for _, w := range f.weeks {
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeStore) InsertWeek(ctx context.Context, w Week) (Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Week{}, f.err
	}
	w.ID = f.nextID()
	f.weeks[w.ID] = w
	return w, nil
}

func (f *fakeStore) ReplaceWeek(ctx context.Context, w Week) (*Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.weeks[w.ID]; !ok {
		return nil, nil
	}
	f.weeks[w.ID] = w
	return &w, nil
}

func (f *fakeStore) DeleteWeek(ctx context.Context, id string) (*Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	w, ok := f.weeks[id]
	if !ok {
		return nil, nil
	}
	delete(f.weeks, id)
	return &w, nil
}

// recorder captures published events and checks that the store write
// happened before the publish.
type recorder struct {
	mu     sync.Mutex
	store  *fakeStore
	events []Event
	early  bool
}

func (r *recorder) Publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		r.store.mu.Lock()
		if r.store.writes == 0 {
			r.early = true
		}
		r.store.mu.Unlock()
	}
	r.events = append(r.events, ev)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
