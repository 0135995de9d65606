package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"planner-api/domain"
)

func taskEvent(topic domain.Topic, id string) domain.Event {
	return domain.Event{Topic: topic, Task: domain.Task{ID: id, Name: "task " + id}}
}

func next(t *testing.T, s *Subscription) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	return ev
}

func TestEverySubscriberSeesPublishOrder(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	const k = 5
	subs := make([]*Subscription, k)
	for i := range subs {
		s, err := b.Subscribe(domain.Topics()...)
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		subs[i] = s
	}
	topics := domain.Topics()
	for i := 0; i < 30; i++ {
		b.Publish(taskEvent(topics[i%len(topics)], fmt.Sprint(i)))
	}
	for n, s := range subs {
		for i := 0; i < 30; i++ {
			ev := next(t, s)
			if ev.Task.ID != fmt.Sprint(i) {
				t.Fatalf("subscriber %d: expected event %d, got %s", n, i, ev.Task.ID)
			}
		}
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	added, _ := b.Subscribe(domain.TopicTaskAdded)
	deleted, _ := b.Subscribe(domain.TopicTaskDeleted)

	b.Publish(taskEvent(domain.TopicTaskAdded, "a"))
	b.Publish(taskEvent(domain.TopicTaskUpdated, "u"))
	b.Publish(taskEvent(domain.TopicTaskDeleted, "d"))

	if ev := next(t, added); ev.Task.ID != "a" {
		t.Fatalf("expected a, got %s", ev.Task.ID)
	}
	if ev := next(t, deleted); ev.Task.ID != "d" {
		t.Fatalf("expected d, got %s", ev.Task.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := added.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected no further events, got %v", err)
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	b.Publish(taskEvent(domain.TopicTaskAdded, "e1"))
	s, _ := b.Subscribe(domain.TopicTaskAdded)
	b.Publish(taskEvent(domain.TopicTaskAdded, "e2"))
	if ev := next(t, s); ev.Task.ID != "e2" {
		t.Fatalf("expected e2, got %s", ev.Task.ID)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	s, _ := b.Subscribe(domain.TopicTaskAdded)
	b.Publish(taskEvent(domain.TopicTaskAdded, "queued"))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	b.Publish(taskEvent(domain.TopicTaskAdded, "late"))
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if n := b.Subscribers(domain.TopicTaskAdded); n != 0 {
		t.Fatalf("expected registration removed, got %d", n)
	}
}

func TestNextWakesOnClose(t *testing.T) {
	b := New(Config{})
	s, _ := b.Subscribe(domain.TopicTaskUpdated)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after bus close")
	}
}

func TestClosedBus(t *testing.T) {
	b := New(Config{})
	b.Close()
	b.Publish(taskEvent(domain.TopicTaskAdded, "x"))
	if _, err := b.Subscribe(domain.TopicTaskAdded); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSubscribeRejectsUnknownTopics(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	if _, err := b.Subscribe(); err == nil {
		t.Fatal("expected error for empty topic set")
	}
	if _, err := b.Subscribe(domain.Topic("TASK_MOVED")); err == nil {
		t.Fatal("expected error for unknown topic")
	}
	s, err := b.Subscribe(domain.TopicTaskAdded, domain.TopicTaskAdded)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Publish(taskEvent(domain.TopicTaskAdded, "once"))
	next(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); err == nil {
		t.Fatal("duplicate topic delivered twice")
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := New(Config{SubscriberBufferSize: 3})
	defer b.Close()
	s, _ := b.Subscribe(domain.TopicTaskAdded)
	for i := 0; i < 5; i++ {
		b.Publish(taskEvent(domain.TopicTaskAdded, fmt.Sprint(i)))
	}
	if d := s.Dropped(); d != 2 {
		t.Fatalf("expected 2 dropped, got %d", d)
	}
	for _, want := range []string{"2", "3", "4"} {
		if ev := next(t, s); ev.Task.ID != want {
			t.Fatalf("expected %s, got %s", want, ev.Task.ID)
		}
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(Config{SubscriberBufferSize: 16})
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				b.Publish(taskEvent(domain.TopicTaskUpdated, fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s, err := b.Subscribe(domain.TopicTaskUpdated)
				if err != nil {
					t.Errorf("subscribe: %v", err)
					return
				}
				short, stop := context.WithTimeout(ctx, time.Millisecond)
				_, _ = s.Next(short)
				stop()
				s.Close()
				if _, err := s.Next(ctx); !errors.Is(err, ErrClosed) {
					t.Errorf("expected ErrClosed after close, got %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	if n := b.Subscribers(domain.TopicTaskUpdated); n != 0 {
		t.Fatalf("expected all subscriptions released, got %d", n)
	}
}

func TestDrainHandsOutQueuedEvents(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	s, _ := b.Subscribe(domain.TopicTaskAdded)
	for i := 0; i < 3; i++ {
		b.Publish(taskEvent(domain.TopicTaskAdded, fmt.Sprint(i)))
	}

	s.Drain()
	s.Drain()
	b.Publish(taskEvent(domain.TopicTaskAdded, "late"))
	if n := b.Subscribers(domain.TopicTaskAdded); n != 0 {
		t.Fatalf("expected drained subscription unregistered, got %d", n)
	}

	for i := 0; i < 3; i++ {
		if ev := next(t, s); ev.Task.ID != fmt.Sprint(i) {
			t.Fatalf("event %d: got %s", i, ev.Task.ID)
		}
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after queue, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDrainWakesWaitingNext(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	s, _ := b.Subscribe(domain.TopicTaskDeleted)
	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Drain()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after drain")
	}
}
