// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/jostrander/chronocache/internal/invalidation"
)

type fakeApplier struct {
	mu       sync.Mutex
	imported []invalidation.MutationEvent
	deleted  []invalidation.MutationEvent
}

func (f *fakeApplier) OnDataImported(_ context.Context, ev invalidation.MutationEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append(f.imported, ev)
	return 1, nil
}

func (f *fakeApplier) OnDataDeleted(_ context.Context, ev invalidation.MutationEvent) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ev)
	return 1, nil
}

func (f *fakeApplier) counts() (imported, deleted int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.imported), len(f.deleted)
}

func (f *fakeApplier) firstImported() (invalidation.MutationEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.imported) == 0 {
		return invalidation.MutationEvent{}, false
	}
	return f.imported[0], true
}

func newRunningBus(t *testing.T, applier MutationApplier) *Bus {
	t.Helper()
	bus, err := NewBus(applier, BusConfig{CloseTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewBus: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Serve(ctx) }()

	select {
	case <-bus.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("bus never reached running state")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("router did not stop")
		}
		if err := bus.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return bus
}

func TestPublishImportedReachesInvalidation(t *testing.T) {
	fake := &fakeApplier{}
	bus := newRunningBus(t, fake)

	ev := invalidation.MutationEvent{
		Metric: "steps",
		Source: "deviceA",
		Start:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	if err := bus.PublishDataImported(context.Background(), ev); err != nil {
		t.Fatalf("PublishDataImported: %v", err)
	}

	// Publish blocks until the handler acked, so the applier has
	// already seen the event.
	got, ok := fake.firstImported()
	if !ok {
		t.Fatal("import event never reached the applier")
	}
	if got.Metric != ev.Metric || got.Source != ev.Source {
		t.Errorf("event scope mangled in transit: %+v", got)
	}
	if !got.Start.Equal(ev.Start) || !got.End.Equal(ev.End) {
		t.Errorf("event window mangled in transit: start=%v end=%v", got.Start, got.End)
	}

	if imported, deleted := fake.counts(); imported != 1 || deleted != 0 {
		t.Errorf("counts = (%d, %d), want (1, 0)", imported, deleted)
	}
}

func TestPublishDeletedRoutesToDeleteHandler(t *testing.T) {
	fake := &fakeApplier{}
	bus := newRunningBus(t, fake)

	ev := invalidation.MutationEvent{
		Metric: "heart_rate",
		Start:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 2, 1, 23, 59, 59, 0, time.UTC),
	}
	if err := bus.PublishDataDeleted(context.Background(), ev); err != nil {
		t.Fatalf("PublishDataDeleted: %v", err)
	}

	if imported, deleted := fake.counts(); imported != 0 || deleted != 1 {
		t.Errorf("counts = (%d, %d), want (0, 1)", imported, deleted)
	}
}

func TestMalformedPayloadIsDroppedNotRetried(t *testing.T) {
	fake := &fakeApplier{}
	bus := newRunningBus(t, fake)

	garbage := message.NewMessage(watermill.NewUUID(), []byte(`{"metric": unquoted}`))
	if err := bus.pubsub.Publish(TopicDataImported, garbage); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	// The bus stays healthy and still delivers well-formed events.
	ev := invalidation.MutationEvent{Metric: "steps", Start: time.Now().UTC(), End: time.Now().UTC()}
	if err := bus.PublishDataImported(context.Background(), ev); err != nil {
		t.Fatalf("PublishDataImported after garbage: %v", err)
	}

	if imported, _ := fake.counts(); imported != 1 {
		t.Errorf("applier saw %d imports, want only the well-formed one", imported)
	}
}

func TestPublishWithCanceledContextFails(t *testing.T) {
	fake := &fakeApplier{}
	bus := newRunningBus(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.PublishDataImported(ctx, invalidation.MutationEvent{Metric: "steps"}); err == nil {
		t.Fatal("expected publish with canceled context to fail")
	}
	if imported, _ := fake.counts(); imported != 0 {
		t.Errorf("canceled publish still delivered %d events", imported)
	}
}
