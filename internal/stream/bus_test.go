package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/emanuele-galle/fodi-assistant/pkg/models"
)

func TestBus_OrderPreserved(t *testing.T) {
	bus := NewBus()

	bus.Publish(models.NewTextDelta("a"))
	bus.Publish(models.NewTextDelta("b"))
	bus.Publish(models.NewTextDelta("c"))
	bus.Close()

	var got []string
	for event := range bus.Events() {
		if event.Type == models.EventTextDelta {
			got = append(got, event.Data.(models.TextDeltaData).Text)
		} else if event.Type != models.EventDone {
			t.Errorf("unexpected event type %s", event.Type)
		}
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("events out of order: %v", got)
	}
}

func TestBus_CloseEmitsDoneLast(t *testing.T) {
	bus := NewBus()
	bus.Publish(models.NewError(errors.New("upstream failed")))
	bus.Close()

	var types []models.StreamEventType
	for event := range bus.Events() {
		types = append(types, event.Type)
	}
	if len(types) != 2 {
		t.Fatalf("got %d events, want 2", len(types))
	}
	if types[0] != models.EventError || types[1] != models.EventDone {
		t.Errorf("done must be the terminal event, got %v", types)
	}
}

func TestBus_PublishAfterDetachIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Detach()

	finished := make(chan struct{})
	go func() {
		// Must not block or panic even with many events
		for i := 0; i < defaultBuffer*2; i++ {
			bus.Publish(models.NewTextDelta("x"))
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after detach")
	}

	bus.Close()
	for range bus.Events() {
		t.Error("detached consumer should receive nothing")
	}
}

func TestBus_CloseIdempotent(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Close() // must not panic on a closed channel

	count := 0
	for range bus.Events() {
		count++
	}
	if count != 1 {
		t.Errorf("expected a single done event, got %d", count)
	}
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	bus := NewBus()
	bus.Close()
	bus.Publish(models.NewTextDelta("late")) // must not panic
}
