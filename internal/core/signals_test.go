package core

import (
	"errors"
	"testing"
)

func TestSignalBus_RoutesByName(t *testing.T) {
	b := NewSignalBus()
	tasks := b.Subscribe(SignalTaskSynced, 4)
	all := b.SubscribeAll(4)

	b.Publish(Signal{Name: SignalTaskSynced, TaskID: "1"})
	b.Publish(Signal{Name: SignalTagSynced, TagName: "master"})

	got := drain(tasks)
	if len(got) != 1 || got[0].TaskID != "1" {
		t.Fatalf("task subscriber got %+v", got)
	}
	if got[0].ID == "" || got[0].Time.IsZero() {
		t.Error("publish must stamp ID and Time")
	}
	if n := len(drain(all)); n != 2 {
		t.Errorf("all subscriber got %d signals, want 2", n)
	}
}

func TestSignalBus_DropsWhenFull(t *testing.T) {
	b := NewSignalBus()
	ch := b.Subscribe(SignalCycle, 1)

	b.Publish(Signal{Name: SignalCycle})
	b.Publish(Signal{Name: SignalCycle})

	if n := len(drain(ch)); n != 1 {
		t.Errorf("received %d, want 1", n)
	}
}

func TestSignalBus_CloseIsIdempotent(t *testing.T) {
	b := NewSignalBus()
	ch := b.Subscribe(SignalCycle, 1)

	b.Close()
	b.Close()
	b.Publish(Signal{Name: SignalCycle})

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
	late := b.SubscribeAll(1)
	if _, ok := <-late; ok {
		t.Error("subscription after close should be closed")
	}
}

func TestSignal_IsError(t *testing.T) {
	if (Signal{}).IsError() {
		t.Error("empty signal reported as error")
	}
	if !(Signal{Err: errors.New("x")}).IsError() {
		t.Error("signal with Err not reported as error")
	}
}
