package bus

import "testing"

func TestSubscribePrefixMatching(t *testing.T) {
	b := New()
	all := b.Subscribe("")
	traces := b.Subscribe("trace.")
	actions := b.Subscribe("action.")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(traces)
	defer b.Unsubscribe(actions)

	b.Publish(TopicTraceStarted, "t1")
	b.Publish(TopicActionEmitted, ActionEmittedEvent{ActionID: "a1"})

	if got := len(all.Ch()); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(traces.Ch()); got != 1 {
		t.Fatalf("trace subscriber got %d events, want 1", got)
	}
	ev := <-actions.Ch()
	if ev.Topic != TopicActionEmitted {
		t.Fatalf("topic = %s", ev.Topic)
	}
	if _, ok := ev.Payload.(ActionEmittedEvent); !ok {
		t.Fatalf("payload = %T, want ActionEmittedEvent", ev.Payload)
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	// One more than the buffer; the overflow event is dropped, not blocked on.
	for i := 0; i <= defaultBufferSize; i++ {
		b.Publish(TopicToolCalled, i)
	}
	if got := len(sub.Ch()); got != defaultBufferSize {
		t.Fatalf("buffered events = %d, want %d", got, defaultBufferSize)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("")
	b.Unsubscribe(sub)
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if b.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", b.SubscriberCount())
	}

	// Double unsubscribe and nil are both safe.
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	b.Publish(TopicMonitorAlert, MonitorAlertEvent{Critical: 1})
}
