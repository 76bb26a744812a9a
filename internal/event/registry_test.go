package event

import (
	"testing"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	r := NewRegistry[ChatEvent]()

	var got []string
	id1 := r.Subscribe(func(e ChatEvent) { got = append(got, "a:"+e.MinionID) })
	id2 := r.Subscribe(func(e ChatEvent) { got = append(got, "b:"+e.MinionID) })

	if id1 == id2 {
		t.Fatalf("subscription ids collide: %d", id1)
	}
	if r.SubscriberCount() != 2 {
		t.Errorf("SubscriberCount = %d, want 2", r.SubscriberCount())
	}

	r.Publish(ChatEvent{MinionID: "m1", Kind: ChatMessageAppended})
	if len(got) != 2 {
		t.Fatalf("delivered to %d handlers, want 2", len(got))
	}

	if !r.Unsubscribe(id1) {
		t.Error("Unsubscribe(id1) = false, want true")
	}
	if r.Unsubscribe(id1) {
		t.Error("second Unsubscribe(id1) = true, want false")
	}

	got = got[:0]
	r.Publish(ChatEvent{MinionID: "m2"})
	if len(got) != 1 || got[0] != "b:m2" {
		t.Errorf("after unsubscribe got %v, want [b:m2]", got)
	}
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	r := NewRegistry[ActivityEvent]()

	delivered := 0
	r.Subscribe(func(ActivityEvent) { panic("boom") })
	r.Subscribe(func(ActivityEvent) { delivered++ })
	r.Subscribe(func(ActivityEvent) { delivered++ })

	r.Publish(ActivityEvent{MinionID: "m1", Kind: ActivityStreamStarted})

	if delivered != 2 {
		t.Errorf("delivered = %d, want 2", delivered)
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	r := NewRegistry[MetadataEvent]()
	r.Publish(MetadataEvent{MinionID: "m1"})
}

func TestClear(t *testing.T) {
	r := NewRegistry[ChatEvent]()
	r.Subscribe(func(ChatEvent) { t.Error("handler called after Clear") })
	r.Clear()

	if r.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after Clear, want 0", r.SubscriberCount())
	}
	r.Publish(ChatEvent{MinionID: "m1"})
}

func TestHubRegistriesIndependent(t *testing.T) {
	h := NewHub()

	chat := 0
	h.Chat.Subscribe(func(ChatEvent) { chat++ })

	h.Metadata.Publish(MetadataEvent{MinionID: "m1"})
	h.Activity.Publish(ActivityEvent{MinionID: "m1", Kind: ActivityStreamEnded})
	if chat != 0 {
		t.Errorf("chat handler saw %d events from other registries", chat)
	}

	h.Chat.Publish(ChatEvent{MinionID: "m1"})
	if chat != 1 {
		t.Errorf("chat handler saw %d chat events, want 1", chat)
	}
}
