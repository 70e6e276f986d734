package events

import (
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventDeviceSeen)

	hub.Publish(Event{
		Type:   EventDeviceSeen,
		Source: "test",
		Data:   DeviceSeenData{MAC: "aa:bb:cc:dd:ee:ff", IP: "192.168.1.100"},
	})

	select {
	case e := <-ch:
		if e.Type != EventDeviceSeen {
			t.Errorf("expected EventDeviceSeen, got %s", e.Type)
		}
		data, ok := e.Data.(DeviceSeenData)
		if !ok {
			t.Fatal("expected DeviceSeenData")
		}
		if data.MAC != "aa:bb:cc:dd:ee:ff" {
			t.Errorf("expected MAC aa:bb:cc:dd:ee:ff, got %s", data.MAC)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHubGlobalSubscription(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10)

	hub.Publish(Event{Type: EventDeviceSeen, Source: "test"})
	hub.Publish(Event{Type: EventRuleTriggered, Source: "test"})
	hub.Publish(Event{Type: EventDeviceReachability, Source: "test"})

	received := 0
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}
	if received != 3 {
		t.Errorf("expected 3 events, got %d", received)
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10, EventRuleTriggered)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventRuleTriggered, Source: "test"})

	select {
	case e := <-ch:
		t.Fatalf("expected no delivery after unsubscribe, got %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1, EventRuleTriggered)

	hub.Publish(Event{Type: EventRuleTriggered, Source: "test"})
	hub.Publish(Event{Type: EventRuleTriggered, Source: "test"})

	published, dropped := hub.Stats()
	if published != 2 {
		t.Errorf("expected 2 published, got %d", published)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}
	<-ch
}

func TestHubEmitHelpers(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(10)

	hub.EmitRuleTriggered("rule-1", 2)
	hub.EmitDeviceSeen("aa:bb:cc:dd:ee:ff", "10.0.0.5", "printer", "Acme Corp")
	hub.EmitDeviceReachability("thing-1", true)

	for i := 0; i < 3; i++ {
		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for emitted event %d", i)
		}
	}
}
