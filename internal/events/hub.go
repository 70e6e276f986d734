package events

import (
	"sync"

	"grimm.is/nymectl/internal/clock"
)

// Hub is the central event bus connecting the rule engine and the
// discovery subsystem. It provides pub/sub semantics with typed events
// and non-blocking fan-out.
type Hub struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	// global subscribers receive every event regardless of type.
	global []chan Event

	published uint64
	dropped   uint64
}

// NewHub creates a new event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[EventType][]chan Event)}
}

// Publish sends an event to all subscribers of that event type. Non-blocking:
// if a subscriber's channel is full the event is dropped, not queued.
func (h *Hub) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = clock.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.published++

	for _, ch := range h.subs[e.Type] {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
	for _, ch := range h.global {
		select {
		case ch <- e:
		default:
			h.dropped++
		}
	}
}

// PublishAsync sends an event in a goroutine (fire-and-forget).
func (h *Hub) PublishAsync(e Event) {
	go h.Publish(e)
}

// Subscribe returns a channel receiving events of the given types. With no
// types given, the channel receives every event. The caller must drain the
// channel to avoid drops.
func (h *Hub) Subscribe(bufSize int, types ...EventType) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(types) == 0 {
		h.global = append(h.global, ch)
	} else {
		for _, t := range types {
			h.subs[t] = append(h.subs[t], ch)
		}
	}
	return ch
}

// Unsubscribe removes a channel from all subscriptions. It does not close
// the channel.
func (h *Hub) Unsubscribe(ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = removeFromSlice(h.global, ch)
	for t, subs := range h.subs {
		h.subs[t] = removeFromSlice(subs, ch)
	}
}

// Stats returns publish/drop counts for monitoring.
func (h *Hub) Stats() (published, dropped uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.published, h.dropped
}

func removeFromSlice(slice []chan Event, target <-chan Event) []chan Event {
	result := make([]chan Event, 0, len(slice))
	for _, ch := range slice {
		if ch != target {
			result = append(result, ch)
		}
	}
	return result
}

// EmitRuleTriggered publishes a rule-triggered event.
func (h *Hub) EmitRuleTriggered(ruleID string, actionCount int) {
	h.Publish(Event{
		Type:   EventRuleTriggered,
		Source: "rule",
		Data:   RuleTriggeredData{RuleID: ruleID, ActionCount: actionCount},
	})
}

// EmitRuleAdded publishes a rule-added event.
func (h *Hub) EmitRuleAdded(ruleID string) {
	h.Publish(Event{
		Type:   EventRuleAdded,
		Source: "rule",
		Data:   RuleAddedData{RuleID: ruleID},
	})
}

// EmitRuleConfigurationChanged publishes a rule-configuration-changed event.
func (h *Hub) EmitRuleConfigurationChanged(ruleID string) {
	h.Publish(Event{
		Type:   EventRuleConfigurationChanged,
		Source: "rule",
		Data:   RuleConfigurationChangedData{RuleID: ruleID},
	})
}

// EmitRuleRemoved publishes a rule-removed event.
func (h *Hub) EmitRuleRemoved(ruleID string) {
	h.Publish(Event{
		Type:   EventRuleRemoved,
		Source: "rule",
		Data:   RuleRemovedData{RuleID: ruleID},
	})
}

// EmitDeviceSeen publishes a discovery reachability event.
func (h *Hub) EmitDeviceSeen(mac, ip, hostname, vendor string) {
	h.Publish(Event{
		Type:   EventDeviceSeen,
		Source: "discovery",
		Data:   DeviceSeenData{MAC: mac, IP: ip, Hostname: hostname, Vendor: vendor},
	})
}

// EmitDeviceReachability publishes a monitor reachability transition.
func (h *Hub) EmitDeviceReachability(thingID string, reachable bool) {
	h.Publish(Event{
		Type:   EventDeviceReachability,
		Source: "monitor",
		Data:   DeviceReachabilityData{ThingID: thingID, Reachable: reachable},
	})
}

// EmitDiscoveryFinished publishes a discovery-run-complete event.
func (h *Hub) EmitDiscoveryFinished(devicesFound int) {
	h.Publish(Event{
		Type:   EventDiscoveryFinished,
		Source: "discovery",
		Data:   DiscoveryFinishedData{DevicesFound: devicesFound},
	})
}
