// Package events provides the pub/sub event bus connecting the rule
// engine and the network device discovery subsystem.
package events

import "time"

// EventType identifies the category of event.
type EventType string

const (
	// EventRuleTriggered fires whenever the rule engine evaluates a rule's
	// actions (or exit actions) in response to an event, a state change, or
	// a time tick.
	EventRuleTriggered EventType = "rule.triggered"

	// EventThingStateChanged fires whenever a thing's state value changes,
	// the trigger the rule engine's evaluateEvent consumes.
	EventThingStateChanged EventType = "thing.state_changed"

	// EventDeviceSeen fires when the discovery coordinator confirms a
	// network device is reachable, new or previously known.
	EventDeviceSeen EventType = "device.seen"

	// EventDeviceReachability fires when a per-thing NetworkDeviceMonitor's
	// reachable flag flips.
	EventDeviceReachability EventType = "device.reachability"

	// EventDiscoveryFinished fires when a discovery run completes.
	EventDiscoveryFinished EventType = "discovery.finished"

	// EventRuleAdded fires whenever a new rule is admitted into the engine.
	EventRuleAdded EventType = "rule.added"

	// EventRuleConfigurationChanged fires whenever an existing rule's
	// configuration changes: an edit, or an enable/disable that actually
	// flips the rule's Enabled flag.
	EventRuleConfigurationChanged EventType = "rule.configuration_changed"

	// EventRuleRemoved fires whenever a rule is removed from the engine.
	EventRuleRemoved EventType = "rule.removed"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data"`
}

// RuleTriggeredData is the payload for EventRuleTriggered.
type RuleTriggeredData struct {
	RuleID      string `json:"rule_id"`
	ActionCount int    `json:"action_count"`
}

// ThingStateChangedData is the payload for EventThingStateChanged.
type ThingStateChangedData struct {
	ThingID     string      `json:"thing_id"`
	StateTypeID string      `json:"state_type_id"`
	Value       interface{} `json:"value"`
}

// DeviceSeenData is the payload for EventDeviceSeen.
type DeviceSeenData struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip,omitempty"`
	Hostname string `json:"hostname,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
}

// DeviceReachabilityData is the payload for EventDeviceReachability.
type DeviceReachabilityData struct {
	ThingID   string `json:"thing_id"`
	Reachable bool   `json:"reachable"`
}

// DiscoveryFinishedData is the payload for EventDiscoveryFinished.
type DiscoveryFinishedData struct {
	DevicesFound int `json:"devices_found"`
}

// RuleAddedData is the payload for EventRuleAdded.
type RuleAddedData struct {
	RuleID string `json:"rule_id"`
}

// RuleConfigurationChangedData is the payload for
// EventRuleConfigurationChanged.
type RuleConfigurationChangedData struct {
	RuleID string `json:"rule_id"`
}

// RuleRemovedData is the payload for EventRuleRemoved.
type RuleRemovedData struct {
	RuleID string `json:"rule_id"`
}
