// Package rule implements the rule engine: the event/time/state evaluator
// and action dispatcher described in the design's rule engine component.
// It owns rule lifecycle, structural validation against a thing registry,
// and persistence of rules to a key-value store.
package rule

import (
	"grimm.is/nymectl/internal/thing"
)

// ID identifies a rule. Stable and opaque outside of equality.
type ID string

// Operator is one of the six comparison operators a ParamDescriptor or
// StateDescriptor can use to compare a value.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
)

// StateOperator is the boolean combinator at an internal StateEvaluator node.
type StateOperator string

const (
	StateOperatorAND StateOperator = "AND"
	StateOperatorOR  StateOperator = "OR"
)

// ParamDescriptor names a param, either by id or by name, and a value/operator
// pair to compare it against.
type ParamDescriptor struct {
	// ParamTypeID identifies the param by id. Mutually exclusive with
	// ParamName; at least one must be set.
	ParamTypeID string
	// ParamName identifies the param by name; resolved to an id via the
	// owning event/state/action type's registry entry.
	ParamName string
	Value     thing.Value
	Operator  Operator
}

// EventDescriptor is thing-bound or interface-bound.
type EventDescriptor struct {
	// ThingID and EventTypeID are set for a thing-bound descriptor.
	ThingID     thing.ID
	EventTypeID string

	// Interface and InterfaceEvent are set for an interface-bound descriptor.
	Interface      string
	InterfaceEvent string

	ParamDescriptors []ParamDescriptor
}

// IsThingBound reports whether this descriptor names a concrete thing.
func (d EventDescriptor) IsThingBound() bool { return d.ThingID != "" }

// StateDescriptor is a leaf of a StateEvaluator tree: either thing-bound or
// interface-bound, compared to a literal value or to another thing's state
// (value-by-reference).
type StateDescriptor struct {
	ThingID     thing.ID
	StateTypeID string

	Interface      string
	InterfaceState string

	Value    thing.Value
	Operator Operator

	// ValueThingID/ValueStateTypeID, when set, make this descriptor compare
	// against another thing's live state instead of Value (value-by-reference).
	ValueThingID     thing.ID
	ValueStateTypeID string
}

// IsThingBound reports whether this descriptor names a concrete thing.
func (d StateDescriptor) IsThingBound() bool { return d.ThingID != "" }

// IsValueByReference reports whether the comparison value is another
// thing's live state rather than a literal.
func (d StateDescriptor) IsValueByReference() bool { return d.ValueThingID != "" }

// StateEvaluator is a tree whose leaves are StateDescriptors and whose
// internal nodes carry a boolean StateOperator.
type StateEvaluator struct {
	// Descriptor is set on leaf nodes.
	Descriptor *StateDescriptor

	// Operator and ChildEvaluators are set on internal nodes.
	Operator        StateOperator
	ChildEvaluators []StateEvaluator
}

// IsEmpty reports whether this evaluator has no leaves at all — an empty
// tree evaluates true (vacuous AND) and contributes no state dependency.
func (e StateEvaluator) IsEmpty() bool {
	return e.Descriptor == nil && len(e.ChildEvaluators) == 0
}

// RepeatingOption is the recurrence pattern of a CalendarItem or TimeEventItem.
type RepeatingOption struct {
	Mode RepeatingMode
	// WeekDays holds ISO weekdays 1 (Monday) through 7 (Sunday), used when
	// Mode == RepeatingModeWeekly.
	WeekDays []int
	// MonthDays holds days 1-31, or -1 meaning "last day of month", used
	// when Mode == RepeatingModeMonthly.
	MonthDays []int
}

// RepeatingMode is the recurrence granularity.
type RepeatingMode string

const (
	RepeatingNone    RepeatingMode = "None"
	RepeatingHourly  RepeatingMode = "Hourly"
	RepeatingDaily   RepeatingMode = "Daily"
	RepeatingWeekly  RepeatingMode = "Weekly"
	RepeatingMonthly RepeatingMode = "Monthly"
	RepeatingYearly  RepeatingMode = "Yearly"
)

// CalendarItem is a recurring (or one-shot) time window.
type CalendarItem struct {
	// StartTime is seconds since midnight for the window's start-of-day
	// anchor; combined with DateTime's date component for one-shot items.
	DateTime  int64 // unix seconds, the anchor occurrence
	StartTime int    // seconds since local midnight
	Duration  int    // window length in seconds
	Repeating RepeatingOption
}

// TimeEventItem is a recurring or one-shot point-in-time trigger.
type TimeEventItem struct {
	DateTime  int64 // unix seconds, the anchor occurrence
	Repeating RepeatingOption
}

// TimeDescriptor is the time-based half of a rule's triggering condition.
type TimeDescriptor struct {
	CalendarItems  []CalendarItem
	TimeEventItems []TimeEventItem
}

// IsEmpty reports whether the descriptor has no calendar items and no
// time-event items.
func (d TimeDescriptor) IsEmpty() bool {
	return len(d.CalendarItems) == 0 && len(d.TimeEventItems) == 0
}

// RuleActionParam is a literal, event-param-bound, or state-bound value fed
// to a RuleAction's dispatch.
type RuleActionParam struct {
	ParamTypeID string
	ParamName   string

	// Value is used when this param is a literal.
	Value thing.Value

	// EventTypeID/EventParamTypeID, when set, make this param take its
	// value from a param of the triggering event.
	EventTypeID      string
	EventParamTypeID string

	// StateThingID/StateTypeID, when set, make this param take its value
	// from a thing's current state.
	StateThingID thing.ID
	StateTypeID  string
}

// IsEventParamBound reports whether this param is bound to the triggering
// event's params rather than being a literal or state-bound.
func (p RuleActionParam) IsEventParamBound() bool { return p.EventTypeID != "" }

// IsStateBound reports whether this param is bound to a thing's current state.
func (p RuleActionParam) IsStateBound() bool { return p.StateThingID != "" }

// RuleAction is thing-bound or interface-bound, carrying RuleActionParams.
type RuleAction struct {
	ThingID      thing.ID
	ActionTypeID string

	Interface       string
	InterfaceAction string

	Params []RuleActionParam
}

// IsThingBound reports whether this action names a concrete thing.
func (a RuleAction) IsThingBound() bool { return a.ThingID != "" }

// Rule is one user-defined rule: a name, enable/executable flags, a time
// descriptor, a state evaluator tree, an ordered sequence of event
// descriptors, and ordered entry/exit action sequences.
type Rule struct {
	ID         ID
	Name       string
	Enabled    bool
	Executable bool

	TimeDescriptor   TimeDescriptor
	StateEvaluator   StateEvaluator
	EventDescriptors []EventDescriptor

	Actions     []RuleAction
	ExitActions []RuleAction

	// Derived runtime flags, recomputed by the engine; not part of the
	// persisted rule definition.
	StatesActive bool
	TimeActive   bool
}

// Active reports the rule's derived activation flag for a rule whose
// activation is fully state/time derived (see invariant 4: rules with
// event descriptors do not have a stable Active flag).
func (r Rule) Active() bool {
	return r.Enabled && r.StatesActive && r.TimeActive
}

// HasEventDescriptors reports whether the rule has any event descriptors.
func (r Rule) HasEventDescriptors() bool { return len(r.EventDescriptors) > 0 }

// HasTimeEventItems reports whether the rule's time descriptor has any
// one-shot/point-in-time triggers.
func (r Rule) HasTimeEventItems() bool { return len(r.TimeDescriptor.TimeEventItems) > 0 }

// IsPureStateTimeRule reports whether the rule has neither event
// descriptors nor time-event items, meaning its activation is purely a
// function of the state evaluator and calendar items.
func (r Rule) IsPureStateTimeRule() bool {
	return !r.HasEventDescriptors() && !r.HasTimeEventItems()
}
