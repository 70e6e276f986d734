package rule

import "grimm.is/nymectl/internal/thing"

// Validate checks rule r for structural consistency and resolves every
// thing/event/state/action reference against registry. It does not check
// rule-id presence/uniqueness — that is the caller's (engine's) concern,
// since it depends on the set of already-registered rules.
func Validate(r Rule, registry thing.Registry) Error {
	if err := validateConsistency(r); err != nil {
		return *err
	}
	if err := validateEventDescriptors(r.EventDescriptors, registry); err != nil {
		return *err
	}
	if err := validateStateEvaluator(r.StateEvaluator, registry); err != nil {
		return *err
	}
	if err := validateTimeDescriptor(r.TimeDescriptor); err != nil {
		return *err
	}
	if err := validateActions(r.Actions, r.EventDescriptors, registry, false); err != nil {
		return *err
	}
	if err := validateActions(r.ExitActions, r.EventDescriptors, registry, true); err != nil {
		return *err
	}
	return NoError
}

func errp(e Error) *Error { return &e }

// validateConsistency implements invariant 1: a rule is consistent iff it
// has at least one action, and if it references exit actions then it must
// have at least one event descriptor or a non-empty calendar, and exit
// actions must not be event-param-bound.
func validateConsistency(r Rule) *Error {
	if len(r.Actions) == 0 {
		return errp(InvalidRuleFormat)
	}
	if len(r.ExitActions) > 0 {
		if len(r.EventDescriptors) == 0 && len(r.TimeDescriptor.CalendarItems) == 0 {
			return errp(InvalidRuleFormat)
		}
		for _, a := range r.ExitActions {
			for _, p := range a.Params {
				if p.IsEventParamBound() {
					return errp(InvalidRuleActionParameter)
				}
			}
		}
	}
	return nil
}

func validateEventDescriptors(descs []EventDescriptor, registry thing.Registry) *Error {
	for _, d := range descs {
		var eventType thing.EventType
		var ok bool

		if d.IsThingBound() {
			t, found := registry.Thing(d.ThingID)
			if !found {
				return errp(ThingNotFound)
			}
			eventType, ok = registry.EventType(t.ClassID, d.EventTypeID)
			if !ok {
				return errp(EventTypeNotFound)
			}
		} else {
			if d.Interface == "" {
				return errp(InvalidRuleFormat)
			}
			eventType, ok = registry.InterfaceEventType(d.Interface, d.InterfaceEvent)
			if !ok {
				return errp(InterfaceNotFound)
			}
		}

		if err := validateParamDescriptors(d.ParamDescriptors, eventType.ParamTypes); err != nil {
			return err
		}
	}
	return nil
}

func validateParamDescriptors(descs []ParamDescriptor, paramTypes []thing.ParamType) *Error {
	for _, pd := range descs {
		if !validOperator(pd.Operator) {
			return errp(InvalidParameter)
		}
		if pd.ParamTypeID == "" && pd.ParamName == "" {
			return errp(InvalidParameter)
		}
		if !resolveParamType(pd, paramTypes) {
			return errp(InvalidParameter)
		}
	}
	return nil
}

func resolveParamType(pd ParamDescriptor, paramTypes []thing.ParamType) bool {
	for _, pt := range paramTypes {
		if pd.ParamTypeID != "" && pt.ID == pd.ParamTypeID {
			return true
		}
		if pd.ParamTypeID == "" && pd.ParamName != "" && pt.Name == pd.ParamName {
			return true
		}
	}
	return false
}

func validateStateEvaluator(e StateEvaluator, registry thing.Registry) *Error {
	if e.IsEmpty() {
		return nil
	}
	if e.Descriptor != nil {
		return validateStateDescriptor(*e.Descriptor, registry)
	}
	if e.Operator != StateOperatorAND && e.Operator != StateOperatorOR {
		return errp(InvalidStateEvaluatorValue)
	}
	for _, child := range e.ChildEvaluators {
		if err := validateStateEvaluator(child, registry); err != nil {
			return err
		}
	}
	return nil
}

func validateStateDescriptor(d StateDescriptor, registry thing.Registry) *Error {
	if !validOperator(d.Operator) {
		return errp(InvalidStateEvaluatorValue)
	}

	if d.IsThingBound() {
		t, found := registry.Thing(d.ThingID)
		if !found {
			return errp(ThingNotFound)
		}
		if _, ok := registry.StateType(t.ClassID, d.StateTypeID); !ok {
			return errp(StateTypeNotFound)
		}
	} else {
		if d.Interface == "" {
			return errp(InvalidRuleFormat)
		}
		if _, ok := registry.InterfaceStateType(d.Interface, d.InterfaceState); !ok {
			return errp(InterfaceNotFound)
		}
	}

	if d.IsValueByReference() {
		refThing, found := registry.Thing(d.ValueThingID)
		if !found {
			return errp(ThingNotFound)
		}
		if _, ok := registry.StateType(refThing.ClassID, d.ValueStateTypeID); !ok {
			return errp(StateTypeNotFound)
		}
	}
	return nil
}

func validateTimeDescriptor(td TimeDescriptor) *Error {
	for _, c := range td.CalendarItems {
		if c.Duration <= 0 {
			return errp(InvalidCalendarItem)
		}
		if c.StartTime < 0 || c.StartTime >= 24*60*60 {
			return errp(InvalidCalendarItem)
		}
		if err := validateRepeatingOption(c.Repeating); err != nil {
			return err
		}
	}
	for _, te := range td.TimeEventItems {
		if err := validateRepeatingOption(te.Repeating); err != nil {
			return errp(InvalidTimeEventItem)
		}
	}
	return nil
}

func validateRepeatingOption(ro RepeatingOption) *Error {
	switch ro.Mode {
	case RepeatingNone, RepeatingHourly, RepeatingDaily, RepeatingMonthly, RepeatingYearly:
		if ro.Mode != RepeatingWeekly && len(ro.WeekDays) > 0 {
			return errp(InvalidRepeatingOption)
		}
	case RepeatingWeekly:
		for _, d := range ro.WeekDays {
			if d < 1 || d > 7 {
				return errp(InvalidRepeatingOption)
			}
		}
	default:
		return errp(InvalidRepeatingOption)
	}
	if ro.Mode == RepeatingMonthly {
		for _, d := range ro.MonthDays {
			if d != -1 && (d < 1 || d > 31) {
				return errp(InvalidRepeatingOption)
			}
		}
	} else if len(ro.MonthDays) > 0 {
		return errp(InvalidRepeatingOption)
	}
	return nil
}

func validateActions(actions []RuleAction, eventDescs []EventDescriptor, registry thing.Registry, isExit bool) *Error {
	for _, a := range actions {
		var actionType thing.ActionType
		var ok bool

		if a.IsThingBound() {
			t, found := registry.Thing(a.ThingID)
			if !found {
				return errp(ThingNotFound)
			}
			actionType, ok = registry.ActionType(t.ClassID, a.ActionTypeID)
			if !ok {
				return errp(ActionTypeNotFound)
			}
		} else {
			if a.Interface == "" {
				return errp(InvalidRuleFormat)
			}
			actionType, ok = registry.InterfaceActionType(a.Interface, a.InterfaceAction)
			if !ok {
				return errp(InterfaceNotFound)
			}
		}

		for _, p := range a.Params {
			if !resolveActionParamType(p, actionType.ParamTypes) {
				return errp(InvalidRuleActionParameter)
			}
			if p.IsEventParamBound() {
				if isExit {
					return errp(InvalidRuleActionParameter)
				}
				if err := validateEventParamBinding(p, eventDescs, registry); err != nil {
					return err
				}
			}
			if p.IsStateBound() {
				t, found := registry.Thing(p.StateThingID)
				if !found {
					return errp(ThingNotFound)
				}
				if _, ok := registry.StateType(t.ClassID, p.StateTypeID); !ok {
					return errp(StateTypeNotFound)
				}
			}
		}
	}
	return nil
}

func resolveActionParamType(p RuleActionParam, paramTypes []thing.ParamType) bool {
	for _, pt := range paramTypes {
		if p.ParamTypeID != "" && pt.ID == p.ParamTypeID {
			return true
		}
		if p.ParamTypeID == "" && p.ParamName != "" && pt.Name == p.ParamName {
			return true
		}
	}
	return false
}

// validateEventParamBinding checks that an event-param-bound action
// param's eventTypeId appears in the rule's thing-bound event descriptors;
// any interface-bound descriptor is accepted as a match. The type of the
// source event param is not compared with the target action param type.
func validateEventParamBinding(p RuleActionParam, eventDescs []EventDescriptor, registry thing.Registry) *Error {
	found := false
	for _, d := range eventDescs {
		if d.IsThingBound() && d.EventTypeID == p.EventTypeID {
			found = true
			break
		}
		if !d.IsThingBound() {
			// interface-bound descriptors are resolved per-thing at event
			// time; accept any declared interface event name match here.
			if d.InterfaceEvent != "" {
				found = true
				break
			}
		}
	}
	if !found {
		return errp(InvalidRuleActionParameter)
	}
	return nil
}
