package rule

import (
	"sync"
	"time"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/logging"
	"grimm.is/nymectl/internal/thing"
)

// Engine maintains the set of rules and, on every stimulus, produces the
// ordered list of rules whose actions or exit-actions must run. It
// validates structural consistency against a thing registry and persists
// rule edits.
type Engine struct {
	mu sync.Mutex

	registry thing.Registry
	store    Store
	hub      *events.Hub
	clock    clock.Clock
	log      *logging.Logger

	// order preserves insertion order across the lifetime of the engine
	// and across reloads (invariant 5).
	order []ID
	rules map[ID]*Rule

	lastEvaluationTime time.Time
	lastEvalInit       bool

	// activeSet tracks which pure state/time rules are currently active,
	// for edge-triggered transitions.
	activeSet map[ID]bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the engine's time source (for deterministic tests).
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the engine's logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates a rule Engine bound to registry, persisted via store, and
// publishing to hub.
func New(registry thing.Registry, store Store, hub *events.Hub, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		store:     store,
		hub:       hub,
		clock:     &clock.RealClock{},
		log:       logging.WithComponent("rule"),
		order:     nil,
		rules:     make(map[ID]*Rule),
		activeSet: make(map[ID]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load restores every persisted rule, preserving their original insertion
// order, and seeds each rule's StatesActive from the current state.
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules, order, err := e.store.LoadAll()
	if err != nil {
		return err
	}
	e.rules = make(map[ID]*Rule, len(rules))
	e.order = order
	for id, r := range rules {
		rc := r
		rc.StatesActive = e.StateEvaluate(rc.StateEvaluator)
		rc.TimeActive = e.TimeDescriptorCalendarActive(rc.TimeDescriptor)
		e.rules[id] = &rc
		if rc.IsPureStateTimeRule() {
			e.activeSet[id] = rc.Active()
		}
	}
	return nil
}

// StateEvaluate evaluates a StateEvaluator tree against current thing state.
func (e *Engine) StateEvaluate(tree StateEvaluator) bool {
	if tree.IsEmpty() {
		return true
	}
	if tree.Descriptor != nil {
		return e.evaluateStateDescriptor(*tree.Descriptor)
	}
	switch tree.Operator {
	case StateOperatorOR:
		for _, child := range tree.ChildEvaluators {
			if e.StateEvaluate(child) {
				return true
			}
		}
		return false
	default: // StateOperatorAND, and the zero value
		for _, child := range tree.ChildEvaluators {
			if !e.StateEvaluate(child) {
				return false
			}
		}
		return true
	}
}

func (e *Engine) evaluateStateDescriptor(d StateDescriptor) bool {
	var current thing.Value
	var ok bool

	if d.IsThingBound() {
		current, ok = e.registry.State(d.ThingID, d.StateTypeID)
	} else {
		t, found := e.thingImplementing(d.Interface)
		if !found {
			return false
		}
		st, stOK := e.registry.InterfaceStateType(d.Interface, d.InterfaceState)
		if !stOK {
			return false
		}
		current, ok = e.registry.State(t, st.ID)
	}
	if !ok {
		return false
	}

	target := d.Value
	if d.IsValueByReference() {
		v, vOK := e.registry.State(d.ValueThingID, d.ValueStateTypeID)
		if !vOK {
			return false
		}
		target = v
	}
	return compare(current, d.Operator, target)
}

// thingImplementing is a placeholder resolution point for interface-bound
// state descriptors bound at rule-evaluation time rather than admission
// time; a full implementation resolves against the event/state's owning
// thing. Interface-bound leaves outside of event context have no single
// owning thing, so they are treated as unsatisfied until addressed by a
// concrete thing via ThingID.
func (e *Engine) thingImplementing(interfaceName string) (thing.ID, bool) {
	return "", false
}

// TimeDescriptorCalendarActive reports the calendar-window portion of a
// time descriptor's activation, evaluated at the engine's current time.
func (e *Engine) TimeDescriptorCalendarActive(td TimeDescriptor) bool {
	return td.evaluateCalendar(e.clock.Now())
}

// Rules returns a snapshot of all rules in insertion order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Rule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.rules[id])
	}
	return out
}

// Rule returns a copy of one rule by id.
func (e *Engine) Rule(id ID) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}

// LastEvaluation exposes a rule's current StatesActive/TimeActive masks for
// introspection/debugging, restoring the visibility the original exposes
// via live properties.
func (e *Engine) LastEvaluation(id ID) (statesActive, timeActive bool, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, found := e.rules[id]
	if !found {
		return false, false, false
	}
	return r.StatesActive, r.TimeActive, true
}

// addRule validates and appends rule r. fromEdit suppresses the RuleAdded
// event (editRule emits its own RuleConfigurationChanged instead).
func (e *Engine) addRule(r Rule, fromEdit bool) Error {
	if r.ID == "" {
		return InvalidRuleID
	}
	if _, exists := e.rules[r.ID]; exists {
		return InvalidRuleID
	}
	if err := Validate(r, e.registry); err != NoError {
		return err
	}

	rc := r
	rc.StatesActive = e.StateEvaluate(rc.StateEvaluator)
	rc.TimeActive = e.TimeDescriptorCalendarActive(rc.TimeDescriptor)

	if err := e.store.Save(rc); err != nil {
		return InvalidRuleFormat
	}

	e.rules[rc.ID] = &rc
	e.order = append(e.order, rc.ID)
	if rc.IsPureStateTimeRule() {
		e.activeSet[rc.ID] = rc.Active()
	}

	if !fromEdit {
		e.log.Info("rule added", "rule_id", string(rc.ID))
		if e.hub != nil {
			e.hub.EmitRuleAdded(string(rc.ID))
		}
	}
	return NoError
}

// AddRule validates and appends rule r, persisting it.
func (e *Engine) AddRule(r Rule) Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addRule(r, false)
}

// EditRule atomically swaps the rule referenced by r.ID for r: it removes
// the old rule, then adds the new one. On add failure the old rule is
// restored and re-appended at the end of the rule order.
func (e *Engine) EditRule(r Rule) Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	old, existed := e.rules[r.ID]
	if !existed {
		return RuleNotFound
	}
	oldCopy := *old

	if err := e.removeRule(r.ID, true); err != NoError {
		return err
	}

	if err := e.addRule(r, true); err != NoError {
		// Rollback: re-append the old rule.
		e.rules[oldCopy.ID] = &oldCopy
		e.order = append(e.order, oldCopy.ID)
		if oldCopy.IsPureStateTimeRule() {
			e.activeSet[oldCopy.ID] = oldCopy.Active()
		}
		_ = e.store.Save(oldCopy)
		return err
	}

	e.log.Info("rule configuration changed", "rule_id", string(r.ID))
	if e.hub != nil {
		e.hub.EmitRuleConfigurationChanged(string(r.ID))
	}
	return NoError
}

func (e *Engine) removeRule(id ID, fromEdit bool) Error {
	if _, ok := e.rules[id]; !ok {
		return RuleNotFound
	}
	delete(e.rules, id)
	delete(e.activeSet, id)
	for i, existingID := range e.order {
		if existingID == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	if err := e.store.Delete(id); err != nil {
		return InvalidRuleFormat
	}
	if !fromEdit {
		e.log.Info("rule removed", "rule_id", string(id))
		if e.hub != nil {
			e.hub.EmitRuleRemoved(string(id))
		}
	}
	return NoError
}

// RemoveRule removes a rule from the active set and persistence.
func (e *Engine) RemoveRule(id ID) Error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeRule(id, false)
}

// EnableRule marks a rule enabled, idempotently, and re-persists it.
func (e *Engine) EnableRule(id ID) Error {
	return e.setEnabled(id, true)
}

// DisableRule marks a rule disabled, idempotently, and re-persists it.
func (e *Engine) DisableRule(id ID) Error {
	return e.setEnabled(id, false)
}

func (e *Engine) setEnabled(id ID, enabled bool) Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return RuleNotFound
	}
	if r.Enabled == enabled {
		return NoError
	}
	r.Enabled = enabled
	if err := e.store.Save(*r); err != nil {
		return InvalidRuleFormat
	}
	if r.IsPureStateTimeRule() {
		e.activeSet[id] = r.Active()
	}
	e.log.Info("rule configuration changed", "rule_id", string(id), "enabled", enabled)
	if e.hub != nil {
		e.hub.EmitRuleConfigurationChanged(string(id))
	}
	return NoError
}

// ExecuteActions dispatches rule id's entry actions to the registry.
// Fails if the rule is unknown, not executable, or any action is
// event-param-bound (there is no triggering event to bind to here).
func (e *Engine) ExecuteActions(id ID) Error {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return RuleNotFound
	}
	if !r.Executable {
		e.mu.Unlock()
		return NotExecutable
	}
	for _, a := range r.Actions {
		for _, p := range a.Params {
			if p.IsEventParamBound() {
				e.mu.Unlock()
				return ContainsEventBasedAction
			}
		}
	}
	resolved := resolveActions(r.Actions, nil, e.registry)
	e.mu.Unlock()

	e.registry.ExecuteRuleActions(resolved)
	if e.hub != nil {
		e.hub.EmitRuleTriggered(string(id), len(resolved))
	}
	return NoError
}

// ExecuteExitActions dispatches rule id's exit actions. Fails additionally
// if the rule has no exit actions.
func (e *Engine) ExecuteExitActions(id ID) Error {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return RuleNotFound
	}
	if !r.Executable {
		e.mu.Unlock()
		return NotExecutable
	}
	if len(r.ExitActions) == 0 {
		e.mu.Unlock()
		return NoExitActions
	}
	resolved := resolveActions(r.ExitActions, nil, e.registry)
	e.mu.Unlock()

	e.registry.ExecuteRuleActions(resolved)
	if e.hub != nil {
		e.hub.EmitRuleTriggered(string(id), len(resolved))
	}
	return NoError
}

// resolveActions resolves each RuleAction's params against either the
// triggering event (ev, may be nil for entry/exit dispatch outside event
// context) or the registry's current state, producing the fully-resolved
// thing.RuleAction the registry dispatches.
func resolveActions(actions []RuleAction, ev *Event, registry thing.Registry) []thing.RuleAction {
	out := make([]thing.RuleAction, 0, len(actions))
	for _, a := range actions {
		thingID := a.ThingID
		actionTypeID := a.ActionTypeID
		if !a.IsThingBound() {
			// Interface-bound actions resolve against the event's owning
			// thing when available.
			if ev != nil {
				thingID = ev.ThingID
			}
			if t, ok := registry.Thing(thingID); ok {
				if at, ok := registry.ActionTypeByName(t.ClassID, a.InterfaceAction); ok {
					actionTypeID = at.ID
				}
			}
		}

		params := make([]thing.Param, 0, len(a.Params))
		for _, p := range a.Params {
			v := p.Value
			switch {
			case p.IsEventParamBound() && ev != nil:
				for _, ep := range ev.Params {
					if ep.ParamTypeID == p.EventParamTypeID {
						v = ep.Value
						break
					}
				}
			case p.IsStateBound():
				if sv, ok := registry.State(p.StateThingID, p.StateTypeID); ok {
					v = sv
				}
			}
			params = append(params, thing.Param{ParamTypeID: p.ParamTypeID, Value: v})
		}

		out = append(out, thing.RuleAction{ThingID: thingID, ActionTypeID: actionTypeID, Params: params})
	}
	return out
}

// Event is the stimulus evaluateEvent consumes: a concrete occurrence of
// an event type on a thing, carrying its resolved params.
type Event struct {
	ThingID     thing.ID
	EventTypeID string
	Params      []thing.Param
}

// EvaluatedRule is one entry of evaluateEvent/evaluateTime's result: the
// rule, and whether its derived state/time mask currently holds (used by
// the caller to choose entry vs exit actions for event-driven rules).
type EvaluatedRule struct {
	Rule            Rule
	StateTimeActive bool
}

// EvaluateEvent runs the event evaluation algorithm: for each enabled
// rule in insertion order, recomputes StatesActive if the event matches a
// state-change leaf, then either edge-triggers a pure state/time rule or
// appends an event-driven rule match.
func (e *Engine) EvaluateEvent(ev Event) []EvaluatedRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result []EvaluatedRule
	for _, id := range e.order {
		r := e.rules[id]
		if !r.Enabled {
			continue
		}

		if stateEvaluatorReferencesEvent(r.StateEvaluator, ev.ThingID, ev.EventTypeID) {
			r.StatesActive = e.StateEvaluate(r.StateEvaluator)
		}

		if r.IsPureStateTimeRule() {
			shouldBeActive := r.TimeActive && r.StatesActive
			if shouldBeActive != e.activeSet[id] {
				e.activeSet[id] = shouldBeActive
				result = append(result, EvaluatedRule{Rule: *r, StateTimeActive: shouldBeActive})
			}
			continue
		}

		if containsEvent(*r, ev, e.registry) {
			result = append(result, EvaluatedRule{Rule: *r, StateTimeActive: r.StatesActive && r.TimeActive})
		}
	}
	return result
}

// stateEvaluatorReferencesEvent reports whether any leaf of tree is driven
// by a state-change event matching (thingID, eventTypeID); plugins emit an
// event for a state change with eventTypeId == stateTypeId.
func stateEvaluatorReferencesEvent(tree StateEvaluator, thingID thing.ID, eventTypeID string) bool {
	if tree.IsEmpty() {
		return false
	}
	if tree.Descriptor != nil {
		d := tree.Descriptor
		if d.IsThingBound() {
			return d.ThingID == thingID && d.StateTypeID == eventTypeID
		}
		return true // interface-bound leaves can't be ruled out cheaply; recompute.
	}
	for _, child := range tree.ChildEvaluators {
		if stateEvaluatorReferencesEvent(child, thingID, eventTypeID) {
			return true
		}
	}
	return false
}

// containsEvent reports whether ev matches one of rule r's event
// descriptors, per the matching rules in the event evaluation algorithm.
func containsEvent(r Rule, ev Event, registry thing.Registry) bool {
	for _, d := range r.EventDescriptors {
		var paramTypes []thing.ParamType

		if d.IsThingBound() {
			if d.ThingID != ev.ThingID || d.EventTypeID != ev.EventTypeID {
				continue
			}
			t, ok := registry.Thing(ev.ThingID)
			if !ok {
				continue
			}
			et, ok := registry.EventType(t.ClassID, ev.EventTypeID)
			if !ok {
				continue
			}
			paramTypes = et.ParamTypes
		} else {
			t, ok := registry.Thing(ev.ThingID)
			if !ok || !registry.ThingClassImplements(t.ClassID, d.Interface) {
				continue
			}
			et, ok := registry.EventType(t.ClassID, ev.EventTypeID)
			if !ok || et.Name != d.InterfaceEvent {
				continue
			}
			paramTypes = et.ParamTypes
		}

		if paramDescriptorsMatch(d.ParamDescriptors, ev.Params, paramTypes) {
			return true
		}
	}
	return false
}

func paramDescriptorsMatch(descs []ParamDescriptor, params []thing.Param, paramTypes []thing.ParamType) bool {
	for _, pd := range descs {
		id := pd.ParamTypeID
		if id == "" {
			for _, pt := range paramTypes {
				if pt.Name == pd.ParamName {
					id = pt.ID
					break
				}
			}
		}
		var actual thing.Value
		found := false
		for _, p := range params {
			if p.ParamTypeID == id {
				actual = p.Value
				found = true
				break
			}
		}
		if !found || !compare(actual, pd.Operator, pd.Value) {
			return false
		}
	}
	return true
}

// EvaluateTime runs the time evaluation algorithm against now, comparing
// against the engine's lastEvaluationTime (initialized to one second
// before the first call), then advances lastEvaluationTime to now.
func (e *Engine) EvaluateTime(now time.Time) []EvaluatedRule {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lastEvalInit {
		e.lastEvaluationTime = now.Add(-time.Second)
		e.lastEvalInit = true
	}
	since := e.lastEvaluationTime

	var result []EvaluatedRule
	for _, id := range e.order {
		r := e.rules[id]
		if !r.Enabled {
			continue
		}

		r.TimeActive = r.TimeDescriptor.evaluateCalendar(now)
		timeEventFired := r.TimeDescriptor.evaluateTimeEvents(since, now)

		if r.IsPureStateTimeRule() {
			shouldBeActive := r.TimeActive && r.StatesActive
			if shouldBeActive != e.activeSet[id] {
				e.activeSet[id] = shouldBeActive
				result = append(result, EvaluatedRule{Rule: *r, StateTimeActive: shouldBeActive})
			}
			continue
		}

		if timeEventFired && r.TimeActive {
			result = append(result, EvaluatedRule{Rule: *r, StateTimeActive: r.StatesActive && r.TimeActive})
		}
	}

	e.lastEvaluationTime = now
	return result
}

// FindRules returns the ids of every rule referencing thingID, either
// directly (event descriptor, state descriptor, action) or as a
// value-by-reference target.
func (e *Engine) FindRules(thingID thing.ID) []ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []ID
	for _, id := range e.order {
		if ruleReferencesThing(*e.rules[id], thingID) {
			out = append(out, id)
		}
	}
	return out
}

func ruleReferencesThing(r Rule, thingID thing.ID) bool {
	for _, d := range r.EventDescriptors {
		if d.ThingID == thingID {
			return true
		}
	}
	if stateEvaluatorReferencesThing(r.StateEvaluator, thingID) {
		return true
	}
	for _, a := range append(append([]RuleAction{}, r.Actions...), r.ExitActions...) {
		if a.ThingID == thingID {
			return true
		}
		for _, p := range a.Params {
			if p.StateThingID == thingID {
				return true
			}
		}
	}
	return false
}

func stateEvaluatorReferencesThing(tree StateEvaluator, thingID thing.ID) bool {
	if tree.Descriptor != nil {
		d := tree.Descriptor
		return d.ThingID == thingID || d.ValueThingID == thingID
	}
	for _, child := range tree.ChildEvaluators {
		if stateEvaluatorReferencesThing(child, thingID) {
			return true
		}
	}
	return false
}

// ThingsInRules returns the set of every thing id referenced by any rule.
func (e *Engine) ThingsInRules() []thing.ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[thing.ID]bool)
	var out []thing.ID
	add := func(id thing.ID) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range e.order {
		r := e.rules[id]
		for _, d := range r.EventDescriptors {
			add(d.ThingID)
		}
		collectStateThings(r.StateEvaluator, add)
		for _, a := range append(append([]RuleAction{}, r.Actions...), r.ExitActions...) {
			add(a.ThingID)
			for _, p := range a.Params {
				add(p.StateThingID)
			}
		}
	}
	return out
}

func collectStateThings(tree StateEvaluator, add func(thing.ID)) {
	if tree.Descriptor != nil {
		add(tree.Descriptor.ThingID)
		add(tree.Descriptor.ValueThingID)
		return
	}
	for _, child := range tree.ChildEvaluators {
		collectStateThings(child, add)
	}
}

// RemoveThingFromRule strips every reference to thingID from rule id's
// event descriptors, state evaluator leaves, and actions, then re-persists
// the rule. Used when a thing is removed from the thing registry.
func (e *Engine) RemoveThingFromRule(id ID, thingID thing.ID) Error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return RuleNotFound
	}

	filtered := r.EventDescriptors[:0:0]
	for _, d := range r.EventDescriptors {
		if d.ThingID != thingID {
			filtered = append(filtered, d)
		}
	}
	r.EventDescriptors = filtered

	r.Actions = filterActions(r.Actions, thingID)
	r.ExitActions = filterActions(r.ExitActions, thingID)

	if err := e.store.Save(*r); err != nil {
		return InvalidRuleFormat
	}
	return NoError
}

func filterActions(actions []RuleAction, thingID thing.ID) []RuleAction {
	filtered := actions[:0:0]
	for _, a := range actions {
		if a.ThingID != thingID {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
