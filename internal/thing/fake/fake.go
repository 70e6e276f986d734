// Package fake provides an in-memory thing.Registry for tests, grounded on
// the teacher's map-backed device.Manager.
package fake

import (
	"sync"

	"github.com/google/uuid"

	"grimm.is/nymectl/internal/thing"
)

// Registry is a simple in-memory thing.Registry implementation.
type Registry struct {
	mu sync.RWMutex

	things     map[thing.ID]thing.Thing
	classes    map[string]thing.ThingClass
	states     map[thing.ID]map[string]thing.Value
	interfaces map[string][]string          // interface name -> class IDs implementing it
	netParams  map[thing.ID][3]string       // id -> {mac, hostName, address}

	// Executed records every ExecuteRuleActions call, for assertions.
	Executed [][]thing.RuleAction
}

// New creates an empty fake registry.
func New() *Registry {
	return &Registry{
		things:     make(map[thing.ID]thing.Thing),
		classes:    make(map[string]thing.ThingClass),
		states:     make(map[thing.ID]map[string]thing.Value),
		interfaces: make(map[string][]string),
		netParams:  make(map[thing.ID][3]string),
	}
}

// SetNetworkDeviceParams records the macAddress/hostName/address params a
// "networkdevice"-interface thing exposes, consumed by discovery's monitor
// registry.
func (r *Registry) SetNetworkDeviceParams(id thing.ID, mac, hostName, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.netParams[id] = [3]string{mac, hostName, address}
}

func (r *Registry) NetworkDeviceParams(id thing.ID) (mac, hostName, address string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, found := r.netParams[id]
	if !found {
		return "", "", "", false
	}
	return p[0], p[1], p[2], true
}

// AddClass registers a thing class and indexes its declared interfaces.
func (r *Registry) AddClass(c thing.ThingClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[c.ID] = c
	for _, iface := range c.Interfaces {
		r.interfaces[iface] = append(r.interfaces[iface], c.ID)
	}
}

// AddThing registers a configured thing instance. If id is empty a new
// uuid is generated.
func (r *Registry) AddThing(id thing.ID, classID, name string) thing.ID {
	if id == "" {
		id = thing.ID(uuid.NewString())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.things[id] = thing.Thing{ID: id, ClassID: classID, Name: name}
	if _, ok := r.states[id]; !ok {
		r.states[id] = make(map[string]thing.Value)
	}
	return id
}

// SetState sets a thing's current value for a state type.
func (r *Registry) SetState(id thing.ID, stateTypeID string, v thing.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[id] == nil {
		r.states[id] = make(map[string]thing.Value)
	}
	r.states[id][stateTypeID] = v
}

func (r *Registry) Thing(id thing.ID) (thing.Thing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.things[id]
	return t, ok
}

func (r *Registry) ThingClass(classID string) (thing.ThingClass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[classID]
	return c, ok
}

func (r *Registry) EventType(classID, eventTypeID string) (thing.EventType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.EventType{}, false
	}
	for _, et := range c.EventTypes {
		if et.ID == eventTypeID {
			return et, true
		}
	}
	return thing.EventType{}, false
}

func (r *Registry) StateType(classID, stateTypeID string) (thing.StateType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.StateType{}, false
	}
	for _, st := range c.StateTypes {
		if st.ID == stateTypeID {
			return st, true
		}
	}
	return thing.StateType{}, false
}

func (r *Registry) ActionType(classID, actionTypeID string) (thing.ActionType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.ActionType{}, false
	}
	for _, at := range c.ActionTypes {
		if at.ID == actionTypeID {
			return at, true
		}
	}
	return thing.ActionType{}, false
}

func (r *Registry) EventTypeByName(classID, name string) (thing.EventType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.EventType{}, false
	}
	for _, et := range c.EventTypes {
		if et.Name == name {
			return et, true
		}
	}
	return thing.EventType{}, false
}

func (r *Registry) StateTypeByName(classID, name string) (thing.StateType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.StateType{}, false
	}
	for _, st := range c.StateTypes {
		if st.Name == name {
			return st, true
		}
	}
	return thing.StateType{}, false
}

func (r *Registry) ActionTypeByName(classID, name string) (thing.ActionType, bool) {
	c, ok := r.ThingClass(classID)
	if !ok {
		return thing.ActionType{}, false
	}
	for _, at := range c.ActionTypes {
		if at.Name == name {
			return at, true
		}
	}
	return thing.ActionType{}, false
}

func (r *Registry) ThingClassImplements(classID, interfaceName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cid := range r.interfaces[interfaceName] {
		if cid == classID {
			return true
		}
	}
	return false
}

func (r *Registry) InterfaceEventType(interfaceName, eventName string) (thing.EventType, bool) {
	r.mu.RLock()
	classIDs := append([]string(nil), r.interfaces[interfaceName]...)
	r.mu.RUnlock()
	for _, classID := range classIDs {
		if et, ok := r.EventTypeByName(classID, eventName); ok {
			return et, true
		}
	}
	return thing.EventType{}, false
}

func (r *Registry) InterfaceStateType(interfaceName, stateName string) (thing.StateType, bool) {
	r.mu.RLock()
	classIDs := append([]string(nil), r.interfaces[interfaceName]...)
	r.mu.RUnlock()
	for _, classID := range classIDs {
		if st, ok := r.StateTypeByName(classID, stateName); ok {
			return st, true
		}
	}
	return thing.StateType{}, false
}

func (r *Registry) InterfaceActionType(interfaceName, actionName string) (thing.ActionType, bool) {
	r.mu.RLock()
	classIDs := append([]string(nil), r.interfaces[interfaceName]...)
	r.mu.RUnlock()
	for _, classID := range classIDs {
		if at, ok := r.ActionTypeByName(classID, actionName); ok {
			return at, true
		}
	}
	return thing.ActionType{}, false
}

func (r *Registry) State(thingID thing.ID, stateTypeID string) (thing.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.states[thingID][stateTypeID]
	return v, ok
}

func (r *Registry) VerifyParams(paramTypes []thing.ParamType, params []thing.Param, requireAll bool) thing.Error {
	byID := make(map[string]thing.Param, len(params))
	for _, p := range params {
		byID[p.ParamTypeID] = p
	}
	for _, pt := range paramTypes {
		p, present := byID[pt.ID]
		if !present {
			if requireAll && pt.DefaultValue.IsZero() {
				return thing.ErrMissingParameter
			}
			continue
		}
		if !valueMatchesType(p.Value, pt.ValueType) {
			return thing.ErrTypesNotMatching
		}
	}
	for _, p := range params {
		found := false
		for _, pt := range paramTypes {
			if pt.ID == p.ParamTypeID {
				found = true
				break
			}
		}
		if !found {
			return thing.ErrInvalidParameter
		}
	}
	return thing.NoError
}

func valueMatchesType(v thing.Value, vt thing.ValueType) bool {
	switch vt {
	case thing.ValueTypeBool:
		_, ok := v.Bool()
		return ok
	case thing.ValueTypeInt, thing.ValueTypeFloat:
		_, ok := v.Float64()
		return ok
	case thing.ValueTypeString:
		_, ok := v.Raw().(string)
		return ok
	}
	return false
}

func (r *Registry) ExecuteRuleActions(actions []thing.RuleAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Executed = append(r.Executed, actions)
}
