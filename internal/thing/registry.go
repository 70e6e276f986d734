// Package thing defines the contract the rule engine and the discovery
// subsystem use to talk to the thing manager. The thing manager itself
// (plugin loading, D-Bus exposure, pairing) is an external collaborator
// out of scope for this module; only the interface it must satisfy lives
// here.
package thing

import (
	"encoding/json"

	"github.com/zclconf/go-cty/cty"
)

// ID identifies a configured thing. Opaque outside of equality.
type ID string

// ValueType is the primitive type of a param, state, or action value.
type ValueType string

const (
	ValueTypeBool   ValueType = "bool"
	ValueTypeInt    ValueType = "int"
	ValueTypeFloat  ValueType = "float"
	ValueTypeString ValueType = "string"
)

// Value is a dynamically typed scalar, convertible between the ValueTypes
// above. Backed by cty.Value, the same dynamic-value representation the
// HCL config loader uses, rather than a hand-rolled `any` wrapper: params,
// states, and action arguments all flow through the same "scalar
// convertible via a dynamic-value type" contract spec.md §6 describes for
// the thing manager boundary.
type Value struct {
	v cty.Value
}

// NewValue wraps a concrete Go value into its cty scalar equivalent. An
// unrecognized type yields the zero Value.
func NewValue(v any) Value {
	switch t := v.(type) {
	case bool:
		return Value{cty.BoolVal(t)}
	case string:
		return Value{cty.StringVal(t)}
	case int:
		return Value{cty.NumberIntVal(int64(t))}
	case int64:
		return Value{cty.NumberIntVal(t)}
	case float32:
		return Value{cty.NumberFloatVal(float64(t))}
	case float64:
		return Value{cty.NumberFloatVal(t)}
	default:
		return Value{}
	}
}

// Raw returns the underlying value as a plain Go scalar, or nil if unset.
func (v Value) Raw() any {
	if v.IsZero() {
		return nil
	}
	switch v.v.Type() {
	case cty.Bool:
		return v.v.True()
	case cty.String:
		return v.v.AsString()
	case cty.Number:
		f, _ := v.v.AsBigFloat().Float64()
		return f
	default:
		return nil
	}
}

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.v == cty.NilVal || v.v.IsNull() }

func (v Value) Bool() (bool, bool) {
	if v.IsZero() || v.v.Type() != cty.Bool {
		return false, false
	}
	return v.v.True(), true
}

func (v Value) Float64() (float64, bool) {
	if v.IsZero() || v.v.Type() != cty.Number {
		return 0, false
	}
	f, _ := v.v.AsBigFloat().Float64()
	return f, true
}

func (v Value) String() string {
	if v.IsZero() || v.v.Type() != cty.String {
		return ""
	}
	return v.v.AsString()
}

// Equal compares two dynamic values for equality, coercing numeric kinds.
func (v Value) Equal(other Value) bool {
	if vf, ok := v.Float64(); ok {
		if of, ok := other.Float64(); ok {
			return vf == of
		}
	}
	if vb, ok := v.Bool(); ok {
		if ob, ok := other.Bool(); ok {
			return vb == ob
		}
	}
	if v.IsZero() || other.IsZero() {
		return v.IsZero() && other.IsZero()
	}
	return v.v.RawEquals(other.v)
}

// Less reports whether v < other for ordered (numeric) values. Non-numeric
// values are never ordered.
func (v Value) Less(other Value) (bool, bool) {
	vf, ok1 := v.Float64()
	of, ok2 := other.Float64()
	if !ok1 || !ok2 {
		return false, false
	}
	return vf < of, true
}

// MarshalJSON serializes the underlying dynamic value directly, so a
// persisted Value round-trips through the kvstore's JSON encoding as a
// plain scalar rather than a wrapper object.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw())
}

// UnmarshalJSON restores the underlying dynamic value from a plain scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = NewValue(raw)
	return nil
}

// ParamType describes one parameter slot of an event, state, or action type.
type ParamType struct {
	ID            string
	Name          string
	ValueType     ValueType
	DefaultValue  Value
	AllowedValues []Value
	ReadOnly      bool
}

// EventType describes one event a thing class can emit.
type EventType struct {
	ID         string
	Name       string
	ParamTypes []ParamType
}

// StateType describes one piece of state a thing class exposes. StateTypes
// double as EventTypes with the same ID when the thing emits a state-change
// event.
type StateType struct {
	ID        string
	Name      string
	ValueType ValueType
}

// ActionType describes one action a thing class can execute.
type ActionType struct {
	ID         string
	Name       string
	ParamTypes []ParamType
}

// ThingClass is the schema shared by every Thing of that class.
type ThingClass struct {
	ID         string
	Name       string
	Interfaces []string
	EventTypes []EventType
	StateTypes []StateType
	ActionTypes []ActionType
}

// Thing is one configured, managed entity.
type Thing struct {
	ID      ID
	ClassID string
	Name    string
}

// Error is the verification error kind returned by VerifyParams and used
// by the rule package's validator for registry-lookup failures.
type Error int

const (
	NoError Error = iota
	ErrThingNotFound
	ErrEventTypeNotFound
	ErrStateTypeNotFound
	ErrActionTypeNotFound
	ErrInterfaceNotFound
	ErrInvalidParameter
	ErrMissingParameter
	ErrTypesNotMatching
)

func (e Error) Error() string {
	switch e {
	case NoError:
		return "no error"
	case ErrThingNotFound:
		return "thing not found"
	case ErrEventTypeNotFound:
		return "event type not found"
	case ErrStateTypeNotFound:
		return "state type not found"
	case ErrActionTypeNotFound:
		return "action type not found"
	case ErrInterfaceNotFound:
		return "interface not found"
	case ErrInvalidParameter:
		return "invalid parameter"
	case ErrMissingParameter:
		return "missing parameter"
	case ErrTypesNotMatching:
		return "types not matching"
	default:
		return "unknown error"
	}
}

// Param is one concrete (typeID, value) pair carried by an event, state
// read, or action dispatch.
type Param struct {
	ParamTypeID string
	Value       Value
}

// RuleAction is the fully-resolved action dispatched to ExecuteRuleActions,
// after the rule package has resolved all RuleActionParam bindings.
type RuleAction struct {
	ThingID      ID
	ActionTypeID string
	Params       []Param
}

// Registry is the contract the rule engine and discovery subsystem use to
// talk to the thing manager, an external collaborator.
type Registry interface {
	Thing(id ID) (Thing, bool)
	ThingClass(classID string) (ThingClass, bool)

	EventType(classID, eventTypeID string) (EventType, bool)
	StateType(classID, stateTypeID string) (StateType, bool)
	ActionType(classID, actionTypeID string) (ActionType, bool)

	EventTypeByName(classID, name string) (EventType, bool)
	StateTypeByName(classID, name string) (StateType, bool)
	ActionTypeByName(classID, name string) (ActionType, bool)

	// ThingClassImplements reports whether a class implements an interface.
	// InterfaceEventType/InterfaceStateType/InterfaceActionType resolve an
	// interface-bound descriptor's event/state/action name by interface
	// name alone; they take no thing or class.
	ThingClassImplements(classID, interfaceName string) bool
	InterfaceEventType(interfaceName, eventName string) (EventType, bool)
	InterfaceStateType(interfaceName, stateName string) (StateType, bool)
	InterfaceActionType(interfaceName, actionName string) (ActionType, bool)

	// State returns a thing's current value for a state type.
	State(thingID ID, stateTypeID string) (Value, bool)

	// VerifyParams checks params against paramTypes; requireAll demands
	// every non-default paramType be present.
	VerifyParams(paramTypes []ParamType, params []Param, requireAll bool) Error

	// ExecuteRuleActions dispatches actions fire-and-forget.
	ExecuteRuleActions(actions []RuleAction)

	// NetworkDeviceParams returns the macAddress/hostName/address params of
	// a thing implementing the "networkdevice" interface, for the discovery
	// subsystem's monitor registration.
	NetworkDeviceParams(id ID) (mac, hostName, address string, ok bool)
}
