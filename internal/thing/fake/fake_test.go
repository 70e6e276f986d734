package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nymectl/internal/thing"
)

func classWithInterface() thing.ThingClass {
	return thing.ThingClass{
		ID:         "switch",
		Name:       "Smart Switch",
		Interfaces: []string{"networkdevice"},
		EventTypes: []thing.EventType{{ID: "evt.power", Name: "powerChanged"}},
		StateTypes: []thing.StateType{{ID: "state.power", Name: "power", ValueType: thing.ValueTypeBool}},
		ActionTypes: []thing.ActionType{{
			ID:   "action.setPower",
			Name: "setPower",
			ParamTypes: []thing.ParamType{
				{ID: "param.on", Name: "on", ValueType: thing.ValueTypeBool},
			},
		}},
	}
}

func TestAddThingGeneratesIDWhenEmpty(t *testing.T) {
	r := New()
	id := r.AddThing("", "switch", "Kitchen Switch")
	assert.NotEmpty(t, id)

	th, ok := r.Thing(id)
	require.True(t, ok)
	assert.Equal(t, "Kitchen Switch", th.Name)
}

func TestAddThingHonorsExplicitID(t *testing.T) {
	r := New()
	id := r.AddThing("fixed-id", "switch", "Kitchen Switch")
	assert.Equal(t, thing.ID("fixed-id"), id)
}

func TestByNameLookupsResolveThroughClass(t *testing.T) {
	r := New()
	r.AddClass(classWithInterface())

	et, ok := r.EventTypeByName("switch", "powerChanged")
	require.True(t, ok)
	assert.Equal(t, "evt.power", et.ID)

	st, ok := r.StateTypeByName("switch", "power")
	require.True(t, ok)
	assert.Equal(t, "state.power", st.ID)

	at, ok := r.ActionTypeByName("switch", "setPower")
	require.True(t, ok)
	assert.Equal(t, "action.setPower", at.ID)

	_, ok = r.EventTypeByName("switch", "missing")
	assert.False(t, ok)
}

func TestInterfaceLookupsResolveAcrossImplementingClasses(t *testing.T) {
	r := New()
	r.AddClass(classWithInterface())

	assert.True(t, r.ThingClassImplements("switch", "networkdevice"))
	assert.False(t, r.ThingClassImplements("switch", "thermostat"))

	et, ok := r.InterfaceEventType("networkdevice", "powerChanged")
	require.True(t, ok)
	assert.Equal(t, "evt.power", et.ID)

	_, ok = r.InterfaceActionType("networkdevice", "nonexistent")
	assert.False(t, ok)
}

func TestStateReadsReflectSetState(t *testing.T) {
	r := New()
	id := r.AddThing("t1", "switch", "Kitchen Switch")

	_, ok := r.State(id, "state.power")
	assert.False(t, ok)

	r.SetState(id, "state.power", thing.NewValue(true))
	v, ok := r.State(id, "state.power")
	require.True(t, ok)
	b, _ := v.Bool()
	assert.True(t, b)
}

func TestNetworkDeviceParamsRoundTrip(t *testing.T) {
	r := New()
	id := r.AddThing("t1", "switch", "Kitchen Switch")

	_, _, _, ok := r.NetworkDeviceParams(id)
	assert.False(t, ok)

	r.SetNetworkDeviceParams(id, "aa:bb:cc:dd:ee:ff", "switch.local", "192.168.1.9")
	mac, host, addr, ok := r.NetworkDeviceParams(id)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", mac)
	assert.Equal(t, "switch.local", host)
	assert.Equal(t, "192.168.1.9", addr)
}

func TestVerifyParamsRequiresPresentParamsAndRejectsUnknown(t *testing.T) {
	r := New()
	paramTypes := []thing.ParamType{
		{ID: "param.on", Name: "on", ValueType: thing.ValueTypeBool},
	}

	assert.Equal(t, thing.ErrMissingParameter, r.VerifyParams(paramTypes, nil, true))

	ok := r.VerifyParams(paramTypes, []thing.Param{{ParamTypeID: "param.on", Value: thing.NewValue(true)}}, true)
	assert.Equal(t, thing.NoError, ok)

	mismatched := r.VerifyParams(paramTypes, []thing.Param{{ParamTypeID: "param.on", Value: thing.NewValue("not a bool")}}, true)
	assert.Equal(t, thing.ErrTypesNotMatching, mismatched)

	unknown := r.VerifyParams(paramTypes, []thing.Param{
		{ParamTypeID: "param.on", Value: thing.NewValue(true)},
		{ParamTypeID: "param.unknown", Value: thing.NewValue(1)},
	}, true)
	assert.Equal(t, thing.ErrInvalidParameter, unknown)
}

func TestVerifyParamsAllowsMissingOptionalWithDefault(t *testing.T) {
	r := New()
	paramTypes := []thing.ParamType{
		{ID: "param.on", Name: "on", ValueType: thing.ValueTypeBool, DefaultValue: thing.NewValue(false)},
	}
	assert.Equal(t, thing.NoError, r.VerifyParams(paramTypes, nil, true))
}

func TestExecuteRuleActionsRecordsCalls(t *testing.T) {
	r := New()
	actions := []thing.RuleAction{{ThingID: "t1", ActionTypeID: "action.setPower"}}
	r.ExecuteRuleActions(actions)

	require.Len(t, r.Executed, 1)
	assert.Equal(t, actions, r.Executed[0])
}
