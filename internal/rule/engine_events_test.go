package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nymectl/internal/clock"
	"grimm.is/nymectl/internal/events"
	"grimm.is/nymectl/internal/kvstore"
	"grimm.is/nymectl/internal/thing"
	"grimm.is/nymectl/internal/thing/fake"
)

func newTestEngineWithHub(t *testing.T, mc *clock.MockClock) (*Engine, *fake.Registry, *events.Hub) {
	t.Helper()
	reg := fake.New()
	reg.AddClass(thing.ThingClass{
		ID: "lamp", Name: "Lamp",
		StateTypes:  []thing.StateType{{ID: "power", Name: "power", ValueType: thing.ValueTypeBool}},
		ActionTypes: []thing.ActionType{{ID: "setPower", Name: "setPower", ParamTypes: []thing.ParamType{{ID: "power", Name: "power", ValueType: thing.ValueTypeBool}}}},
		EventTypes:  []thing.EventType{{ID: "power", Name: "power", ParamTypes: []thing.ParamType{{ID: "power", Name: "power", ValueType: thing.ValueTypeBool}}}},
	})
	store, err := NewStore(kvstore.NewMemStore())
	require.NoError(t, err)
	hub := events.NewHub()
	e := New(reg, store, hub, WithClock(mc))
	return e, reg, hub
}

func TestAddRuleEmitsRuleAdded(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	sub := hub.Subscribe(8, events.EventRuleAdded)
	thingID := reg.AddThing("", "lamp", "lamp")

	require.Equal(t, NoError, e.AddRule(basicRule("r1", thingID)))

	select {
	case ev := <-sub:
		data, ok := ev.Data.(events.RuleAddedData)
		require.True(t, ok)
		assert.Equal(t, "r1", data.RuleID)
	default:
		t.Fatal("expected a ruleAdded event")
	}
}

func TestEditRuleEmitsRuleConfigurationChangedNotRuleAdded(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	thingID := reg.AddThing("", "lamp", "lamp")
	require.Equal(t, NoError, e.AddRule(basicRule("r1", thingID)))

	added := hub.Subscribe(8, events.EventRuleAdded)
	changed := hub.Subscribe(8, events.EventRuleConfigurationChanged)

	edited := basicRule("r1", thingID)
	edited.Name = "renamed"
	require.Equal(t, NoError, e.EditRule(edited))

	select {
	case ev := <-changed:
		data, ok := ev.Data.(events.RuleConfigurationChangedData)
		require.True(t, ok)
		assert.Equal(t, "r1", data.RuleID)
	default:
		t.Fatal("expected a ruleConfigurationChanged event")
	}

	select {
	case <-added:
		t.Fatal("EditRule must not emit ruleAdded")
	default:
	}
}

func TestRemoveRuleEmitsRuleRemoved(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	thingID := reg.AddThing("", "lamp", "lamp")
	require.Equal(t, NoError, e.AddRule(basicRule("r1", thingID)))

	sub := hub.Subscribe(8, events.EventRuleRemoved)
	require.Equal(t, NoError, e.RemoveRule("r1"))

	select {
	case ev := <-sub:
		data, ok := ev.Data.(events.RuleRemovedData)
		require.True(t, ok)
		assert.Equal(t, "r1", data.RuleID)
	default:
		t.Fatal("expected a ruleRemoved event")
	}
}

func TestEnableRuleEmitsRuleConfigurationChangedOnFlip(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	thingID := reg.AddThing("", "lamp", "lamp")
	rule := basicRule("r1", thingID)
	rule.Enabled = false
	require.Equal(t, NoError, e.AddRule(rule))

	sub := hub.Subscribe(8, events.EventRuleConfigurationChanged)
	require.Equal(t, NoError, e.EnableRule("r1"))

	select {
	case ev := <-sub:
		data, ok := ev.Data.(events.RuleConfigurationChangedData)
		require.True(t, ok)
		assert.Equal(t, "r1", data.RuleID)
	default:
		t.Fatal("expected a ruleConfigurationChanged event")
	}
}

func TestEnableRuleIdempotentDoesNotEmit(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	thingID := reg.AddThing("", "lamp", "lamp")
	rule := basicRule("r1", thingID)
	rule.Enabled = true
	require.Equal(t, NoError, e.AddRule(rule))

	sub := hub.Subscribe(8, events.EventRuleConfigurationChanged)

	assert.Equal(t, NoError, e.EnableRule("r1"), "enabling an already-enabled rule must return NoError")

	select {
	case <-sub:
		t.Fatal("an idempotent enableRule call must not emit ruleConfigurationChanged")
	default:
	}
}

func TestDisableRuleIdempotentDoesNotEmit(t *testing.T) {
	mc := clock.NewMockClock(time.Now())
	e, reg, hub := newTestEngineWithHub(t, mc)
	thingID := reg.AddThing("", "lamp", "lamp")
	rule := basicRule("r1", thingID)
	rule.Enabled = false
	require.Equal(t, NoError, e.AddRule(rule))

	sub := hub.Subscribe(8, events.EventRuleConfigurationChanged)

	assert.Equal(t, NoError, e.DisableRule("r1"))

	select {
	case <-sub:
		t.Fatal("an idempotent disableRule call must not emit ruleConfigurationChanged")
	default:
	}
}
