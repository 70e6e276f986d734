package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/nymectl/internal/kvstore"
	"grimm.is/nymectl/internal/thing"
)

func newTestStore(t *testing.T) *KVStore {
	t.Helper()
	kv := kvstore.NewMemStore()
	s, err := NewStore(kv)
	require.NoError(t, err)
	return s
}

func sampleRule(id ID) Rule {
	return Rule{
		ID:      id,
		Name:    "test rule " + string(id),
		Enabled: true,
		Actions: []RuleAction{
			{ThingID: "thing-1", ActionTypeID: "action-1", Params: []RuleActionParam{
				{ParamTypeID: "p1", Value: thing.NewValue(true)},
			}},
		},
	}
}

func TestKVStoreSaveAndLoadAll(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(sampleRule("rule-a")))
	require.NoError(t, s.Save(sampleRule("rule-b")))
	require.NoError(t, s.Save(sampleRule("rule-c")))

	rules, order, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []ID{"rule-a", "rule-b", "rule-c"}, order)
	assert.Len(t, rules, 3)
	assert.Equal(t, "test rule rule-b", rules["rule-b"].Name)
}

func TestKVStorePreservesInsertionOrderAcrossReload(t *testing.T) {
	kv := kvstore.NewMemStore()
	s1, err := NewStore(kv)
	require.NoError(t, err)

	require.NoError(t, s1.Save(sampleRule("z")))
	require.NoError(t, s1.Save(sampleRule("a")))
	require.NoError(t, s1.Save(sampleRule("m")))

	s2, err := NewStore(kv)
	require.NoError(t, err)
	_, order, err := s2.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []ID{"z", "a", "m"}, order)
}

func TestKVStoreSaveOverwritesWithoutReordering(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleRule("rule-a")))
	require.NoError(t, s.Save(sampleRule("rule-b")))

	updated := sampleRule("rule-a")
	updated.Name = "renamed"
	require.NoError(t, s.Save(updated))

	rules, order, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []ID{"rule-a", "rule-b"}, order)
	assert.Equal(t, "renamed", rules["rule-a"].Name)
}

func TestKVStoreDeleteDropsFromOrder(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleRule("rule-a")))
	require.NoError(t, s.Save(sampleRule("rule-b")))
	require.NoError(t, s.Save(sampleRule("rule-c")))

	require.NoError(t, s.Delete("rule-b"))

	rules, order, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, []ID{"rule-a", "rule-c"}, order)
	assert.Len(t, rules, 2)
}

func TestKVStoreDeleteMissingRuleIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("does-not-exist"))
}
