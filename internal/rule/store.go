package rule

import (
	"grimm.is/nymectl/internal/kvstore"
)

const (
	rulesBucket = "rules"
	orderKey    = "__order__"
)

// Store persists rules across restarts, preserving their insertion order.
type Store interface {
	// LoadAll returns every persisted rule, plus the order their ids were
	// originally inserted in (invariant 5).
	LoadAll() (map[ID]Rule, []ID, error)
	// Save upserts a single rule, appending it to the stored order if new.
	Save(r Rule) error
	// Delete removes a rule and drops it from the stored order.
	Delete(id ID) error
}

// KVStore is the default Store, backed by internal/kvstore.
type KVStore struct {
	kv kvstore.Store
}

// NewStore wraps kv as a rule Store, creating the rules bucket if absent.
func NewStore(kv kvstore.Store) (*KVStore, error) {
	buckets, err := kv.ListBuckets()
	if err != nil {
		return nil, err
	}
	found := false
	for _, b := range buckets {
		if b == rulesBucket {
			found = true
			break
		}
	}
	if !found {
		if err := kv.CreateBucket(rulesBucket); err != nil {
			return nil, err
		}
	}
	return &KVStore{kv: kv}, nil
}

func (s *KVStore) loadOrder() ([]ID, error) {
	var raw []string
	err := s.kv.GetJSON(rulesBucket, orderKey, &raw)
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	order := make([]ID, len(raw))
	for i, s := range raw {
		order[i] = ID(s)
	}
	return order, nil
}

func (s *KVStore) saveOrder(order []ID) error {
	raw := make([]string, len(order))
	for i, id := range order {
		raw[i] = string(id)
	}
	return s.kv.SetJSON(rulesBucket, orderKey, raw)
}

// LoadAll restores every persisted rule and the order their ids were
// originally inserted in.
func (s *KVStore) LoadAll() (map[ID]Rule, []ID, error) {
	order, err := s.loadOrder()
	if err != nil {
		return nil, nil, err
	}

	keys, err := s.kv.ListKeys(rulesBucket)
	if err != nil {
		return nil, nil, err
	}

	rules := make(map[ID]Rule, len(keys))
	for _, k := range keys {
		if k == orderKey {
			continue
		}
		var r Rule
		if err := s.kv.GetJSON(rulesBucket, k, &r); err != nil {
			return nil, nil, err
		}
		rules[r.ID] = r
	}

	// Reconcile the stored order against what's actually present: drop
	// stale ids, append any rule that's missing from the order (defensive
	// against a crash between Save and saveOrder).
	seen := make(map[ID]bool, len(order))
	reconciled := make([]ID, 0, len(rules))
	for _, id := range order {
		if _, ok := rules[id]; ok {
			reconciled = append(reconciled, id)
			seen[id] = true
		}
	}
	for id := range rules {
		if !seen[id] {
			reconciled = append(reconciled, id)
		}
	}

	return rules, reconciled, nil
}

// Save upserts rule r, appending it to the stored order if it is new.
func (s *KVStore) Save(r Rule) error {
	order, err := s.loadOrder()
	if err != nil {
		return err
	}

	exists := false
	for _, id := range order {
		if id == r.ID {
			exists = true
			break
		}
	}
	if !exists {
		order = append(order, r.ID)
		if err := s.saveOrder(order); err != nil {
			return err
		}
	}

	return s.kv.SetJSON(rulesBucket, string(r.ID), r)
}

// Delete removes rule id and drops it from the stored order.
func (s *KVStore) Delete(id ID) error {
	order, err := s.loadOrder()
	if err != nil {
		return err
	}
	filtered := order[:0:0]
	for _, existing := range order {
		if existing != id {
			filtered = append(filtered, existing)
		}
	}
	if err := s.saveOrder(filtered); err != nil {
		return err
	}
	if err := s.kv.Delete(rulesBucket, string(id)); err != nil && err != kvstore.ErrNotFound {
		return err
	}
	return nil
}
