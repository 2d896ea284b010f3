package settings

import "sort"

// ValueContainer maps setting identities to committed values. A setting has a
// single type so an identity is present at most once.
type ValueContainer struct {
	values map[Identity]Value
}

// NewValueContainer returns an empty container.
func NewValueContainer() *ValueContainer {
	return &ValueContainer{values: make(map[Identity]Value)}
}

// Get returns the stored value for id when present with type t, otherwise fallback.
func (vc *ValueContainer) Get(t ValueType, id Identity, fallback Value) Value {
	v, ok := vc.values[id]
	if !ok || v.Type() != t {
		return fallback
	}
	return v
}

// Lookup returns the stored value for id regardless of type.
func (vc *ValueContainer) Lookup(id Identity) (Value, bool) {
	v, ok := vc.values[id]
	return v, ok
}

// Set overwrites the value stored for id.
func (vc *ValueContainer) Set(id Identity, v Value) {
	vc.values[id] = v
}

func (vc *ValueContainer) Delete(id Identity) {
	delete(vc.values, id)
}

func (vc *ValueContainer) Len() int {
	return len(vc.values)
}

// Each visits entries ordered by type then identity.
func (vc *ValueContainer) Each(fn func(id Identity, v Value)) {
	for _, id := range vc.sortedIDs() {
		fn(id, vc.values[id])
	}
}

// Clone returns an independent copy.
func (vc *ValueContainer) Clone() *ValueContainer {
	out := &ValueContainer{values: make(map[Identity]Value, len(vc.values))}
	for id, v := range vc.values {
		out.values[id] = v
	}
	return out
}

func (vc *ValueContainer) sortedIDs() []Identity {
	ids := make([]Identity, 0, len(vc.values))
	for id := range vc.values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := vc.values[ids[i]].Type(), vc.values[ids[j]].Type()
		if ti != tj {
			return ti < tj
		}
		return ids[i] < ids[j]
	})
	return ids
}
