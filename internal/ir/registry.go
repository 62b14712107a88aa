package ir

import (
	"encoding/json"
	"slices"
)

// FieldPathRegistry assigns dense ids to a sorted, de-duplicated path set.
// Built once per generation; immutable afterward and safe to share.
type FieldPathRegistry struct {
	paths []FieldPath
	ids   map[string]FieldPathID
}

// NewFieldPathRegistry sorts and de-duplicates paths and assigns ids in
// that order, so the same path set always yields the same ids.
func NewFieldPathRegistry(paths []FieldPath) *FieldPathRegistry {
	sorted := make([]FieldPath, 0, len(paths))
	for _, p := range paths {
		if p.IsRoot() {
			continue
		}
		sorted = append(sorted, slices.Clone(p))
	}
	slices.SortFunc(sorted, FieldPath.Compare)
	sorted = slices.CompactFunc(sorted, FieldPath.Equal)

	r := &FieldPathRegistry{
		paths: sorted,
		ids:   make(map[string]FieldPathID, len(sorted)),
	}
	for i, p := range sorted {
		r.ids[p.String()] = FieldPathID(i)
	}
	return r
}

// Lookup resolves a path to its id.
func (r *FieldPathRegistry) Lookup(p FieldPath) (FieldPathID, bool) {
	id, ok := r.ids[p.String()]
	return id, ok
}

// LookupString resolves the dotted form of a path. Concrete indices are
// accepted and collapse to the list sentinel.
func (r *FieldPathRegistry) LookupString(s string) (FieldPathID, bool) {
	p, err := ParseFieldPath(s)
	if err != nil {
		return 0, false
	}
	return r.Lookup(p)
}

// Path returns the path of id. It panics if id is out of range.
func (r *FieldPathRegistry) Path(id FieldPathID) FieldPath {
	return r.paths[id]
}

// Len returns the number of registered paths.
func (r *FieldPathRegistry) Len() int {
	return len(r.paths)
}

// Strings returns the dotted form of every path in id order.
func (r *FieldPathRegistry) Strings() []string {
	out := make([]string, len(r.paths))
	for i, p := range r.paths {
		out[i] = p.String()
	}
	return out
}

// Related returns the ids of every registered path that is an ancestor or
// descendant of p, including p itself when registered.
func (r *FieldPathRegistry) Related(p FieldPath) []FieldPathID {
	var ids []FieldPathID
	for i, q := range r.paths {
		if q.Related(p) {
			ids = append(ids, FieldPathID(i))
		}
	}
	return ids
}

// MarshalJSON encodes the registry as a path -> id object.
func (r *FieldPathRegistry) MarshalJSON() ([]byte, error) {
	m := make(map[string]FieldPathID, len(r.ids))
	for k, v := range r.ids {
		m[k] = v
	}
	return json.Marshal(m)
}
