package engine

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Reasons recorded when a transaction falls back to dirtyAll.
const (
	DirtyAllUnresolvedPath = "unresolved_path"
	DirtyAllMount          = "mount"
	DirtyAllGeneration     = "generation_changed"
	DirtyAllManual         = "manual"
)

// DirtySet is everything a transaction touched directly: field path ids, or
// the dirtyAll sentinel with a reason. It also carries trackBy row hints per
// list scope.
//
// The zero value is an empty set. Mutating methods use pointer receivers.
type DirtySet struct {
	ids       *roaring.Bitmap
	allReason string

	// rows maps a list item scope ("items[]") to the row keys touched.
	rows map[string]map[string]struct{}

	// wide marks list scopes written without a usable row key.
	wide map[string]bool
}

// NewDirtySet creates a set holding ids.
func NewDirtySet(ids ...ir.FieldPathID) DirtySet {
	var d DirtySet
	d.Add(ids...)
	return d
}

// DirtyAll creates the sentinel set that forces a full pass.
func DirtyAll(reason string) DirtySet {
	return DirtySet{allReason: reason}
}

// Add marks ids dirty.
func (d *DirtySet) Add(ids ...ir.FieldPathID) {
	if len(ids) == 0 {
		return
	}
	if d.ids == nil {
		d.ids = roaring.New()
	}
	for _, id := range ids {
		d.ids.Add(uint32(id))
	}
}

// MarkAll turns the set into the dirtyAll sentinel. The first reason wins.
func (d *DirtySet) MarkAll(reason string) {
	if d.allReason == "" {
		d.allReason = reason
	}
}

// MarkPath resolves a concrete write path against reg and records it,
// including the trackBy row hint when key is non-empty. A path the registry
// cannot resolve makes the whole set dirtyAll.
func (d *DirtySet) MarkPath(reg *ir.FieldPathRegistry, p ConcretePath, key string) {
	pattern := p.Pattern()
	id, ok := reg.Lookup(pattern)
	if !ok {
		d.MarkAll(DirtyAllUnresolvedPath)
		return
	}
	d.Add(id)

	// Rows only matter for writes strictly inside a first-level list item.
	scope := firstListScope(pattern)
	if scope == nil || len(pattern) == len(scope) {
		return
	}
	if key == "" {
		d.AddAllRows(scope)
		return
	}
	d.AddRow(scope, key)
}

// AddRow records a trackBy row key touched within an item scope.
func (d *DirtySet) AddRow(scope ir.FieldPath, key string) {
	if d.rows == nil {
		d.rows = make(map[string]map[string]struct{})
	}
	s := scope.String()
	if d.rows[s] == nil {
		d.rows[s] = make(map[string]struct{})
	}
	d.rows[s][key] = struct{}{}
}

// AddAllRows records that rows of scope were written without identity, so
// hints for that scope cannot be trusted.
func (d *DirtySet) AddAllRows(scope ir.FieldPath) {
	if d.wide == nil {
		d.wide = make(map[string]bool)
	}
	d.wide[scope.String()] = true
}

// RowHints returns the hinted row keys for scope. ok is false when there are
// none or when the scope was also written without a key.
func (d DirtySet) RowHints(scope ir.FieldPath) (map[string]struct{}, bool) {
	s := scope.String()
	if d.wide[s] {
		return nil, false
	}
	keys := d.rows[s]
	return keys, len(keys) > 0
}

// IsAll reports whether the set is the dirtyAll sentinel.
func (d DirtySet) IsAll() bool {
	return d.allReason != ""
}

// AllReason returns the dirtyAll reason, empty for a precise set.
func (d DirtySet) AllReason() string {
	return d.allReason
}

// IsEmpty reports whether nothing at all is dirty.
func (d DirtySet) IsEmpty() bool {
	return !d.IsAll() && (d.ids == nil || d.ids.IsEmpty())
}

// Len returns the number of dirty ids.
func (d DirtySet) Len() int {
	if d.ids == nil {
		return 0
	}
	return int(d.ids.GetCardinality())
}

// Contains reports whether id is dirty.
func (d DirtySet) Contains(id ir.FieldPathID) bool {
	return d.ids != nil && d.ids.Contains(uint32(id))
}

// IDs returns the dirty ids in ascending order.
func (d DirtySet) IDs() []ir.FieldPathID {
	if d.ids == nil {
		return nil
	}
	out := make([]ir.FieldPathID, 0, d.ids.GetCardinality())
	it := d.ids.Iterator()
	for it.HasNext() {
		out = append(out, ir.FieldPathID(it.Next()))
	}
	return out
}

// Merge adds everything in o to d.
func (d *DirtySet) Merge(o DirtySet) {
	if o.IsAll() {
		d.MarkAll(o.allReason)
	}
	if o.ids != nil {
		if d.ids == nil {
			d.ids = roaring.New()
		}
		d.ids.Or(o.ids)
	}
	for s, keys := range o.rows {
		for k := range keys {
			if d.rows == nil {
				d.rows = make(map[string]map[string]struct{})
			}
			if d.rows[s] == nil {
				d.rows[s] = make(map[string]struct{})
			}
			d.rows[s][k] = struct{}{}
		}
	}
	for s := range o.wide {
		if d.wide == nil {
			d.wide = make(map[string]bool)
		}
		d.wide[s] = true
	}
}

// bitmap returns a private copy of the ids.
func (d DirtySet) bitmap() *roaring.Bitmap {
	if d.ids == nil {
		return roaring.New()
	}
	return d.ids.Clone()
}

// firstListScope returns the path up to and including the first list
// sentinel, or nil.
func firstListScope(p ir.FieldPath) ir.FieldPath {
	for i, seg := range p {
		if seg == ir.ListSentinel {
			return p[: i+1 : i+1]
		}
	}
	return nil
}
