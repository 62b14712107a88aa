package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

func testRegistry(paths ...string) *ir.FieldPathRegistry {
	ps := make([]ir.FieldPath, len(paths))
	for i, s := range paths {
		ps[i] = ir.MustParseFieldPath(s)
	}
	return ir.NewFieldPathRegistry(ps)
}

func mustPath(t *testing.T, s string) ConcretePath {
	t.Helper()
	p, err := ParseConcretePath(s)
	require.NoError(t, err)
	return p
}

func TestDirtySet_ZeroValueIsEmpty(t *testing.T) {
	var d DirtySet
	assert.True(t, d.IsEmpty())
	assert.False(t, d.IsAll())
	assert.Equal(t, 0, d.Len())
	assert.Nil(t, d.IDs())
}

func TestDirtySet_AddAndContains(t *testing.T) {
	d := NewDirtySet(3, 1)
	d.Add(1, 7)

	assert.Equal(t, 3, d.Len())
	assert.True(t, d.Contains(7))
	assert.False(t, d.Contains(2))
	assert.Equal(t, []ir.FieldPathID{1, 3, 7}, d.IDs())
}

func TestDirtySet_MarkAllFirstReasonWins(t *testing.T) {
	var d DirtySet
	d.MarkAll(DirtyAllUnresolvedPath)
	d.MarkAll(DirtyAllManual)

	assert.True(t, d.IsAll())
	assert.False(t, d.IsEmpty())
	assert.Equal(t, DirtyAllUnresolvedPath, d.AllReason())
}

func TestDirtySet_MarkPath(t *testing.T) {
	reg := testRegistry("a", "items[].qty")
	var d DirtySet

	d.MarkPath(reg, mustPath(t, "items[1].qty"), "k1")
	d.MarkPath(reg, mustPath(t, "a"), "")

	id, _ := reg.LookupString("items[].qty")
	assert.True(t, d.Contains(id))
	assert.False(t, d.IsAll())

	keys, ok := d.RowHints(ir.MustParseFieldPath("items[]"))
	require.True(t, ok)
	assert.Equal(t, map[string]struct{}{"k1": {}}, keys)
}

func TestDirtySet_MarkPathUnresolved(t *testing.T) {
	reg := testRegistry("a")
	var d DirtySet

	d.MarkPath(reg, mustPath(t, "b.c"), "")

	assert.True(t, d.IsAll())
	assert.Equal(t, DirtyAllUnresolvedPath, d.AllReason())
}

func TestDirtySet_WideRowsInvalidateHints(t *testing.T) {
	reg := testRegistry("items[].qty", "items[].price")
	var d DirtySet

	d.MarkPath(reg, mustPath(t, "items[0].qty"), "x")
	d.MarkPath(reg, mustPath(t, "items[1].price"), "")

	_, ok := d.RowHints(ir.MustParseFieldPath("items[]"))
	assert.False(t, ok, "a keyless write makes the scope wide")
}

func TestDirtySet_Merge(t *testing.T) {
	a := NewDirtySet(1)
	a.AddRow(ir.MustParseFieldPath("items[]"), "x")

	b := NewDirtySet(2)
	b.AddRow(ir.MustParseFieldPath("items[]"), "y")
	b.MarkAll(DirtyAllMount)

	a.Merge(b)

	assert.Equal(t, []ir.FieldPathID{1, 2}, a.IDs())
	assert.Equal(t, DirtyAllMount, a.AllReason())
	keys, ok := a.RowHints(ir.MustParseFieldPath("items[]"))
	require.True(t, ok)
	assert.Len(t, keys, 2)
}

func TestDirtySet_BitmapIsACopy(t *testing.T) {
	d := NewDirtySet(1)
	bm := d.bitmap()
	bm.Add(5)

	assert.False(t, d.Contains(5))
}

func TestFirstListScope(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.b", ""},
		{"items[].qty", "items[]"},
		{"groups[].items[].v", "groups[]"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := firstListScope(ir.MustParseFieldPath(tt.path))
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, got.String())
		})
	}
}
