package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paths(ss ...string) []FieldPath {
	out := make([]FieldPath, len(ss))
	for i, s := range ss {
		out[i] = MustParseFieldPath(s)
	}
	return out
}

// Ids follow lexicographic order and are reproducible regardless of input order.
func TestFieldPathRegistry_StableIDs(t *testing.T) {
	r1 := NewFieldPathRegistry(paths("b", "a", "list[].total", "list", "a"))
	r2 := NewFieldPathRegistry(paths("list", "a", "list[].total", "b"))

	assert.Equal(t, []string{"a", "b", "list", "list[].total"}, r1.Strings())
	assert.Equal(t, r1.Strings(), r2.Strings())

	id, ok := r1.Lookup(MustParseFieldPath("list[].total"))
	require.True(t, ok)
	assert.Equal(t, FieldPathID(3), id)
}

func TestFieldPathRegistry_LookupStringCollapsesIndex(t *testing.T) {
	r := NewFieldPathRegistry(paths("list[].qty"))

	id, ok := r.LookupString("list[7].qty")
	require.True(t, ok)
	assert.Equal(t, "list[].qty", r.Path(id).String())

	_, ok = r.LookupString("missing")
	assert.False(t, ok)
}

func TestFieldPathRegistry_SkipsRoot(t *testing.T) {
	r := NewFieldPathRegistry([]FieldPath{{}, {"a"}})
	assert.Equal(t, 1, r.Len())
}

func TestFieldPathRegistry_Related(t *testing.T) {
	r := NewFieldPathRegistry(paths("a", "list", "list[].qty", "list[].total"))

	ids := r.Related(MustParseFieldPath("list[].qty"))
	var got []string
	for _, id := range ids {
		got = append(got, r.Path(id).String())
	}
	assert.Equal(t, []string{"list", "list[].qty"}, got)
}

func TestFieldPathRegistry_MarshalJSON(t *testing.T) {
	r := NewFieldPathRegistry(paths("b", "a"))
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0,"b":1}`, string(data))
}
