package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

func TestParseConcretePath(t *testing.T) {
	tests := []struct {
		in   string
		want ConcretePath
	}{
		{"a", ConcretePath{"a"}},
		{"a.b", ConcretePath{"a", "b"}},
		{"items[2].total", ConcretePath{"items", 2, "total"}},
		{"m[0][1].cell", ConcretePath{"m", 0, 1, "cell"}},
		{"$root", ConcretePath{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConcretePath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConcretePath_Invalid(t *testing.T) {
	for _, in := range []string{"a..b", "items[].x", "items[-1]", "items[x]", "items[1"} {
		_, err := ParseConcretePath(in)
		assert.Error(t, err, in)
	}
}

func TestConcretePath_StringAndPattern(t *testing.T) {
	p := ConcretePath{"groups", 1, "items", 0, "v"}

	assert.Equal(t, "groups[1].items[0].v", p.String())
	assert.Equal(t, "groups[].items[].v", p.Pattern().String())
	assert.Equal(t, "$root", ConcretePath{}.String())
}

func TestConcretize(t *testing.T) {
	p := ir.MustParseFieldPath("groups[].items[].v")

	assert.Equal(t, ConcretePath{"groups", 2, "items", 5, "v"}, concretize(p, []int{2, 5}))
	assert.Equal(t, ConcretePath{"groups", 2, "items", "[]", "v"}, concretize(p, []int{2}))
}

func TestMapDraft_GetSet(t *testing.T) {
	d := NewMapDraft(map[string]any{
		"items": []any{map[string]any{"qty": 1}},
	})

	v, ok := d.Get(ConcretePath{"items", 0, "qty"})
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = d.Get(ConcretePath{"items", 3, "qty"})
	assert.False(t, ok)

	require.NoError(t, d.Set(ConcretePath{"items", 0, "qty"}, 4))
	v, _ = d.Get(ConcretePath{"items", 0, "qty"})
	assert.Equal(t, 4, v)
}

func TestMapDraft_SetCreatesObjects(t *testing.T) {
	d := NewMapDraft(nil)

	require.NoError(t, d.Set(ConcretePath{"profile", "address", "city"}, "Oslo"))

	assert.Equal(t, map[string]any{
		"profile": map[string]any{"address": map[string]any{"city": "Oslo"}},
	}, d.State())
}

func TestMapDraft_SetMissingListFails(t *testing.T) {
	d := NewMapDraft(map[string]any{"items": []any{}})

	assert.Error(t, d.Set(ConcretePath{"items", 0, "qty"}, 1))
	assert.Error(t, d.Set(ConcretePath{"rows", 0, "qty"}, 1))
	assert.Error(t, d.Set(ConcretePath{}, 1), "root cannot be replaced")
}

func TestMapDraft_Len(t *testing.T) {
	d := NewMapDraft(map[string]any{"items": []any{1, 2, 3}, "name": "x"})

	assert.Equal(t, 3, d.Len(ConcretePath{"items"}))
	assert.Equal(t, 0, d.Len(ConcretePath{"name"}))
	assert.Equal(t, 0, d.Len(ConcretePath{"missing"}))
}

func TestMapDraft_Errors(t *testing.T) {
	d := NewMapDraft(nil)

	require.NoError(t, d.SetError("items[1].qtyPositive", "must be >= 0"))
	msg, ok := d.GetError("items[1].qtyPositive")
	require.True(t, ok)
	assert.Equal(t, "must be >= 0", msg)
	assert.Equal(t, map[string]string{"items[1].qtyPositive": "must be >= 0"}, d.Errors())

	require.NoError(t, d.ClearError("items[1].qtyPositive"))
	_, ok = d.GetError("items[1].qtyPositive")
	assert.False(t, ok)
	assert.NotContains(t, d.State(), ErrorsRoot)
}

func TestCloneState_Deep(t *testing.T) {
	orig := map[string]any{"items": []any{map[string]any{"qty": 1}}}
	cp := CloneState(orig)

	require.NoError(t, NewMapDraft(cp).Set(ConcretePath{"items", 0, "qty"}, 9))

	assert.Equal(t, 1, orig["items"].([]any)[0].(map[string]any)["qty"])
	assert.Nil(t, CloneState(nil))
}

func TestExpandIndexes(t *testing.T) {
	d := NewMapDraft(map[string]any{"groups": []any{
		map[string]any{"items": []any{1, 2}},
		map[string]any{"items": []any{}},
		map[string]any{"items": []any{3}},
	}})
	p := ir.MustParseFieldPath("groups[].items[].v")

	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {2, 0}}, expandIndexes(d, p, nil))
	assert.Equal(t, [][]int{{0, 0}, {0, 1}}, expandIndexes(d, p, []int{0}))
	assert.Equal(t, [][]int{nil}, expandIndexes(d, ir.MustParseFieldPath("a"), nil))
}

func TestInputValue_AggregatesDeeperLists(t *testing.T) {
	d := NewMapDraft(map[string]any{"items": []any{
		map[string]any{"total": 2},
		map[string]any{"total": 3},
	}})
	dep := ir.MustParseFieldPath("items[].total")

	agg := inputValue(d, dep, ir.MustParseFieldPath("sum"), nil)
	assert.Equal(t, []any{2, 3}, agg)

	row := inputValue(d, dep, ir.MustParseFieldPath("items[].copy"), []int{1})
	assert.Equal(t, 3, row)
}
