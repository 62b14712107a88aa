package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func computed(path string, deps ...string) TraitEntry {
	var dp []FieldPath
	for _, d := range deps {
		dp = append(dp, MustParseFieldPath(d))
	}
	return TraitEntry{FieldPath: MustParseFieldPath(path), Meta: ComputedMeta{Deps: dp}}
}

// Writer order must not affect any digest.
func TestDigests_OrderIndependent(t *testing.T) {
	a := []TraitEntry{computed("b", "a"), computed("c", "b")}
	b := []TraitEntry{computed("c", "b"), computed("b", "a")}

	wa, err := WritersKey(a)
	require.NoError(t, err)
	wb, err := WritersKey(b)
	require.NoError(t, err)
	assert.Equal(t, wa, wb)
	assert.Len(t, wa, 64)

	da, err := DepsKey(a)
	require.NoError(t, err)
	db, err := DepsKey(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

// Changing only a dependency keeps writersKey but moves depsKey.
func TestDigests_DepsChangeOnlyMovesDepsKey(t *testing.T) {
	before := []TraitEntry{computed("b", "a")}
	after := []TraitEntry{computed("b", "x")}

	w1, _ := WritersKey(before)
	w2, _ := WritersKey(after)
	d1, _ := DepsKey(before)
	d2, _ := DepsKey(after)

	assert.Equal(t, w1, w2)
	assert.NotEqual(t, d1, d2)
}

func TestDigests_SchedulingIsPartOfDepsKey(t *testing.T) {
	immediate := []TraitEntry{computed("b", "a")}
	deferred := []TraitEntry{{
		FieldPath: MustParseFieldPath("b"),
		Meta:      ComputedMeta{Deps: []FieldPath{{"a"}}, Scheduling: SchedulingDeferred},
	}}

	d1, _ := DepsKey(immediate)
	d2, _ := DepsKey(deferred)
	assert.NotEqual(t, d1, d2)
}

// Domains keep identical payloads from colliding across digest kinds.
func TestDigests_DomainSeparation(t *testing.T) {
	fp, err := FieldPathsKey([]string{"b#computed"})
	require.NoError(t, err)
	w, err := WritersKey([]TraitEntry{computed("b")})
	require.NoError(t, err)
	assert.NotEqual(t, fp, w)
}

func TestPlanSignature_SetSemantics(t *testing.T) {
	assert.Equal(t, PlanSignature([]FieldPathID{3, 1, 2}), PlanSignature([]FieldPathID{1, 2, 3, 3}))
	assert.NotEqual(t, PlanSignature([]FieldPathID{1}), PlanSignature([]FieldPathID{1, 2}))
}

func TestHashWithDomain_NullSeparator(t *testing.T) {
	assert.NotEqual(t, hashWithDomain("ab", []byte("c")), hashWithDomain("a", []byte("bc")))
}

func derived(name string, args map[string]any) TraitEntry {
	return TraitEntry{
		FieldPath: MustParseFieldPath("b"),
		Meta:      ComputedMeta{Deps: []FieldPath{{"a"}}, DeriveName: name, DeriveArgs: args},
	}
}

// A new derive function or new args move depsKey; the same binding does not.
func TestDigests_DeriveIdentityIsPartOfDepsKey(t *testing.T) {
	key := func(e TraitEntry) string {
		k, err := DepsKey([]TraitEntry{e})
		require.NoError(t, err)
		return k
	}

	base := key(derived("scale", map[string]any{"factor": 2}))
	assert.Equal(t, base, key(derived("scale", map[string]any{"factor": 2})))
	assert.NotEqual(t, base, key(derived("scale", map[string]any{"factor": 3})))
	assert.NotEqual(t, base, key(derived("scale", map[string]any{"factor": 0.5})))
	assert.NotEqual(t, base, key(derived("copy", nil)))
	assert.NotEqual(t, key(derived("copy", nil)), key(computed("b", "a")))
}

// Strings and Ints keep order and element types.
func TestArrayHelpers(t *testing.T) {
	assert.Equal(t, IRArray{IRString("b"), IRString("a")}, Strings([]string{"b", "a"}))
	assert.Equal(t, IRArray{IRInt(3), IRInt(1)}, Ints([]int{3, 1}))
	assert.Equal(t, IRArray{}, Strings(nil))

	out, err := MarshalCanonical(Strings([]string{"x", "y"}))
	require.NoError(t, err)
	assert.Equal(t, `["x","y"]`, string(out))
	out, err = MarshalCanonical(Ints([]int{2, 10}))
	require.NoError(t, err)
	assert.Equal(t, `[2,10]`, string(out))
}
