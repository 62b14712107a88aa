package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldPath_Forms(t *testing.T) {
	tests := []struct {
		in   string
		want FieldPath
	}{
		{"a", FieldPath{"a"}},
		{"a.b.c", FieldPath{"a", "b", "c"}},
		{"list[].total", FieldPath{"list", "[]", "total"}},
		{"list[3].total", FieldPath{"list", "[]", "total"}},
		{"matrix[][].cell", FieldPath{"matrix", "[]", "[]", "cell"}},
		{"list.[].total", FieldPath{"list", "[]", "total"}},
		{"$root", FieldPath{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFieldPath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFieldPath_Rejects(t *testing.T) {
	for _, in := range []string{"", "a..b", "list[x].y", "list[.y", "a[1]]"} {
		_, err := ParseFieldPath(in)
		assert.Error(t, err, "input %q", in)
	}
}

// String is the inverse of ParseFieldPath for sentinel paths.
func TestFieldPath_StringRoundTrip(t *testing.T) {
	for _, s := range []string{"a", "a.b", "list[].total", "matrix[][].cell", "$root", "[].x"} {
		assert.Equal(t, s, MustParseFieldPath(s).String())
	}
}

func TestFieldPath_CompareIsSegmentWise(t *testing.T) {
	a := MustParseFieldPath("a")
	ab := MustParseFieldPath("a.b")
	aa := MustParseFieldPath("a-a")

	assert.Equal(t, -1, a.Compare(ab), "prefix sorts first")
	assert.Equal(t, -1, a.Compare(aa))
	// Segment compare: "a" < "a-a", so a.b sorts before a-a even though "a." > "a-" bytewise.
	assert.Equal(t, -1, ab.Compare(aa))
	assert.Equal(t, 0, ab.Compare(MustParseFieldPath("a.b")))
}

func TestFieldPath_Related(t *testing.T) {
	list := MustParseFieldPath("list")
	total := MustParseFieldPath("list[].total")

	assert.True(t, list.Related(total))
	assert.True(t, total.Related(list))
	assert.False(t, total.Related(MustParseFieldPath("list[].qty")))
}

func TestFieldPath_ListScope(t *testing.T) {
	assert.Equal(t, FieldPath{"list", "[]"}, MustParseFieldPath("list[].total").ListScope())
	assert.Equal(t, FieldPath{"a", "[]", "b", "[]"}, MustParseFieldPath("a[].b[].c").ListScope())
	assert.Nil(t, MustParseFieldPath("a.b").ListScope())
	assert.Equal(t, 2, MustParseFieldPath("a[].b[].c").ListDepth())
}

// Append never aliases the receiver's backing array.
func TestFieldPath_AppendDoesNotMutate(t *testing.T) {
	base := make(FieldPath, 1, 4)
	base[0] = "a"
	x := base.Append("x")
	y := base.Append("y")

	assert.Equal(t, "a.x", x.String())
	assert.Equal(t, "a.y", y.String())
}
