package ir

import (
	"fmt"
	"strings"
)

// ListSentinel is the segment that stands for "any index" of a list.
// All elements of a list share one FieldPath, so indices never take part in identity.
const ListSentinel = "[]"

// RootScope is the scope id of root-level declarations.
const RootScope = "$root"

// FieldPath is an ordered sequence of segments identifying a location in the
// state tree. The empty path is the root.
type FieldPath []string

// FieldPathID is a dense, generation-scoped alias for a FieldPath.
type FieldPathID int

// ParseFieldPath parses the dotted string form of a path.
//
// Accepted forms: "a.b", "list[].total", "list[3].total" (index collapses to
// the sentinel), "matrix[][].cell" and "$root" (the empty path).
func ParseFieldPath(s string) (FieldPath, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty field path")
	}
	if s == RootScope {
		return FieldPath{}, nil
	}

	var path FieldPath
	for _, part := range strings.Split(s, ".") {
		if part == ListSentinel {
			path = append(path, ListSentinel)
			continue
		}
		name, rest, hasIndex := strings.Cut(part, "[")
		if name == "" && !hasIndex {
			return nil, fmt.Errorf("empty segment in field path %q", s)
		}
		if name != "" {
			path = append(path, name)
		}
		if !hasIndex {
			continue
		}
		// rest is everything after the first '['; every bracket group is an index.
		for _, group := range strings.Split("["+rest, "[")[1:] {
			inner, ok := strings.CutSuffix(group, "]")
			if !ok || strings.ContainsAny(inner, "[]") {
				return nil, fmt.Errorf("malformed index in field path %q", s)
			}
			if inner != "" && strings.Trim(inner, "0123456789") != "" {
				return nil, fmt.Errorf("non-numeric index %q in field path %q", inner, s)
			}
			path = append(path, ListSentinel)
		}
	}
	return path, nil
}

// MustParseFieldPath is like ParseFieldPath but panics on error.
// Use only in tests or with literal paths.
func MustParseFieldPath(s string) FieldPath {
	p, err := ParseFieldPath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path in its dotted form. List sentinels attach to the
// preceding segment: ["list", "[]", "total"] renders as "list[].total".
func (p FieldPath) String() string {
	if len(p) == 0 {
		return RootScope
	}
	var b strings.Builder
	for i, seg := range p {
		if seg == ListSentinel {
			b.WriteString(ListSentinel)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

// IsRoot reports whether p is the root path.
func (p FieldPath) IsRoot() bool {
	return len(p) == 0
}

// Compare orders paths segment by segment; a proper prefix sorts first.
func (p FieldPath) Compare(other FieldPath) int {
	for i := 0; i < min(len(p), len(other)); i++ {
		if c := strings.Compare(p[i], other[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p) < len(other):
		return -1
	case len(p) > len(other):
		return 1
	}
	return 0
}

// Equal reports whether both paths have identical segments.
func (p FieldPath) Equal(other FieldPath) bool {
	return p.Compare(other) == 0
}

// HasPrefix reports whether prefix is p itself or one of its ancestors.
func (p FieldPath) HasPrefix(prefix FieldPath) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Related reports whether one path is an ancestor of (or equal to) the other.
// A write to either invalidates readers of both.
func (p FieldPath) Related(other FieldPath) bool {
	return p.HasPrefix(other) || other.HasPrefix(p)
}

// Append returns a new path with segs appended. p is never mutated.
func (p FieldPath) Append(segs ...string) FieldPath {
	out := make(FieldPath, 0, len(p)+len(segs))
	out = append(out, p...)
	return append(out, segs...)
}

// ListScope returns the path up to and including the last list sentinel,
// or nil when p lives outside any list.
func (p FieldPath) ListScope() FieldPath {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == ListSentinel {
			return p[: i+1 : i+1]
		}
	}
	return nil
}

// ListDepth counts the list sentinels in p.
func (p FieldPath) ListDepth() int {
	n := 0
	for _, seg := range p {
		if seg == ListSentinel {
			n++
		}
	}
	return n
}
