package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// Domain prefixes for content digests.
// Version suffix enables future algorithm migration.
const (
	DomainWriters    = "logix/converge/writers/v1"
	DomainDeps       = "logix/converge/deps/v1"
	DomainFieldPaths = "logix/converge/field-paths/v1"
	DomainPlan       = "logix/converge/plan/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte keeps domain and data boundaries unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WritersKey digests the set of writer identities (path + kind).
// Input order does not matter.
func WritersKey(writers []TraitEntry) (string, error) {
	ids := make([]string, len(writers))
	for i, w := range writers {
		ids[i] = w.ID()
	}
	slices.Sort(ids)

	canonical, err := MarshalCanonical(Strings(ids))
	if err != nil {
		return "", fmt.Errorf("WritersKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainWriters, canonical), nil
}

// DepsKey digests every (writer, scheduling, deps, derive) tuple. Dependency
// order is significant because derive functions receive values positionally.
// The derive identity is the function name plus its bound args, so a new
// function or new args produce a new key.
func DepsKey(writers []TraitEntry) (string, error) {
	sorted := slices.Clone(writers)
	slices.SortFunc(sorted, func(a, b TraitEntry) int {
		return compareKeysRFC8785(a.ID(), b.ID())
	})

	tuples := make(IRArray, len(sorted))
	for i, w := range sorted {
		deps := w.Deps()
		depStrings := make([]string, len(deps))
		for j, d := range deps {
			depStrings[j] = d.String()
		}
		derive, err := deriveIdentity(w)
		if err != nil {
			return "", fmt.Errorf("DepsKey: %s: %w", w.ID(), err)
		}
		tuples[i] = IRObject{
			"writer":     IRString(w.ID()),
			"scheduling": IRString(w.Scheduling()),
			"deps":       Strings(depStrings),
			"derive":     IRString(derive),
		}
	}

	canonical, err := MarshalCanonical(tuples)
	if err != nil {
		return "", fmt.Errorf("DepsKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDeps, canonical), nil
}

// deriveIdentity renders a computed writer's function as name(args). Args
// may hold floats, which canonical JSON rejects, so they are rendered with
// encoding/json: map keys come out sorted and numbers in shortest form.
func deriveIdentity(w TraitEntry) (string, error) {
	m, ok := w.Meta.(ComputedMeta)
	if !ok || m.DeriveName == "" {
		return "", nil
	}
	if len(m.DeriveArgs) == 0 {
		return m.DeriveName + "()", nil
	}
	args, err := json.Marshal(m.DeriveArgs)
	if err != nil {
		return "", fmt.Errorf("derive args: %w", err)
	}
	return m.DeriveName + "(" + string(args) + ")", nil
}

// FieldPathsKey digests the registry's path list in id order.
func FieldPathsKey(paths []string) (string, error) {
	canonical, err := MarshalCanonical(Strings(paths))
	if err != nil {
		return "", fmt.Errorf("FieldPathsKey: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainFieldPaths, canonical), nil
}

// PlanSignature digests a dirty set's exact membership. Order-independent.
func PlanSignature(ids []FieldPathID) string {
	sorted := make([]int, len(ids))
	for i, id := range ids {
		sorted[i] = int(id)
	}
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	// Ints never fail canonical marshaling.
	canonical, _ := MarshalCanonical(Ints(sorted))
	return hashWithDomain(DomainPlan, canonical)
}
