package store

import (
	"path/filepath"
	"testing"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBuild creates a small two-path IR with fixed digests.
func createTestBuild(generation int64, writersKey string) *ir.ConvergeStaticIr {
	reg := ir.NewFieldPathRegistry([]ir.FieldPath{{"a"}, {"b"}})
	return &ir.ConvergeStaticIr{
		Generation:    generation,
		WritersKey:    writersKey,
		DepsKey:       "deps-1",
		FieldPathsKey: "paths-1",
		FieldPaths:    reg.Strings(),
		Registry:      reg,
		Steps: []ir.ConvergeStep{{
			StepID:          0,
			OutFieldPathID:  1,
			DepFieldPathIDs: []ir.FieldPathID{0},
			Scheduling:      ir.SchedulingImmediate,
		}},
		TopoOrder: []ir.FieldPathID{1},
		Summary:   ir.BuildSummary{FieldPathCount: 2, StepCount: 1, BuildDurationMs: 0.25},
	}
}

// createTestDecision creates a decision with minimal required fields.
func createTestDecision(txnID, instanceID string, outcome ir.Outcome) ir.ConvergeDecision {
	return ir.ConvergeDecision{
		TxnID:         txnID,
		InstanceID:    instanceID,
		Generation:    1,
		RequestedMode: ir.ModeAuto,
		ExecutedMode:  ir.ModeDirty,
		Outcome:       outcome,
		StepStats:     ir.StepStats{Total: 1, Executed: 1},
		TopSteps:      []ir.StepTiming{},
	}
}
