package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// TestWriteBuild_Idempotent tests that the same build is stored once.
func TestWriteBuild_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	static := createTestBuild(1, "writers-1")

	inserted, err := s.WriteBuild(ctx, "cart", static)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.WriteBuild(ctx, "cart", static)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate ignored")

	builds, err := s.ReadBuilds(ctx, "cart")
	require.NoError(t, err)
	assert.Len(t, builds, 1)
}

// TestWriteBuild_StoresIRJSON tests the serialized IR.
func TestWriteBuild_StoresIRJSON(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.WriteBuild(ctx, "cart", createTestBuild(1, "writers-1"))
	require.NoError(t, err)

	b, err := s.LatestBuild(ctx, "cart")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(b.IR), &decoded))
	assert.Equal(t, map[string]any{"a": 0.0, "b": 1.0}, decoded["field_path_id_registry"])
	assert.Equal(t, "writers-1", decoded["writers_key"])
	assert.NotContains(t, decoded, "config_error")
}

// TestWriteBuild_ConfigError tests that the error code is recorded.
func TestWriteBuild_ConfigError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	static := createTestBuild(1, "writers-1")
	static.ConfigError = &ir.ConfigError{Code: ir.ErrCodeCycleDetected, Message: "cycle", Paths: []string{"a", "b"}}

	_, err := s.WriteBuild(ctx, "cart", static)
	require.NoError(t, err)

	b, err := s.LatestBuild(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, "CYCLE_DETECTED", b.ConfigError)
}

// TestWriteDecision_Idempotent tests that a decision published twice is
// stored once.
func TestWriteDecision_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	d := createTestDecision("txn-1", "inst-1", ir.OutcomeConverged)

	require.NoError(t, s.WriteDecision(ctx, "cart", d))
	require.NoError(t, s.WriteDecision(ctx, "cart", d))

	records, err := s.ReadDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestWriteDecision_RequiresTxnID tests the txn id guard.
func TestWriteDecision_RequiresTxnID(t *testing.T) {
	s := createTestStore(t)

	err := s.WriteDecision(context.Background(), "cart", createTestDecision("", "inst-1", ir.OutcomeNoop))
	assert.ErrorContains(t, err, "empty txn id")
}
