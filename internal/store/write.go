package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// BuildRecord is one stored IR build.
type BuildRecord struct {
	Seq        int64           `json:"seq"`
	Module     string          `json:"module"`
	Generation int64           `json:"generation"`
	Digests    Digests         `json:"digests"`
	Summary    ir.BuildSummary `json:"summary"`

	// ConfigError is the configuration error code, empty for a clean build.
	ConfigError   string `json:"config_error,omitempty"`
	IRVersion     string `json:"ir_version"`
	EngineVersion string `json:"engine_version"`

	// IR is the IR JSON as stored.
	IR string `json:"-"`
}

// Digests are the three content keys of a build.
type Digests struct {
	WritersKey    string `json:"writers_key"`
	DepsKey       string `json:"deps_key"`
	FieldPathsKey string `json:"field_paths_key"`
}

// DecisionRecord is one stored converge decision.
type DecisionRecord struct {
	Seq      int64               `json:"seq"`
	Module   string              `json:"module"`
	Decision ir.ConvergeDecision `json:"decision"`
}

// WriteBuild inserts an IR build record. Returns whether a new row was
// inserted; the same (module, generation, digests) is silently ignored.
func (s *Store) WriteBuild(ctx context.Context, module string, static *ir.ConvergeStaticIr) (bool, error) {
	irJSON, err := marshalIR(static)
	if err != nil {
		return false, fmt.Errorf("write build: %w", err)
	}

	var configErr sql.NullString
	if static.ConfigError != nil {
		configErr = sql.NullString{String: string(static.ConfigError.Code), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ir_builds
		(module, generation, writers_key, deps_key, field_paths_key,
		 field_path_count, step_count, dropped_deps, build_duration_ms,
		 config_error, ir_json, ir_version, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module, generation, writers_key, deps_key, field_paths_key) DO NOTHING
	`,
		module,
		static.Generation,
		static.WritersKey,
		static.DepsKey,
		static.FieldPathsKey,
		static.Summary.FieldPathCount,
		static.Summary.StepCount,
		static.Summary.DroppedDeps,
		static.Summary.BuildDurationMs,
		configErr,
		irJSON,
		ir.IRVersion,
		ir.EngineVersion,
	)
	if err != nil {
		return false, fmt.Errorf("write build: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write build: rows affected: %w", err)
	}
	return n > 0, nil
}

// WriteDecision inserts a converge decision.
// Uses ON CONFLICT(txn_id) DO NOTHING for idempotency - a decision published
// twice is stored once.
func (s *Store) WriteDecision(ctx context.Context, module string, d ir.ConvergeDecision) error {
	if d.TxnID == "" {
		return fmt.Errorf("write decision: empty txn id")
	}
	data, err := marshalDecision(d)
	if err != nil {
		return fmt.Errorf("write decision: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO converge_decisions
		(txn_id, module, instance_id, generation, requested_mode, executed_mode,
		 outcome, reason, elapsed_ms, decision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO NOTHING
	`,
		d.TxnID,
		module,
		d.InstanceID,
		d.Generation,
		string(d.RequestedMode),
		string(d.ExecutedMode),
		string(d.Outcome),
		string(d.Reason),
		d.Budget.ElapsedMs,
		data,
	)
	if err != nil {
		return fmt.Errorf("write decision: %w", err)
	}

	return nil
}
