package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// ErrNotFound is returned when a single-record read finds nothing.
var ErrNotFound = errors.New("not found")

// DecisionFilter selects decisions. Zero fields do not filter.
type DecisionFilter struct {
	Module     string
	InstanceID string
	Outcome    ir.Outcome

	// Limit keeps only the most recent N decisions (still returned in seq
	// order). 0 means no limit.
	Limit int
}

func (f DecisionFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.Module != "" {
		conds = append(conds, "module = ?")
		args = append(args, f.Module)
	}
	if f.InstanceID != "" {
		conds = append(conds, "instance_id = ?")
		args = append(args, f.InstanceID)
	}
	if f.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// ReadDecisions returns the decisions matching f, ordered by seq ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReadDecisions(ctx context.Context, f DecisionFilter) ([]DecisionRecord, error) {
	where, args := f.where()
	limit := -1
	if f.Limit > 0 {
		limit = f.Limit
	}
	args = append(args, limit)

	// Newest N first in the inner query, re-ordered ascending outside.
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, module, decision FROM (
			SELECT seq, module, decision
			FROM converge_decisions
			`+where+`
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	records := []DecisionRecord{}
	for rows.Next() {
		var rec DecisionRecord
		var data string
		if err := rows.Scan(&rec.Seq, &rec.Module, &data); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if rec.Decision, err = unmarshalDecision(data); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}

	return records, nil
}

// ReadDecision returns the decision of one transaction, or ErrNotFound.
func (s *Store) ReadDecision(ctx context.Context, txnID string) (DecisionRecord, error) {
	var rec DecisionRecord
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT seq, module, decision FROM converge_decisions WHERE txn_id = ?
	`, txnID).Scan(&rec.Seq, &rec.Module, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return DecisionRecord{}, fmt.Errorf("decision %s: %w", txnID, ErrNotFound)
	}
	if err != nil {
		return DecisionRecord{}, fmt.Errorf("query decision: %w", err)
	}
	if rec.Decision, err = unmarshalDecision(data); err != nil {
		return DecisionRecord{}, err
	}
	return rec, nil
}

// OutcomeCount is one row of DecisionStats.
type OutcomeCount struct {
	Outcome ir.Outcome        `json:"outcome"`
	Reason  ir.DegradedReason `json:"reason,omitempty"`
	Count   int               `json:"count"`
}

// DecisionStats counts decisions by outcome and reason, ordered by outcome
// then reason. Limit is ignored.
func (s *Store) DecisionStats(ctx context.Context, f DecisionFilter) ([]OutcomeCount, error) {
	where, args := f.where()
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, reason, COUNT(*)
		FROM converge_decisions
		`+where+`
		GROUP BY outcome, reason
		ORDER BY outcome COLLATE BINARY ASC, reason COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision stats: %w", err)
	}
	defer rows.Close()

	counts := []OutcomeCount{}
	for rows.Next() {
		var c OutcomeCount
		var outcome, reason string
		if err := rows.Scan(&outcome, &reason, &c.Count); err != nil {
			return nil, fmt.Errorf("scan decision stats: %w", err)
		}
		c.Outcome = ir.Outcome(outcome)
		c.Reason = ir.DegradedReason(reason)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision stats: %w", err)
	}
	return counts, nil
}

// ReadBuilds returns the builds of module (all modules when empty), ordered
// by seq ASC.
func (s *Store) ReadBuilds(ctx context.Context, module string) ([]BuildRecord, error) {
	query := `
		SELECT seq, module, generation, writers_key, deps_key, field_paths_key,
		       field_path_count, step_count, dropped_deps, build_duration_ms,
		       config_error, ir_json, ir_version, engine_version
		FROM ir_builds`
	var args []any
	if module != "" {
		query += " WHERE module = ?"
		args = append(args, module)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	builds := []BuildRecord{}
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}
	return builds, nil
}

// LatestBuild returns the most recent build of module, or ErrNotFound.
func (s *Store) LatestBuild(ctx context.Context, module string) (BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, module, generation, writers_key, deps_key, field_paths_key,
		       field_path_count, step_count, dropped_deps, build_duration_ms,
		       config_error, ir_json, ir_version, engine_version
		FROM ir_builds
		WHERE module = ?
		ORDER BY seq DESC
		LIMIT 1
	`, module)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BuildRecord{}, fmt.Errorf("build of %s: %w", module, ErrNotFound)
	}
	return b, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(sc scanner) (BuildRecord, error) {
	var b BuildRecord
	var configErr sql.NullString
	err := sc.Scan(
		&b.Seq,
		&b.Module,
		&b.Generation,
		&b.Digests.WritersKey,
		&b.Digests.DepsKey,
		&b.Digests.FieldPathsKey,
		&b.Summary.FieldPathCount,
		&b.Summary.StepCount,
		&b.Summary.DroppedDeps,
		&b.Summary.BuildDurationMs,
		&configErr,
		&b.IR,
		&b.IRVersion,
		&b.EngineVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BuildRecord{}, err
	}
	if err != nil {
		return BuildRecord{}, fmt.Errorf("scan build: %w", err)
	}
	b.ConfigError = configErr.String
	return b, nil
}
