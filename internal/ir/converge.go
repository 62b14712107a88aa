package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ConvergeStep is one writer in topological order. StepID is its position in
// that order and is stable for the lifetime of a generation.
type ConvergeStep struct {
	StepID          int           `json:"step_id"`
	OutFieldPathID  FieldPathID   `json:"out_field_path_id"`
	DepFieldPathIDs []FieldPathID `json:"dep_field_path_ids"`
	Scheduling      Scheduling    `json:"scheduling"`
}

// BuildSummary is the one-shot build report handed to telemetry.
type BuildSummary struct {
	FieldPathCount  int     `json:"field_path_count"`
	StepCount       int     `json:"step_count"`
	BuildDurationMs float64 `json:"build_duration_ms"`

	// DroppedDeps counts writer deps that did not resolve to a field path id.
	DroppedDeps int `json:"dropped_deps"`
}

// ConvergeStaticIr is the compiled, generation-scoped converge plan.
type ConvergeStaticIr struct {
	Generation    int64              `json:"generation"`
	WritersKey    string             `json:"writers_key"`
	DepsKey       string             `json:"deps_key"`
	FieldPathsKey string             `json:"field_paths_key"`
	FieldPaths    []string           `json:"field_paths"`
	Registry      *FieldPathRegistry `json:"field_path_id_registry"`
	Steps         []ConvergeStep     `json:"steps"`

	// TopoOrder lists step output ids in execution order.
	TopoOrder   []FieldPathID `json:"topo_order"`
	ConfigError *ConfigError  `json:"config_error,omitempty"`
	Summary     BuildSummary  `json:"summary"`

	// Writers holds the entry behind each step, indexed by StepID.
	Writers []TraitEntry `json:"-"`
}

// Err returns the attached configuration error, or nil.
// Callers must decide explicitly between failing and degrading.
func (c *ConvergeStaticIr) Err() error {
	if c.ConfigError == nil {
		return nil
	}
	return c.ConfigError
}

// SameShape reports whether other has identical digests, i.e. whether a
// rebuild changed anything about the graph.
func (c *ConvergeStaticIr) SameShape(other *ConvergeStaticIr) bool {
	if c == nil || other == nil {
		return false
	}
	return c.WritersKey == other.WritersKey &&
		c.DepsKey == other.DepsKey &&
		c.FieldPathsKey == other.FieldPathsKey
}

// ConfigErrorCode categorizes configuration errors.
type ConfigErrorCode string

const (
	// ErrCodeMultipleWriters indicates more than one writer targets a path.
	ErrCodeMultipleWriters ConfigErrorCode = "MULTIPLE_WRITERS"

	// ErrCodeCycleDetected indicates writers that cannot be ordered.
	ErrCodeCycleDetected ConfigErrorCode = "CYCLE_DETECTED"

	// ErrCodeMissingDeps indicates an entry or rule without explicit deps.
	ErrCodeMissingDeps ConfigErrorCode = "MISSING_DEPS"
)

// ConfigError is a deterministic build-time diagnosis. It is attached to the
// graph or IR rather than thrown, and is never retried.
type ConfigError struct {
	Code    ConfigErrorCode `json:"code"`
	Message string          `json:"message"`

	// Paths lists the offending field paths, sorted.
	Paths []string `json:"paths"`

	// Kinds maps each offending path to the kinds declared on it (MULTIPLE_WRITERS).
	Kinds map[string][]TraitKind `json:"kinds,omitempty"`

	// Cycles lists each strongly connected component (CYCLE_DETECTED).
	Cycles [][]string `json:"cycles,omitempty"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(e.Paths, ", "))
}

// IsConfigError reports whether err is a ConfigError with the given code.
// An empty code matches any ConfigError.
func IsConfigError(err error, code ConfigErrorCode) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return code == "" || ce.Code == code
	}
	return false
}
