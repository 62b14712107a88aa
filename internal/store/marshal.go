package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// marshalJSON encodes v as compact JSON TEXT.
// HTML escaping is disabled so stored paths read back byte-identical.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// marshalDecision converts a decision to JSON TEXT for storage.
func marshalDecision(d ir.ConvergeDecision) (string, error) {
	data, err := marshalJSON(d)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	return data, nil
}

// unmarshalDecision parses JSON TEXT to a decision. Source keys come back as
// decoded JSON values (float64, string, []any).
func unmarshalDecision(data string) (ir.ConvergeDecision, error) {
	var d ir.ConvergeDecision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return ir.ConvergeDecision{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	return d, nil
}

// marshalIR converts the static IR to JSON TEXT. Writers carry functions and
// are not serialized.
func marshalIR(static *ir.ConvergeStaticIr) (string, error) {
	data, err := marshalJSON(static)
	if err != nil {
		return "", fmt.Errorf("marshal ir: %w", err)
	}
	return data, nil
}
