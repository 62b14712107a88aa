package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yoyooyooo/logix-sub006/internal/compiler"
	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Error code constants - unified across all CLI commands. Declaration
// validation codes (E2xx) and configuration codes come from the compiler.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or evaluation failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeDeclaration = "E006" // Malformed trait declaration
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeStore       = "E008" // Database error

	ErrCodeLinkCycle = "LINK_CYCLE"
)

// LoadError is a problem with the module directory itself.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Diagnostic is one reportable problem of a module build.
type Diagnostic struct {
	Code    string   `json:"code"`
	Field   string   `json:"field,omitempty"`
	Message string   `json:"message"`
	File    string   `json:"file,omitempty"`
	Line    int      `json:"line,omitempty"`
	Column  int      `json:"column,omitempty"`
	Paths   []string `json:"paths,omitempty"`
}

func (d Diagnostic) String() string {
	s := d.Code + ": "
	if d.Field != "" {
		s += d.Field + ": "
	}
	s += d.Message
	if d.File != "" {
		s = fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, s)
	}
	return s
}

// LoadBuild loads the CUE module in dir and runs the compile pipeline.
//
// The returned build may carry a configuration error; see Diagnose.
func LoadBuild(ctx context.Context, dir string, logger *slog.Logger, opts ...compiler.Option) (*compiler.Build, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("module directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing module directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}
	logger.Debug("loading module", "event", "load", "dir", dir, "files", len(files))

	spec, err := compiler.LoadDir(dir, compiler.NewFunctions())
	if err != nil {
		return nil, err
	}
	if spec.Name == "" {
		spec.Name = filepath.Base(filepath.Clean(dir))
	}

	opts = append([]compiler.Option{compiler.WithLogger(logger)}, opts...)
	return spec.Build(ctx, opts...)
}

// FindCUEFiles returns the .cue files directly in dir. Subdirectories are
// separate CUE packages and are not part of the module.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

// Diagnose flattens a load error, or a build's configuration error, into
// diagnostics. Joined errors contribute one diagnostic each.
func Diagnose(build *compiler.Build, err error) []Diagnostic {
	if err != nil {
		return diagnoseErr(err)
	}
	if build == nil {
		return nil
	}
	if ce := build.ConfigError(); ce != nil {
		return []Diagnostic{configDiagnostic(ce)}
	}
	return nil
}

func diagnoseErr(err error) []Diagnostic {
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		var out []Diagnostic
		for _, inner := range e.Unwrap() {
			out = append(out, diagnoseErr(inner)...)
		}
		return out
	case *LoadError:
		return []Diagnostic{{Code: e.Code, Message: e.Message}}
	case compiler.ValidationErrors:
		out := make([]Diagnostic, len(e))
		for i, ve := range e {
			out[i] = Diagnostic{Code: ve.Code, Field: ve.Field, Message: ve.Message, Line: ve.Line}
		}
		return out
	case compiler.ValidationError:
		return []Diagnostic{{Code: e.Code, Field: e.Field, Message: e.Message, Line: e.Line}}
	case *ir.ConfigError:
		return []Diagnostic{configDiagnostic(e)}
	case *compiler.LinkCycleError:
		return []Diagnostic{{
			Code:    ErrCodeLinkCycle,
			Field:   e.Path,
			Message: e.Error(),
			Paths:   e.Cycle,
		}}
	case *compiler.CompileError:
		d := Diagnostic{Code: ErrCodeDeclaration, Field: e.Field, Message: e.Message}
		if e.Field == "cue" {
			d.Code = ErrCodeLoadFailed
			d.Field = ""
		}
		if e.Pos.IsValid() {
			d.File = e.Pos.Filename()
			d.Line = e.Pos.Line()
			d.Column = e.Pos.Column()
		}
		return []Diagnostic{d}
	}

	// Peel fmt wrappers until a known error surfaces.
	if inner := errors.Unwrap(err); inner != nil {
		return diagnoseErr(inner)
	}
	return []Diagnostic{{Code: ErrCodeGeneric, Message: err.Error()}}
}

func configDiagnostic(ce *ir.ConfigError) Diagnostic {
	return Diagnostic{Code: string(ce.Code), Message: ce.Message, Paths: ce.Paths}
}
