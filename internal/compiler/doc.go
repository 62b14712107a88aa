// Package compiler turns trait declarations into the static converge plan.
//
// The pipeline runs once per generation:
//
//	Declarations ──Normalize──► []ir.TraitEntry ──BuildGraph──► *Graph
//	                                  │
//	                                  └──CompileConvergeIR──► *ir.ConvergeStaticIr
//
// Declarations come from the Go API directly or from CUE (LoadDeclarations).
// Derive, validate and key functions are resolved by name through a
// Functions registry; they are never inferred from function identity.
//
// Configuration errors (MULTIPLE_WRITERS, CYCLE_DETECTED) are attached to the
// returned graph or IR, never thrown, so every caller decides whether to fail
// or degrade. MISSING_DEPS and link cycles are fatal and returned as errors.
package compiler
