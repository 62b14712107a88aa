// Package ir provides the shared types of the trait convergence engine.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - FieldPathIds are dense and generation-scoped; never persist them across generations
//   - A ConvergeStaticIr is immutable once built and shared read-only by all instances
//   - Digests use canonical JSON (RFC 8785) with domain-separated SHA-256
//   - All JSON tags use snake_case
package ir
