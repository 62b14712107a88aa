package compiler

import "github.com/yoyooyooo/logix-sub006/internal/ir"

// Decl is one value of the declaration tree.
// Sealed: Computed, Link, Source, Check, Node and List implement it.
type Decl interface {
	decl()
}

// Declarations maps a field path (or ir.RootScope) to its declaration.
type Declarations map[string]Decl

// Computed derives a field from explicit dependencies.
// A nil Deps means "not declared" and is rejected; use an empty slice for
// a constant derivation.
type Computed struct {
	Deps       []string
	Derive     ir.DeriveFunc
	DeriveName string
	DeriveArgs Args
	Equals     ir.EqualFunc
	Scheduling ir.Scheduling
}

// Link copies the value at From.
type Link struct {
	From       string
	Scheduling ir.Scheduling
}

// Source backs a field with an external resource.
type Source struct {
	Deps        []string
	Resource    string
	Key         ir.KeyFunc
	KeyName     string
	Trigger     ir.SourceTrigger
	Concurrency ir.SourceConcurrency
}

// CheckRule is one named validation rule.
type CheckRule struct {
	Deps         []string
	Validate     ir.ValidateFunc
	ValidateName string

	// Writeback overrides the errors-tree path; defaults to scope + rule name.
	Writeback string
}

// Check groups named rules under the scope of its declaration key.
type Check map[string]CheckRule

// Node groups several trait kinds under one scope. Map keys are field
// names relative to the scope.
type Node struct {
	Computed map[string]Computed
	Link     map[string]Link
	Source   map[string]Source
	Check    map[string]CheckRule
}

// List declares traits for a list field: Item applies to every element
// (scope "<list>[]"), List to the list itself (scope "<list>").
type List struct {
	Item *Node
	List *Node

	// TrackBy names the element field that identifies a row.
	TrackBy string
}

func (Computed) decl() {}
func (Link) decl()     {}
func (Source) decl()   {}
func (Check) decl()    {}
func (Node) decl()     {}
func (List) decl()     {}
