package compiler

import (
	"fmt"
	"slices"

	"github.com/yoyooyooo/logix-sub006/internal/ir"
)

// Args are the literal arguments bound to a named function at declaration time.
type Args map[string]any

// DeriveFactory binds args to a derive function.
type DeriveFactory func(args Args) (ir.DeriveFunc, error)

// ValidateFactory binds args to a validate function.
type ValidateFactory func(args Args) (ir.ValidateFunc, error)

// KeyFactory binds args to a source key function.
type KeyFactory func(args Args) (ir.KeyFunc, error)

// Functions resolves derive, validate and key functions by stable name.
// A Functions value is built before a generation is compiled and not
// modified while that generation is live.
type Functions struct {
	derive   map[string]DeriveFactory
	validate map[string]ValidateFactory
	key      map[string]KeyFactory
}

// NewFunctions returns a registry preloaded with the built-in functions.
func NewFunctions() *Functions {
	f := &Functions{
		derive:   make(map[string]DeriveFactory),
		validate: make(map[string]ValidateFactory),
		key:      make(map[string]KeyFactory),
	}
	registerBuiltins(f)
	return f
}

// RegisterDerive adds or replaces a derive function.
func (f *Functions) RegisterDerive(name string, factory DeriveFactory) {
	f.derive[name] = factory
}

// RegisterValidate adds or replaces a validate function.
func (f *Functions) RegisterValidate(name string, factory ValidateFactory) {
	f.validate[name] = factory
}

// RegisterKey adds or replaces a source key function.
func (f *Functions) RegisterKey(name string, factory KeyFactory) {
	f.key[name] = factory
}

// Derive resolves a derive function by name.
func (f *Functions) Derive(name string, args Args) (ir.DeriveFunc, error) {
	factory, ok := f.derive[name]
	if !ok {
		return nil, fmt.Errorf("unknown derive function %q (known: %v)", name, sortedNames(f.derive))
	}
	return factory(args)
}

// Validate resolves a validate function by name.
func (f *Functions) Validate(name string, args Args) (ir.ValidateFunc, error) {
	factory, ok := f.validate[name]
	if !ok {
		return nil, fmt.Errorf("unknown validate function %q (known: %v)", name, sortedNames(f.validate))
	}
	return factory(args)
}

// Key resolves a source key function by name.
func (f *Functions) Key(name string, args Args) (ir.KeyFunc, error) {
	factory, ok := f.key[name]
	if !ok {
		return nil, fmt.Errorf("unknown key function %q (known: %v)", name, sortedNames(f.key))
	}
	return factory(args)
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
