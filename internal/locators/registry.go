// Package locators is the compile-time registry of filesystem locators.
package locators

import (
	"sort"

	"github.com/deploymenttheory/go-blockinject/internal/interfaces"
	"github.com/deploymenttheory/go-blockinject/internal/locators/ext4"
	"github.com/deploymenttheory/go-blockinject/internal/locators/f2fs"
	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

var factories = map[types.FSKind]interfaces.LocatorFactory{
	types.FSExt4: ext4.New,
	types.FSF2FS: f2fs.New,
}

var grammars = map[types.FSKind]func() *rules.Grammar{
	types.FSExt4: ext4.Grammar,
	types.FSF2FS: f2fs.Grammar,
}

// Lookup returns the factory registered for kind.
func Lookup(kind types.FSKind) (interfaces.LocatorFactory, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, types.NewConfigError(string(kind), "unknown filesystem kind")
	}
	return f, nil
}

// Grammar returns the specification grammar of kind without opening a device.
func Grammar(kind types.FSKind) (*rules.Grammar, error) {
	g, ok := grammars[kind]
	if !ok {
		return nil, types.NewConfigError(string(kind), "unknown filesystem kind")
	}
	return g(), nil
}

// IsKind reports whether name is a registered filesystem kind.
func IsKind(name string) bool {
	_, ok := factories[types.FSKind(name)]
	return ok
}

// Kinds lists the registered filesystem kinds in name order.
func Kinds() []types.FSKind {
	out := make([]types.FSKind, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
