package app

import (
	"github.com/vk/trainforge/internal/registry"
	"github.com/vk/trainforge/internal/zoo"
)

// coreModules is the definitive list of architecture families compiled
// into the trainforge binary.
var coreModules = zoo.Families

func newRegistry(modules ...registry.Module) *registry.Registry {
	if len(modules) == 0 {
		modules = coreModules
	}
	return registry.New(modules...)
}
