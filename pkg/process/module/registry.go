/*
Copyright 2023 The Nuclio Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package module

import (
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/registry"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Creator creates a module instance
type Creator interface {

	// Create creates a module instance
	Create(parentLogger logger.Logger, moduleConfiguration *config.Module) (Module, error)
}

// CreatorFunc adapts a function to a Creator
type CreatorFunc func(parentLogger logger.Logger, moduleConfiguration *config.Module) (Module, error)

func (f CreatorFunc) Create(parentLogger logger.Logger, moduleConfiguration *config.Module) (Module, error) {
	return f(parentLogger, moduleConfiguration)
}

type Registry struct {
	registry.Registry
}

// RegistrySingleton is a module global singleton
var RegistrySingleton = Registry{
	Registry: *registry.NewRegistry("module"),
}

// NewModule creates a module of the configured kind
func (r *Registry) NewModule(parentLogger logger.Logger, moduleConfiguration *config.Module) (Module, error) {
	kind := moduleConfiguration.Kind
	if kind == "" {
		kind = moduleConfiguration.Name
	}

	registree, err := r.Get(kind)
	if err != nil {
		return nil, err
	}

	newModule, err := registree.(Creator).Create(parentLogger, moduleConfiguration)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create module %s (%s)", moduleConfiguration.Name, kind)
	}

	return newModule, nil
}
