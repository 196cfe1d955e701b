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

package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nuclio/errors"
)

// Registry maps a kind to whatever a package registered for it at init time
type Registry struct {
	className  string
	lock       sync.Locker
	registered map[string]interface{}
}

func NewRegistry(className string) *Registry {
	return &Registry{
		className:  className,
		lock:       &sync.Mutex{},
		registered: map[string]interface{}{},
	}
}

func (r *Registry) Register(kind string, registeree interface{}) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, found := r.registered[kind]; found {

		// registries register things on package initialization; no place for error handling
		panic(fmt.Sprintf("Already registered: %s", kind))
	}

	r.registered[kind] = registeree
}

func (r *Registry) Get(kind string) (interface{}, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	registeree, found := r.registered[kind]
	if !found {
		return nil, errors.Errorf("Registry for %s failed to find: %s", r.className, kind)
	}

	return registeree, nil
}

// GetKinds returns the registered kinds, sorted
func (r *Registry) GetKinds() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	kinds := make([]string, 0, len(r.registered))
	for kind := range r.registered {
		kinds = append(kinds, kind)
	}

	sort.Strings(kinds)
	return kinds
}
