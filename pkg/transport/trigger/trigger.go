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

package trigger

import (
	"context"
	"sort"
	"sync"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
)

// HandlerID identifies one registration
type HandlerID uint64

// Handler handles an emitted event. Returning true stops the emit
type Handler func(ctx context.Context, args ...interface{}) (bool, error)

type entry struct {
	id      HandlerID
	owner   string
	handler Handler
}

// Binding is one name and handler an owner registers
type Binding struct {
	Name    string
	Handler Handler
}

// Trigger is a named multi-subscriber event registry. Handlers of a name run in
// registration order
type Trigger struct {
	lock     sync.Mutex
	lastID   HandlerID
	handlers map[string][]entry
}

// NewTrigger creates an empty trigger
func NewTrigger() *Trigger {
	return &Trigger{
		handlers: map[string][]entry{},
	}
}

// On registers handler for name on behalf of owner
func (t *Trigger) On(name string, owner string, handler Handler) HandlerID {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.lastID++
	t.handlers[name] = append(t.handlers[name], entry{
		id:      t.lastID,
		owner:   owner,
		handler: handler,
	})

	return t.lastID
}

// Replace removes every handler of oldOwner and registers bindings for newOwner, in one step
func (t *Trigger) Replace(oldOwner string, newOwner string, bindings []Binding) []HandlerID {
	t.lock.Lock()
	defer t.lock.Unlock()

	if oldOwner != "" {
		for handlerName := range t.handlers {
			t.removeMatching(handlerName, func(candidate entry) bool {
				return candidate.owner == oldOwner
			})
		}
	}

	ids := make([]HandlerID, 0, len(bindings))
	for _, binding := range bindings {
		t.lastID++
		t.handlers[binding.Name] = append(t.handlers[binding.Name], entry{
			id:      t.lastID,
			owner:   newOwner,
			handler: binding.Handler,
		})

		ids = append(ids, t.lastID)
	}

	return ids
}

// Off removes handlers. With only a name, every handler of that name goes. With only an
// owner, every handler of that owner goes, across all names. With a name and an owner
// and/or id, only the matching handlers of that name go
func (t *Trigger) Off(name string, owner string, id HandlerID) {
	t.lock.Lock()
	defer t.lock.Unlock()

	matches := func(candidate entry) bool {
		if owner != "" && candidate.owner != owner {
			return false
		}

		if id != 0 && candidate.id != id {
			return false
		}

		return true
	}

	if name == "" {
		if owner == "" && id == 0 {
			return
		}

		for handlerName := range t.handlers {
			t.removeMatching(handlerName, matches)
		}

		return
	}

	if owner == "" && id == 0 {
		delete(t.handlers, name)
		return
	}

	t.removeMatching(name, matches)
}

// Emit invokes every handler of name in order, each one after the previous has
// returned. It returns the number of handlers invoked, or -K when handler K returned true
func (t *Trigger) Emit(ctx context.Context, name string, args ...interface{}) (int, error) {
	t.lock.Lock()
	entries := append([]entry{}, t.handlers[name]...)
	t.lock.Unlock()

	for index, handlerEntry := range entries {
		stop, err := handlerEntry.handler(ctx, args...)
		if err != nil {
			return index + 1, errors.Wrapf(err, "Handler of %s failed", name)
		}

		if stop {
			return -(index + 1), nil
		}
	}

	return len(entries), nil
}

// Count returns the number of handlers registered for name
func (t *Trigger) Count(name string) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.handlers[name])
}

// Names returns the registered names, sorted
func (t *Trigger) Names() []string {
	t.lock.Lock()
	defer t.lock.Unlock()

	names := lo.Keys(t.handlers)
	sort.Strings(names)

	return names
}

func (t *Trigger) removeMatching(name string, matches func(entry) bool) {
	remaining := lo.Filter(t.handlers[name], func(candidate entry, _ int) bool {
		return !matches(candidate)
	})

	if len(remaining) == 0 {
		delete(t.handlers, name)
		return
	}

	t.handlers[name] = remaining
}
