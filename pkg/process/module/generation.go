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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/config"

	"github.com/samber/lo"
)

// Generation is one loaded instance of a named module. A reload creates a new generation
// and swaps it in; the old one is torn down once its in-flight handlers returned
type Generation struct {
	Name          string
	Number        int
	Module        Module
	Configuration *config.Module
	LoadedAt      time.Time

	inflight sync.WaitGroup
}

// Owner is the name the generation's handlers are registered under
func (g *Generation) Owner() string {
	return fmt.Sprintf("%s#%d", g.Name, g.Number)
}

// Enter marks a handler of the generation as running
func (g *Generation) Enter() {
	g.inflight.Add(1)
}

// Leave marks a handler of the generation as done
func (g *Generation) Leave() {
	g.inflight.Done()
}

// Drain waits until no handler of the generation runs, or ctx is done
func (g *Generation) Drain(ctx context.Context) error {
	drained := make(chan struct{})

	go func() {
		g.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Set holds the current generation of every module a process hosts
type Set struct {
	lock        sync.RWMutex
	generations map[string]*Generation
	numbers     map[string]int
}

func NewSet() *Set {
	return &Set{
		generations: map[string]*Generation{},
		numbers:     map[string]int{},
	}
}

// NewGeneration creates the next generation of a module. It is not current until swapped in
func (s *Set) NewGeneration(moduleConfiguration *config.Module, instance Module) *Generation {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.numbers[moduleConfiguration.Name]++

	return &Generation{
		Name:          moduleConfiguration.Name,
		Number:        s.numbers[moduleConfiguration.Name],
		Module:        instance,
		Configuration: moduleConfiguration,
		LoadedAt:      time.Now(),
	}
}

// Current returns the current generation of name, or nil
func (s *Set) Current(name string) *Generation {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.generations[name]
}

// Swap makes generation current and returns the one it replaced, if any
func (s *Set) Swap(generation *Generation) *Generation {
	s.lock.Lock()
	defer s.lock.Unlock()

	previous := s.generations[generation.Name]
	s.generations[generation.Name] = generation

	return previous
}

// Names returns the names of the loaded modules, sorted
func (s *Set) Names() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	names := lo.Keys(s.generations)
	sort.Strings(names)

	return names
}

// All returns the current generations, sorted by name
func (s *Set) All() []*Generation {
	names := s.Names()

	s.lock.RLock()
	defer s.lock.RUnlock()

	return lo.Map(names, func(name string, _ int) *Generation {
		return s.generations[name]
	})
}
