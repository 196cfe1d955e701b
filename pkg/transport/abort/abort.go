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

package abort

import (
	"sync"
	"time"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/robfig/cron/v3"
)

const (
	DefaultLifetime  = 600 * time.Second
	DefaultSweepSpec = "@every 300s"
)

// Key returns the registry key of the request identified by a link and a client reference
func Key(linkID string, ref string) string {
	if linkID == "" && ref == "" {
		return ""
	}

	return linkID + "_" + ref
}

// Registry holds the abort signals received by a process until a checkpoint consumes
// them or they expire
type Registry struct {
	logger   logger.Logger
	lock     sync.Mutex
	entries  map[string]time.Time
	lifetime time.Duration
	cron     *cron.Cron
	now      func() time.Time
}

// NewRegistry creates a registry whose entries expire after lifetime
func NewRegistry(parentLogger logger.Logger, lifetime time.Duration) *Registry {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	return &Registry{
		logger:   parentLogger.GetChild("abort"),
		entries:  map[string]time.Time{},
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Start schedules the periodic expiry sweep
func (r *Registry) Start(sweepSpec string) error {
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSpec
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(sweepSpec, func() {
		if removed := r.Sweep(); removed > 0 {
			r.logger.DebugWith("Expired abort signals", "removed", removed)
		}
	}); err != nil {
		return errors.Wrapf(err, "Failed to schedule abort sweep (%s)", sweepSpec)
	}

	r.cron.Start()
	return nil
}

// Stop stops the sweep
func (r *Registry) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Add records an abort signal for key
func (r *Registry) Add(key string) {
	if key == "" {
		return
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.entries[key] = r.now()
}

// Contains returns true if an abort signal is recorded for key
func (r *Registry) Contains(key string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	_, found := r.entries[key]
	return found
}

// Consume removes the signal for key, returning whether there was one
func (r *Registry) Consume(key string) bool {
	if key == "" {
		return false
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, found := r.entries[key]; !found {
		return false
	}

	delete(r.entries, key)
	return true
}

// Sweep removes expired signals and returns how many were removed
func (r *Registry) Sweep() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	removed := 0
	deadline := r.now().Add(-r.lifetime)

	for key, recordedAt := range r.entries {
		if recordedAt.Before(deadline) {
			delete(r.entries, key)
			removed++
		}
	}

	return removed
}

// Len returns the number of recorded signals
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.entries)
}
