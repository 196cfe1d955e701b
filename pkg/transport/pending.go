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

package transport

import (
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/scheduler"
	"github.com/nuclio/radon/pkg/transport/envelope"
)

type pendingRequest struct {
	mid      uint64
	header   *envelope.Header
	deadline time.Time
	asResult bool
	future   *scheduler.Future
}

// pendingTable tracks requests awaiting their ack. Removal is idempotent: of an ack and
// a timeout racing for one entry, only the first gets it
type pendingTable struct {
	lock    sync.Mutex
	entries map[uint64]*pendingRequest
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: map[uint64]*pendingRequest{},
	}
}

func (p *pendingTable) add(entry *pendingRequest) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.entries[entry.mid] = entry
}

func (p *pendingTable) take(mid uint64) *pendingRequest {
	p.lock.Lock()
	defer p.lock.Unlock()

	entry, found := p.entries[mid]
	if !found {
		return nil
	}

	delete(p.entries, mid)
	return entry
}

func (p *pendingTable) takeExpired(now time.Time) []*pendingRequest {
	p.lock.Lock()
	defer p.lock.Unlock()

	var expired []*pendingRequest
	for mid, entry := range p.entries {
		if now.After(entry.deadline) {
			expired = append(expired, entry)
			delete(p.entries, mid)
		}
	}

	return expired
}

func (p *pendingTable) len() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return len(p.entries)
}
