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

package scheduler

import (
	"context"
	"sync"
)

// Future is a value that settles exactly once
type Future struct {
	once  sync.Once
	done  chan struct{}
	value interface{}
	err   error
}

// NewFuture creates an unsettled future
func NewFuture() *Future {
	return &Future{
		done: make(chan struct{}),
	}
}

// Resolved creates a future settled with value
func Resolved(value interface{}) *Future {
	future := NewFuture()
	future.Resolve(value)

	return future
}

// Rejected creates a future settled with err
func Rejected(err error) *Future {
	future := NewFuture()
	future.Reject(err)

	return future
}

// Resolve settles the future with value. Returns false if it was already settled
func (f *Future) Resolve(value interface{}) bool {
	return f.settle(value, nil)
}

// Reject settles the future with err. Returns false if it was already settled
func (f *Future) Reject(err error) bool {
	return f.settle(nil, err)
}

// Done is closed once the future settles
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled returns true once the future settled
func (f *Future) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) settle(value interface{}, err error) bool {
	settled := false

	f.once.Do(func() {
		f.value = value
		f.err = err
		settled = true
		close(f.done)
	})

	return settled
}
