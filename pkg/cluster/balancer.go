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

package cluster

import (
	"context"

	"github.com/nuclio/radon/pkg/transport/envelope"
)

// wake asks the dispatcher to go over the queue
func (c *Cluster) wake() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

func (c *Cluster) runDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wakeup:
			c.dispatch()
		}
	}
}

// dispatch hands queued messages to threads until the queue is empty or no thread has a
// free slot. Casts and aborts go to every thread
func (c *Cluster) dispatch() {
	for {
		c.lock.Lock()
		if len(c.queue) == 0 {
			c.lock.Unlock()
			return
		}

		message := c.queue[0]
		c.queue = c.queue[1:]

		if message.Header.Type == envelope.TypeAbort || message.Header.Type == envelope.TypeProcessCast {
			threads := append([]*thread{}, c.threads...)
			c.lock.Unlock()

			c.broadcast(threads, message)
			continue
		}

		picked := c.pick()
		if picked == nil || picked.active >= c.maxActive {
			c.requeue(message)
			c.lock.Unlock()
			return
		}

		picked.lastUsed = c.now()
		if message.Header.IsRequest() {
			picked.active++
		}
		c.lock.Unlock()

		if err := picked.handle.SendMessage(message); err != nil {
			c.logger.WarnWith("Failed to pass message to thread, requeueing",
				"thread", picked.index,
				"mid", message.Header.Mid,
				"err", err.Error())

			c.lock.Lock()
			if message.Header.IsRequest() {
				picked.active--
			}
			c.requeue(message)
			c.lock.Unlock()
			return
		}
	}
}

// pick selects the thread for the next message. The comparisons run in this exact order:
// a full candidate is never picked, an idle pick is kept over a busy candidate, then
// fewer active requests or an older last use win. Called with the lock held
func (c *Cluster) pick() *thread {
	var picked *thread

	for _, candidate := range c.threads {
		switch {
		case picked == nil:
			picked = candidate
		case candidate.active == c.maxActive:
		case picked.active == 0 && candidate.active != 0:
		case picked.active > candidate.active || picked.lastUsed > candidate.lastUsed:
			picked = candidate
		case picked.active == candidate.active && picked.lastUsed > candidate.lastUsed:
			picked = candidate
		}
	}

	return picked
}

// requeue puts message back at the head of the queue. Called with the lock held
func (c *Cluster) requeue(message *envelope.Message) {
	c.queue = append([]*envelope.Message{message}, c.queue...)
}

func (c *Cluster) broadcast(threads []*thread, message *envelope.Message) {
	for _, threadInstance := range threads {
		if err := threadInstance.handle.SendMessage(message); err != nil {
			c.logger.WarnWith("Failed to cast message to thread",
				"thread", threadInstance.index,
				"type", message.Header.Type,
				"err", err.Error())
		}
	}
}
