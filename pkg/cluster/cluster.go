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
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/errgroup"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Cluster runs a process as a pool of worker threads. Messages addressed to the process are
// load balanced over the threads; everything the threads send goes up to the parent
type Cluster struct {
	logger        logger.Logger
	configuration *Configuration
	codec         codec.Codec
	maxActive     int

	lock    sync.Mutex
	threads []*thread
	queue   []*envelope.Message

	wakeup chan struct{}
}

// NewCluster creates a cluster. Threads are created by Start
func NewCluster(parentLogger logger.Logger, configuration *Configuration) (*Cluster, error) {
	if configuration.Parent == nil {
		return nil, errors.New("Cluster requires a parent")
	}

	if configuration.ThreadFactory == nil {
		return nil, errors.New("Cluster requires a thread factory")
	}

	if configuration.Threads < 1 {
		return nil, errors.Errorf("Invalid number of threads: %d", configuration.Threads)
	}

	if configuration.Exit == nil {
		configuration.Exit = os.Exit
	}

	if configuration.Now == nil {
		configuration.Now = time.Now
	}

	if configuration.Pid == 0 {
		configuration.Pid = os.Getpid()
	}

	maxActive := configuration.ThreadQueue
	if maxActive <= 0 {
		maxActive = DefaultThreadQueue
	}

	return &Cluster{
		logger:        parentLogger.GetChild("cluster"),
		configuration: configuration,
		codec:         codec.NewMsgPack(),
		maxActive:     maxActive,
		wakeup:        make(chan struct{}, 1),
	}, nil
}

// Start starts all threads and waits until each reported inited. Threads are restarted on
// exit only once they started successfully
func (c *Cluster) Start(ctx context.Context) error {
	c.lock.Lock()
	for index := 1; index <= c.configuration.Threads; index++ {
		threadID := fmt.Sprintf("%s.%d", c.configuration.ID, index)

		c.threads = append(c.threads, &thread{
			index:  index,
			handle: c.configuration.ThreadFactory(index, threadID),
		})
	}
	threads := append([]*thread{}, c.threads...)
	c.lock.Unlock()

	for _, threadInstance := range threads {
		c.bindThread(threadInstance)
	}

	startGroup, startCtx := errgroup.WithContext(ctx, c.logger, len(threads))
	for _, threadInstance := range threads {
		threadInstance := threadInstance

		startGroup.Go(threadInstance.handle.ID(), func() error {
			if err := threadInstance.handle.StartAndWait(startCtx, true); err != nil {
				return errors.Wrapf(err, "Failed to start thread %s", threadInstance.handle.ID())
			}

			return nil
		})
	}

	if err := startGroup.Wait(); err != nil {
		c.stopThreads(os.Kill)
		return err
	}

	go c.runDispatcher(ctx)

	c.logger.InfoWith("Cluster started",
		"id", c.configuration.ID,
		"threads", len(threads),
		"threadQueue", c.maxActive)

	return nil
}

// OnParentMessage handles an ipc message from the parent. Acks go straight to the thread
// that sent the request, everything else is load balanced
func (c *Cluster) OnParentMessage(message *envelope.Message) error {
	if message.Header.Rext != 0 {
		c.lock.Lock()
		target := c.getThread(message.Header.Rext)
		if target != nil {
			target.lastUsed = c.now()
			if message.Header.IsRequest() {
				target.active++
			}
		}
		c.lock.Unlock()

		if target == nil {
			c.logger.WarnWith("Dropping message for unknown thread",
				"rext", message.Header.Rext,
				"mid", message.Header.Mid)
			return nil
		}

		return target.handle.SendMessage(message)
	}

	c.lock.Lock()
	c.queue = append(c.queue, message)
	c.lock.Unlock()

	c.wake()
	return nil
}

// Threads returns a status entry per thread
func (c *Cluster) Threads() []*ThreadStatus {
	c.lock.Lock()
	defer c.lock.Unlock()

	var statuses []*ThreadStatus
	for _, threadInstance := range c.threads {
		statuses = append(statuses, &ThreadStatus{
			Index:    threadInstance.index,
			ID:       threadInstance.handle.ID(),
			Active:   threadInstance.active,
			LastUsed: threadInstance.lastUsed,
			Child:    threadInstance.handle.Snapshot(),
		})
	}

	return statuses
}

func (c *Cluster) bindThread(threadInstance *thread) {
	threadInstance.handle.On(envelope.KindIPC, func(frame *envelope.Frame) error {
		message, err := frame.DecodeMessage(c.codec)
		if err != nil {
			return errors.Wrap(err, "Failed to decode thread message")
		}

		return c.onThreadMessage(threadInstance.index, message)
	})

	// forwarded unchanged
	for _, kind := range []string{envelope.KindLog, envelope.KindException, envelope.KindAdminAck} {
		threadInstance.handle.On(kind, c.configuration.Parent.SendFrame)
	}

	threadInstance.handle.On(child.EventExit, func(frame *envelope.Frame) error {
		c.lock.Lock()
		threadInstance.active = 0
		c.lock.Unlock()

		c.wake()
		return nil
	})
}

// onThreadMessage tags a thread message with the thread index and sends it up. An ack, or a
// request passed on from another process, frees a slot of the thread
func (c *Cluster) onThreadMessage(index int, message *envelope.Message) error {
	header := message.Header

	c.lock.Lock()
	threadInstance := c.getThread(index)
	if threadInstance != nil {
		header.Ext = index

		if header.Type == envelope.TypeAck ||
			(header.IsRequest() && header.SourceProcess != c.configuration.Name) {
			threadInstance.active--
			defer c.wake()
		}
	}
	c.lock.Unlock()

	return c.configuration.Parent.SendMessage(message)
}

func (c *Cluster) stopThreads(signal os.Signal) {
	for _, threadInstance := range c.getThreads() {
		if err := threadInstance.handle.Stop(signal); err != nil {
			c.logger.WarnWith("Failed to stop thread",
				"id", threadInstance.handle.ID(),
				"err", err.Error())
		}
	}
}

// getThread returns the thread of index. Called with the lock held
func (c *Cluster) getThread(index int) *thread {
	for _, threadInstance := range c.threads {
		if threadInstance.index == index {
			return threadInstance
		}
	}

	return nil
}

func (c *Cluster) getThreads() []*thread {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]*thread{}, c.threads...)
}

func (c *Cluster) now() int64 {
	return c.configuration.Now().UnixMilli()
}
