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

	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/errgroup"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
)

// OnSystemCommand handles a system command from the parent. clear and stop block until
// every thread complied
func (c *Cluster) OnSystemCommand(ctx context.Context, command *envelope.SystemCommand) error {
	c.logger.DebugWith("Received system command", "command", command.Command, "param", command.Param)

	switch command.Command {
	case envelope.SystemReload:
		if c.configuration.Reader != nil {
			c.configuration.Reader.Reload(c.configuration.ConfigPath)
		}

		c.forwardSystemCommand(command)
		return nil

	case envelope.SystemClear:
		if err := c.waitThreads(ctx, command, envelope.KindClear); err != nil {
			return errors.Wrap(err, "Failed to clear threads")
		}

		return c.configuration.Parent.Send(envelope.KindClear, c.configuration.Pid)

	case envelope.SystemStop:
		for _, threadInstance := range c.getThreads() {
			threadInstance.handle.SetAutoRestart(false)
		}

		if err := c.waitThreads(ctx, command, child.EventExit); err != nil {
			return errors.Wrap(err, "Failed to stop threads")
		}

		c.logger.InfoWith("All threads exited, exiting", "id", c.configuration.ID)
		c.configuration.Exit(0)
		return nil
	}

	c.logger.WarnWith("Ignoring unknown system command", "command", command.Command)
	return nil
}

// OnAdminRequest answers a request addressed to the cluster itself, and passes the rest to
// the threads. A request without an id is answered by the cluster and every thread
func (c *Cluster) OnAdminRequest(request *envelope.AdminRequest) error {
	switch request.ID {
	case c.configuration.ID:
		return c.replyAdmin(request, c.StatusCallback(request.Command))

	case "":
		if err := c.replyAdmin(request, c.StatusCallback(request.Command)); err != nil {
			return err
		}

		for _, threadInstance := range c.getThreads() {
			if err := threadInstance.handle.Send(envelope.KindAdminRequest, request); err != nil {
				c.logger.WarnWith("Failed to pass admin request to thread",
					"id", threadInstance.handle.ID(),
					"err", err.Error())
			}
		}

		return nil
	}

	for _, threadInstance := range c.getThreads() {
		if threadInstance.handle.ID() == request.ID {
			return threadInstance.handle.Send(envelope.KindAdminRequest, request)
		}
	}

	return c.replyAdmin(request, errorcode.New(errorcode.ProcessNotFound, request.ID).Payload())
}

// StatusCallback answers an admin command about the cluster
func (c *Cluster) StatusCallback(command string) interface{} {
	if command != "status" {
		return false
	}

	c.lock.Lock()
	queued := len(c.queue)
	c.lock.Unlock()

	return &Status{
		ID:      c.configuration.ID,
		Queued:  queued,
		Threads: c.Threads(),
	}
}

func (c *Cluster) replyAdmin(request *envelope.AdminRequest, data interface{}) error {
	return c.configuration.Parent.Send(envelope.KindAdminAck, &envelope.AdminAck{
		Mid:  request.Mid,
		ID:   c.configuration.ID,
		Data: data,
	})
}

func (c *Cluster) forwardSystemCommand(command *envelope.SystemCommand) {
	for _, threadInstance := range c.getThreads() {
		if err := threadInstance.handle.SendSystem(command.Command, command.Param); err != nil {
			c.logger.WarnWith("Failed to pass system command to thread",
				"id", threadInstance.handle.ID(),
				"command", command.Command,
				"err", err.Error())
		}
	}
}

// waitThreads sends command to every thread and waits for each to answer with a frame of
// kind. A thread exiting meanwhile counts as an answer
func (c *Cluster) waitThreads(ctx context.Context, command *envelope.SystemCommand, kind string) error {
	waitGroup, waitCtx := errgroup.WithContext(ctx, c.logger, 0)

	for _, threadInstance := range c.getThreads() {
		handle := threadInstance.handle

		answerChan := handle.Once(kind)
		exitChan := answerChan
		if kind != child.EventExit {
			exitChan = handle.Once(child.EventExit)
		}

		if err := handle.SendSystem(command.Command, command.Param); err != nil {
			c.logger.WarnWith("Failed to pass system command to thread",
				"id", handle.ID(),
				"command", command.Command,
				"err", err.Error())
			continue
		}

		waitGroup.Go(handle.ID(), func() error {
			select {
			case <-answerChan:
			case <-exitChan:
			case <-waitCtx.Done():
				return errors.Wrapf(waitCtx.Err(), "Timed out waiting for %s", handle.ID())
			}

			return nil
		})
	}

	return waitGroup.Wait()
}
