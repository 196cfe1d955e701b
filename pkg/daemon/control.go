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

package daemon

import (
	"context"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/errgroup"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/google/uuid"
	"github.com/nuclio/errors"
	"github.com/v3io/version-go"
)

// Clear asks every child to finish its jobs and waits until each reported cleared
func (d *Daemon) Clear(ctx context.Context) error {
	return d.each(ctx, "clear", func(entry *childEntry) <-chan *envelope.Frame {
		entry.logger.InfoWith("Clearing process")

		clearChan := entry.handle.Once(envelope.KindClear)
		exitChan := entry.handle.Once(child.EventExit)

		if err := entry.handle.SendSystem(envelope.SystemClear, ""); err != nil {
			entry.logger.WarnWith("Failed to send clear", "err", err.Error())
			return nil
		}

		return firstOf(clearChan, exitChan)
	})
}

// Stop clears every child, then stops them and exits
func (d *Daemon) Stop(ctx context.Context) error {
	if err := d.Clear(ctx); err != nil {
		return errors.Wrap(err, "Failed to clear processes")
	}

	if err := d.terminate(ctx); err != nil {
		return errors.Wrap(err, "Failed to stop processes")
	}

	d.logger.InfoWith("Daemon stopped")
	d.Exit(0)
	return nil
}

// Kill interrupts every child without clearing and waits for them to exit. The daemon
// exits afterwards when exit is set
func (d *Daemon) Kill(ctx context.Context, exit bool) error {
	err := d.each(ctx, "kill", func(entry *childEntry) <-chan *envelope.Frame {
		entry.logger.InfoWith("Killing process")

		exitChan := entry.handle.Once(child.EventExit)
		if entry.handle.Status() == child.StatusStop {
			return nil
		}

		if err := entry.handle.Stop(syscall.SIGINT); err != nil {
			entry.logger.WarnWith("Failed to kill process", "err", err.Error())
			return nil
		}

		return exitChan
	})

	if err != nil {
		return errors.Wrap(err, "Failed to kill processes")
	}

	if exit {
		d.Exit(0)
	}

	return nil
}

// Restart stops every child and starts new ones in their place
func (d *Daemon) Restart(ctx context.Context) error {
	if err := d.terminate(ctx); err != nil {
		return errors.Wrap(err, "Failed to stop processes")
	}

	d.lock.Lock()
	groups := make([]*group, 0, len(d.groupOrder))
	for _, groupName := range d.groupOrder {
		groups = append(groups, d.groups[groupName])
	}
	d.lock.Unlock()

	var startOrder []*childEntry
	for _, groupInstance := range groups {
		startOrder = append(startOrder, d.createChildren(groupInstance)...)
	}

	if err := d.startChildren(ctx, startOrder); err != nil {
		return errors.Wrap(err, "Failed to restart processes")
	}

	d.logger.InfoWith("Daemon restarted", "processes", len(startOrder))
	return nil
}

// Reload drops the daemon's configuration cache when id is empty. Otherwise every child
// named id, or whose name prefixes id, is asked to reload
func (d *Daemon) Reload(id string) {
	if id == "" {
		d.configuration.Reader.Reload("")
		d.logger.InfoWith("Daemon configuration cache updated")
		return
	}

	for _, entry := range d.getChildren() {
		if !strings.HasPrefix(id, entry.handle.ID()) {
			continue
		}

		if err := entry.handle.SendSystem(envelope.SystemReload, id); err != nil {
			entry.logger.WarnWith("Failed to send reload", "err", err.Error())
		}
	}
}

// QueryStatus asks the children matching id for their status. An empty id queries every
// child, a group name the children of that group and a thread id the thread only. Children
// that do not answer in time are reported without a reply
func (d *Daemon) QueryStatus(ctx context.Context, id string) (*StatusReport, error) {
	type target struct {
		entry     *childEntry
		requestID string
	}

	var targets []target
	for _, entry := range d.getChildren() {
		childID := entry.handle.ID()

		switch {
		case id == "" || id == childID || id == entry.group.name:
			targets = append(targets, target{entry, childID})
		case strings.HasPrefix(id, childID+"."):
			targets = append(targets, target{entry, id})
		}
	}

	mid := uuid.New().String()
	ackChan := make(chan *envelope.AdminAck, len(targets)+1)

	d.adminLock.Lock()
	d.adminWaiters[mid] = ackChan
	d.adminLock.Unlock()

	defer func() {
		d.adminLock.Lock()
		delete(d.adminWaiters, mid)
		d.adminLock.Unlock()
	}()

	expected := 0
	for _, queryTarget := range targets {
		if err := queryTarget.entry.handle.Send(envelope.KindAdminRequest, &envelope.AdminRequest{
			Mid:     mid,
			ID:      queryTarget.requestID,
			Command: commandStatus,
		}); err != nil {
			queryTarget.entry.logger.DebugWith("Failed to query status", "err", err.Error())
			continue
		}

		expected++
	}

	replies := map[string]interface{}{}
	timeout := time.NewTimer(d.configuration.QueryTimeout)
	defer timeout.Stop()

collect:
	for len(replies) < expected {
		select {
		case adminAck := <-ackChan:
			replies[adminAck.ID] = adminAck.Data
		case <-timeout.C:
			break collect
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "Status query cancelled")
		}
	}

	report := &StatusReport{
		AppName: d.configuration.DaemonFile.Daemon.AppName,
		Pid:     d.pid,
	}

	if versionInfo := version.Get(); versionInfo != nil {
		report.Version = versionInfo.Label
	}

	for _, queryTarget := range targets {
		report.Children = append(report.Children, &ChildStatus{
			Snapshot: queryTarget.entry.handle.Snapshot(),
			Group:    queryTarget.entry.group.name,
			Reply:    replies[queryTarget.requestID],
		})
	}

	return report, nil
}

func (d *Daemon) onAdminAck(adminAck *envelope.AdminAck) {
	d.adminLock.Lock()
	ackChan, found := d.adminWaiters[adminAck.Mid]
	d.adminLock.Unlock()

	if !found {
		d.logger.DebugWith("Dropping admin ack of no pending query", "mid", adminAck.Mid, "id", adminAck.ID)
		return
	}

	select {
	case ackChan <- adminAck:
	default:
		d.logger.DebugWith("Dropping surplus admin ack", "mid", adminAck.Mid, "id", adminAck.ID)
	}
}

// terminate disables restarts and asks every child to stop, waiting for each to exit
func (d *Daemon) terminate(ctx context.Context) error {
	return d.each(ctx, "stop", func(entry *childEntry) <-chan *envelope.Frame {
		entry.logger.InfoWith("Stopping process")

		exitChan := entry.handle.Once(child.EventExit)
		entry.handle.SetAutoRestart(false)

		if entry.handle.Status() == child.StatusStop {
			return nil
		}

		if err := entry.handle.SendSystem(envelope.SystemStop, ""); err != nil {
			entry.logger.WarnWith("Failed to send stop, interrupting", "err", err.Error())

			if err := entry.handle.Stop(os.Interrupt); err != nil {
				return nil
			}
		}

		return exitChan
	})
}

// each runs action on every child and waits on the channels it returns. A nil channel
// means there is nothing to wait for
func (d *Daemon) each(ctx context.Context, actionName string, action func(entry *childEntry) <-chan *envelope.Frame) error {
	waitGroup, waitCtx := errgroup.WithContext(ctx, d.logger, 0)

	for _, entry := range d.getChildren() {
		doneChan := action(entry)
		if doneChan == nil {
			continue
		}

		childID := entry.handle.ID()
		waitGroup.Go(actionName+" "+childID, func() error {
			select {
			case <-doneChan:
				return nil
			case <-waitCtx.Done():
				return errors.Wrapf(waitCtx.Err(), "Timed out waiting for %s to %s", childID, actionName)
			}
		})
	}

	return waitGroup.Wait()
}

// firstOf yields the first frame either channel yields
func firstOf(first <-chan *envelope.Frame, second <-chan *envelope.Frame) <-chan *envelope.Frame {
	merged := make(chan *envelope.Frame, 1)

	go func() {
		select {
		case frame := <-first:
			merged <- frame
		case frame := <-second:
			merged <- frame
		}
	}()

	return merged
}
