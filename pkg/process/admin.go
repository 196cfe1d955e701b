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

package process

import (
	"context"
	"sort"

	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
	"github.com/v3io/version-go"
)

// Admin commands a supervisor may query a process with
const (
	CommandClear  = "clear"
	CommandStop   = "stop"
	CommandStatus = "status"
)

// OnSystemCommand handles a command of the supervisor
func (w *Worker) OnSystemCommand(ctx context.Context, command *envelope.SystemCommand) {
	w.logger.DebugWith("Got system command", "command", command.Command, "param", command.Param)

	switch command.Command {
	case envelope.SystemReload:
		if err := w.Reload(ctx); err != nil {
			w.logger.WarnWith("Failed to reload process", "err", errors.GetErrorStackString(err, 10))
		}

	case envelope.SystemClear:
		w.Clear()

	case envelope.SystemStop:
		w.Stop()

	default:
		w.logger.WarnWith("Unknown system command", "command", command.Command)
	}
}

// StatusCallback answers an admin command. clear returns the number of running jobs,
// stop returns true, status returns a snapshot and anything else returns false
func (w *Worker) StatusCallback(command string, data interface{}) interface{} {
	switch command {
	case CommandClear:
		return w.Clear()

	case CommandStop:
		w.Stop()
		return true

	case CommandStatus:
		return w.Snapshot()
	}

	return false
}

// Snapshot returns the current status of the process
func (w *Worker) Snapshot() *Status {
	w.lock.Lock()

	snapshot := &Status{
		Status:    w.status.String(),
		JobsCount: w.jobsCount,
		Jobs:      w.jobs,
		JobsTime:  w.jobsTime.Milliseconds(),
		ReqTask:   make(map[string]*requestTrace, len(w.traces)),
	}

	for jobID, trace := range w.traces {
		traceCopy := *trace
		snapshot.ReqTask[traceKey(jobID)] = &traceCopy
	}

	w.lock.Unlock()

	snapshot.Modules = w.modules.Names()

	if versionInfo := version.Get(); versionInfo != nil {
		snapshot.Version = versionInfo.Label
	}

	return snapshot
}

func sortedEvents(events map[string]module.Handler) []string {
	names := lo.Keys(events)
	sort.Strings(names)

	return names
}
