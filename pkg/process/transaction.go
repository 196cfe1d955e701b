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

	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/process/status"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
)

// Enter counts a job in. Unless forced, it fails once the process is stopping
func (w *Worker) Enter(force bool) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if !force && w.status == status.Stopping {
		return errorcode.New(errorcode.ProcessClosing)
	}

	w.jobs++

	return nil
}

// Leave counts a job out. The last job out of a clearing process clears it, and the last
// job out of a stopping process stops it. A force clearing process does not wait for the
// last job
func (w *Worker) Leave() {
	w.lock.Lock()

	if w.jobs <= 0 {
		w.lock.Unlock()
		w.logger.WarnWith("Transaction leave overflow", "status", w.status.String())
		return
	}

	w.jobs--
	if w.jobs > 0 && !w.forceClear {
		w.lock.Unlock()
		return
	}

	previousStatus := w.status
	switch previousStatus {
	case status.Clearing, status.ClearForce:
		w.status = status.Cleared
	case status.Stopping:
		w.status = status.Stopped
	}

	w.lock.Unlock()

	switch previousStatus {
	case status.Clearing, status.ClearForce:
		w.logger.InfoWith("Process cleared",
			"name", w.configuration.Name,
			"force", previousStatus == status.ClearForce)

		if w.configuration.Parent != nil {
			if err := w.configuration.Parent.Send(envelope.KindClear, w.configuration.Pid); err != nil {
				w.logger.WarnWith("Failed to notify parent of clear", "err", err.Error())
			}
		}

	case status.Stopping:
		w.logger.InfoWith("Process stopped", "name", w.configuration.Name)

		w.unloadModules(context.Background(), status.Stopped.String())
		w.manager.Stop()
		w.configuration.Exit(0)
	}
}

// UpdateStatus moves the process to newStatus. Leaving RUNNING unloads the modules
func (w *Worker) UpdateStatus(newStatus status.Status) {
	_ = w.Enter(true)

	w.lock.Lock()
	leavingRunning := w.status == status.Running && newStatus != status.Running
	w.lock.Unlock()

	if leavingRunning {
		w.unloadModules(context.Background(), newStatus.String())
	}

	w.lock.Lock()
	w.status = newStatus
	w.lock.Unlock()

	w.Leave()
}

// Clear drains the process and returns the number of jobs running. A force clearing
// process fails its in flight requests first
func (w *Worker) Clear() int {
	w.lock.Lock()
	forceClear := w.forceClear
	var inflight []*transport.Request

	if forceClear {
		for jobID, request := range w.inflight {
			inflight = append(inflight, request)
			delete(w.inflight, jobID)
		}
	}

	w.lock.Unlock()

	for _, request := range inflight {
		if err := request.Abandon(errorcode.New(errorcode.ForceEnd)); err != nil {
			w.logger.DebugWith("Failed to force end request",
				"module", request.GetModule(),
				"event", request.GetEvent(),
				"err", errors.RootCause(err).Error())
		}
	}

	if forceClear {
		w.UpdateStatus(status.ClearForce)
	} else {
		w.UpdateStatus(status.Clearing)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	return w.jobs
}

// Stop stops the process once its jobs are done
func (w *Worker) Stop() {
	w.UpdateStatus(status.Stopping)
}
