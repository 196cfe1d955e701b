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

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon"

	"github.com/shirou/gopsutil/process"
)

// Exit codes of the control commands
const (
	ExitNotRunning   = 1
	ExitNameMismatch = 2
	ExitTimeout      = 3
)

const pollInterval = 100 * time.Millisecond

// ExitError ends the command with a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func newExitError(code int, format string, args ...interface{}) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// runningDaemon returns the pid of the daemon recorded in the pidfile of daemonFile. It
// fails with ExitNotRunning when there is no such process and with ExitNameMismatch when
// the pidfile belongs to another application
func runningDaemon(daemonFile *config.DaemonFile) (int32, error) {
	pidfile := daemonFile.Daemon.Pidfile
	if pidfile == "" {
		return 0, newExitError(ExitTimeout, "No pidfile is configured")
	}

	if !common.FileExists(pidfile) {
		return 0, newExitError(ExitNotRunning, "Daemon is not running (no pidfile at %s)", pidfile)
	}

	pid, appName, err := daemon.ReadPidfile(pidfile)
	if err != nil {
		return 0, newExitError(ExitNotRunning, "Daemon is not running: %s", err.Error())
	}

	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return 0, newExitError(ExitNotRunning, "Daemon is not running (pid %d is gone)", pid)
	}

	if appName != "" && daemonFile.Daemon.AppName != "" && appName != daemonFile.Daemon.AppName {
		return 0, newExitError(ExitNameMismatch,
			"Pid %d belongs to %s, not %s",
			pid,
			appName,
			daemonFile.Daemon.AppName)
	}

	return int32(pid), nil
}

// waitForExit polls until pid is gone or timeout passes
func waitForExit(ctx context.Context, pid int32, timeout time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.After(timeout)

	for {
		exists, err := process.PidExists(pid)
		if err == nil && !exists {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return newExitError(ExitTimeout, "Daemon (pid %d) did not exit within %s", pid, timeout)
		case <-ticker.C:
		}
	}
}
