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
	"syscall"
	"time"

	"github.com/nuclio/radon/pkg/config"

	"github.com/nuclio/errors"
	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
)

// signalCommandeer sends a signal to the running daemon, optionally waiting for it to exit
type signalCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	signal         syscall.Signal
	wait           bool
	timeout        time.Duration
}

func newSignalCommandeer(rootCommandeer *RootCommandeer,
	use string,
	short string,
	signal syscall.Signal,
	wait bool) *signalCommandeer {

	commandeer := &signalCommandeer{
		rootCommandeer: rootCommandeer,
		signal:         signal,
		wait:           wait,
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			return commandeer.run(cmd)
		},
	}

	if wait {
		cmd.Flags().DurationVar(&commandeer.timeout,
			"timeout",
			0,
			"How long to wait for the daemon to exit (defaults to the configured stop_timeout)")
	}

	commandeer.cmd = cmd

	return commandeer
}

func newStopCommandeer(rootCommandeer *RootCommandeer) *signalCommandeer {
	return newSignalCommandeer(rootCommandeer,
		"stop",
		"Stop the daemon, letting every process finish its in-flight requests",
		syscall.SIGTERM,
		true)
}

func newKillCommandeer(rootCommandeer *RootCommandeer) *signalCommandeer {
	return newSignalCommandeer(rootCommandeer,
		"kill",
		"Kill the daemon and its processes without draining them",
		syscall.SIGINT,
		true)
}

func newReloadCommandeer(rootCommandeer *RootCommandeer) *signalCommandeer {
	return newSignalCommandeer(rootCommandeer,
		"reload",
		"Reload the group configuration and the modules of every process",
		syscall.SIGHUP,
		false)
}

func newRestartCommandeer(rootCommandeer *RootCommandeer) *signalCommandeer {
	return newSignalCommandeer(rootCommandeer,
		"restart",
		"Restart every process of the daemon, one group at a time",
		syscall.SIGUSR2,
		false)
}

func (s *signalCommandeer) run(cmd *cobra.Command) error {
	daemonFile, err := s.rootCommandeer.readDaemonFile()
	if err != nil {
		return err
	}

	pid, err := runningDaemon(daemonFile)
	if err != nil {
		return err
	}

	daemonProcess, err := process.NewProcess(pid)
	if err != nil {
		return newExitError(ExitNotRunning, "Daemon is not running: %s", err.Error())
	}

	if err := daemonProcess.SendSignal(s.signal); err != nil {
		return errors.Wrapf(err, "Failed to signal daemon (pid %d)", pid)
	}

	s.rootCommandeer.loggerInstance.InfoWith("Signaled daemon",
		"pid", pid,
		"signal", s.signal.String(),
		"command", cmd.Name())

	if !s.wait {
		return nil
	}

	if err := waitForExit(cmd.Context(), pid, s.getTimeout(daemonFile)); err != nil {
		return err
	}

	s.rootCommandeer.loggerInstance.InfoWith("Daemon exited", "pid", pid)
	return nil
}

func (s *signalCommandeer) getTimeout(daemonFile *config.DaemonFile) time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}

	if daemonFile.Daemon.StopTimeout > 0 {
		return time.Duration(daemonFile.Daemon.StopTimeout) * time.Second
	}

	return config.DefaultStopTimeout * time.Second
}
