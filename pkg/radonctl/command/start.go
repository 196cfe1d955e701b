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
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon"
	"github.com/nuclio/radon/pkg/loggersink"
	"github.com/nuclio/radon/pkg/monitor"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/spf13/cobra"

	// logger sinks
	_ "github.com/nuclio/radon/pkg/loggersink/file"
	_ "github.com/nuclio/radon/pkg/loggersink/stdout"
)

type startCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
	debug          bool
	extraArgs      []string
}

func newStartCommandeer(rootCommandeer *RootCommandeer) *startCommandeer {
	commandeer := &startCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon and every group it supervises, in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rootCommandeer.initialize(); err != nil {
				return errors.Wrap(err, "Failed to initialize root")
			}

			return commandeer.run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&commandeer.debug, "debug", false, "Start every process in debug mode")
	cmd.Flags().StringSliceVar(&commandeer.extraArgs, "args", nil, "Arguments appended to those of every process")

	commandeer.cmd = cmd

	return commandeer
}

func (s *startCommandeer) run(ctx context.Context) error {
	daemonFile, err := s.rootCommandeer.readDaemonFile()
	if err != nil {
		return newExitError(daemon.ErrorConfigMissing, "%s", err.Error())
	}

	if pid, err := runningDaemon(daemonFile); err == nil {
		return errors.Errorf("Daemon is already running with pid %d", pid)
	}

	daemonLogger, err := s.createDaemonLogger(&daemonFile.Daemon)
	if err != nil {
		return errors.Wrap(err, "Failed to create daemon logger")
	}

	monitorConfiguration := &daemonFile.Daemon.Monitor
	monitorAddress := ""
	if monitorConfiguration.IsEnabled() {
		monitorAddress = monitorConfiguration.ListenAddress
	}

	exited := make(chan struct{})
	exitOnce := sync.Once{}

	daemonInstance, err := daemon.NewDaemon(daemonLogger, &daemon.Configuration{
		DaemonFile:     daemonFile,
		Reader:         s.rootCommandeer.reader,
		Debug:          s.debug,
		MonitorAddress: monitorAddress,
		ExtraArgs:      s.extraArgs,
		Exit: func(code int) {
			exitOnce.Do(func() {
				close(exited)
				s.rootCommandeer.exit(code)
			})
		},
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create daemon")
	}

	signalCtx, cancelSignals := context.WithCancel(ctx)
	defer cancelSignals()

	go daemonInstance.HandleSignals(signalCtx)

	if monitorAddress != "" {
		monitorServer, err := monitor.NewServer(daemonLogger, daemonInstance, monitorConfiguration)
		if err != nil {
			return errors.Wrap(err, "Failed to create monitor")
		}

		if err := monitorServer.Start(); err != nil {
			return errors.Wrap(err, "Failed to start monitor")
		}

		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			monitorServer.Stop(stopCtx) // nolint: errcheck
		}()
	}

	if err := daemonInstance.Start(ctx); err != nil {
		if fatalError, isFatal := errors.RootCause(err).(*daemon.FatalError); isFatal {
			daemonLogger.ErrorWith("Daemon failed to start", "code", fatalError.Code, "err", fatalError.Message)
			daemonInstance.Exit(fatalError.Code)
			return newExitError(fatalError.Code, "%s", fatalError.Error())
		}

		return errors.Wrap(err, "Failed to start daemon")
	}

	daemonLogger.InfoWith("Daemon started",
		"appName", daemonFile.Daemon.AppName,
		"children", daemonInstance.ChildIDs(),
		"monitor", monitorAddress)

	select {
	case <-exited:
	case <-ctx.Done():
	}

	return nil
}

// createDaemonLogger logs to the configured daily files, or to stdout when there are none
func (s *startCommandeer) createDaemonLogger(daemonConfiguration *config.Daemon) (logger.Logger, error) {
	sinkConfiguration := &loggersink.Configuration{
		Kind:     "stdout",
		Level:    daemonConfiguration.LogLevel,
		Encoding: daemonConfiguration.LogEncoding,
	}

	if s.rootCommandeer.verbose {
		sinkConfiguration.Level = "debug"
	}

	if daemonConfiguration.LogFile != "" {
		sinkConfiguration.Kind = "file"
		sinkConfiguration.FilePrefix = daemonConfiguration.LogFile
		sinkConfiguration.ErrorFilePrefix = daemonConfiguration.LogError
		sinkConfiguration.Quiet = daemonConfiguration.Quiet
	}

	return loggersink.CreateLogger("radon", sinkConfiguration)
}
