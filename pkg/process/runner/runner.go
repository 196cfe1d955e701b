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

package runner

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nuclio/radon/pkg/cluster"
	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// size of the system command backlog
const systemQueueSize = 16

type systemHandler func(ctx context.Context, command *envelope.SystemCommand)

type adminHandler func(request *envelope.AdminRequest) error

// Runner is the entry point of a supervised process. It waits for the init frame and
// then runs either a worker or, for processes configured with several threads, a cluster
type Runner struct {
	logger        logger.Logger
	configuration *Configuration
	initOnce      sync.Once
	systemQueue   chan *envelope.SystemCommand
	onSystem      systemHandler

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner
func NewRunner(parentLogger logger.Logger, configuration *Configuration) (*Runner, error) {
	if configuration.Node == nil {
		return nil, errors.New("Runner requires a node")
	}

	if configuration.Reader == nil {
		configuration.Reader = config.NewReader()
	}

	if configuration.Exit == nil {
		configuration.Exit = os.Exit
	}

	if configuration.Pid == 0 {
		configuration.Pid = os.Getpid()
	}

	return &Runner{
		logger:        parentLogger.GetChild("runner"),
		configuration: configuration,
		systemQueue:   make(chan *envelope.SystemCommand, systemQueueSize),
	}, nil
}

// Run serves the parent until it closes the channel or ctx is done
func (r *Runner) Run(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	defer r.cancel()

	r.configuration.Node.On(envelope.KindInit, func(frame *envelope.Frame) error {
		initData := &envelope.InitData{}
		if err := frame.Decode(r.configuration.Node.Codec(), initData); err != nil {
			return errors.Wrap(err, "Failed to decode init data")
		}

		r.initOnce.Do(func() {

			// initializing may wait on frames this loop has yet to read
			go r.initialize(initData)
		})

		return nil
	})

	if err := r.configuration.Node.Run(r.ctx); err != nil && r.ctx.Err() == nil {
		return errors.Wrap(err, "Parent channel failed")
	}

	r.logger.InfoWith("Parent channel closed")
	return nil
}

func (r *Runner) initialize(initData *envelope.InitData) {
	if err := r.start(initData); err != nil {
		r.fail(err)
	}
}

func (r *Runner) start(initData *envelope.InitData) error {
	groupFile, err := r.configuration.Reader.ReadGroupFile(initData.ConfigFile)
	if err != nil {
		return errors.Wrap(err, "Failed to read group file")
	}

	processConfiguration, found := process.ProcessConfiguration(groupFile, initData.Process, initData.SingleMode)
	if !found {
		return errors.Errorf("Process %s is not configured in %s", initData.Process, initData.ConfigFile)
	}

	id := fmt.Sprintf("%s.%s", initData.Daemon, initData.Process)
	if r.configuration.ThreadIndex > 0 {
		id = fmt.Sprintf("%s.%d", id, r.configuration.ThreadIndex)
	}

	if processConfiguration.Threads > 1 && r.configuration.ThreadIndex == 0 && !initData.SingleMode {
		err = r.startCluster(id, initData, processConfiguration)
	} else {
		err = r.startWorker(id, initData, groupFile)
	}

	if err != nil {
		return err
	}

	go r.runSystemQueue()

	return r.configuration.Node.Send(envelope.KindInited, []interface{}{r.configuration.Pid, initData})
}

func (r *Runner) startCluster(id string, initData *envelope.InitData, processConfiguration *config.Process) error {
	processCluster, err := cluster.NewCluster(r.logger, &cluster.Configuration{
		Name:        initData.Process,
		ID:          id,
		Pid:         r.configuration.Pid,
		Threads:     processConfiguration.Threads,
		ThreadQueue: processConfiguration.ThreadQueue,
		Parent:      r.configuration.Node,
		ThreadFactory: cluster.NewChildThreadFactory(r.logger,
			r.configuration.Executable,
			r.configuration.Args,
			initData),
		Reader:     r.configuration.Reader,
		ConfigPath: initData.ConfigFile,
		Exit:       r.configuration.Exit,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create cluster")
	}

	r.bind(processCluster.OnParentMessage,
		func(ctx context.Context, command *envelope.SystemCommand) {
			if err := processCluster.OnSystemCommand(ctx, command); err != nil {
				r.logger.WarnWith("System command failed",
					"command", command.Command,
					"err", errors.RootCause(err).Error())
			}
		},
		processCluster.OnAdminRequest)

	if err := processCluster.Start(r.ctx); err != nil {
		return errors.Wrap(err, "Failed to start cluster")
	}

	return nil
}

func (r *Runner) startWorker(id string, initData *envelope.InitData, groupFile *config.GroupFile) error {
	manager, err := transport.NewManager(r.logger, initData.Process, &groupFile.Radon.Transport, r.configuration.Node)
	if err != nil {
		return errors.Wrap(err, "Failed to create transport manager")
	}

	worker, err := process.NewWorker(r.logger, &process.Configuration{
		Name:       initData.Process,
		Pid:        r.configuration.Pid,
		GroupFile:  groupFile,
		Reader:     r.configuration.Reader,
		SingleMode: initData.SingleMode,
		Manager:    manager,
		Parent:     r.configuration.Node,
		Exit:       r.configuration.Exit,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create worker")
	}

	r.bind(func(message *envelope.Message) error {
		manager.OnMessage(message, false)
		return nil
	},
		worker.OnSystemCommand,
		func(request *envelope.AdminRequest) error {
			return r.configuration.Node.Send(envelope.KindAdminAck, &envelope.AdminAck{
				Mid:  request.Mid,
				ID:   id,
				Data: worker.StatusCallback(request.Command, request.Data),
			})
		})

	if err := manager.Start(); err != nil {
		return errors.Wrap(err, "Failed to start transport manager")
	}

	if err := worker.Start(r.ctx); err != nil {
		return errors.Wrap(err, "Failed to start worker")
	}

	return nil
}

// bind routes the parent's frames. System commands run one at a time off the read loop,
// admin requests each on their own goroutine
func (r *Runner) bind(onMessage func(*envelope.Message) error, onSystem systemHandler, onAdmin adminHandler) {
	parentNode := r.configuration.Node

	parentNode.On(envelope.KindIPC, func(frame *envelope.Frame) error {
		message, err := frame.DecodeMessage(parentNode.Codec())
		if err != nil {
			return errors.Wrap(err, "Failed to decode ipc message")
		}

		return onMessage(message)
	})

	parentNode.On(envelope.KindSystem, func(frame *envelope.Frame) error {
		command := &envelope.SystemCommand{}
		if err := frame.Decode(parentNode.Codec(), command); err != nil {
			return errors.Wrap(err, "Failed to decode system command")
		}

		r.systemQueue <- command
		return nil
	})

	parentNode.On(envelope.KindAdminRequest, func(frame *envelope.Frame) error {
		request := &envelope.AdminRequest{}
		if err := frame.Decode(parentNode.Codec(), request); err != nil {
			return errors.Wrap(err, "Failed to decode admin request")
		}

		go func() {
			if err := common.CatchAndLogPanic(r.logger, "admin request", func() error {
				return onAdmin(request)
			}); err != nil {
				r.logger.WarnWith("Admin request failed", "cmd", request.Command, "err", err.Error())
			}
		}()

		return nil
	})

	r.onSystem = onSystem
}

func (r *Runner) runSystemQueue() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case command := <-r.systemQueue:
			r.onSystem(r.ctx, command)
		}
	}
}

// fail reports a fatal error to the parent and exits
func (r *Runner) fail(err error) {
	r.logger.ErrorWith("Process failed to start", "err", errors.RootCause(err).Error())

	exception := &envelope.Exception{
		Message: err.Error(),
		Stack:   errors.GetErrorStackString(err, 10),
	}

	if sendErr := r.configuration.Node.Send(envelope.KindException, exception); sendErr != nil {
		r.logger.WarnWith("Failed to report exception", "err", sendErr.Error())
	}

	r.configuration.Exit(1)
}
