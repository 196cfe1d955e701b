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
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/process/status"
	"github.com/nuclio/radon/pkg/scheduler"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/trigger"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	gopsutilprocess "github.com/shirou/gopsutil/process"
)

// Worker hosts the modules of one process and dispatches the messages addressed to them
type Worker struct {
	logger        logger.Logger
	configuration *Configuration
	process       *config.Process
	groupFile     *config.GroupFile
	manager       *transport.Manager
	scheduler     *scheduler.Scheduler
	trigger       *trigger.Trigger
	modules       *module.Set
	registry      *module.Registry

	// guards everything below
	lock       sync.Mutex
	status     status.Status
	jobs       int
	jobsCount  uint64
	jobsTime   time.Duration
	forceClear bool
	traces     map[uint64]*requestTrace
	inflight   map[uint64]*transport.Request
}

// NewWorker creates a worker for the configured process
func NewWorker(parentLogger logger.Logger, configuration *Configuration) (*Worker, error) {
	if configuration.Manager == nil {
		return nil, errors.New("Worker requires a transport manager")
	}

	processConfiguration, found := ProcessConfiguration(configuration.GroupFile,
		configuration.Name,
		configuration.SingleMode)
	if !found {
		return nil, errors.Errorf("Process %s is not configured in %s", configuration.Name, configuration.GroupFile.Path)
	}

	if configuration.Registry == nil {
		configuration.Registry = &module.RegistrySingleton
	}

	if configuration.Exit == nil {
		configuration.Exit = os.Exit
	}

	if configuration.Pid == 0 {
		configuration.Pid = os.Getpid()
	}

	if configuration.MemoryReader == nil {
		configuration.MemoryReader = residentSetSize(configuration.Pid)
	}

	newWorker := &Worker{
		logger:        parentLogger.GetChild("worker"),
		configuration: configuration,
		process:       processConfiguration,
		groupFile:     configuration.GroupFile,
		manager:       configuration.Manager,
		trigger:       trigger.NewTrigger(),
		modules:       module.NewSet(),
		registry:      configuration.Registry,
		status:        status.Running,
		forceClear:    processConfiguration.ForceClear,
		traces:        map[uint64]*requestTrace{},
		inflight:      map[uint64]*transport.Request{},
	}

	newWorker.scheduler = scheduler.New(newWorker.logger,
		configuration.Manager.Aborts(),
		scheduler.DefaultClock)

	return newWorker, nil
}

// Start loads the modules, registers them with the router and starts taking messages
func (w *Worker) Start(ctx context.Context) error {
	for moduleIndex := range w.process.Modules {
		if err := w.loadModule(ctx, &w.process.Modules[moduleIndex]); err != nil {
			return errors.Wrapf(err, "Failed to load module %s", w.process.Modules[moduleIndex].Name)
		}
	}

	w.manager.SetDispatcher(w)

	// the router may be served by a process that is not up yet
	go w.registerModules(ctx)

	w.logger.InfoWith("Worker started",
		"name", w.configuration.Name,
		"modules", w.modules.Names(),
		"forceClear", w.forceClear)

	return nil
}

// GetStatus returns the status of the worker
func (w *Worker) GetStatus() status.Status {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.status
}

// Modules returns the names of the loaded modules
func (w *Worker) Modules() []string {
	return w.modules.Names()
}

// OnSend dispatches a send or cast message
func (w *Worker) OnSend(ctx context.Context, request *transport.Request) error {
	if err := w.Enter(false); err != nil {
		return err
	}

	startedAt := time.Now()
	w.lock.Lock()
	w.jobsCount++
	w.lock.Unlock()

	_, err := w.dispatch(ctx, request)

	w.Leave()
	w.addJobTime(time.Since(startedAt))

	if err != nil {
		w.logger.WarnWith("Message handler failed",
			"module", request.GetModule(),
			"event", request.GetEvent(),
			"err", errors.GetErrorStackString(err, 10))
	}

	return nil
}

// OnRequest dispatches a req message. An error is replied to the requester
func (w *Worker) OnRequest(ctx context.Context, request *transport.Request) error {
	if err := w.Enter(false); err != nil {
		return err
	}

	header := request.GetHeader()
	startedAt := time.Now()

	w.lock.Lock()
	jobID := w.jobsCount
	w.jobsCount++
	w.traces[jobID] = &requestTrace{
		StartedAt: startedAt.UnixMilli(),
		Target:    request.GetModule() + "/" + request.GetEvent(),
	}
	w.inflight[jobID] = request
	w.lock.Unlock()

	var rssBefore uint64
	if header.SessionID != 0 {
		rssBefore, _ = w.configuration.MemoryReader()
	}

	count, err := w.dispatch(ctx, request)

	w.lock.Lock()
	delete(w.traces, jobID)
	delete(w.inflight, jobID)
	w.lock.Unlock()

	w.Leave()
	w.addJobTime(time.Since(startedAt))

	if header.SessionID != 0 {
		w.traceMemory(request, rssBefore)
	}

	if err != nil {
		return err
	}

	if count == 0 {
		return errorcode.New(errorcode.NoHandler, w.configuration.Name, request.GetModule(), request.GetEvent())
	}

	return nil
}

// dispatch runs the phases of a message as a scheduler task and returns the number of
// handlers that ran
func (w *Worker) dispatch(ctx context.Context, request *transport.Request) (int, error) {
	future := w.scheduler.Go(ctx, scheduler.Values{scheduler.ValueRequest: request},
		func(task *scheduler.Task) (interface{}, error) {
			return w.triggerEvent(task.Context(), request)
		})

	count, err := future.Wait(ctx)
	if err != nil {
		return 0, err
	}

	return count.(int), nil
}

// triggerEvent runs #.<module>.beforeAction, <module>.<event>, <module>.* and
// #.<module>.afterAction in order. A handler ending the dispatch stops it
func (w *Worker) triggerEvent(ctx context.Context, request *transport.Request) (int, error) {
	moduleName := request.GetModule()
	eventName := request.GetEvent()

	phases := []string{
		"#." + moduleName + ".beforeAction",
		moduleName + "." + eventName,
	}

	if eventName != "*" {
		phases = append(phases, moduleName+".*")
	}

	phases = append(phases, "#."+moduleName+".afterAction")

	count := 0
	for _, phase := range phases {
		result, err := w.trigger.Emit(ctx, phase, request)
		if err != nil {
			return count, err
		}

		if result < 0 {
			return count - result, nil
		}

		count += result
	}

	return count, nil
}

func (w *Worker) registerModules(ctx context.Context) {
	err := w.manager.RegisterModules(ctx, w.configuration.Name, w.modules.Names())
	if err == nil || errorcode.IsCode(err, errorcode.RouterNotConfigured) {
		return
	}

	w.logger.WarnWith("Failed to register modules with the router",
		"modules", w.modules.Names(),
		"err", errors.RootCause(err).Error())
}

func (w *Worker) addJobTime(duration time.Duration) {
	w.lock.Lock()
	w.jobsTime += duration
	w.lock.Unlock()
}

func (w *Worker) traceMemory(request *transport.Request, rssBefore uint64) {
	rssAfter, err := w.configuration.MemoryReader()
	if err != nil {
		w.logger.DebugWith("Failed to read memory usage", "err", err.Error())
		return
	}

	header := request.GetHeader()

	w.logger.InfoWith("Request memory usage",
		"pid", w.configuration.Pid,
		"source", fmt.Sprintf("%s/%s/%s", header.SourceProcess, header.SourceModule, header.OriginEvent),
		"target", fmt.Sprintf("%s/%s/%s", header.Process.First(), request.GetModule(), request.GetEvent()),
		"rss", common.FormatSize(float64(rssAfter)),
		"rssRaise", common.FormatSize(float64(rssAfter)-float64(rssBefore)))
}

func residentSetSize(pid int) func() (uint64, error) {
	return func() (uint64, error) {
		processInstance, err := gopsutilprocess.NewProcess(int32(pid))
		if err != nil {
			return 0, errors.Wrap(err, "Failed to look up process")
		}

		memoryInfo, err := processInstance.MemoryInfo()
		if err != nil {
			return 0, errors.Wrap(err, "Failed to get memory info")
		}

		return memoryInfo.RSS, nil
	}
}

func traceKey(jobID uint64) string {
	return strconv.FormatUint(jobID, 10)
}
