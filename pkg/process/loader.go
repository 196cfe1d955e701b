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

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/trigger"

	"github.com/nuclio/errors"
)

// loadModule creates, initializes and swaps in a new generation of a module. A generation
// it replaces stops getting messages at once and is unloaded when its handlers returned
func (w *Worker) loadModule(ctx context.Context, moduleConfiguration *config.Module) error {
	instance, err := w.registry.NewModule(w.logger, moduleConfiguration)
	if err != nil {
		return errors.Wrap(err, "Failed to create module")
	}

	previous := w.modules.Current(moduleConfiguration.Name)
	generation := w.modules.NewGeneration(moduleConfiguration, instance)

	if initializer, isInitializer := instance.(module.Initializer); isInitializer {
		moduleContext := &module.Context{
			Logger:        w.logger.GetChild(moduleConfiguration.Name),
			Name:          moduleConfiguration.Name,
			ProcessName:   w.configuration.Name,
			Configuration: moduleConfiguration,
			GroupFile:     w.groupFile,
			Ipc:           w.manager.Ipc(moduleConfiguration.Name),
			Transaction:   w,
		}

		if previous != nil {
			moduleContext.Previous = previous.Module
		}

		if err := initializer.Init(ctx, moduleContext); err != nil {
			return errors.Wrap(err, "Failed to initialize module")
		}
	}

	previousOwner := ""
	if previous != nil {
		previousOwner = previous.Owner()
	}

	w.trigger.Replace(previousOwner, generation.Owner(), w.bindings(generation))
	w.modules.Swap(generation)

	w.logger.DebugWith("Module loaded",
		"name", generation.Name,
		"generation", generation.Number,
		"events", len(instance.Events()))

	if previous != nil {
		go w.retire(previous)
	}

	return nil
}

// Reload rereads the group file and loads a new generation of every configured module
func (w *Worker) Reload(ctx context.Context) error {
	if w.configuration.Reader == nil {
		return errors.New("Worker has no configuration reader")
	}

	w.configuration.Reader.Reload(w.groupFile.Path)

	groupFile, err := w.configuration.Reader.ReadGroupFile(w.groupFile.Path)
	if err != nil {
		return errors.Wrap(err, "Failed to reread group file")
	}

	processConfiguration, found := ProcessConfiguration(groupFile, w.configuration.Name, w.configuration.SingleMode)
	if !found {
		return errors.Errorf("Process %s is no longer configured", w.configuration.Name)
	}

	w.groupFile = groupFile
	w.process = processConfiguration

	w.lock.Lock()
	w.forceClear = processConfiguration.ForceClear
	w.lock.Unlock()

	for moduleIndex := range processConfiguration.Modules {
		moduleConfiguration := &processConfiguration.Modules[moduleIndex]

		if err := w.loadModule(ctx, moduleConfiguration); err != nil {
			w.logger.WarnWith("Failed to reload module, keeping the loaded generation",
				"name", moduleConfiguration.Name,
				"err", errors.GetErrorStackString(err, 10))
		}
	}

	w.logger.InfoWith("Process reloaded", "name", w.configuration.Name, "modules", w.modules.Names())

	return nil
}

// bindings returns the names a generation's handlers are registered under
func (w *Worker) bindings(generation *module.Generation) []trigger.Binding {
	var bindings []trigger.Binding

	bind := func(phase string, handler module.Handler) {
		wrapped := w.wrap(generation, handler)

		bindings = append(bindings,
			trigger.Binding{Name: "#.*." + phase, Handler: wrapped},
			trigger.Binding{Name: "#." + generation.Name + "." + phase, Handler: wrapped})
	}

	if beforeActioner, isBeforeActioner := generation.Module.(module.BeforeActioner); isBeforeActioner {
		bind("beforeAction", beforeActioner.BeforeAction)
	}

	events := generation.Module.Events()
	for _, eventName := range sortedEvents(events) {
		wrapped := w.wrap(generation, events[eventName])

		bindings = append(bindings,
			trigger.Binding{Name: "*." + eventName, Handler: wrapped},
			trigger.Binding{Name: generation.Name + "." + eventName, Handler: wrapped})
	}

	if afterActioner, isAfterActioner := generation.Module.(module.AfterActioner); isAfterActioner {
		bind("afterAction", afterActioner.AfterAction)
	}

	return bindings
}

// wrap adapts a module handler to the trigger. Each invocation gets its own response, a
// reply outcome of an unanswered request is replied, and a done response ends the dispatch
func (w *Worker) wrap(generation *module.Generation, handler module.Handler) trigger.Handler {
	return func(ctx context.Context, args ...interface{}) (bool, error) {
		request := args[0].(*transport.Request)

		generation.Enter()
		defer generation.Leave()

		response := transport.NewModuleResponse(generation.Name, request)

		outcome, err := handler(ctx, request, response)
		if err != nil {
			return false, err
		}

		if response.IsDone() {
			outcome = response.DoneOutcome()
		}

		if outcome.IsReply() && request.IsRequest() && !request.IsSent() {
			if err := response.Reply(outcome.Value()); err != nil {
				return false, errors.Wrap(err, "Failed to reply")
			}
		}

		return response.IsDone(), nil
	}
}

// retire unloads a replaced generation once its handlers returned
func (w *Worker) retire(generation *module.Generation) {
	ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
	defer cancel()

	if err := generation.Drain(ctx); err != nil {
		w.logger.WarnWith("Replaced module still busy, unloading anyway",
			"name", generation.Name,
			"generation", generation.Number)
	}

	w.unloadGeneration(context.Background(), generation, module.ReasonReload)
}

func (w *Worker) unloadModules(ctx context.Context, reason string) {
	for _, generation := range w.modules.All() {
		w.unloadGeneration(ctx, generation, reason)
	}
}

func (w *Worker) unloadGeneration(ctx context.Context, generation *module.Generation, reason string) {
	unloader, isUnloader := generation.Module.(module.Unloader)
	if !isUnloader {
		return
	}

	if err := unloader.Unload(ctx, reason); err != nil {
		w.logger.WarnWith("Failed to unload module",
			"name", generation.Name,
			"generation", generation.Number,
			"reason", reason,
			"err", errors.RootCause(err).Error())
	}
}
