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

package module

import (
	"context"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/transport"

	"github.com/nuclio/logger"
)

// ReasonReload is the unload reason of a generation replaced by a reload
const ReasonReload = "reload"

// Handler handles one event of a module
type Handler func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error)

// Module is a named unit of event handlers hosted by a process
type Module interface {

	// Events returns the handlers of the module, by event name
	Events() map[string]Handler
}

// Initializer is a module that sets itself up once loaded
type Initializer interface {
	Init(ctx context.Context, moduleContext *Context) error
}

// Unloader is a module that releases resources when unloaded. reason is ReasonReload or
// the status the process is advancing to
type Unloader interface {
	Unload(ctx context.Context, reason string) error
}

// BeforeActioner intercepts messages before the event handlers run
type BeforeActioner interface {
	BeforeAction(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error)
}

// AfterActioner intercepts messages after the event handlers ran
type AfterActioner interface {
	AfterAction(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error)
}

// Transaction counts the jobs a process runs. Modules doing work outside of a message
// (timers, sweeps) enter one so the process drains them before it stops
type Transaction interface {
	Enter(force bool) error
	Leave()
}

// Context is what a module gets on Init
type Context struct {
	Logger        logger.Logger
	Name          string
	ProcessName   string
	Configuration *config.Module
	GroupFile     *config.GroupFile
	Ipc           *transport.Ipc
	Transaction   Transaction

	// the module this one replaces on reload, nil on first load
	Previous Module
}
