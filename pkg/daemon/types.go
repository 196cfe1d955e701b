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
	"fmt"
	"os"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/transport/envelope"
)

// Fatal configuration errors, which are also the exit codes of "radon start"
const (
	ErrorConfigMissing  = 200
	ErrorNoProcesses    = 202
	ErrorNoProcessFile  = 203
	ErrorScriptMissing  = 204
	ErrorDuplicateGroup = 205
)

const (
	defaultQueryTimeout = 5 * time.Second
	commandStatus       = "status"
)

// FatalError is a configuration error the daemon can not start with
type FatalError struct {
	Code    int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("Daemon error %d: %s", e.Code, e.Message)
}

func newFatalError(code int, format string, args ...interface{}) *FatalError {
	return &FatalError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Child is a handle on one supervised process
type Child interface {
	ID() string
	On(kind string, handler child.FrameHandler)
	Once(kind string) <-chan *envelope.Frame
	StartAndWait(ctx context.Context, autoRestart bool) error
	SetAutoRestart(autoRestart bool)
	Stop(signal os.Signal) error
	Send(kind string, payload interface{}) error
	SendMessage(message *envelope.Message) error
	SendSystem(command string, param string) error
	Snapshot() *child.Snapshot
	Status() child.Status
}

// ChildFactory creates the handle of a child
type ChildFactory func(configuration *child.Configuration) Child

// Configuration of a daemon
type Configuration struct {
	DaemonFile *config.DaemonFile
	Reader     *config.Reader

	// passed on to every child in its init data
	Debug          bool
	MonitorAddress string

	// appended to the arguments of every child
	ExtraArgs []string

	ChildFactory ChildFactory
	QueryTimeout time.Duration
	Exit         func(code int)
}

// ChildStatus is the status of one child as reported by QueryStatus
type ChildStatus struct {
	*child.Snapshot
	Group string      `json:"group"`
	Reply interface{} `json:"reply,omitempty"`
}

// StatusReport is the reply of QueryStatus
type StatusReport struct {
	AppName  string         `json:"app_name"`
	Pid      int            `json:"pid"`
	Version  string         `json:"version"`
	Children []*ChildStatus `json:"children"`
}
