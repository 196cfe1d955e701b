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

package cluster

import (
	"context"
	"os"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/transport/envelope"
)

const (

	// EnvThread carries the index of a thread to the re-executed worker
	EnvThread = "RADON_THREAD"

	// DefaultThreadQueue is the number of requests a thread may hold at once
	DefaultThreadQueue = 5
)

// Thread is a handle on one worker thread process
type Thread interface {
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
}

// ThreadFactory creates the handle of thread index, named id
type ThreadFactory func(index int, id string) Thread

// Parent is the supervisor the cluster reports to
type Parent interface {
	Send(kind string, payload interface{}) error
	SendMessage(message *envelope.Message) error
	SendFrame(frame *envelope.Frame) error
}

// Configuration of a cluster
type Configuration struct {

	// process name, shared by all threads
	Name string

	// "<group>.<process>", threads are "<group>.<process>.<index>"
	ID string

	Pid           int
	Threads       int
	ThreadQueue   int
	Parent        Parent
	ThreadFactory ThreadFactory
	Reader        *config.Reader
	ConfigPath    string
	Exit          func(int)
	Now           func() time.Time
}

// ThreadStatus describes one thread in a status reply
type ThreadStatus struct {
	Index    int             `json:"index" msgpack:"index"`
	ID       string          `json:"id" msgpack:"id"`
	Active   int             `json:"active" msgpack:"active"`
	LastUsed int64           `json:"time" msgpack:"time"`
	Child    *child.Snapshot `json:"child" msgpack:"child"`
}

// Status is the reply of a cluster to the status admin command
type Status struct {
	ID      string          `json:"id" msgpack:"id"`
	Queued  int             `json:"queued" msgpack:"queued"`
	Threads []*ThreadStatus `json:"threads" msgpack:"threads"`
}
