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
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"
)

// how long a replaced module generation may keep serving before it is unloaded anyway
const retireTimeout = 60 * time.Second

// Parent is the channel to the supervising process
type Parent interface {
	Send(kind string, payload interface{}) error
}

// Configuration is what a worker needs to run
type Configuration struct {

	// name of the process within its group
	Name string
	Pid  int

	// group file and the reader it was read with, for reloads
	GroupFile *config.GroupFile
	Reader    *config.Reader

	// host every module of the group, force clearing
	SingleMode bool

	Manager  *transport.Manager
	Parent   Parent
	Registry *module.Registry

	// called when the process stopped. Defaults to os.Exit
	Exit func(code int)

	// returns the resident set size of the process. Defaults to reading it with gopsutil
	MemoryReader func() (uint64, error)
}

// ProcessConfiguration returns the configuration of the named process of a group. In
// single mode it is a force clearing process hosting the modules of every process
func ProcessConfiguration(groupFile *config.GroupFile, name string, singleMode bool) (*config.Process, bool) {
	if singleMode {
		singleProcess := &config.Process{
			ForceClear: true,
		}

		for _, processName := range groupFile.ProcessNames() {
			singleProcess.Modules = append(singleProcess.Modules, groupFile.Radon.Processes[processName].Modules...)
		}

		return singleProcess, true
	}

	processConfiguration, found := groupFile.Radon.Processes[name]
	return processConfiguration, found
}

type requestTrace struct {
	StartedAt int64  `json:"t" msgpack:"t"`
	Target    string `json:"e" msgpack:"e"`
}

// Status is the snapshot a worker reports to admin status queries
type Status struct {
	Status    string                   `json:"status" msgpack:"status"`
	JobsCount uint64                   `json:"jobs_count" msgpack:"jobs_count"`
	Jobs      int                      `json:"jobs" msgpack:"jobs"`
	JobsTime  int64                    `json:"jobs_time" msgpack:"jobs_time"`
	ReqTask   map[string]*requestTrace `json:"req_task" msgpack:"req_task"`
	Modules   []string                 `json:"modules" msgpack:"modules"`
	Version   string                   `json:"version,omitempty" msgpack:"version,omitempty"`
}
