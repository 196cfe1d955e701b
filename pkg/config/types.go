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

package config

import (
	"time"
)

const (
	DefaultThreadQueue    = 5
	DefaultRequestTimeout = 30000
	DefaultStopTimeout    = 60
	DefaultMonitorAddress = ":8082"
	DefaultLogLevel       = "info"
)

// DaemonFile is the configuration file passed to "radon start"
type DaemonFile struct {
	Daemon Daemon  `yaml:"daemon"`
	Groups []Group `yaml:"groups"`

	// directory of the file, against which relative paths resolve
	BaseDir string `yaml:"-"`
}

// Daemon configures the supervisor itself
type Daemon struct {
	AppName     string  `yaml:"app_name,omitempty"`
	Pidfile     string  `yaml:"pidfile,omitempty" env:"RADON_PIDFILE"`
	User        string  `yaml:"user,omitempty"`
	Group       string  `yaml:"group,omitempty"`
	LogFile     string  `yaml:"log_file,omitempty"`
	LogError    string  `yaml:"log_error,omitempty"`
	Quiet       bool    `yaml:"quiet,omitempty"`
	LogLevel    string  `yaml:"log_level,omitempty" env:"RADON_LOG_LEVEL"`
	LogEncoding string  `yaml:"log_encoding,omitempty"`
	StopTimeout int     `yaml:"stop_timeout,omitempty"`
	Monitor     Monitor `yaml:"monitor,omitempty"`
}

// Monitor configures the daemon's HTTP monitor
type Monitor struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	ListenAddress string `yaml:"listen_address,omitempty" env:"RADON_MONITOR_ADDRESS"`
}

// IsEnabled returns true unless the monitor was explicitly disabled
func (m *Monitor) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Group describes one supervised group of processes
type Group struct {
	Name       string   `yaml:"name"`
	Config     string   `yaml:"config"`
	SingleMode bool     `yaml:"single_mode,omitempty"`
	SingleArgs []string `yaml:"single_args,omitempty"`
	Options    []string `yaml:"options,omitempty"`
	User       string   `yaml:"user,omitempty"`
	Group      string   `yaml:"group,omitempty"`
}

// GroupFile is the configuration file of a group
type GroupFile struct {
	Radon  Radon                  `yaml:"radon"`
	Router map[string]interface{} `yaml:"router,omitempty"`

	Path    string `yaml:"-"`
	BaseDir string `yaml:"-"`
}

// Radon is the runtime section of a group file
type Radon struct {
	ProcessFile string              `yaml:"process_file"`
	Processes   map[string]*Process `yaml:"processes"`
	Transport   Transport           `yaml:"transport"`
}

// Process configures one named process of a group
type Process struct {
	Modules     []Module `yaml:"modules"`
	Threads     int      `yaml:"threads,omitempty"`
	ThreadQueue int      `yaml:"thread_queue,omitempty"`
	ForceClear  bool     `yaml:"force_clear,omitempty"`
	Args        []string `yaml:"args,omitempty"`
	File        string   `yaml:"file,omitempty"`
}

// Module names a module instance hosted by a process
type Module struct {
	Name   string                 `yaml:"name"`
	Kind   string                 `yaml:"kind"`
	Config map[string]interface{} `yaml:"config,omitempty"`
}

// Transport configures how a process reaches its peers and the shared services
type Transport struct {
	Router         string `yaml:"router,omitempty"`
	Session        string `yaml:"session,omitempty"`
	Link           string `yaml:"link,omitempty"`
	RequestTimeout int    `yaml:"request_timeout,omitempty"`
	Codec          string `yaml:"codec,omitempty"`
}

// GetRequestTimeout returns the default request timeout
func (t *Transport) GetRequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeout) * time.Millisecond
}

// ProcessNames returns the process names of the group, sorted
func (g *GroupFile) ProcessNames() []string {
	return sortedKeys(g.Radon.Processes)
}
