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
	"os"
	"os/user"
	"regexp"
	"strconv"
	"sync"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

var numericPattern = regexp.MustCompile(`^\d+$`)

// group is a started group of processes
type group struct {
	name          string
	configuration *config.Group
	configPath    string
	groupFile     *config.GroupFile
	processNames  []string
	uid           int
	gid           int

	// encodes the payloads of acks the daemon answers in place of a child
	payloadCodec codec.Codec
}

// childEntry is a supervised child plus what the daemon tracks about it
type childEntry struct {
	handle  Child
	group   *group
	name    string
	logger  logger.Logger
	running bool
}

// Daemon supervises groups of processes. It starts every process of a group as a child,
// routes the messages children send each other and drains, stops or restarts them on
// command
type Daemon struct {
	logger        logger.Logger
	configuration *Configuration
	codec         codec.Codec
	metrics       *metrics
	pid           int

	lock       sync.Mutex
	groups     map[string]*group
	groupOrder []string
	children   map[string]*childEntry
	childOrder []string
	started    bool

	adminLock    sync.Mutex
	adminWaiters map[string]chan *envelope.AdminAck
}

// NewDaemon creates a daemon
func NewDaemon(parentLogger logger.Logger, configuration *Configuration) (*Daemon, error) {
	if configuration.DaemonFile == nil {
		return nil, errors.New("Daemon requires a daemon file")
	}

	if configuration.Reader == nil {
		configuration.Reader = config.NewReader()
	}

	if configuration.QueryTimeout == 0 {
		configuration.QueryTimeout = defaultQueryTimeout
	}

	if configuration.Exit == nil {
		configuration.Exit = os.Exit
	}

	newDaemon := &Daemon{
		logger:        parentLogger.GetChild("daemon"),
		configuration: configuration,
		codec:         codec.NewMsgPack(),
		metrics:       newMetrics(),
		pid:           os.Getpid(),
		groups:        map[string]*group{},
		children:      map[string]*childEntry{},
		adminWaiters:  map[string]chan *envelope.AdminAck{},
	}

	if configuration.ChildFactory == nil {
		configuration.ChildFactory = func(childConfiguration *child.Configuration) Child {
			return child.NewProcess(newDaemon.logger, childConfiguration)
		}
	}

	return newDaemon, nil
}

// Start writes the pidfile, loads every group of the daemon file and starts their
// processes one after the other. Configuration errors are returned as *FatalError
func (d *Daemon) Start(ctx context.Context) error {
	daemonConfiguration := &d.configuration.DaemonFile.Daemon

	if daemonConfiguration.Pidfile != "" {
		if err := WritePidfile(daemonConfiguration.Pidfile, d.pid, daemonConfiguration.AppName); err != nil {
			return errors.Wrap(err, "Failed to write pidfile")
		}
	}

	var startOrder []*childEntry

	for groupIndex := range d.configuration.DaemonFile.Groups {
		groupInstance, err := d.loadGroup(&d.configuration.DaemonFile.Groups[groupIndex])
		if err != nil {
			return err
		}

		d.logger.InfoWith("Starting group",
			"name", groupInstance.name,
			"config", groupInstance.configPath,
			"script", groupInstance.groupFile.Radon.ProcessFile,
			"processes", groupInstance.processNames)

		startOrder = append(startOrder, d.createChildren(groupInstance)...)
	}

	d.lock.Lock()
	d.started = true
	d.lock.Unlock()

	return d.startChildren(ctx, startOrder)
}

// Running returns true once the daemon started its groups
func (d *Daemon) Running() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.started
}

// GroupsRunning returns true while every process of every group runs
func (d *Daemon) GroupsRunning() bool {
	for _, entry := range d.getChildren() {
		if !d.isRunning(entry) {
			return false
		}
	}

	return true
}

// MetricsRegistry returns the registry the daemon metrics are registered in
func (d *Daemon) MetricsRegistry() *prometheus.Registry {
	return d.metrics.registry
}

// ChildIDs returns the ids of all children, in start order
func (d *Daemon) ChildIDs() []string {
	d.lock.Lock()
	defer d.lock.Unlock()

	return append([]string{}, d.childOrder...)
}

// Exit removes the pidfile and exits with code
func (d *Daemon) Exit(code int) {
	if pidfile := d.configuration.DaemonFile.Daemon.Pidfile; pidfile != "" {
		if err := RemovePidfile(pidfile); err != nil {
			d.logger.WarnWith("Failed to remove pidfile", "path", pidfile, "err", err.Error())
		}
	}

	d.logger.InfoWith("Daemon exiting", "code", code)
	d.configuration.Exit(code)
}

func (d *Daemon) loadGroup(groupConfiguration *config.Group) (*group, error) {
	d.lock.Lock()
	_, exists := d.groups[groupConfiguration.Name]
	d.lock.Unlock()

	if exists {
		return nil, newFatalError(ErrorDuplicateGroup, "Daemon name existed (%s)", groupConfiguration.Name)
	}

	configPath, err := common.NormalizePath(groupConfiguration.Config, d.configuration.DaemonFile.BaseDir)
	if err != nil || configPath == "" {
		return nil, newFatalError(ErrorConfigMissing, "Config file missing (%s)", groupConfiguration.Config)
	}

	groupFile, err := d.configuration.Reader.ReadGroupFile(configPath)
	if err != nil {
		return nil, newFatalError(ErrorConfigMissing,
			"Config file missing or invalid (%s): %s",
			configPath,
			errors.RootCause(err).Error())
	}

	if len(groupFile.Radon.Processes) == 0 {
		return nil, newFatalError(ErrorNoProcesses, "Config file has no \"processes\" (%s)", configPath)
	}

	if groupFile.Radon.ProcessFile == "" {
		return nil, newFatalError(ErrorNoProcessFile, "Config file has no \"process_file\" (%s)", configPath)
	}

	scripts := []string{groupFile.Radon.ProcessFile}
	for _, processConfiguration := range groupFile.Radon.Processes {
		if processConfiguration.File != "" {
			scripts = append(scripts, processConfiguration.File)
		}
	}

	for _, script := range scripts {
		if !common.FileExists(script) {
			return nil, newFatalError(ErrorScriptMissing, "Process script missing (%s)", script)
		}
	}

	payloadCodec, err := codec.New(codec.Kind(groupFile.Radon.Transport.Codec))
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create codec of group %s", groupConfiguration.Name)
	}

	groupInstance := &group{
		name:          groupConfiguration.Name,
		configuration: groupConfiguration,
		configPath:    configPath,
		groupFile:     groupFile,
		processNames:  groupFile.ProcessNames(),
		uid:           -1,
		gid:           -1,
		payloadCodec:  payloadCodec,
	}

	if groupConfiguration.SingleMode {
		groupInstance.processNames = []string{envelope.SingleModeProcess}
	}

	if groupConfiguration.User != "" {
		if groupInstance.uid, err = resolveUser(groupConfiguration.User); err != nil {
			d.logger.WarnWith("Failed to resolve user, running as the daemon user",
				"group", groupConfiguration.Name,
				"user", groupConfiguration.User,
				"err", err.Error())
		}
	}

	if groupConfiguration.Group != "" {
		if groupInstance.gid, err = resolveGroup(groupConfiguration.Group); err != nil {
			d.logger.WarnWith("Failed to resolve group, running as the daemon group",
				"group", groupConfiguration.Name,
				"userGroup", groupConfiguration.Group,
				"err", err.Error())
		}
	}

	d.lock.Lock()
	d.groups[groupInstance.name] = groupInstance
	d.groupOrder = append(d.groupOrder, groupInstance.name)
	d.lock.Unlock()

	return groupInstance, nil
}

// createChildren creates a child per process of the group, replacing existing ones
func (d *Daemon) createChildren(groupInstance *group) []*childEntry {
	var entries []*childEntry

	for _, processName := range groupInstance.processNames {
		entry := d.createChild(groupInstance, processName)
		childID := entry.handle.ID()

		d.lock.Lock()
		if _, exists := d.children[childID]; !exists {
			d.childOrder = append(d.childOrder, childID)
		}
		d.children[childID] = entry
		d.lock.Unlock()

		entries = append(entries, entry)
	}

	return entries
}

func (d *Daemon) createChild(groupInstance *group, processName string) *childEntry {
	script := groupInstance.groupFile.Radon.ProcessFile
	args := append([]string{}, groupInstance.configuration.Options...)

	if groupInstance.configuration.SingleMode {
		args = append(args, groupInstance.configuration.SingleArgs...)
	} else if processConfiguration := groupInstance.groupFile.Radon.Processes[processName]; processConfiguration != nil {
		if processConfiguration.File != "" {
			script = processConfiguration.File
		}

		args = append(args, processConfiguration.Args...)
	}

	args = append(args, d.configuration.ExtraArgs...)
	childID := groupInstance.name + "." + processName

	handle := d.configuration.ChildFactory(&child.Configuration{
		ID:         childID,
		Executable: script,
		Args:       args,
		Dir:        groupInstance.groupFile.BaseDir,
		UID:        groupInstance.uid,
		GID:        groupInstance.gid,
		InitData: &envelope.InitData{
			Daemon:         groupInstance.name,
			Process:        processName,
			ConfigFile:     groupInstance.configPath,
			SingleMode:     groupInstance.configuration.SingleMode,
			Debug:          d.configuration.Debug,
			MonitorAddress: d.configuration.MonitorAddress,
			UID:            groupInstance.uid,
			GID:            groupInstance.gid,
		},
	})

	entry := &childEntry{
		handle: handle,
		group:  groupInstance,
		name:   processName,
		logger: d.logger.GetChild(childID),
	}

	d.bindChild(entry)

	return entry
}

// startChildren starts children one at a time, each once the previous reported inited
func (d *Daemon) startChildren(ctx context.Context, entries []*childEntry) error {
	for _, entry := range entries {
		if err := entry.handle.StartAndWait(ctx, true); err != nil {
			return errors.Wrapf(err, "Failed to start %s", entry.handle.ID())
		}

		d.logger.InfoWith("Process started", "id", entry.handle.ID(), "pid", entry.handle.Snapshot().Pid)
	}

	return nil
}

func (d *Daemon) getChildren() []*childEntry {
	d.lock.Lock()
	defer d.lock.Unlock()

	return lo.Map(d.childOrder, func(childID string, _ int) *childEntry {
		return d.children[childID]
	})
}

// getGroupChild returns the child running processName in groupInstance, or nil
func (d *Daemon) getGroupChild(groupInstance *group, processName string) *childEntry {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.children[groupInstance.name+"."+processName]
}

func (d *Daemon) groupChildren(groupInstance *group) []*childEntry {
	return lo.Filter(d.getChildren(), func(entry *childEntry, _ int) bool {
		return entry.group == groupInstance
	})
}

func (d *Daemon) isRunning(entry *childEntry) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return entry.running
}

func resolveUser(name string) (int, error) {
	if numericPattern.MatchString(name) {
		return strconv.Atoi(name)
	}

	userInfo, err := user.Lookup(name)
	if err != nil {
		return -1, errors.Wrapf(err, "Failed to look up user %s", name)
	}

	return strconv.Atoi(userInfo.Uid)
}

func resolveGroup(name string) (int, error) {
	if numericPattern.MatchString(name) {
		return strconv.Atoi(name)
	}

	groupInfo, err := user.LookupGroup(name)
	if err != nil {
		return -1, errors.Wrapf(err, "Failed to look up group %s", name)
	}

	return strconv.Atoi(groupInfo.Gid)
}
