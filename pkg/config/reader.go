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
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nuclio/radon/pkg/common"

	"github.com/caarlos0/env/v11"
	"github.com/imdario/mergo"
	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Reader reads daemon and group files. Group files are cached until reloaded
type Reader struct {
	lock       sync.Mutex
	groupFiles map[string]*GroupFile
}

func NewReader() *Reader {
	return &Reader{
		groupFiles: map[string]*GroupFile{},
	}
}

// Read decodes yaml from reader into target
func (r *Reader) Read(reader io.Reader, target interface{}) error {
	configBytes, err := ioutil.ReadAll(reader)
	if err != nil {
		return errors.Wrap(err, "Failed to read configuration")
	}

	if err := yaml.Unmarshal(configBytes, target); err != nil {
		return errors.Wrap(err, "Failed to parse configuration")
	}

	return nil
}

// ReadDaemonFile reads the daemon file at path, applying defaults and environment overrides
func (r *Reader) ReadDaemonFile(path string) (*DaemonFile, error) {
	absolutePath, err := common.NormalizePath(path, "")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to resolve daemon file path")
	}

	daemonFile := &DaemonFile{}
	if err := r.readFile(absolutePath, daemonFile); err != nil {
		return nil, errors.Wrap(err, "Failed to read daemon file")
	}

	if err := mergo.Merge(daemonFile, r.GetDefaultDaemonConfiguration()); err != nil {
		return nil, errors.Wrap(err, "Failed to apply daemon defaults")
	}

	if err := env.Parse(&daemonFile.Daemon); err != nil {
		return nil, errors.Wrap(err, "Failed to apply environment overrides")
	}

	daemonFile.BaseDir = filepath.Dir(absolutePath)

	for _, pathField := range []*string{
		&daemonFile.Daemon.Pidfile,
		&daemonFile.Daemon.LogFile,
		&daemonFile.Daemon.LogError,
	} {
		if *pathField, err = common.NormalizePath(*pathField, daemonFile.BaseDir); err != nil {
			return nil, errors.Wrap(err, "Failed to resolve daemon path")
		}
	}

	for groupIndex := range daemonFile.Groups {
		group := &daemonFile.Groups[groupIndex]
		if group.Config, err = common.NormalizePath(group.Config, daemonFile.BaseDir); err != nil {
			return nil, errors.Wrapf(err, "Failed to resolve config path of group %s", group.Name)
		}
	}

	return daemonFile, nil
}

// ReadGroupFile reads the group file at path, or returns the cached copy
func (r *Reader) ReadGroupFile(path string) (*GroupFile, error) {
	absolutePath, err := common.NormalizePath(path, "")
	if err != nil {
		return nil, errors.Wrap(err, "Failed to resolve group file path")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if groupFile, found := r.groupFiles[absolutePath]; found {
		return groupFile, nil
	}

	groupFile := &GroupFile{}
	if err := r.readFile(absolutePath, groupFile); err != nil {
		return nil, errors.Wrap(err, "Failed to read group file")
	}

	groupFile.Path = absolutePath
	groupFile.BaseDir = filepath.Dir(absolutePath)

	if err := r.populateGroupFile(groupFile); err != nil {
		return nil, errors.Wrap(err, "Failed to populate group file")
	}

	r.groupFiles[absolutePath] = groupFile
	return groupFile, nil
}

// Reload drops the cached group file at path, or every cached file when path is empty
func (r *Reader) Reload(path string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if path == "" {
		r.groupFiles = map[string]*GroupFile{}
		return
	}

	if absolutePath, err := common.NormalizePath(path, ""); err == nil {
		delete(r.groupFiles, absolutePath)
	}
}

// GetDefaultDaemonConfiguration returns the values unset daemon fields take
func (r *Reader) GetDefaultDaemonConfiguration() *DaemonFile {
	return &DaemonFile{
		Daemon: Daemon{
			AppName:     "radon",
			Pidfile:     "radon.pid",
			LogLevel:    DefaultLogLevel,
			LogEncoding: "console",
			StopTimeout: DefaultStopTimeout,
			Monitor: Monitor{
				ListenAddress: DefaultMonitorAddress,
			},
		},
	}
}

func (r *Reader) populateGroupFile(groupFile *GroupFile) error {
	var err error

	transportDefaults := Transport{
		RequestTimeout: DefaultRequestTimeout,
		Codec:          "msgpack",
	}

	if err := mergo.Merge(&groupFile.Radon.Transport, transportDefaults); err != nil {
		return errors.Wrap(err, "Failed to apply transport defaults")
	}

	if groupFile.Radon.ProcessFile, err = common.NormalizePath(groupFile.Radon.ProcessFile, groupFile.BaseDir); err != nil {
		return errors.Wrap(err, "Failed to resolve process file")
	}

	for processName, process := range groupFile.Radon.Processes {
		if process == nil {
			process = &Process{}
			groupFile.Radon.Processes[processName] = process
		}

		if process.ThreadQueue <= 0 {
			process.ThreadQueue = DefaultThreadQueue
		}

		if process.File, err = common.NormalizePath(process.File, groupFile.BaseDir); err != nil {
			return errors.Wrapf(err, "Failed to resolve file of process %s", processName)
		}
	}

	return nil
}

func (r *Reader) readFile(path string, target interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to open %s", path)
	}

	defer file.Close() // nolint: errcheck

	return r.Read(file, target)
}

// DecodeModuleConfig decodes a module's free-form configuration into target
func DecodeModuleConfig(moduleConfig map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           target,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create module configuration decoder")
	}

	if err := decoder.Decode(moduleConfig); err != nil {
		return errors.Wrap(err, "Failed to decode module configuration")
	}

	return nil
}

func sortedKeys(processes map[string]*Process) []string {
	names := lo.Keys(processes)
	sort.Strings(names)

	return names
}
