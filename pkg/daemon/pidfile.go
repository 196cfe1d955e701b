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
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nuclio/errors"
)

// WritePidfile writes "<pid> <app name>" to path, creating its directory
func WritePidfile(path string, pid int, appName string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create pidfile directory of %s", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d %s\n", pid, appName)), 0644); err != nil {
		return errors.Wrapf(err, "Failed to write pidfile %s", path)
	}

	return nil
}

// ReadPidfile returns the pid and app name recorded in path. A pidfile holding only a
// pid yields an empty app name
func ReadPidfile(path string) (int, string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return 0, "", errors.Wrapf(err, "Failed to read pidfile %s", path)
	}

	fields := strings.Fields(string(contents))
	if len(fields) == 0 {
		return 0, "", errors.Errorf("Pidfile %s is empty", path)
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", errors.Wrapf(err, "Invalid pid in %s", path)
	}

	appName := ""
	if len(fields) > 1 {
		appName = strings.Join(fields[1:], " ")
	}

	return pid, appName, nil
}

// RemovePidfile removes path. A missing pidfile is not an error
func RemovePidfile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "Failed to remove pidfile %s", path)
	}

	return nil
}
