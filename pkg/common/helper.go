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

package common

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/nuclio/errors"
)

// IsFile returns true if the object @ path is a file
func IsFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// FileExists returns true if the file @ path exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NormalizePath expands a leading ~ and resolves relative paths against baseDir
func NormalizePath(path string, baseDir string) (string, error) {
	if path == "" {
		return "", nil
	}

	expandedPath, err := homedir.Expand(path)
	if err != nil {
		return "", errors.Wrapf(err, "Failed to expand path %s", path)
	}

	if !filepath.IsAbs(expandedPath) && baseDir != "" {
		expandedPath = filepath.Join(baseDir, expandedPath)
	}

	return filepath.Clean(expandedPath), nil
}

// RetryUntilSuccessful calls callback every interval for duration until it returns true
func RetryUntilSuccessful(duration time.Duration, interval time.Duration, callback func() bool) error {
	deadline := time.Now().Add(duration)

	// while we haven't passed the deadline
	for !time.Now().After(deadline) {

		// if callback returns true, we're done
		if callback() {
			return nil
		}

		time.Sleep(interval)
	}

	return errors.New("Timed out waiting until successful")
}

// FormatSize renders a byte count the way the memory trace logs expect it (e.g. "12.50 MB")
func FormatSize(size float64) string {
	units := []string{"GB", "MB", "KB"}
	unit := "Byte"
	for size > 2048 && len(units) > 0 {
		size /= 1024
		unit = units[len(units)-1]
		units = units[:len(units)-1]
	}

	return strconv.FormatFloat(size, 'f', 2, 64) + " " + unit
}
