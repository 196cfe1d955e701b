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

package file

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nuclio/errors"
)

// DailyWriter appends to <prefix>YYYYMMDD.log, switching files when the day changes
type DailyWriter struct {
	prefix string
	now    func() time.Time

	lock        sync.Mutex
	currentDay  string
	currentFile *os.File
}

func NewDailyWriter(prefix string) *DailyWriter {
	return &DailyWriter{
		prefix: prefix,
		now:    time.Now,
	}
}

// Write appends p to the file of the current day
func (w *DailyWriter) Write(p []byte) (int, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	day := w.now().Format("20060102")
	if day != w.currentDay || w.currentFile == nil {
		if err := w.open(day); err != nil {
			return 0, err
		}
	}

	return w.currentFile.Write(p)
}

// Path returns the file written on the given day
func (w *DailyWriter) Path(day time.Time) string {
	return w.prefix + day.Format("20060102") + ".log"
}

// Close closes the current file
func (w *DailyWriter) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.currentFile == nil {
		return nil
	}

	err := w.currentFile.Close()
	w.currentFile = nil

	return err
}

func (w *DailyWriter) open(day string) error {
	path := w.prefix + day + ".log"

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "Failed to create log directory of %s", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "Failed to open log file %s", path)
	}

	if w.currentFile != nil {
		w.currentFile.Close() // nolint: errcheck
	}

	w.currentDay = day
	w.currentFile = file

	return nil
}
