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
	"io"
	"os"

	"github.com/nuclio/radon/pkg/loggersink"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

type factory struct{}

func (f *factory) Create(name string, configuration *loggersink.Configuration) (logger.Logger, error) {
	if configuration.FilePrefix == "" {
		return nil, errors.New("File prefix must not be empty")
	}

	errorFilePrefix := configuration.ErrorFilePrefix
	if errorFilePrefix == "" {
		errorFilePrefix = configuration.FilePrefix
	}

	var writer io.Writer = NewDailyWriter(configuration.FilePrefix)
	var errorWriter io.Writer = NewDailyWriter(errorFilePrefix)

	if !configuration.Quiet {
		writer = io.MultiWriter(writer, os.Stdout)
		errorWriter = io.MultiWriter(errorWriter, os.Stderr)
	}

	return nucliozap.NewNuclioZap(name,
		configuration.GetEncoding(),
		loggersink.NewEncoderConfig(),
		writer,
		errorWriter,
		configuration.GetZapLevel())
}

// register factory
func init() {
	loggersink.RegistrySingleton.Register("file", &factory{})
}
