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

package loggersink

import (
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

// CreateLogger creates a logger writing to every configured sink
func CreateLogger(name string, configurations ...*Configuration) (logger.Logger, error) {
	var loggers []logger.Logger

	if len(configurations) == 0 {
		return nil, errors.New("At least one logger sink is required")
	}

	for _, configuration := range configurations {
		loggerInstance, err := RegistrySingleton.NewLoggerSink(name, configuration)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to create logger")
		}

		loggers = append(loggers, loggerInstance)
	}

	// a mux logger carries some overhead over a single logger
	if len(loggers) == 1 {
		return loggers[0], nil
	}

	muxLogger, err := nucliozap.NewMuxLogger(loggers...)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create mux logger")
	}

	return muxLogger, nil
}
