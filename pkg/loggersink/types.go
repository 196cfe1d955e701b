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
	"github.com/nuclio/radon/pkg/registry"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

// Sender carries frames to a parent process
type Sender interface {
	Send(kind string, payload interface{}) error
}

// Configuration configures one logger sink
type Configuration struct {
	Kind     string
	Level    string
	Encoding string

	// file sink: prefix of the daily info and error files, and whether to stay off stdout
	FilePrefix      string
	ErrorFilePrefix string
	Quiet           bool

	// ipc sink
	Sender Sender
}

// GetLevel returns the configured level, debug when unset or unknown
func (c *Configuration) GetLevel() logger.Level {
	switch c.Level {
	case "info":
		return logger.LevelInfo
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelDebug
	}
}

// GetZapLevel returns the configured level as a nuclio zap level
func (c *Configuration) GetZapLevel() nucliozap.Level {
	switch c.GetLevel() {
	case logger.LevelInfo:
		return nucliozap.InfoLevel
	case logger.LevelWarn:
		return nucliozap.WarnLevel
	case logger.LevelError:
		return nucliozap.ErrorLevel
	default:
		return nucliozap.DebugLevel
	}
}

// GetEncoding returns the configured encoding, console when unset
func (c *Configuration) GetEncoding() string {
	if c.Encoding == "" {
		return "console"
	}

	return c.Encoding
}

// NewEncoderConfig returns the encoder configuration every sink uses
func NewEncoderConfig() *nucliozap.EncoderConfig {
	encoderConfig := nucliozap.NewEncoderConfig()
	encoderConfig.JSON.LineEnding = "\n"

	return encoderConfig
}

// Factory creates a logger of one sink kind
type Factory interface {
	Create(name string, configuration *Configuration) (logger.Logger, error)
}

type Registry struct {
	registry.Registry
}

// RegistrySingleton is the logger sink global singleton
var RegistrySingleton = Registry{
	Registry: *registry.NewRegistry("logger sink"),
}

// NewLoggerSink creates a logger of the configured kind
func (r *Registry) NewLoggerSink(name string, configuration *Configuration) (logger.Logger, error) {
	registree, err := r.Get(configuration.Kind)
	if err != nil {
		return nil, err
	}

	loggerInstance, err := registree.(Factory).Create(name, configuration)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to create %s logger sink", configuration.Kind)
	}

	return loggerInstance, nil
}
