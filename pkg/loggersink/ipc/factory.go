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

package ipc

import (
	"strings"

	"github.com/nuclio/radon/pkg/loggersink"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/nuclio/zap"
)

// Levels a forwarded line is tagged with
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Writer forwards every line written to it to the parent process as a log frame
type Writer struct {
	sender loggersink.Sender
}

func NewWriter(sender loggersink.Sender) *Writer {
	return &Writer{
		sender: sender,
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	line := string(p)

	if err := w.sender.Send(envelope.KindLog, &envelope.LogRecord{
		Level: LineLevel(line),
		Line:  line,
	}); err != nil {
		return 0, errors.Wrap(err, "Failed to forward log line")
	}

	return len(p), nil
}

// LineLevel returns the level of an encoded log line, json or console
func LineLevel(line string) string {
	switch {
	case strings.Contains(line, `"level":"error"`), strings.Contains(line, "(E)"):
		return LevelError
	case strings.Contains(line, `"level":"warn"`), strings.Contains(line, "(W)"):
		return LevelWarn
	default:
		return LevelInfo
	}
}

type factory struct{}

func (f *factory) Create(name string, configuration *loggersink.Configuration) (logger.Logger, error) {
	if configuration.Sender == nil {
		return nil, errors.New("IPC logger sink requires a sender")
	}

	writer := NewWriter(configuration.Sender)

	return nucliozap.NewNuclioZap(name,
		configuration.GetEncoding(),
		loggersink.NewEncoderConfig(),
		writer,
		writer,
		configuration.GetZapLevel())
}

// register factory
func init() {
	loggersink.RegistrySingleton.Register("ipc", &factory{})
}
