//go:build test_unit

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
	"sync"
	"testing"

	"github.com/nuclio/radon/pkg/loggersink"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/stretchr/testify/suite"
)

type recordingSender struct {
	lock    sync.Mutex
	records []*envelope.LogRecord
}

func (s *recordingSender) Send(kind string, payload interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if kind == envelope.KindLog {
		s.records = append(s.records, payload.(*envelope.LogRecord))
	}

	return nil
}

type IPCSinkTestSuite struct {
	suite.Suite
}

func (suite *IPCSinkTestSuite) TestForwardsLines() {
	sender := &recordingSender{}

	loggerInstance, err := loggersink.CreateLogger("worker", &loggersink.Configuration{
		Kind:   "ipc",
		Level:  "info",
		Sender: sender,
	})
	suite.Require().NoError(err)

	loggerInstance.DebugWith("Hidden")
	loggerInstance.InfoWith("Started", "name", "backend")
	loggerInstance.ErrorWith("Failed", "code", 3000)

	sender.lock.Lock()
	defer sender.lock.Unlock()

	suite.Require().Len(sender.records, 2)
	suite.Require().True(strings.Contains(sender.records[0].Line, "Started"))
	suite.Require().True(strings.Contains(sender.records[1].Line, "Failed"))
}

func (suite *IPCSinkTestSuite) TestLineLevel() {
	for _, testCase := range []struct {
		name  string
		line  string
		level string
	}{
		{name: "jsonError", line: `{"level":"error","name":"worker","message":"Failed"}`, level: LevelError},
		{name: "jsonWarn", line: `{"level":"warn","name":"worker","message":"Slow"}`, level: LevelWarn},
		{name: "jsonInfo", line: `{"level":"info","name":"worker","message":"Started"}`, level: LevelInfo},
		{name: "consoleError", line: "23.05.01 12:00:00.000 worker (E) Failed", level: LevelError},
		{name: "consoleWarn", line: "23.05.01 12:00:00.000 worker (W) Slow", level: LevelWarn},
		{name: "consoleDebug", line: "23.05.01 12:00:00.000 worker (D) Noise", level: LevelInfo},
	} {
		suite.Run(testCase.name, func() {
			suite.Require().Equal(testCase.level, LineLevel(testCase.line))
		})
	}
}

func (suite *IPCSinkTestSuite) TestRequiresSender() {
	_, err := loggersink.CreateLogger("worker", &loggersink.Configuration{Kind: "ipc"})
	suite.Require().Error(err)
}

func TestIPCSinkTestSuite(t *testing.T) {
	suite.Run(t, new(IPCSinkTestSuite))
}
