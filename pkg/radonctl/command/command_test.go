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

package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/daemon"
	"github.com/nuclio/radon/pkg/daemon/child"

	"github.com/nuclio/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/suite"
)

type CommandTestSuite struct {
	suite.Suite
	tempDir     string
	configPath  string
	pidfile     string
	output      *bytes.Buffer
	exitCodes   []int
	statusQuery chan string
	httpServer  *httptest.Server
}

func (suite *CommandTestSuite) SetupTest() {
	suite.tempDir = suite.T().TempDir()
	suite.pidfile = filepath.Join(suite.tempDir, "radon.pid")
	suite.output = &bytes.Buffer{}
	suite.exitCodes = nil
	suite.statusQuery = make(chan string, 10)

	suite.httpServer = httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter,
		request *http.Request) {
		suite.statusQuery <- request.URL.Query().Get("id")

		json.NewEncoder(responseWriter).Encode(&daemon.StatusReport{ // nolint: errcheck
			AppName: "radon-test",
			Pid:     42,
			Children: []*daemon.ChildStatus{
				{Snapshot: &child.Snapshot{ID: "web.http", Pid: 100, Status: child.StatusRunAuto}, Group: "web"},
			},
		})
	}))

	suite.configPath = suite.writeDaemonFile(fmt.Sprintf(`
daemon:
  app_name: radon-test
  monitor:
    listen_address: %s
`, strings.TrimPrefix(suite.httpServer.URL, "http://")))
}

func (suite *CommandTestSuite) TearDownTest() {
	suite.httpServer.Close()
}

func (suite *CommandTestSuite) TestStatus() {
	suite.Require().NoError(suite.execute("status", "web"))
	suite.Require().Equal("web", <-suite.statusQuery)

	rendered := suite.output.String()
	suite.Require().Contains(rendered, "radon-test (pid 42")
	suite.Require().Contains(rendered, "web.http")
}

func (suite *CommandTestSuite) TestStatusJSON() {
	suite.Require().NoError(suite.execute("status", "-o", "json"))
	suite.Require().Equal("", <-suite.statusQuery)

	statusReport := daemon.StatusReport{}
	suite.Require().NoError(json.Unmarshal(suite.output.Bytes(), &statusReport))
	suite.Require().Equal(42, statusReport.Pid)
}

func (suite *CommandTestSuite) TestStatusDaemonUnreachable() {
	suite.httpServer.Close()

	suite.requireExitCode(suite.execute("status"), ExitNotRunning)
}

func (suite *CommandTestSuite) TestMonitor() {
	suite.Require().NoError(suite.execute("monitor", "--count", "2", "--interval", "10ms"))
	suite.Require().Equal(2, strings.Count(suite.output.String(), "radon-test (pid 42"))
}

func (suite *CommandTestSuite) TestStopNotRunning() {
	suite.requireExitCode(suite.execute("stop"), ExitNotRunning)

	// a pidfile left behind by a dead daemon
	suite.Require().NoError(daemon.WritePidfile(suite.pidfile, 999999999, "radon-test"))
	suite.requireExitCode(suite.execute("stop"), ExitNotRunning)
}

func (suite *CommandTestSuite) TestStopNameMismatch() {
	suite.Require().NoError(daemon.WritePidfile(suite.pidfile, os.Getpid(), "other-app"))
	suite.requireExitCode(suite.execute("stop"), ExitNameMismatch)
}

func (suite *CommandTestSuite) TestReloadSignalsDaemon() {
	received := suite.notifySignal(syscall.SIGHUP)
	suite.Require().NoError(daemon.WritePidfile(suite.pidfile, os.Getpid(), "radon-test"))

	suite.Require().NoError(suite.execute("reload"))
	suite.requireSignal(received, syscall.SIGHUP)
}

func (suite *CommandTestSuite) TestStopTimesOut() {
	received := suite.notifySignal(syscall.SIGTERM)
	suite.Require().NoError(daemon.WritePidfile(suite.pidfile, os.Getpid(), "radon-test"))

	suite.requireExitCode(suite.execute("stop", "--timeout", "300ms"), ExitTimeout)
	suite.requireSignal(received, syscall.SIGTERM)
}

func (suite *CommandTestSuite) TestStartFatalConfiguration() {
	configPath := suite.writeDaemonFile(`
daemon:
  app_name: radon-test
  monitor:
    enabled: false
groups:
  - name: web
    config: absent.yaml
`)

	suite.requireExitCode(suite.execute("start", "-c", configPath), daemon.ErrorConfigMissing)
	suite.Require().Equal([]int{daemon.ErrorConfigMissing}, suite.exitCodes)
	suite.Require().False(common.FileExists(suite.pidfile))
}

func (suite *CommandTestSuite) TestVersion() {
	suite.Require().NoError(suite.execute("version"))
	suite.Require().Contains(suite.output.String(), "Client version")
}

func (suite *CommandTestSuite) execute(args ...string) error {
	rootCommandeer := NewRootCommandeer()
	rootCommandeer.output = suite.output
	rootCommandeer.exit = func(code int) {
		suite.exitCodes = append(suite.exitCodes, code)
	}

	if !lo.Contains(args, "-c") {
		args = append(args, "-c", suite.configPath)
	}

	rootCommandeer.GetCmd().SetArgs(args)
	return rootCommandeer.Execute()
}

func (suite *CommandTestSuite) writeDaemonFile(contents string) string {
	path := filepath.Join(suite.tempDir, "radon.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte(contents), 0644))

	return path
}

func (suite *CommandTestSuite) notifySignal(signalToNotify os.Signal) chan os.Signal {
	received := make(chan os.Signal, 1)
	signal.Notify(received, signalToNotify)

	suite.T().Cleanup(func() {
		signal.Stop(received)
	})

	return received
}

func (suite *CommandTestSuite) requireSignal(received chan os.Signal, expected os.Signal) {
	select {
	case receivedSignal := <-received:
		suite.Require().Equal(expected, receivedSignal)
	case <-time.After(5 * time.Second):
		suite.Fail("Signal was not received", expected.String())
	}
}

func (suite *CommandTestSuite) requireExitCode(err error, code int) {
	suite.Require().Error(err)

	exitError, isExitError := errors.RootCause(err).(*ExitError)
	suite.Require().True(isExitError, "expected an exit error, got %v", err)
	suite.Require().Equal(code, exitError.Code)
}

func TestCommandTestSuite(t *testing.T) {
	suite.Run(t, new(CommandTestSuite))
}
