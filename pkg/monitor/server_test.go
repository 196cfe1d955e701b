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

package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/daemon"
	"github.com/nuclio/radon/pkg/daemon/child"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

type fakeStatusProvider struct {
	running       bool
	groupsRunning bool
	registry      *prometheus.Registry
	queriedID     string
	queryErr      error
}

func (p *fakeStatusProvider) Running() bool {
	return p.running
}

func (p *fakeStatusProvider) GroupsRunning() bool {
	return p.groupsRunning
}

func (p *fakeStatusProvider) MetricsRegistry() *prometheus.Registry {
	return p.registry
}

func (p *fakeStatusProvider) QueryStatus(ctx context.Context, id string) (*daemon.StatusReport, error) {
	p.queriedID = id
	if p.queryErr != nil {
		return nil, p.queryErr
	}

	return &daemon.StatusReport{
		AppName: "radon-test",
		Pid:     42,
		Children: []*daemon.ChildStatus{
			{Snapshot: &child.Snapshot{ID: "web:0", Status: child.StatusRunAuto}, Group: "web"},
		},
	}, nil
}

type MonitorTestSuite struct {
	suite.Suite
	logger         logger.Logger
	statusProvider *fakeStatusProvider
	httpServer     *httptest.Server
}

func (suite *MonitorTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "radon_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Add(3)

	suite.statusProvider = &fakeStatusProvider{
		running:       true,
		groupsRunning: true,
		registry:      registry,
	}

	server, err := NewServer(suite.logger, suite.statusProvider, &config.Monitor{ListenAddress: ":0"})
	suite.Require().NoError(err)

	suite.httpServer = httptest.NewServer(server.Handler())
}

func (suite *MonitorTestSuite) TearDownTest() {
	suite.httpServer.Close()
}

func (suite *MonitorTestSuite) TestHealthChecks() {
	for _, testCase := range []struct {
		name          string
		running       bool
		groupsRunning bool
		expectedLive  int
		expectedReady int
	}{
		{name: "healthy", running: true, groupsRunning: true,
			expectedLive: http.StatusOK, expectedReady: http.StatusOK},
		{name: "groupDown", running: true, groupsRunning: false,
			expectedLive: http.StatusOK, expectedReady: http.StatusServiceUnavailable},
		{name: "stopped", running: false, groupsRunning: false,
			expectedLive: http.StatusServiceUnavailable, expectedReady: http.StatusServiceUnavailable},
	} {
		suite.Run(testCase.name, func() {
			suite.statusProvider.running = testCase.running
			suite.statusProvider.groupsRunning = testCase.groupsRunning

			statusCode, _ := suite.get("/live")
			suite.Require().Equal(testCase.expectedLive, statusCode)

			statusCode, _ = suite.get("/ready")
			suite.Require().Equal(testCase.expectedReady, statusCode)
		})
	}
}

func (suite *MonitorTestSuite) TestMetrics() {
	statusCode, body := suite.get("/metrics")
	suite.Require().Equal(http.StatusOK, statusCode)
	suite.Require().Contains(body, "radon_test_total 3")
}

func (suite *MonitorTestSuite) TestStatus() {
	statusCode, body := suite.get("/status?id=web")
	suite.Require().Equal(http.StatusOK, statusCode)
	suite.Require().Equal("web", suite.statusProvider.queriedID)

	statusReport := daemon.StatusReport{}
	suite.Require().NoError(json.Unmarshal([]byte(body), &statusReport))
	suite.Require().Equal("radon-test", statusReport.AppName)
	suite.Require().Len(statusReport.Children, 1)
	suite.Require().Equal("web:0", statusReport.Children[0].ID)
	suite.Require().Equal("web", statusReport.Children[0].Group)

	suite.statusProvider.queryErr = errors.New("No such group")

	statusCode, body = suite.get("/status?id=nope")
	suite.Require().Equal(http.StatusInternalServerError, statusCode)
	suite.Require().Contains(body, "No such group")
}

func (suite *MonitorTestSuite) TestStartAndStop() {
	server, err := NewServer(suite.logger, suite.statusProvider, &config.Monitor{ListenAddress: "127.0.0.1:0"})
	suite.Require().NoError(err)
	suite.Require().NoError(server.Start())
	suite.Require().NoError(server.Stop(context.Background()))

	_, err = NewServer(suite.logger, suite.statusProvider, &config.Monitor{})
	suite.Require().Error(err)
}

func (suite *MonitorTestSuite) get(path string) (int, string) {
	response, err := http.Get(suite.httpServer.URL + path)
	suite.Require().NoError(err)
	defer response.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(response.Body)
	suite.Require().NoError(err)

	return response.StatusCode, string(body)
}

func TestMonitorTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorTestSuite))
}
