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

package abort

import (
	"testing"
	"time"

	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type AbortTestSuite struct {
	suite.Suite
	registry *Registry
	now      time.Time
}

func (suite *AbortTestSuite) SetupTest() {
	loggerInstance, err := nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.now = time.Now()
	suite.registry = NewRegistry(loggerInstance, time.Minute)
	suite.registry.now = func() time.Time {
		return suite.now
	}
}

func (suite *AbortTestSuite) TestKey() {
	suite.Require().Equal("L1_7", Key("L1", "7"))
	suite.Require().Equal("", Key("", ""))
}

func (suite *AbortTestSuite) TestConsumeOnce() {
	suite.registry.Add(Key("L1", "7"))
	suite.Require().True(suite.registry.Contains("L1_7"))

	suite.Require().True(suite.registry.Consume("L1_7"))
	suite.Require().False(suite.registry.Consume("L1_7"))
	suite.Require().False(suite.registry.Contains("L1_7"))
}

func (suite *AbortTestSuite) TestEmptyKeyIgnored() {
	suite.registry.Add("")
	suite.Require().Zero(suite.registry.Len())
	suite.Require().False(suite.registry.Consume(""))
}

func (suite *AbortTestSuite) TestSweepExpires() {
	suite.registry.Add("old")
	suite.now = suite.now.Add(50 * time.Second)
	suite.registry.Add("new")

	suite.now = suite.now.Add(20 * time.Second)
	suite.Require().Equal(1, suite.registry.Sweep())
	suite.Require().False(suite.registry.Contains("old"))
	suite.Require().True(suite.registry.Contains("new"))
}

func (suite *AbortTestSuite) TestStartRejectsBadSpec() {
	suite.Require().Error(suite.registry.Start("every now and then"))
	suite.Require().NoError(suite.registry.Start(""))
	suite.registry.Stop()
}

func TestAbortTestSuite(t *testing.T) {
	suite.Run(t, new(AbortTestSuite))
}
