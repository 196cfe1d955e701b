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

package status

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type StatusTestSuite struct {
	suite.Suite
}

func (suite *StatusTestSuite) TestString() {
	suite.Require().Equal("CLEAR_FORCE", ClearForce.String())
	suite.Require().Equal("Unknown status - 42", Status(42).String())
}

func (suite *StatusTestSuite) TestPredicates() {
	suite.Require().True(Clearing.IsClearing())
	suite.Require().True(ClearForce.IsClearing())
	suite.Require().False(Cleared.IsClearing())
	suite.Require().True(Cleared.AcceptsJobs())
	suite.Require().False(Stopping.AcceptsJobs())
}

func TestStatusTestSuite(t *testing.T) {
	suite.Run(t, new(StatusTestSuite))
}
