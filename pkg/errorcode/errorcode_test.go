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

package errorcode

import (
	"testing"

	"github.com/nuclio/errors"
	"github.com/stretchr/testify/suite"
)

type ErrorCodeTestSuite struct {
	suite.Suite
}

func (suite *ErrorCodeTestSuite) TestRender() {
	for _, testCase := range []struct {
		name            string
		code            int
		args            []interface{}
		expectedMessage string
	}{
		{
			name:            "Positional",
			code:            NoHandler,
			args:            []interface{}{"proc", "users", "get"},
			expectedMessage: "No module handler found for proc.users:get",
		},
		{
			name:            "MissingArgumentKept",
			code:            ProcessNotFound,
			expectedMessage: "Process not found: %0",
		},
		{
			name:            "Unknown",
			code:            42,
			expectedMessage: "Unknown Error Message",
		},
	} {
		suite.Run(testCase.name, func() {
			suite.Require().Equal(testCase.expectedMessage, Message(testCase.code, testCase.args...))
		})
	}
}

func (suite *ErrorCodeTestSuite) TestApplicationCode() {
	suite.Require().Error(RegisterApplicationCode(100, "too low"))
	suite.Require().NoError(RegisterApplicationCode(10001, "user {$name} lacks right %1"))

	err := NewWithMessage(10001, "user {$name} is offline", map[string]interface{}{"name": "ann"})
	suite.Require().Equal("user ann is offline", err.Error())
}

func (suite *ErrorCodeTestSuite) TestFromWrappedError() {
	err := errors.Wrap(New(RequestTimeout), "Request failed")

	suite.Require().True(IsCode(err, RequestTimeout))
	suite.Require().False(IsCode(err, NoRoute))
	suite.Require().False(IsCode(errors.New("plain"), RequestTimeout))

	typedErr, ok := FromError(err)
	suite.Require().True(ok)
	suite.Require().Equal(false, typedErr.Payload()["success"])
	suite.Require().Equal(RequestTimeout, typedErr.Payload()["code"])
}

func TestErrorCodeTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorCodeTestSuite))
}
