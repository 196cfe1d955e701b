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

package common

import (
	"fmt"
	"runtime/debug"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// LogPanic logs a recovered panic along with the call stack it was raised from
func LogPanic(loggerInstance logger.Logger,
	actionName string,
	args []interface{},
	callStack []byte,
	recoveredErr interface{}) {

	logArgs := []interface{}{
		"err", recoveredErr,
		"stack", string(callStack),
		"actionName", actionName,
	}
	logArgs = append(logArgs, args...)

	loggerInstance.ErrorWith("Panic caught while running action", logArgs...)
}

// ErrorFromRecoveredError converts whatever recover() returned into an error
func ErrorFromRecoveredError(recoveredError interface{}) error {
	switch typedErr := recoveredError.(type) {
	case string:
		return errors.New(typedErr)
	case error:
		return typedErr
	default:
		return errors.New(fmt.Sprintf("Unknown error type: %T", typedErr))
	}
}

// CatchAndLogPanic runs action, converting a panic into a logged, returned error
func CatchAndLogPanic(loggerInstance logger.Logger, actionName string, action func() error) (err error) {
	defer func() {
		if recoveredErr := recover(); recoveredErr != nil {
			LogPanic(loggerInstance, actionName, nil, debug.Stack(), recoveredErr)
			err = ErrorFromRecoveredError(recoveredErr)
		}
	}()

	return action()
}
