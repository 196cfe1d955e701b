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

package main

import (
	"fmt"
	"os"

	"github.com/nuclio/radon/pkg/radonctl/command"

	"github.com/nuclio/errors"
)

func main() {
	if err := command.NewRootCommandeer().Execute(); err != nil {
		if exitError, isExitError := errors.RootCause(err).(*command.ExitError); isExitError {
			fmt.Fprintln(os.Stderr, exitError.Message) // nolint: errcheck
			os.Exit(exitError.Code)
		}

		errors.PrintErrorStack(os.Stderr, err, 5)
		os.Exit(1)
	}

	os.Exit(0)
}
