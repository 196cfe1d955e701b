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
	"context"
	"os"
	"strconv"

	"github.com/nuclio/radon/pkg/cluster"
	"github.com/nuclio/radon/pkg/loggersink"
	"github.com/nuclio/radon/pkg/process/node"
	"github.com/nuclio/radon/pkg/process/runner"

	"github.com/nuclio/errors"
	"github.com/spf13/cobra"

	// logger sinks
	_ "github.com/nuclio/radon/pkg/loggersink/ipc"
	_ "github.com/nuclio/radon/pkg/loggersink/stdout"

	// modules every worker can host
	_ "github.com/nuclio/radon/pkg/modules/link"
	_ "github.com/nuclio/radon/pkg/modules/router"
	_ "github.com/nuclio/radon/pkg/modules/session"
)

// workerCommandeer runs a supervised process. Groups name the radon binary as their
// process file, with "worker" among their options
type workerCommandeer struct {
	cmd            *cobra.Command
	rootCommandeer *RootCommandeer
}

func newWorkerCommandeer(rootCommandeer *RootCommandeer) *workerCommandeer {
	commandeer := &workerCommandeer{
		rootCommandeer: rootCommandeer,
	}

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run a process supervised by a radon daemon",
		Hidden: true,

		// group options may carry flags meant for the application
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			return commandeer.run(cmd.Context())
		},
	}

	commandeer.cmd = cmd

	return commandeer
}

func (w *workerCommandeer) run(ctx context.Context) error {
	level := "info"
	if w.rootCommandeer.verbose {
		level = "debug"
	}

	// logs the node itself, until the parent channel is up
	bootstrapLogger, err := loggersink.CreateLogger("radon", &loggersink.Configuration{
		Kind:  "stdout",
		Level: "warn",
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create bootstrap logger")
	}

	parentNode, err := node.NewNodeFromDescriptors(bootstrapLogger)
	if err != nil {
		return errors.Wrap(err, "Failed to open the parent channel")
	}

	workerLogger, err := loggersink.CreateLogger("radon", &loggersink.Configuration{
		Kind:   "ipc",
		Level:  level,
		Sender: parentNode,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create worker logger")
	}

	threadIndex := 0
	if threadValue := os.Getenv(cluster.EnvThread); threadValue != "" {
		threadIndex, err = strconv.Atoi(threadValue)
		if err != nil {
			return errors.Wrapf(err, "Invalid thread index %s", threadValue)
		}
	}

	executable, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "Failed to resolve executable")
	}

	runnerInstance, err := runner.NewRunner(workerLogger, &runner.Configuration{
		Node:        parentNode,
		Reader:      w.rootCommandeer.reader,
		Executable:  executable,
		Args:        os.Args[1:],
		ThreadIndex: threadIndex,
		Exit:        w.rootCommandeer.exit,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create runner")
	}

	return runnerInstance.Run(ctx)
}
