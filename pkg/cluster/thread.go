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

package cluster

import (
	"fmt"

	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/logger"
)

// NewChildThreadFactory returns a factory re-executing executable as worker threads. Every
// thread receives initData and finds its index in EnvThread
func NewChildThreadFactory(parentLogger logger.Logger,
	executable string,
	args []string,
	initData *envelope.InitData) ThreadFactory {

	return func(index int, id string) Thread {
		return child.NewProcess(parentLogger, &child.Configuration{
			ID:         id,
			Executable: executable,
			Args:       args,
			Env:        []string{fmt.Sprintf("%s=%d", EnvThread, index)},
			UID:        -1,
			GID:        -1,
			InitData:   initData,
		})
	}
}

// thread is a thread handle plus its load balancing state
type thread struct {
	index    int
	handle   Thread
	active   int
	lastUsed int64
}
