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

package runner

import (
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process/node"
)

// Configuration of a runner
type Configuration struct {
	Node   *node.Node
	Reader *config.Reader

	// how to re-execute this binary as a thread of a cluster
	Executable string
	Args       []string

	// index of this process within its cluster, 0 when it is not a thread
	ThreadIndex int

	Pid  int
	Exit func(code int)
}
