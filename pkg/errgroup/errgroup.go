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

package errgroup

import (
	"context"
	"runtime/debug"

	"github.com/nuclio/radon/pkg/common"

	"github.com/nuclio/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultErrgroupConcurrency bounds fan-outs whose caller did not ask for a specific limit
const DefaultErrgroupConcurrency = 10

// Group is an errgroup that logs (and converts to errors) panics raised by its goroutines
type Group struct {
	*errgroup.Group
	logger logger.Logger
}

// WithContext returns a group bound to ctx. concurrency <= 0 means DefaultErrgroupConcurrency
func WithContext(ctx context.Context, loggerInstance logger.Logger, concurrency int) (*Group, context.Context) {
	baseGroup, groupCtx := errgroup.WithContext(ctx)

	if concurrency <= 0 {
		concurrency = DefaultErrgroupConcurrency
	}
	baseGroup.SetLimit(concurrency)

	return &Group{
		Group:  baseGroup,
		logger: loggerInstance,
	}, groupCtx
}

// Go runs f in its own goroutine. actionName identifies f in panic logs
func (g *Group) Go(actionName string, f func() error) {
	g.Group.Go(func() (err error) {
		defer func() {
			if recoveredErr := recover(); recoveredErr != nil {
				common.LogPanic(g.logger, actionName, nil, debug.Stack(), recoveredErr)
				err = common.ErrorFromRecoveredError(recoveredErr)
			}
		}()

		return f()
	})
}
