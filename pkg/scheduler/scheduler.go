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

package scheduler

import (
	"context"
	"runtime"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/transport/abort"

	"github.com/nuclio/logger"
)

// DefaultClock is the longest a task may run between suspensions before a checkpoint yields
const DefaultClock = 30 * time.Millisecond

// ValueRequest is the context value holding the request a task serves
const ValueRequest = "request"

type taskContextKey struct{}

// Abortable is a request that can be cancelled by an abort signal
type Abortable interface {
	AbortKey() string
	AbortRef() string
	IsSent() bool
}

// Values is the call context of a task frame
type Values map[string]interface{}

// Body is the code a task runs
type Body func(task *Task) (interface{}, error)

// Scheduler runs task bodies on goroutines and drives their checkpoints
type Scheduler struct {
	logger logger.Logger
	aborts *abort.Registry
	clock  time.Duration
	now    func() time.Time
}

// New creates a scheduler. aborts may be nil, in which case checkpoints never cancel
func New(parentLogger logger.Logger, aborts *abort.Registry, clock time.Duration) *Scheduler {
	if clock <= 0 {
		clock = DefaultClock
	}

	return &Scheduler{
		logger: parentLogger.GetChild("scheduler"),
		aborts: aborts,
		clock:  clock,
		now:    time.Now,
	}
}

// Go runs body as a new task with values as its call context. The returned future
// settles with the body's result; a panic rejects it
func (s *Scheduler) Go(ctx context.Context, values Values, body Body) *Future {
	future := NewFuture()

	if values == nil {
		values = Values{}
	}

	task := &Task{
		scheduler:   s,
		frames:      []Values{values},
		lastSuspend: s.now(),
	}
	task.ctx = context.WithValue(ctx, taskContextKey{}, task)

	go func() {
		var result interface{}

		err := common.CatchAndLogPanic(s.logger, "running task", func() error {
			var bodyErr error

			result, bodyErr = body(task)
			return bodyErr
		})

		if err != nil {
			future.Reject(err)
			return
		}

		future.Resolve(result)
	}()

	return future
}

// Task is one running body with its stack of call context frames
type Task struct {
	scheduler   *Scheduler
	ctx         context.Context
	frames      []Values
	lastSuspend time.Time
}

// TaskFromContext returns the task running with ctx, if any
func TaskFromContext(ctx context.Context) *Task {
	task, _ := ctx.Value(taskContextKey{}).(*Task)
	return task
}

// Await suspends until future settles, on the task in ctx when there is one
func Await(ctx context.Context, future *Future) (interface{}, error) {
	if task := TaskFromContext(ctx); task != nil {
		return task.Await(future)
	}

	return future.Wait(ctx)
}

// Checkpoint runs the checkpoint of the task in ctx. Code not running in a task never
// observes cancellation
func Checkpoint(ctx context.Context) error {
	if task := TaskFromContext(ctx); task != nil {
		return task.Checkpoint()
	}

	return nil
}

// Context returns the context the task runs with
func (t *Task) Context() context.Context {
	return t.ctx
}

// Values returns the current frame's call context
func (t *Task) Values() Values {
	return t.frames[len(t.frames)-1]
}

// SetValues replaces the current frame's call context
func (t *Task) SetValues(values Values) {
	t.frames[len(t.frames)-1] = values
}

// Value returns a value of the current call context
func (t *Task) Value(key string) interface{} {
	return t.Values()[key]
}

// SetValue sets a value in the current call context, which nested frames share
func (t *Task) SetValue(key string, value interface{}) {
	t.Values()[key] = value
}

// Await suspends the task until future settles
func (t *Task) Await(future *Future) (interface{}, error) {
	values := t.Values()
	defer func() {
		t.SetValues(values)
		t.lastSuspend = t.scheduler.now()
	}()

	return future.Wait(t.ctx)
}

// Call runs body in a nested frame that starts with the caller's call context. The
// caller's context is restored when body returns
func (t *Task) Call(body Body) (interface{}, error) {
	t.frames = append(t.frames, t.Values())
	defer func() {
		t.frames = t.frames[:len(t.frames)-1]
	}()

	return body(t)
}

// Depth returns the number of frames on the task's stack
func (t *Task) Depth() int {
	return len(t.frames)
}

// Checkpoint yields when the task ran longer than the scheduler clock since its last
// suspension. On yielding it consumes a pending abort signal of the request the task
// serves and returns a cancellation error, unless the request was already replied
func (t *Task) Checkpoint() error {
	now := t.scheduler.now()
	if now.Sub(t.lastSuspend) < t.scheduler.clock {
		return nil
	}

	runtime.Gosched()
	t.lastSuspend = t.scheduler.now()

	if t.scheduler.aborts == nil {
		return nil
	}

	request, isAbortable := t.Value(ValueRequest).(Abortable)
	if !isAbortable || request.IsSent() {
		return nil
	}

	if t.scheduler.aborts.Consume(request.AbortKey()) {
		return errorcode.New(errorcode.Aborted, request.AbortRef())
	}

	select {
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
	}

	return nil
}
