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

package processwaiter

import (
	"os"
	"syscall"
	"time"

	"github.com/nuclio/errors"
)

var ErrTimeout = errors.New("Timed out waiting for process to exit")
var ErrCancelled = errors.New("Wait for process cancelled")

type WaitResult struct {
	ProcessState *os.ProcessState
	Err          error
}

// ExitCode returns the exit code, or -1 when the process was killed by a signal
func (wr *WaitResult) ExitCode() int {
	if wr.ProcessState == nil {
		return -1
	}

	return wr.ProcessState.ExitCode()
}

// Signal returns the name of the signal that terminated the process, or empty
func (wr *WaitResult) Signal() string {
	if wr.ProcessState == nil {
		return ""
	}

	waitStatus, ok := wr.ProcessState.Sys().(syscall.WaitStatus)
	if !ok || !waitStatus.Signaled() {
		return ""
	}

	return waitStatus.Signal().String()
}

type ProcessWaiter struct {
	resultChan chan WaitResult
	cancelChan chan struct{}
}

func NewProcessWaiter() (*ProcessWaiter, error) {
	return &ProcessWaiter{
		resultChan: make(chan WaitResult, 1),
		cancelChan: make(chan struct{}, 1),
	}, nil
}

// Wait blocks on the process in the background. The result channel yields exactly one result:
// the process state, ErrTimeout if timeout elapsed first, or ErrCancelled
func (pw *ProcessWaiter) Wait(process *os.Process, timeout *time.Duration) <-chan WaitResult {
	var timeoutChan <-chan time.Time

	if timeout != nil {
		timeoutChan = time.After(*timeout)
	}

	processExitedChan := make(chan WaitResult, 1)

	go func() {

		// terminates only when the process terminates
		go pw.waitForProcess(process, processExitedChan)

		select {
		case <-timeoutChan:
			pw.resultChan <- WaitResult{nil, ErrTimeout}
		case waitResult := <-processExitedChan:

			// prefer cancellation if both happened together
			select {
			case <-pw.cancelChan:
				pw.resultChan <- WaitResult{nil, ErrCancelled}
			default:
				pw.resultChan <- waitResult
			}
		case <-pw.cancelChan:
			pw.resultChan <- WaitResult{nil, ErrCancelled}
		}
	}()

	return pw.resultChan
}

func (pw *ProcessWaiter) Cancel() error {
	select {
	case pw.cancelChan <- struct{}{}:
	default:
		// already cancelled
	}

	return nil
}

func (pw *ProcessWaiter) waitForProcess(process *os.Process, processExitedChan chan WaitResult) {
	processState, err := process.Wait()
	processExitedChan <- WaitResult{processState, err}
	close(processExitedChan)
}
