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

package child

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/processwaiter"
	"github.com/nuclio/radon/pkg/transport/channel"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// FrameHandler handles the frames of one kind a child sends
type FrameHandler func(frame *envelope.Frame) error

// Process is a supervised child process. It is spawned with a pipe the child reads as
// descriptor 3 and one it writes as descriptor 4, and restarted on exit while its status
// is StatusRunAuto
type Process struct {
	logger        logger.Logger
	configuration *Configuration
	codec         codec.Codec

	lock      sync.Mutex
	status    Status
	cmd       *exec.Cmd
	channel   *channel.Channel
	cancelRun context.CancelFunc
	started   int
	startedAt time.Time
	exits     []envelope.ExitRecord
	handlers  map[string]FrameHandler
	waiters   map[string][]chan *envelope.Frame
}

// NewProcess creates a child handle. Nothing is spawned until Start
func NewProcess(parentLogger logger.Logger, configuration *Configuration) *Process {
	if configuration.RestartDelay == 0 {
		configuration.RestartDelay = defaultRestartDelay
	}

	return &Process{
		logger:        parentLogger.GetChild(configuration.ID),
		configuration: configuration,
		codec:         codec.NewMsgPack(),
		status:        StatusStop,
		handlers:      map[string]FrameHandler{},
		waiters:       map[string][]chan *envelope.Frame{},
	}
}

// ID returns the "<group>.<process>" id of the child
func (p *Process) ID() string {
	return p.configuration.ID
}

// On sets the handler of the frames of kind the child sends
func (p *Process) On(kind string, handler FrameHandler) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.handlers[kind] = handler
}

// Once returns a channel yielding the next frame of kind, or the next exit for EventExit
func (p *Process) Once(kind string) <-chan *envelope.Frame {
	waiter := make(chan *envelope.Frame, 1)

	p.lock.Lock()
	defer p.lock.Unlock()

	p.waiters[kind] = append(p.waiters[kind], waiter)
	return waiter
}

// Start spawns the child and sends it its init frame. autoRestart selects between
// StatusRunAuto and StatusRunOnce
func (p *Process) Start(autoRestart bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cmd != nil {
		return errors.Errorf("Child %s is already running (pid %d)", p.configuration.ID, p.cmd.Process.Pid)
	}

	if autoRestart {
		p.status = StatusRunAuto
	} else {
		p.status = StatusRunOnce
	}

	return p.spawn()
}

// StartAndWait starts the child and waits for its inited frame. The child is not restarted
// before it first reports inited; an exit before that fails with a worker exited error
func (p *Process) StartAndWait(ctx context.Context, autoRestart bool) error {
	initedChan := p.Once(envelope.KindInited)
	exitChan := p.Once(EventExit)

	if err := p.Start(false); err != nil {
		return err
	}

	select {
	case <-initedChan:
		p.SetAutoRestart(autoRestart)
		return nil
	case frame := <-exitChan:
		exitRecord := &envelope.ExitRecord{}
		if err := frame.Decode(p.codec, exitRecord); err != nil {
			return errors.Wrap(err, "Failed to decode exit record")
		}

		return errorcode.New(errorcode.WorkerExited, exitRecord.Pid, exitRecord.Code, exitRecord.Signal)
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "Timed out waiting for %s to start", p.configuration.ID)
	}
}

// SetAutoRestart switches a running child between StatusRunAuto and StatusRunOnce
func (p *Process) SetAutoRestart(autoRestart bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	switch {
	case autoRestart && p.status == StatusRunOnce:
		p.status = StatusRunAuto
	case !autoRestart && p.status == StatusRunAuto:
		p.status = StatusRunOnce
	}
}

// Stop marks the child stopped, so it is not restarted, and signals it
func (p *Process) Stop(signal os.Signal) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.status = StatusStop

	if p.cmd == nil {
		return nil
	}

	if err := p.cmd.Process.Signal(signal); err != nil {
		return errors.Wrapf(err, "Failed to signal %s", p.configuration.ID)
	}

	return nil
}

// Send sends a frame of kind to the child
func (p *Process) Send(kind string, payload interface{}) error {
	currentChannel := p.getChannel()
	if currentChannel == nil {
		return errors.Errorf("Child %s is not running", p.configuration.ID)
	}

	return currentChannel.Send(kind, payload)
}

// SendMessage sends an ipc message to the child
func (p *Process) SendMessage(message *envelope.Message) error {
	return p.Send(envelope.KindIPC, message)
}

// SendSystem sends a system command to the child
func (p *Process) SendSystem(command string, param string) error {
	return p.Send(envelope.KindSystem, &envelope.SystemCommand{Command: command, Param: param})
}

// Pid returns the pid of the running child, or 0
func (p *Process) Pid() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cmd == nil {
		return 0
	}

	return p.cmd.Process.Pid
}

// IsRunning returns true while the child process exists
func (p *Process) IsRunning() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.cmd != nil && p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Status returns the run mode of the child
func (p *Process) Status() Status {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.status
}

// ExitLog returns the recent exits of the child, newest first
func (p *Process) ExitLog() []envelope.ExitRecord {
	p.lock.Lock()
	defer p.lock.Unlock()

	return append([]envelope.ExitRecord{}, p.exits...)
}

// Snapshot describes the child
func (p *Process) Snapshot() *Snapshot {
	p.lock.Lock()
	defer p.lock.Unlock()

	snapshot := &Snapshot{
		ID:        p.configuration.ID,
		Status:    p.status,
		Started:   p.started,
		StartedAt: p.startedAt,
		Exits:     append([]envelope.ExitRecord{}, p.exits...),
	}

	if p.cmd != nil {
		snapshot.Pid = p.cmd.Process.Pid
	}

	return snapshot
}

// spawn starts the child process. Called with the lock held
func (p *Process) spawn() error {
	childRead, parentWrite, err := os.Pipe()
	if err != nil {
		return errors.Wrap(err, "Failed to create child input pipe")
	}

	parentRead, childWrite, err := os.Pipe()
	if err != nil {
		childRead.Close()   // nolint: errcheck
		parentWrite.Close() // nolint: errcheck
		return errors.Wrap(err, "Failed to create child output pipe")
	}

	cmd := exec.Command(p.configuration.Executable, p.configuration.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = p.configuration.Dir
	cmd.Env = append(append(os.Environ(), p.configuration.Env...), fmt.Sprintf("%s=%s", EnvID, p.configuration.ID))

	// ExtraFiles[i] becomes descriptor 3+i in the child
	cmd.ExtraFiles = []*os.File{childRead, childWrite}

	if p.configuration.UID >= 0 || p.configuration.GID >= 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: p.credential()}
	}

	if err := cmd.Start(); err != nil {
		for _, file := range []*os.File{childRead, childWrite, parentRead, parentWrite} {
			file.Close() // nolint: errcheck
		}

		return errors.Wrapf(err, "Failed to spawn %s", p.configuration.Executable)
	}

	// the child holds its own copies now
	childRead.Close()  // nolint: errcheck
	childWrite.Close() // nolint: errcheck

	p.cmd = cmd
	p.started++
	p.startedAt = time.Now()
	p.channel = channel.New(p.logger, p.codec, parentRead, parentWrite, p.handleFrame)

	runCtx, cancelRun := context.WithCancel(context.Background())
	p.cancelRun = cancelRun

	go func(frameChannel *channel.Channel) {
		if err := frameChannel.Run(runCtx); err != nil && runCtx.Err() == nil {
			p.logger.WarnWith("Child channel failed", "err", err.Error())
		}
	}(p.channel)

	go p.watch(cmd, p.channel)

	p.logger.DebugWith("Child started", "pid", cmd.Process.Pid, "executable", p.configuration.Executable)

	if p.configuration.InitData != nil {
		if err := p.channel.Send(envelope.KindInit, p.configuration.InitData); err != nil {
			return errors.Wrap(err, "Failed to send init frame")
		}
	}

	return nil
}

func (p *Process) credential() *syscall.Credential {
	credential := &syscall.Credential{
		Uid: uint32(os.Getuid()),
		Gid: uint32(os.Getgid()),
	}

	if p.configuration.UID >= 0 {
		credential.Uid = uint32(p.configuration.UID)
	}

	if p.configuration.GID >= 0 {
		credential.Gid = uint32(p.configuration.GID)
	}

	return credential
}

// watch waits for the child to exit, records the exit and restarts it when asked to
func (p *Process) watch(cmd *exec.Cmd, frameChannel *channel.Channel) {
	waiter, _ := processwaiter.NewProcessWaiter()
	result := <-waiter.Wait(cmd.Process, nil)

	exitRecord := envelope.ExitRecord{
		Timestamp: time.Now().UnixMilli(),
		Pid:       cmd.Process.Pid,
		Code:      result.ExitCode(),
		Signal:    result.Signal(),
	}

	p.lock.Lock()
	p.exits = append([]envelope.ExitRecord{exitRecord}, p.exits...)
	if len(p.exits) > exitLogSize {
		p.exits = p.exits[:exitLogSize]
	}

	p.cmd = nil
	p.channel = nil
	if p.cancelRun != nil {
		p.cancelRun()
	}
	restart := p.status == StatusRunAuto
	if !restart {
		p.status = StatusStop
	}
	p.lock.Unlock()

	frameChannel.Close() // nolint: errcheck

	p.logger.WarnWith("Child exited",
		"pid", exitRecord.Pid,
		"code", exitRecord.Code,
		"signal", exitRecord.Signal,
		"restart", restart)

	if exitFrame, err := envelope.NewFrame(p.codec, EventExit, &exitRecord); err == nil {
		if err := p.handleFrame(exitFrame); err != nil {
			p.logger.WarnWith("Exit handler failed", "err", err.Error())
		}
	}

	if !restart {
		return
	}

	time.Sleep(p.configuration.RestartDelay)

	err := common.RetryUntilSuccessful(10*p.configuration.RestartDelay, p.configuration.RestartDelay, func() bool {
		p.lock.Lock()
		defer p.lock.Unlock()

		// stopped or restarted meanwhile
		if p.status != StatusRunAuto || p.cmd != nil {
			return true
		}

		if err := p.spawn(); err != nil {
			p.logger.WarnWith("Failed to restart child", "err", errors.RootCause(err).Error())
			return false
		}

		return true
	})

	if err != nil {
		p.logger.ErrorWith("Gave up restarting child", "id", p.configuration.ID)
	}
}

func (p *Process) handleFrame(frame *envelope.Frame) error {
	p.notify(frame)

	p.lock.Lock()
	handler, found := p.handlers[frame.Kind]
	p.lock.Unlock()

	if !found {
		return nil
	}

	return handler(frame)
}

// notify hands frame to the Once waiters of its kind
func (p *Process) notify(frame *envelope.Frame) {
	p.lock.Lock()
	waiters := p.waiters[frame.Kind]
	delete(p.waiters, frame.Kind)
	p.lock.Unlock()

	for _, waiter := range waiters {
		waiter <- frame
	}
}

func (p *Process) getChannel() *channel.Channel {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.channel
}
