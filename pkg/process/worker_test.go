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

package process

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/process/status"
	"github.com/nuclio/radon/pkg/registry"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

const processName = "backend"

// testModule records what happens to it
type testModule struct {
	generation int
	events     map[string]module.Handler
	before     module.Handler
	after      module.Handler

	lock     sync.Mutex
	unloaded []string
	previous module.Module
}

func (m *testModule) Events() map[string]module.Handler {
	return m.events
}

func (m *testModule) Init(ctx context.Context, moduleContext *module.Context) error {
	m.previous = moduleContext.Previous
	return nil
}

func (m *testModule) Unload(ctx context.Context, reason string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.unloaded = append(m.unloaded, reason)
	return nil
}

func (m *testModule) unloadReasons() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]string{}, m.unloaded...)
}

// interceptingModule adds before and after actions
type interceptingModule struct {
	*testModule
}

func (m *interceptingModule) BeforeAction(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {
	return m.before(ctx, request, response)
}

func (m *interceptingModule) AfterAction(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {
	return m.after(ctx, request, response)
}

type recordingParent struct {
	lock sync.Mutex
	sent []string
	pids []interface{}
}

func (p *recordingParent) Send(kind string, payload interface{}) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.sent = append(p.sent, kind)
	p.pids = append(p.pids, payload)
	return nil
}

func (p *recordingParent) kinds() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	return append([]string{}, p.sent...)
}

type WorkerTestSuite struct {
	suite.Suite
	logger    logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	registry  *module.Registry
	parent    *recordingParent
	manager   *transport.Manager
	worker    *Worker
	exitCodes chan int
	instances []*testModule
	newModule func(generation int) *testModule
	lock      sync.Mutex
}

func (suite *WorkerTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	suite.parent = &recordingParent{}
	suite.exitCodes = make(chan int, 1)
	suite.instances = nil
	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"get": func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
					return transport.Reply(map[string]interface{}{"generation": generation}), nil
				},
			},
		}
	}

	suite.registry = &module.Registry{Registry: *registry.NewRegistry("test")}
	suite.registry.Register("users", module.CreatorFunc(func(parentLogger logger.Logger,
		moduleConfiguration *config.Module) (module.Module, error) {
		suite.lock.Lock()
		defer suite.lock.Unlock()

		instance := suite.newModule(len(suite.instances) + 1)
		suite.instances = append(suite.instances, instance)

		if instance.before != nil {
			return &interceptingModule{testModule: instance}, nil
		}

		return instance, nil
	}))

	suite.manager, err = transport.NewManager(suite.logger, processName, &config.Transport{}, nil)
	suite.Require().NoError(err)
}

func (suite *WorkerTestSuite) TearDownTest() {
	suite.cancel()
	suite.manager.Stop()
}

func (suite *WorkerTestSuite) startWorker(groupFile *config.GroupFile, reader *config.Reader) {
	var err error

	suite.worker, err = NewWorker(suite.logger, &Configuration{
		Name:         processName,
		Pid:          4242,
		GroupFile:    groupFile,
		Reader:       reader,
		Manager:      suite.manager,
		Parent:       suite.parent,
		Registry:     suite.registry,
		Exit:         func(code int) { suite.exitCodes <- code },
		MemoryReader: func() (uint64, error) { return 1024, nil },
	})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.worker.Start(suite.ctx))
}

func (suite *WorkerTestSuite) startDefaultWorker(forceClear bool) {
	suite.startWorker(&config.GroupFile{
		Radon: config.Radon{
			Processes: map[string]*config.Process{
				processName: {
					ForceClear: forceClear,
					Modules:    []config.Module{{Name: "users"}},
				},
			},
		},
	}, nil)
}

func (suite *WorkerTestSuite) request(moduleName string, eventName string) (interface{}, error) {
	header := envelope.NewHeader(envelope.ByProcess{
		Processes: envelope.Names{processName},
		Module:    moduleName,
		Event:     eventName,
	})

	return suite.manager.Request(suite.ctx, header, map[string]interface{}{"id": 1})
}

func (suite *WorkerTestSuite) send(moduleName string, eventName string) {
	header := envelope.NewHeader(envelope.ByProcess{
		Processes: envelope.Names{processName},
		Module:    moduleName,
		Event:     eventName,
	})

	suite.Require().NoError(suite.manager.Send(suite.ctx, header, nil))
}

// blockingEvents returns a handler that blocks until release is closed
func (suite *WorkerTestSuite) blockingHandler(release chan struct{}) module.Handler {
	return func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
		<-release
		return transport.Reply("released"), nil
	}
}

func (suite *WorkerTestSuite) waitJobs(jobs int) {
	suite.Require().Eventually(func() bool {
		return suite.worker.Snapshot().Jobs == jobs
	}, 5*time.Second, 5*time.Millisecond)
}

func (suite *WorkerTestSuite) TestRequestReply() {
	suite.startDefaultWorker(false)

	value, err := suite.request("users", "get")
	suite.Require().NoError(err)
	suite.Require().EqualValues(1, value.(map[string]interface{})["generation"])

	snapshot := suite.worker.Snapshot()
	suite.Require().Equal("RUNNING", snapshot.Status)
	suite.Require().EqualValues(1, snapshot.JobsCount)
	suite.Require().Equal(0, snapshot.Jobs)
	suite.Require().Equal([]string{"users"}, snapshot.Modules)
}

func (suite *WorkerTestSuite) TestNoHandler() {
	suite.startDefaultWorker(false)

	_, err := suite.request("users", "missing")
	suite.Require().True(errorcode.IsCode(err, errorcode.NoHandler))
	suite.Require().Contains(err.Error(), "backend.users:missing")
}

func (suite *WorkerTestSuite) TestDispatchOrder() {
	var order []string
	var orderLock sync.Mutex

	record := func(name string, outcome transport.Outcome) module.Handler {
		return func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
			orderLock.Lock()
			order = append(order, name)
			orderLock.Unlock()

			return outcome, nil
		}
	}

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"get": record("get", transport.Reply("got")),
				"*":   record("*", transport.NoReply),
			},
			before: record("before", transport.NoReply),
			after:  record("after", transport.NoReply),
		}
	}

	suite.startDefaultWorker(false)

	value, err := suite.request("users", "get")
	suite.Require().NoError(err)
	suite.Require().Equal("got", value)

	orderLock.Lock()
	defer orderLock.Unlock()

	// the before and after actions are bound to both #.*.x and #.users.x, only the latter matches
	suite.Require().Equal([]string{"before", "get", "*", "after"}, order)
}

func (suite *WorkerTestSuite) TestBeforeActionEndsDispatch() {
	called := false

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"get": func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
					called = true
					return transport.Reply("got"), nil
				},
			},
			before: func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
				return response.DoneWith("blocked"), nil
			},
			after: func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
				return transport.NoReply, nil
			},
		}
	}

	suite.startDefaultWorker(false)

	value, err := suite.request("users", "get")
	suite.Require().NoError(err)
	suite.Require().Equal("blocked", value)
	suite.Require().False(called)
}

func (suite *WorkerTestSuite) TestHandlerError() {
	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"get": func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
					return transport.NoReply, errorcode.New(errorcode.NoRoute, "x")
				},
			},
		}
	}

	suite.startDefaultWorker(false)

	_, err := suite.request("users", "get")
	suite.Require().True(errorcode.IsCode(err, errorcode.NoRoute))
}

func (suite *WorkerTestSuite) TestGracefulDrain() {
	release := make(chan struct{})

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"block": suite.blockingHandler(release),
			},
		}
	}

	suite.startDefaultWorker(false)

	for jobIndex := 0; jobIndex < 3; jobIndex++ {
		suite.send("users", "block")
	}

	suite.waitJobs(3)

	suite.Require().Equal(3, suite.worker.StatusCallback(CommandClear, nil))
	suite.Require().Equal(status.Clearing, suite.worker.GetStatus())
	suite.Require().Equal([]string{"CLEARING"}, suite.instances[0].unloadReasons())
	suite.Require().Empty(suite.parent.kinds())

	close(release)

	suite.Require().Eventually(func() bool {
		return suite.worker.GetStatus() == status.Cleared
	}, 5*time.Second, 5*time.Millisecond)

	suite.Require().Equal([]string{envelope.KindClear}, suite.parent.kinds())
	suite.Require().Equal(4242, suite.parent.pids[0])
}

func (suite *WorkerTestSuite) TestStopIdle() {
	suite.startDefaultWorker(false)

	suite.Require().Equal(true, suite.worker.StatusCallback(CommandStop, nil))

	select {
	case code := <-suite.exitCodes:
		suite.Require().Equal(0, code)
	case <-time.After(5 * time.Second):
		suite.Fail("Worker did not exit")
	}

	suite.Require().Equal(status.Stopped, suite.worker.GetStatus())
	suite.Require().Equal([]string{"STOPPING", "STOPPED"}, suite.instances[0].unloadReasons())
}

func (suite *WorkerTestSuite) TestStoppingRejectsJobs() {
	release := make(chan struct{})

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"block": suite.blockingHandler(release),
				"get": func(ctx context.Context, request *transport.Request, response *transport.Response) (transport.Outcome, error) {
					return transport.Reply("got"), nil
				},
			},
		}
	}

	suite.startDefaultWorker(false)

	suite.send("users", "block")
	suite.waitJobs(1)

	suite.worker.Stop()
	suite.Require().Equal(status.Stopping, suite.worker.GetStatus())

	_, err := suite.request("users", "get")
	suite.Require().True(errorcode.IsCode(err, errorcode.ProcessClosing))

	close(release)

	select {
	case code := <-suite.exitCodes:
		suite.Require().Equal(0, code)
	case <-time.After(5 * time.Second):
		suite.Fail("Worker did not exit")
	}
}

func (suite *WorkerTestSuite) TestForceClear() {
	release := make(chan struct{})
	defer close(release)

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"block": suite.blockingHandler(release),
			},
		}
	}

	suite.startDefaultWorker(true)

	errs := make(chan error, 1)
	go func() {
		_, err := suite.request("users", "block")
		errs <- err
	}()

	suite.waitJobs(1)
	suite.worker.Clear()

	select {
	case err := <-errs:
		suite.Require().True(errorcode.IsCode(err, errorcode.ForceEnd))
	case <-time.After(5 * time.Second):
		suite.Fail("Request was not force ended")
	}

	// a force clearing process does not wait for its jobs
	suite.Require().Equal(status.Cleared, suite.worker.GetStatus())
	suite.Require().Equal([]string{envelope.KindClear}, suite.parent.kinds())
}

func (suite *WorkerTestSuite) TestReload() {
	tempDir := suite.T().TempDir()
	groupFilePath := filepath.Join(tempDir, "group.yaml")
	suite.Require().NoError(os.WriteFile(groupFilePath, []byte(`
radon:
  process_file: worker.sh
  processes:
    backend:
      modules:
      - name: users
`), 0644))

	reader := config.NewReader()
	groupFile, err := reader.ReadGroupFile(groupFilePath)
	suite.Require().NoError(err)

	suite.startWorker(groupFile, reader)

	value, err := suite.request("users", "get")
	suite.Require().NoError(err)
	suite.Require().EqualValues(1, value.(map[string]interface{})["generation"])

	suite.worker.OnSystemCommand(suite.ctx, &envelope.SystemCommand{Command: envelope.SystemReload})

	value, err = suite.request("users", "get")
	suite.Require().NoError(err)
	suite.Require().EqualValues(2, value.(map[string]interface{})["generation"])

	suite.Require().Same(suite.instances[0], suite.instances[1].previous)
	suite.Require().Eventually(func() bool {
		reasons := suite.instances[0].unloadReasons()
		return len(reasons) == 1 && reasons[0] == module.ReasonReload
	}, 5*time.Second, 5*time.Millisecond)

	suite.Require().Empty(suite.instances[1].unloadReasons())
}

func (suite *WorkerTestSuite) TestStatusCallbackUnknown() {
	suite.startDefaultWorker(false)

	suite.Require().Equal(false, suite.worker.StatusCallback("dance", nil))
}

func (suite *WorkerTestSuite) TestInflightTrace() {
	release := make(chan struct{})

	suite.newModule = func(generation int) *testModule {
		return &testModule{
			events: map[string]module.Handler{
				"block": suite.blockingHandler(release),
			},
		}
	}

	suite.startDefaultWorker(false)

	go suite.request("users", "block") // nolint: errcheck
	suite.waitJobs(1)

	snapshot := suite.worker.Snapshot()
	suite.Require().Len(snapshot.ReqTask, 1)
	for _, trace := range snapshot.ReqTask {
		suite.Require().Equal("users/block", trace.Target)
	}

	close(release)
	suite.waitJobs(0)
	suite.Require().Empty(suite.worker.Snapshot().ReqTask)
}

func (suite *WorkerTestSuite) TestSingleModeConfiguration() {
	groupFile := &config.GroupFile{
		Radon: config.Radon{
			Processes: map[string]*config.Process{
				"b": {Modules: []config.Module{{Name: "second"}}},
				"a": {Modules: []config.Module{{Name: "first"}}},
			},
		},
	}

	processConfiguration, found := ProcessConfiguration(groupFile, envelope.SingleModeProcess, true)
	suite.Require().True(found)
	suite.Require().True(processConfiguration.ForceClear)
	suite.Require().Equal([]config.Module{{Name: "first"}, {Name: "second"}}, processConfiguration.Modules)

	_, found = ProcessConfiguration(groupFile, "c", false)
	suite.Require().False(found)
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}
