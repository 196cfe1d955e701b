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

package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/registry"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

const processName = "sessions"

type nopParent struct{}

func (p *nopParent) Send(kind string, payload interface{}) error {
	return nil
}

type SessionTestSuite struct {
	suite.Suite
	logger  logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	manager *transport.Manager
	service *Service
}

func (suite *SessionTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 10*time.Second)

	moduleRegistry := &module.Registry{Registry: *registry.NewRegistry("test")}
	moduleRegistry.Register("session", module.CreatorFunc(func(parentLogger logger.Logger,
		moduleConfiguration *config.Module) (module.Module, error) {
		suite.service, err = NewService(parentLogger, moduleConfiguration)
		return suite.service, err
	}))

	suite.manager, err = transport.NewManager(suite.logger,
		processName,
		&config.Transport{Session: "session@" + processName},
		nil)
	suite.Require().NoError(err)

	worker, err := process.NewWorker(suite.logger, &process.Configuration{
		Name: processName,
		Pid:  1,
		GroupFile: &config.GroupFile{
			Radon: config.Radon{
				Processes: map[string]*config.Process{
					processName: {
						Modules: []config.Module{{
							Name:   "session",
							Config: map[string]interface{}{"timeout": 60, "token_size": 10},
						}},
					},
				},
			},
		},
		Manager:      suite.manager,
		Parent:       &nopParent{},
		Registry:     moduleRegistry,
		Exit:         func(code int) {},
		MemoryReader: func() (uint64, error) { return 0, nil },
	})
	suite.Require().NoError(err)
	suite.Require().NoError(worker.Start(suite.ctx))
}

func (suite *SessionTestSuite) TearDownTest() {
	suite.cancel()
	suite.manager.Stop()

	if suite.service != nil {
		suite.Require().NoError(suite.service.Unload(context.Background(), "stopped"))
	}
}

func (suite *SessionTestSuite) TestRegisterAndGet() {
	registered := suite.registerSession(map[string]interface{}{"user": "joe"})
	suite.Require().EqualValues(1, registered["sid"])
	suite.Require().Len(registered["token"], 11)
	suite.Require().Equal(map[string]interface{}{"user": "joe"}, registered["data"])

	byToken, err := suite.manager.GetSessionByToken(suite.ctx, registered["token"].(string))
	suite.Require().NoError(err)
	suite.Require().EqualValues(1, byToken.(map[string]interface{})["sid"])

	byID, err := suite.manager.GetSessionByID(suite.ctx, 1)
	suite.Require().NoError(err)
	suite.Require().Equal(registered["token"], byID.(map[string]interface{})["token"])

	missing, err := suite.manager.GetSessionByID(suite.ctx, 99)
	suite.Require().NoError(err)
	suite.Require().Nil(missing)

	missing, err = suite.manager.GetSessionByToken(suite.ctx, "nope")
	suite.Require().NoError(err)
	suite.Require().Nil(missing)
}

func (suite *SessionTestSuite) TestTouchAndRemove() {
	suite.registerSession("data")

	for _, testCase := range []struct {
		call     func() (interface{}, error)
		expected bool
	}{
		{call: func() (interface{}, error) { return suite.manager.TouchSession(suite.ctx, 1) }, expected: true},
		{call: func() (interface{}, error) { return suite.manager.TouchSession(suite.ctx, 2) }, expected: false},
		{call: func() (interface{}, error) { return suite.manager.RemoveSession(suite.ctx, 1) }, expected: true},
		{call: func() (interface{}, error) { return suite.manager.RemoveSession(suite.ctx, 1) }, expected: false},
		{call: func() (interface{}, error) { return suite.manager.TouchSession(suite.ctx, 1) }, expected: false},
	} {
		result, err := testCase.call()
		suite.Require().NoError(err)
		suite.Require().Equal(testCase.expected, result)
	}
}

func (suite *SessionTestSuite) TestUpdate() {
	suite.registerSession(map[string]interface{}{"user": "joe"})

	updated, err := suite.manager.UpdateSession(suite.ctx, &transport.SessionUpdate{ID: 1, Key: "cart", Value: 3, Argc: 2})
	suite.Require().NoError(err)
	suite.Require().Equal(true, updated)
	data := suite.sessionData(1).(map[string]interface{})
	suite.Require().Equal("joe", data["user"])
	suite.Require().EqualValues(3, data["cart"])

	// a single argument replaces the data
	_, err = suite.manager.UpdateSession(suite.ctx, &transport.SessionUpdate{ID: 1, Key: "replaced", Argc: 1})
	suite.Require().NoError(err)
	suite.Require().Equal("replaced", suite.sessionData(1))

	updated, err = suite.manager.UpdateSession(suite.ctx, &transport.SessionUpdate{ID: 7, Key: "k", Value: "v", Argc: 2})
	suite.Require().NoError(err)
	suite.Require().Equal(false, updated)

	// create makes a session under a new id when none is given
	created, err := suite.manager.CreateSession(suite.ctx, &transport.SessionUpdate{Key: "k", Value: "v", Argc: 2})
	suite.Require().NoError(err)
	suite.Require().EqualValues(2, created.(map[string]interface{})["sid"])
	suite.Require().Equal(map[string]interface{}{"k": "v"}, suite.sessionData(2))

	// and under the given one otherwise
	created, err = suite.manager.CreateSession(suite.ctx, &transport.SessionUpdate{ID: 10, Key: "whole", Argc: 1})
	suite.Require().NoError(err)
	suite.Require().EqualValues(10, created.(map[string]interface{})["sid"])

	next := suite.registerSession(nil)
	suite.Require().EqualValues(11, next["sid"])
}

func (suite *SessionTestSuite) TestFindSession() {
	suite.registerSession(map[string]interface{}{"profile": map[string]interface{}{"name": "ann", "age": 30}})
	suite.registerSession(map[string]interface{}{"profile": map[string]interface{}{"name": "bob", "age": 30}})
	suite.registerSession("no profile")

	found, err := suite.manager.FindSession(suite.ctx, "profile.name", "ann")
	suite.Require().NoError(err)
	suite.Require().Len(found, 1)
	suite.Require().EqualValues(1, found.([]interface{})[0].(map[string]interface{})["sid"])

	found, err = suite.manager.FindSession(suite.ctx, "profile.age", 30)
	suite.Require().NoError(err)
	suite.Require().Len(found, 2)

	found, err = suite.manager.FindSession(suite.ctx, "profile.name", "carl")
	suite.Require().NoError(err)
	suite.Require().Empty(found)
}

func (suite *SessionTestSuite) TestListSessions() {
	for _, name := range []string{"ann", "bob", "carl"} {
		suite.registerSession(map[string]interface{}{
			"chat": map[string]interface{}{"name": name, "room": "lobby", "secret": 1},
		})
	}
	suite.registerSession(map[string]interface{}{"other": true})

	listed := suite.listSessions(map[string]interface{}{
		"namespace": "chat",
		"query":     map[string]interface{}{"name": "bob"},
		"fields":    []string{"name"},
	})
	suite.Require().EqualValues(1, listed["total"])
	suite.Require().Len(listed["items"], 1)

	item := listed["items"].([]interface{})[0].(map[string]interface{})
	suite.Require().Len(item, 2)
	suite.Require().Equal("bob", item["name"])
	suite.Require().EqualValues(2, item["_id"])

	listed = suite.listSessions(map[string]interface{}{"namespace": "chat", "page": 2, "size": 2})
	suite.Require().EqualValues(3, listed["total"])
	suite.Require().EqualValues(2, listed["page"])
	suite.Require().Len(listed["items"], 1)
	suite.Require().Equal("carl", listed["items"].([]interface{})[0].(map[string]interface{})["name"])

	_, err := suite.manager.Request(suite.ctx, suite.sessionHeader("listSessions"), map[string]interface{}{})
	suite.Require().Error(err)
	suite.Require().Contains(err.Error(), "namespace")
}

func (suite *SessionTestSuite) TestExpiry() {
	suite.registerSession("old")

	suite.service.now = func() time.Time { return time.Now().Add(30 * time.Second) }
	suite.registerSession("new")

	// 70 seconds on, only the session touched 30 seconds in is still alive
	suite.service.now = func() time.Time { return time.Now().Add(70 * time.Second) }
	suite.Require().Equal(1, suite.service.Sweep())

	missing, err := suite.manager.GetSessionByID(suite.ctx, 1)
	suite.Require().NoError(err)
	suite.Require().Nil(missing)

	alive, err := suite.manager.GetSessionByID(suite.ctx, 2)
	suite.Require().NoError(err)
	suite.Require().NotNil(alive)
}

func (suite *SessionTestSuite) TestStorage() {
	storagePath := filepath.Join(suite.T().TempDir(), "data", "sessions.bin")
	moduleConfiguration := &config.Module{
		Name: "session",
		Config: map[string]interface{}{
			"storage": map[string]interface{}{"path": storagePath},
		},
	}

	service, err := NewService(suite.logger, moduleConfiguration)
	suite.Require().NoError(err)
	suite.Require().NoError(service.Init(suite.ctx, &module.Context{GroupFile: &config.GroupFile{}}))

	first := service.store.register(map[string]interface{}{"user": "joe"}, DefaultTokenSize, service.nowMillis())
	service.store.register("expired", DefaultTokenSize, service.nowMillis()-int64(2*DefaultTimeout*1000))
	suite.Require().NoError(service.Unload(suite.ctx, "STOPPED"))

	restored, err := NewService(suite.logger, moduleConfiguration)
	suite.Require().NoError(err)
	suite.Require().NoError(restored.Init(suite.ctx, &module.Context{GroupFile: &config.GroupFile{}}))
	defer restored.Unload(suite.ctx, module.ReasonReload) // nolint: errcheck

	suite.Require().Equal(1, restored.store.count())
	suite.Require().Equal(first.Token, restored.store.getByID(first.ID).Token)
	suite.Require().Equal(map[string]interface{}{"user": "joe"}, restored.store.getByID(first.ID).Data)

	// ids continue after the highest loaded one
	suite.Require().EqualValues(2, restored.store.register(nil, DefaultTokenSize, restored.nowMillis()).ID)
}

func (suite *SessionTestSuite) TestReloadKeepsSessions() {
	suite.registerSession("kept")

	reloaded, err := NewService(suite.logger, &config.Module{Name: "session"})
	suite.Require().NoError(err)
	suite.Require().NoError(reloaded.Init(suite.ctx, &module.Context{
		GroupFile: &config.GroupFile{},
		Previous:  suite.service,
	}))
	defer reloaded.Unload(suite.ctx, module.ReasonReload) // nolint: errcheck

	suite.Require().Equal("kept", reloaded.store.getByID(1).Data)
}

func (suite *SessionTestSuite) registerSession(data interface{}) map[string]interface{} {
	registered, err := suite.manager.RegisterSession(suite.ctx, data)
	suite.Require().NoError(err)

	return registered.(map[string]interface{})
}

func (suite *SessionTestSuite) sessionData(sessionID int64) interface{} {
	session, err := suite.manager.GetSessionByID(suite.ctx, sessionID)
	suite.Require().NoError(err)

	return session.(map[string]interface{})["data"]
}

func (suite *SessionTestSuite) listSessions(query map[string]interface{}) map[string]interface{} {
	listed, err := suite.manager.Request(suite.ctx, suite.sessionHeader("listSessions"), query)
	suite.Require().NoError(err)

	return listed.(map[string]interface{})
}

func (suite *SessionTestSuite) sessionHeader(event string) *envelope.Header {
	return envelope.NewHeader(envelope.ByProcess{
		Processes: envelope.Names{processName},
		Module:    "session",
		Event:     event,
	})
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
