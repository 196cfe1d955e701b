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

package router

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/process"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type nopParent struct{}

func (p *nopParent) Send(kind string, payload interface{}) error {
	return nil
}

type RouterTestSuite struct {
	suite.Suite
	logger logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func (suite *RouterTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 10*time.Second)
}

func (suite *RouterTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *RouterTestSuite) TestRouteByURI() {
	router := suite.newRouter(map[string]interface{}{
		"rules": []interface{}{
			map[string]interface{}{
				"match":   `^/api/(\w+)/(\w+)$`,
				"process": "api",
				"module":  "{$1}",
				"event":   "{$2}",
			},
			map[string]interface{}{
				"uri":   "/static/",
				"route": "files@web1,web2:serve",
			},
			map[string]interface{}{
				"match":  `^/hosted/(\w+)$`,
				"module": "{$1}",
				"event":  "index",
			},
			map[string]interface{}{
				"uri":     "/",
				"process": "web1",
				"module":  "fallback",
			},
		},
	}, nil)

	for _, testCase := range []struct {
		name     string
		uri      string
		expected *Route
	}{
		{
			name:     "pattern with marks",
			uri:      "/api/users/list",
			expected: &Route{Process: []string{"api"}, Module: "users", Event: "list"},
		},
		{
			name:     "prefix with textual route",
			uri:      "/static/logo.png",
			expected: &Route{Process: []string{"web1", "web2"}, Module: "files", Event: "serve"},
		},
		{
			name:     "module of no process falls through",
			uri:      "/hosted/orders",
			expected: &Route{Process: []string{"web1"}, Module: "fallback"},
		},
	} {
		suite.Run(testCase.name, func() {
			route, err := router.GetRoute(&Query{URI: testCase.uri})
			suite.Require().NoError(err)
			suite.Require().Equal(testCase.expected, route)
		})
	}

	// once a process hosts the module, the rule resolves to it
	router.RegisterModules("backend", []string{"orders"})

	route, err := router.GetRoute(&Query{URI: "/hosted/orders"})
	suite.Require().NoError(err)
	suite.Require().Equal(&Route{Process: []string{"backend"}, Module: "orders", Event: "index"}, route)
}

func (suite *RouterTestSuite) TestRouteByGroup() {
	router := suite.newRouter(map[string]interface{}{
		"groups": map[string]interface{}{
			"front": []interface{}{"web1", "web2"},
			"back":  "worker",
		},
		"default_group": "web1",
	}, nil)

	route, err := router.GetRoute(&Query{Group: "front"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"web1", "web2"}, []string(route.Process))

	route, err = router.GetRoute(&Query{Group: "back"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"worker"}, []string(route.Process))

	route, err = router.GetRoute(&Query{Group: "unknown"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"web1"}, []string(route.Process))
}

func (suite *RouterTestSuite) TestResolutionOrder() {
	router := suite.newRouter(map[string]interface{}{
		"groups": map[string]interface{}{"front": "web1"},
		"rules": []interface{}{
			map[string]interface{}{"uri": "/", "process": "web2"},
		},
	}, nil)

	router.RegisterModules("api", []string{"users"})
	router.RegisterModules("api2", []string{"users", "orders"})

	// group first, then module, then uri
	route, err := router.GetRoute(&Query{Group: "front", Module: "users", URI: "/x"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"web1"}, []string(route.Process))

	route, err = router.GetRoute(&Query{Group: "missing", Module: "users", URI: "/x"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"api"}, []string(route.Process))

	route, err = router.GetRoute(&Query{Module: "orders"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"api2"}, []string(route.Process))

	route, err = router.GetRoute(&Query{Module: "missing", URI: "/x"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"web2"}, []string(route.Process))
}

func (suite *RouterTestSuite) TestNoRoute() {
	router := suite.newRouter(nil, nil)

	_, err := router.GetRoute(&Query{Module: "users"})
	suite.Require().True(errorcode.IsCode(err, errorcode.NoRoute))
	suite.Require().Contains(err.Error(), "users")

	_, err = router.GetRoute(&Query{})
	suite.Require().True(errorcode.IsCode(err, errorcode.NoRoute))
}

func (suite *RouterTestSuite) TestRegistrySurvivesReload() {
	router := suite.newRouter(nil, nil)
	router.RegisterModules("api", []string{"users"})

	reloaded := NewRouter(suite.logger, &config.Module{Name: "router"})
	suite.Require().NoError(reloaded.Init(suite.ctx, &module.Context{
		GroupFile: &config.GroupFile{},
		Previous:  router,
	}))

	suite.Require().Equal(map[string][]string{"api": {"users"}}, reloaded.Modules())

	// re-registering replaces the module list
	reloaded.RegisterModules("api", []string{"orders"})
	suite.Require().Equal(map[string][]string{"api": {"orders"}}, reloaded.Modules())
}

func (suite *RouterTestSuite) TestConfigurationSources() {
	tempDir := suite.T().TempDir()
	suite.Require().NoError(os.WriteFile(filepath.Join(tempDir, "routes.yaml"), []byte(`
rules:
  - uri: /file
    process: from-file
`), 0644))

	groupFile := &config.GroupFile{
		BaseDir: tempDir,
		Router: map[string]interface{}{
			"rules": []interface{}{
				map[string]interface{}{"uri": "/", "process": "from-group-file"},
			},
		},
	}

	// the group file's router section applies when the module has no config
	router := suite.newRouter(nil, groupFile)
	route, err := router.GetRoute(&Query{URI: "/file"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"from-group-file"}, []string(route.Process))

	router = suite.newRouter(map[string]interface{}{"router_file": "routes.yaml"}, groupFile)
	route, err = router.GetRoute(&Query{URI: "/file"})
	suite.Require().NoError(err)
	suite.Require().Equal([]string{"from-file"}, []string(route.Process))
}

func (suite *RouterTestSuite) TestInvalidRule() {
	for _, rule := range []map[string]interface{}{
		{"match": "(", "process": "web"},
		{"process": "web"},
	} {
		router := NewRouter(suite.logger, &config.Module{
			Name:   "router",
			Config: map[string]interface{}{"rules": []interface{}{rule}},
		})

		suite.Require().Error(router.Init(suite.ctx, &module.Context{GroupFile: &config.GroupFile{}}))
	}
}

func (suite *RouterTestSuite) TestServedByWorker() {
	manager, err := transport.NewManager(suite.logger, "backend", &config.Transport{Router: "router@backend"}, nil)
	suite.Require().NoError(err)
	defer manager.Stop()

	worker, err := process.NewWorker(suite.logger, &process.Configuration{
		Name: "backend",
		Pid:  1,
		GroupFile: &config.GroupFile{
			Radon: config.Radon{
				Processes: map[string]*config.Process{
					"backend": {
						Modules: []config.Module{{
							Name: "router",
							Config: map[string]interface{}{
								"rules": []interface{}{
									map[string]interface{}{"uri": "/status", "module": "router", "event": "getModules"},
								},
							},
						}},
					},
				},
			},
		},
		Manager:      manager,
		Parent:       &nopParent{},
		Registry:     &module.RegistrySingleton,
		Exit:         func(code int) {},
		MemoryReader: func() (uint64, error) { return 0, nil },
	})
	suite.Require().NoError(err)
	suite.Require().NoError(worker.Start(suite.ctx))

	// the worker registers its own modules with the router
	suite.Require().Eventually(func() bool {
		modules, err := manager.Request(suite.ctx, envelope.NewHeader(envelope.ByProcess{
			Processes: envelope.Names{"backend"},
			Module:    "router",
			Event:     "getModules",
		}), nil)

		return err == nil && len(modules.(map[string]interface{})) == 1
	}, 5*time.Second, 10*time.Millisecond)

	// a uri destination resolves through the router, which then answers the request itself
	modules, err := manager.Request(suite.ctx, envelope.NewHeader(envelope.ByURI{URI: "/status"}), nil)
	suite.Require().NoError(err)
	suite.Require().Equal(map[string]interface{}{"backend": []interface{}{"router"}}, modules)

	_, err = manager.Request(suite.ctx, envelope.NewHeader(envelope.ByURI{URI: "/nothing"}), nil)
	suite.Require().True(errorcode.IsCode(err, errorcode.NoRoute), "unexpected error %v", err)
}

func (suite *RouterTestSuite) newRouter(moduleConfig map[string]interface{}, groupFile *config.GroupFile) *Router {
	if groupFile == nil {
		groupFile = &config.GroupFile{}
	}

	router := NewRouter(suite.logger, &config.Module{Name: "router", Config: moduleConfig})
	suite.Require().NoError(router.Init(suite.ctx, &module.Context{GroupFile: groupFile}))

	return router
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
