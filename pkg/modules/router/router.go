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
	"sync"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"gopkg.in/yaml.v3"
)

// Router resolves uris, module names and group names to the processes serving them
type Router struct {
	logger              logger.Logger
	moduleConfiguration *config.Module

	lock          sync.RWMutex
	configuration *Configuration
	modules       map[string][]string
	processOrder  []string
}

type factory struct{}

func (f *factory) Create(parentLogger logger.Logger, moduleConfiguration *config.Module) (module.Module, error) {
	return NewRouter(parentLogger, moduleConfiguration), nil
}

func init() {
	module.RegistrySingleton.Register("router", &factory{})
}

// NewRouter creates a router. Its rules are read on Init
func NewRouter(parentLogger logger.Logger, moduleConfiguration *config.Module) *Router {
	return &Router{
		logger:              parentLogger.GetChild("router"),
		moduleConfiguration: moduleConfiguration,
		configuration:       &Configuration{},
		modules:             map[string][]string{},
	}
}

// Init reads the routing configuration. A router replacing another keeps its module registry
func (r *Router) Init(ctx context.Context, moduleContext *module.Context) error {
	configuration, err := r.readConfiguration(moduleContext.GroupFile)
	if err != nil {
		return errors.Wrap(err, "Failed to read router configuration")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.configuration = configuration

	if previous, isRouter := moduleContext.Previous.(*Router); isRouter {
		r.modules, r.processOrder = previous.registry()
	}

	r.logger.DebugWith("Router configured",
		"rules", len(configuration.Rules),
		"groups", len(configuration.Groups),
		"defaultGroup", configuration.DefaultGroup)

	return nil
}

func (r *Router) Events() map[string]module.Handler {
	return map[string]module.Handler{
		"getRoute":   r.handleGetRoute,
		"regModule":  r.handleRegisterModule,
		"getModules": r.handleGetModules,
	}
}

// GetRoute resolves a query by group, then by module, then by uri
func (r *Router) GetRoute(query *Query) (*Route, error) {
	var route *Route
	param := ""

	if query.Group != "" {
		param = query.Group
		route = r.routeByGroup(query.Group)
	}

	if route == nil && query.Module != "" {
		param = query.Module
		if processName := r.processByModule(query.Module); processName != "" {
			route = &Route{Process: []string{processName}}
		}
	}

	if route == nil && query.URI != "" {
		param = query.URI
		route = r.routeByURI(query.URI)
	}

	if route == nil {
		return nil, errorcode.New(errorcode.NoRoute, param)
	}

	return route, nil
}

// RegisterModules records the modules processName hosts, replacing earlier registrations
func (r *Router) RegisterModules(processName string, modules []string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, registered := r.modules[processName]; !registered {
		r.processOrder = append(r.processOrder, processName)
	}

	r.modules[processName] = append([]string{}, modules...)
}

// Modules returns the registered modules by process
func (r *Router) Modules() map[string][]string {
	modules, _ := r.registry()
	return modules
}

func (r *Router) handleGetRoute(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	query := &Query{}
	if err := request.Decode(query); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode route query")
	}

	route, err := r.GetRoute(query)
	if err != nil {
		return transport.NoReply, err
	}

	return transport.Reply(route), nil
}

func (r *Router) handleRegisterModule(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	registration := &Registration{}
	if err := request.Decode(registration); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode module registration")
	}

	processName := registration.Process
	if processName == "" {
		processName = registration.Name
	}

	if processName == "" {
		return transport.NoReply, errors.New("Module registration names no process")
	}

	r.RegisterModules(processName, registration.Modules)

	r.logger.DebugWith("Modules registered", "process", processName, "modules", registration.Modules)

	return transport.Reply(true), nil
}

func (r *Router) handleGetModules(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {
	return transport.Reply(r.Modules()), nil
}

func (r *Router) routeByGroup(groupName string) *Route {
	r.lock.RLock()
	defer r.lock.RUnlock()

	processNames, found := r.configuration.Groups[groupName]
	if !found || len(processNames) == 0 {
		processNames = r.configuration.DefaultGroup
	}

	if len(processNames) == 0 {
		return nil
	}

	return &Route{Process: append([]string{}, processNames...)}
}

// processByModule returns the first registered process hosting moduleName
func (r *Router) processByModule(moduleName string) string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	for _, processName := range r.processOrder {
		for _, hostedModule := range r.modules[processName] {
			if hostedModule == moduleName {
				return processName
			}
		}
	}

	return ""
}

func (r *Router) routeByURI(uri string) *Route {
	r.lock.RLock()
	rules := r.configuration.Rules
	r.lock.RUnlock()

	for ruleIndex := range rules {
		rule := &rules[ruleIndex]

		matches := rule.matches(uri)
		if matches == nil {
			continue
		}

		route := rule.resolve(matches)
		if route == nil {
			continue
		}

		// a rule naming only a module goes wherever the module is hosted
		if len(route.Process) == 0 {
			processName := r.processByModule(route.Module)
			if processName == "" {
				continue
			}

			route.Process = []string{processName}
		}

		return route
	}

	return nil
}

func (r *Router) registry() (map[string][]string, []string) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	modules := make(map[string][]string, len(r.modules))
	for processName, hostedModules := range r.modules {
		modules[processName] = append([]string{}, hostedModules...)
	}

	return modules, append([]string{}, r.processOrder...)
}

func (r *Router) readConfiguration(groupFile *config.GroupFile) (*Configuration, error) {
	source := map[string]interface{}{}
	baseDir := ""

	if groupFile != nil {
		baseDir = groupFile.BaseDir
		source = groupFile.Router
	}

	if r.moduleConfiguration != nil && len(r.moduleConfiguration.Config) > 0 {
		source = r.moduleConfiguration.Config
	}

	configuration := &Configuration{}
	if err := decodeConfiguration(source, configuration); err != nil {
		return nil, err
	}

	if configuration.RouterFile != "" {
		routerFilePath, err := common.NormalizePath(configuration.RouterFile, baseDir)
		if err != nil {
			return nil, errors.Wrap(err, "Failed to resolve router file")
		}

		contents, err := os.ReadFile(routerFilePath)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to read router file %s", routerFilePath)
		}

		fileSource := map[string]interface{}{}
		if err := yaml.Unmarshal(contents, &fileSource); err != nil {
			return nil, errors.Wrapf(err, "Failed to parse router file %s", routerFilePath)
		}

		configuration = &Configuration{}
		if err := decodeConfiguration(fileSource, configuration); err != nil {
			return nil, err
		}
	}

	for ruleIndex := range configuration.Rules {
		if err := configuration.Rules[ruleIndex].compile(); err != nil {
			return nil, errors.Wrapf(err, "Invalid rule #%d", ruleIndex)
		}
	}

	return configuration, nil
}

func decodeConfiguration(source map[string]interface{}, configuration *Configuration) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           configuration,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create configuration decoder")
	}

	if err := decoder.Decode(source); err != nil {
		return errors.Wrap(err, "Failed to decode router configuration")
	}

	return nil
}
