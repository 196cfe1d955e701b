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
	"fmt"
	"time"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/robfig/cron/v3"
)

// Service keeps client sessions in memory, expiring those left untouched
type Service struct {
	logger        logger.Logger
	configuration *Configuration
	store         *store
	storagePath   string
	transaction   module.Transaction
	cron          *cron.Cron
	now           func() time.Time
}

type factory struct{}

func (f *factory) Create(parentLogger logger.Logger, moduleConfiguration *config.Module) (module.Module, error) {
	return NewService(parentLogger, moduleConfiguration)
}

func init() {
	module.RegistrySingleton.Register("session", &factory{})
}

// NewService creates a session service from the module configuration
func NewService(parentLogger logger.Logger, moduleConfiguration *config.Module) (*Service, error) {
	configuration := &Configuration{}

	if moduleConfiguration != nil {
		if err := mapstructure.WeakDecode(moduleConfiguration.Config, configuration); err != nil {
			return nil, errors.Wrap(err, "Failed to decode session configuration")
		}
	}

	if configuration.Timeout <= 0 {
		configuration.Timeout = DefaultTimeout
	}

	if configuration.TokenSize <= 0 {
		configuration.TokenSize = DefaultTokenSize
	}

	if configuration.Storage != nil && configuration.Storage.SaveInterval <= 0 {
		configuration.Storage.SaveInterval = DefaultSaveInterval
	}

	return &Service{
		logger:        parentLogger.GetChild("session"),
		configuration: configuration,
		store:         newStore(),
		now:           time.Now,
	}, nil
}

// Init takes over the sessions of the service it replaces, or loads the saved ones, and
// schedules the expiry sweep
func (s *Service) Init(ctx context.Context, moduleContext *module.Context) error {
	s.transaction = moduleContext.Transaction

	if s.configuration.Storage != nil && s.configuration.Storage.Path != "" {
		baseDir := ""
		if moduleContext.GroupFile != nil {
			baseDir = moduleContext.GroupFile.BaseDir
		}

		storagePath, err := common.NormalizePath(s.configuration.Storage.Path, baseDir)
		if err != nil {
			return errors.Wrap(err, "Failed to resolve session storage path")
		}

		s.storagePath = storagePath
	}

	if previous, isService := moduleContext.Previous.(*Service); isService {
		s.store = previous.store
	} else if s.storagePath != "" {
		if err := s.store.load(s.storagePath, s.deadline()); err != nil {
			s.logger.WarnWith("Failed to load sessions", "path", s.storagePath, "err", err.Error())
		}
	}

	s.cron = cron.New()

	if _, err := s.cron.AddFunc(everySpec(s.configuration.Timeout), s.runSweep); err != nil {
		return errors.Wrap(err, "Failed to schedule session expiry")
	}

	if s.storagePath != "" {
		if _, err := s.cron.AddFunc(everySpec(s.configuration.Storage.SaveInterval), s.runSave); err != nil {
			return errors.Wrap(err, "Failed to schedule session saving")
		}
	}

	s.cron.Start()

	s.logger.DebugWith("Session service started",
		"sessions", s.store.count(),
		"timeout", s.configuration.Timeout,
		"storage", s.storagePath)

	return nil
}

// Unload stops the timers. Sessions are saved unless a new generation takes them over
func (s *Service) Unload(ctx context.Context, reason string) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	if reason == module.ReasonReload || s.storagePath == "" {
		return nil
	}

	if _, err := s.store.save(s.storagePath); err != nil {
		return errors.Wrap(err, "Failed to save sessions on unload")
	}

	return nil
}

func (s *Service) Events() map[string]module.Handler {
	return map[string]module.Handler{
		"register":     s.handleRegister,
		"touch":        s.handleTouch,
		"update":       s.handleUpdate,
		"remove":       s.handleRemove,
		"getById":      s.handleGetByID,
		"getByToken":   s.handleGetByToken,
		"findSession":  s.handleFindSession,
		"listSessions": s.handleListSessions,
	}
}

// Sweep removes the expired sessions and returns how many there were
func (s *Service) Sweep() int {
	removed := s.store.sweep(s.deadline())

	for _, sessionID := range removed {
		s.logger.DebugWith("Session timed out", "sessionID", sessionID)
	}

	return len(removed)
}

func (s *Service) handleRegister(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {
	return transport.Reply(s.store.register(request.GetAll(), s.configuration.TokenSize, s.nowMillis())), nil
}

func (s *Service) handleTouch(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	sessionID, err := decodeSessionID(request)
	if err != nil {
		return transport.NoReply, err
	}

	return transport.Reply(s.store.touch(sessionID, s.nowMillis())), nil
}

func (s *Service) handleUpdate(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	update := &Update{}
	if err := request.Decode(update); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode session update")
	}

	return transport.Reply(s.store.update(update, s.configuration.TokenSize, s.nowMillis())), nil
}

func (s *Service) handleRemove(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	sessionID, err := decodeSessionID(request)
	if err != nil {
		return transport.NoReply, err
	}

	return transport.Reply(s.store.remove(sessionID)), nil
}

func (s *Service) handleGetByID(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	sessionID, err := decodeSessionID(request)
	if err != nil {
		return transport.NoReply, err
	}

	if session := s.store.getByID(sessionID); session != nil {
		return transport.Reply(session), nil
	}

	return transport.Reply(nil), nil
}

func (s *Service) handleGetByToken(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	token, _ := request.GetAll().(string)

	if session := s.store.getByToken(token); session != nil {
		return transport.Reply(session), nil
	}

	return transport.Reply(nil), nil
}

func (s *Service) handleFindSession(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	query := &FindQuery{}
	if err := request.Decode(query); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode session query")
	}

	return transport.Reply(s.store.find(query)), nil
}

func (s *Service) handleListSessions(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	query := &ListQuery{}
	if err := request.Decode(query); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode session list query")
	}

	result, err := s.store.list(query)
	if err != nil {
		return transport.NoReply, err
	}

	return transport.Reply(result), nil
}

func (s *Service) runSweep() {
	if !s.enter() {
		return
	}
	defer s.transaction.Leave()

	if removed := s.Sweep(); removed > 0 {
		s.logger.InfoWith("Expired sessions", "removed", removed)
	}
}

func (s *Service) runSave() {
	if !s.enter() {
		return
	}
	defer s.transaction.Leave()

	saved, err := s.store.save(s.storagePath)
	if err != nil {
		s.logger.WarnWith("Failed to save sessions", "err", errors.RootCause(err).Error())
		return
	}

	if saved {
		s.logger.DebugWith("Sessions saved", "path", s.storagePath)
	}
}

// enter joins the process transaction so a stopping process waits for the job. It
// returns false once the process is closing
func (s *Service) enter() bool {
	if s.transaction == nil {
		return false
	}

	return s.transaction.Enter(false) == nil
}

func (s *Service) deadline() int64 {
	return s.nowMillis() - int64(s.configuration.Timeout)*1000
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}

func decodeSessionID(request *transport.Request) (int64, error) {
	var sessionID int64
	if err := request.Decode(&sessionID); err != nil {
		return 0, errors.Wrap(err, "Failed to decode session id")
	}

	return sessionID, nil
}

func everySpec(seconds int) string {
	return fmt.Sprintf("@every %ds", seconds)
}
