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

package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/process/module"
	"github.com/nuclio/radon/pkg/transport"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"github.com/robfig/cron/v3"
	"github.com/rs/xid"
)

// DefaultTTL is how long a link lives untouched, in milliseconds
const DefaultTTL = 60000

// Link is a client connection held by a process, e.g. a websocket. Time is the last touch,
// in unix milliseconds
type Link struct {
	ID      string                 `json:"id" msgpack:"id"`
	Time    int64                  `json:"time" msgpack:"time"`
	TTL     int64                  `json:"ttl" msgpack:"ttl"`
	Process string                 `json:"process" msgpack:"process"`
	Module  string                 `json:"module" msgpack:"module"`
	Data    map[string]interface{} `json:"data" msgpack:"data"`
}

func (l *Link) expired(now int64) bool {
	return l.Time < now-l.TTL
}

// Configuration of the link module
type Configuration struct {
	TTL int64 `mapstructure:"ttl"`
}

// Registration is the argument of the register and touch events
type Registration struct {
	ID        string                 `json:"id"`
	Process   string                 `json:"process"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
	TTL       int64                  `json:"ttl"`
	SessionID int64                  `json:"session_id"`
}

// Query is the argument of the get event. With Exact set an expired link is not returned
type Query struct {
	ID    string `json:"id"`
	Exact bool   `json:"exact"`
}

// Service tracks the links of a group and relays notifications to the processes holding them
type Service struct {
	logger        logger.Logger
	configuration *Configuration
	ipc           *transport.Ipc
	transaction   module.Transaction
	cron          *cron.Cron
	now           func() time.Time

	lock  *sync.Mutex
	links map[string]*Link
}

type factory struct{}

func (f *factory) Create(parentLogger logger.Logger, moduleConfiguration *config.Module) (module.Module, error) {
	return NewService(parentLogger, moduleConfiguration)
}

func init() {
	module.RegistrySingleton.Register("link", &factory{})
}

// NewService creates a link service from the module configuration
func NewService(parentLogger logger.Logger, moduleConfiguration *config.Module) (*Service, error) {
	configuration := &Configuration{}

	if moduleConfiguration != nil {
		if err := mapstructure.WeakDecode(moduleConfiguration.Config, configuration); err != nil {
			return nil, errors.Wrap(err, "Failed to decode link configuration")
		}
	}

	if configuration.TTL <= 0 {
		configuration.TTL = DefaultTTL
	}

	return &Service{
		logger:        parentLogger.GetChild("link"),
		configuration: configuration,
		now:           time.Now,
		lock:          &sync.Mutex{},
		links:         map[string]*Link{},
	}, nil
}

// Init takes over the links of the service it replaces and schedules the expiry sweep
func (s *Service) Init(ctx context.Context, moduleContext *module.Context) error {
	s.ipc = moduleContext.Ipc
	s.transaction = moduleContext.Transaction

	if previous, isService := moduleContext.Previous.(*Service); isService {
		s.lock = previous.lock
		s.links = previous.links
	}

	s.cron = cron.New()
	schedule := fmt.Sprintf("@every %dms", s.configuration.TTL)

	if _, err := s.cron.AddFunc(schedule, s.runSweep); err != nil {
		return errors.Wrap(err, "Failed to schedule link expiry")
	}

	s.cron.Start()
	return nil
}

// Unload stops the expiry sweep
func (s *Service) Unload(ctx context.Context, reason string) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	return nil
}

func (s *Service) Events() map[string]module.Handler {
	return map[string]module.Handler{
		"register": s.handleRegister,
		"touch":    s.handleTouch,
		"remove":   s.handleRemove,
		"get":      s.handleGet,
		"notify":   s.handleNotify,
	}
}

// Sweep removes the expired links, telling the module of each that its link is gone
func (s *Service) Sweep(ctx context.Context) int {
	now := s.nowMillis()
	var expired []*Link

	s.lock.Lock()
	for linkID, link := range s.links {
		if link.expired(now) {
			delete(s.links, linkID)
			expired = append(expired, link)
		}
	}
	s.lock.Unlock()

	for _, link := range expired {
		s.logger.DebugWith("Link timed out", "linkID", link.ID, "process", link.Process)

		if s.ipc == nil {
			continue
		}

		destination := envelope.ByProcess{
			Processes: envelope.Names{link.Process},
			Module:    link.Module,
			Event:     envelope.EventRemoveLink,
		}

		if err := s.ipc.Send(ctx, destination, map[string]interface{}{"link_id": link.ID}); err != nil {
			s.logger.WarnWith("Failed to notify link removal",
				"linkID", link.ID,
				"destination", destination.String(),
				"err", errors.RootCause(err).Error())
		}
	}

	return len(expired)
}

func (s *Service) handleRegister(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	registration := &Registration{}
	if err := request.Decode(registration); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode link registration")
	}

	link := &Link{
		ID:      xid.New().String(),
		Time:    s.nowMillis(),
		TTL:     registration.TTL,
		Process: registration.Process,
		Module:  registration.Module,
		Data:    registration.Data,
	}

	if link.TTL <= 0 {
		link.TTL = s.configuration.TTL
	}

	s.lock.Lock()
	s.links[link.ID] = link
	registered := *link
	s.lock.Unlock()

	return transport.Reply(&registered), nil
}

func (s *Service) handleTouch(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	registration := &Registration{}
	if err := request.Decode(registration); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode link touch")
	}

	s.lock.Lock()
	link, found := s.links[registration.ID]
	if found {
		link.Time = s.nowMillis()

		if registration.Process != "" {
			link.Process = registration.Process
		}

		if registration.Module != "" {
			link.Module = registration.Module
		}

		if len(registration.Data) > 0 {
			merged := map[string]interface{}{}
			for key, value := range link.Data {
				merged[key] = value
			}

			for key, value := range registration.Data {
				merged[key] = value
			}

			link.Data = merged
		}
	}
	s.lock.Unlock()

	if !found {
		return transport.Reply(false), nil
	}

	if registration.SessionID != 0 {
		if _, err := s.ipc.Manager().TouchSession(ctx, registration.SessionID); err != nil {
			s.logger.DebugWith("Failed to touch the session of a link",
				"linkID", registration.ID,
				"sessionID", registration.SessionID,
				"err", errors.RootCause(err).Error())
		}
	}

	return transport.Reply(true), nil
}

func (s *Service) handleRemove(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	linkID, _ := request.GetAll().(string)

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.links[linkID]; !found {
		return transport.Reply(false), nil
	}

	delete(s.links, linkID)
	return transport.Reply(true), nil
}

func (s *Service) handleGet(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	query := &Query{}
	if err := request.Decode(query); err != nil {
		return transport.NoReply, errors.Wrap(err, "Failed to decode link query")
	}

	link := s.get(query.ID)
	if link == nil || (query.Exact && link.expired(s.nowMillis())) {
		return transport.Reply(nil), nil
	}

	return transport.Reply(link), nil
}

// handleNotify relays a notification to the module holding the link and replies with its
// answer, or false when the link is unknown
func (s *Service) handleNotify(ctx context.Context,
	request *transport.Request,
	response *transport.Response) (transport.Outcome, error) {

	linkID, _ := request.Get("id", "").(string)

	link := s.get(linkID)
	if link == nil {
		return transport.Reply(false), nil
	}

	event := envelope.EventNotifyLink
	if linkEvent, isString := link.Data["event"].(string); isString && linkEvent != "" {
		event = linkEvent
	}

	result, err := response.Request(ctx, envelope.ByProcess{
		Processes: envelope.Names{link.Process},
		Module:    link.Module,
		Event:     event,
	}, request.GetAll())
	if err != nil {
		return transport.NoReply, errors.Wrapf(err, "Failed to notify link %s", linkID)
	}

	return transport.Reply(result), nil
}

func (s *Service) get(linkID string) *Link {
	if linkID == "" {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	link, found := s.links[linkID]
	if !found {
		return nil
	}

	copied := *link
	return &copied
}

func (s *Service) runSweep() {
	if s.transaction == nil || s.transaction.Enter(false) != nil {
		return
	}
	defer s.transaction.Leave()

	if removed := s.Sweep(context.Background()); removed > 0 {
		s.logger.InfoWith("Expired links", "removed", removed)
	}
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}
