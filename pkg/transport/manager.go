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

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuclio/radon/pkg/config"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/scheduler"
	"github.com/nuclio/radon/pkg/transport/abort"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

const timeoutSweepInterval = time.Second

// Upstream carries messages out of the process
type Upstream interface {
	SendMessage(message *envelope.Message) error
}

// Dispatcher hands inbound messages to the process's handlers
type Dispatcher interface {
	OnSend(ctx context.Context, request *Request) error
	OnRequest(ctx context.Context, request *Request) error
}

// Route is what the router resolved a destination to
type Route struct {
	Process envelope.Names
	Module  string
	Event   string
}

// Manager is the per-process endpoint of the message protocol. It formats and routes
// outgoing messages, tracks requests until their ack or timeout, and dispatches inbound
// messages
type Manager struct {
	logger         logger.Logger
	processName    string
	configuration  *config.Transport
	codec          codec.Codec
	upstream       Upstream
	aborts         *abort.Registry
	pending        *pendingTable
	lastMid        uint64
	defaultTimeout time.Duration
	now            func() time.Time

	routerDestination  envelope.Destination
	sessionDestination envelope.Destination
	linkDestination    envelope.Destination

	dispatcherLock sync.RWMutex
	dispatcher     Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates the manager of processName. upstream may be nil when the process
// only talks to itself
func NewManager(parentLogger logger.Logger,
	processName string,
	configuration *config.Transport,
	upstream Upstream) (*Manager, error) {
	var err error

	if configuration == nil {
		configuration = &config.Transport{}
	}

	newManager := &Manager{
		logger:         parentLogger.GetChild("transport"),
		processName:    processName,
		configuration:  configuration,
		upstream:       upstream,
		pending:        newPendingTable(),
		defaultTimeout: configuration.GetRequestTimeout(),
		now:            time.Now,
	}

	if newManager.defaultTimeout <= 0 {
		newManager.defaultTimeout = config.DefaultRequestTimeout * time.Millisecond
	}

	newManager.aborts = abort.NewRegistry(newManager.logger, abort.DefaultLifetime)
	newManager.ctx, newManager.cancel = context.WithCancel(context.Background())

	if newManager.codec, err = codec.New(codec.Kind(configuration.Codec)); err != nil {
		return nil, errors.Wrap(err, "Failed to create codec")
	}

	if newManager.routerDestination, err = parseServiceDestination(configuration.Router); err != nil {
		return nil, errors.Wrap(err, "Invalid router destination")
	}

	// the router is how other destinations resolve, so it has to name its process
	if newManager.routerDestination != nil {
		if _, namesProcess := newManager.routerDestination.(envelope.ByProcess); !namesProcess {
			return nil, errors.Errorf("Router destination must name a process: %s", configuration.Router)
		}
	}

	if newManager.sessionDestination, err = parseServiceDestination(configuration.Session); err != nil {
		return nil, errors.Wrap(err, "Invalid session destination")
	}

	if newManager.linkDestination, err = parseServiceDestination(configuration.Link); err != nil {
		return nil, errors.Wrap(err, "Invalid link destination")
	}

	return newManager, nil
}

// Start starts the request timeout sweep and the abort expiry
func (m *Manager) Start() error {
	if err := m.aborts.Start(abort.DefaultSweepSpec); err != nil {
		return errors.Wrap(err, "Failed to start abort registry")
	}

	go m.sweepTimeouts()

	return nil
}

// Stop stops the sweeps
func (m *Manager) Stop() {
	m.cancel()
	m.aborts.Stop()
}

// SetDispatcher sets where inbound send and req messages go
func (m *Manager) SetDispatcher(dispatcher Dispatcher) {
	m.dispatcherLock.Lock()
	defer m.dispatcherLock.Unlock()

	m.dispatcher = dispatcher
}

// ProcessName returns the name of the process the manager serves
func (m *Manager) ProcessName() string {
	return m.processName
}

// Codec returns the codec payloads are encoded with
func (m *Manager) Codec() codec.Codec {
	return m.codec
}

// Aborts returns the process's abort registry
func (m *Manager) Aborts() *abort.Registry {
	return m.aborts
}

// PendingCount returns the number of requests awaiting an ack
func (m *Manager) PendingCount() int {
	return m.pending.len()
}

// Ipc returns a facade sending on behalf of module
func (m *Manager) Ipc(module string) *Ipc {
	return &Ipc{
		manager: m,
		module:  module,
	}
}

// Send sends a fire and forget message
func (m *Manager) Send(ctx context.Context, header *envelope.Header, data interface{}) error {
	return m.send(ctx, header, data, envelope.TypeSend)
}

// Cast sends a fire and forget message to every process it names
func (m *Manager) Cast(ctx context.Context, header *envelope.Header, data interface{}) error {
	return m.send(ctx, header, data, envelope.TypeProcessCast)
}

// Abort signals the processes serving header's link and ref to cancel
func (m *Manager) Abort(ctx context.Context, header *envelope.Header, data interface{}) error {
	return m.send(ctx, header, data, envelope.TypeAbort)
}

// Request sends a request and waits for its ack. An error ack or a timeout is returned
// as an error
func (m *Manager) Request(ctx context.Context, header *envelope.Header, data interface{}) (interface{}, error) {
	future := m.requestFuture(ctx, header, data, false)

	value, err := scheduler.Await(ctx, future)
	if err != nil && !future.Settled() {
		m.pending.take(header.Mid)
	}

	return value, err
}

// RequestResult sends a request and waits for its ack, delivering errors and timeouts
// inside the result as well
func (m *Manager) RequestResult(ctx context.Context, header *envelope.Header, data interface{}) *Result {
	future := m.requestFuture(ctx, header, data, true)

	value, err := scheduler.Await(ctx, future)
	if err != nil {
		if !future.Settled() {
			m.pending.take(header.Mid)
		}

		return newResult(&envelope.Header{Err: 1}, nil, err)
	}

	return value.(*Result)
}

// GetRoute asks the router where header should go
func (m *Manager) GetRoute(ctx context.Context, header *envelope.Header) (*Route, error) {
	query := map[string]interface{}{}
	for key, value := range map[string]string{
		"uri":    header.URI,
		"module": header.Module,
		"group":  header.Group,
	} {
		if value != "" {
			query[key] = value
		}
	}

	routeValue, err := m.requestService(ctx, m.routerDestination, errorcode.RouterNotConfigured, "getRoute", query)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to get route")
	}

	route := decodeRoute(routeValue)
	if len(route.Process) == 0 {
		return nil, errorcode.New(errorcode.NoRoute, describeQuery(query))
	}

	return route, nil
}

// RegisterModules tells the router which modules processName hosts
func (m *Manager) RegisterModules(ctx context.Context, processName string, modules []string) error {
	_, err := m.requestService(ctx, m.routerDestination, errorcode.RouterNotConfigured, "regModule", map[string]interface{}{
		"process": processName,
		"modules": modules,
	})

	return err
}

// OnMessage handles an inbound message. Send and req messages are dispatched on their
// own goroutine; acks and aborts are handled before returning
func (m *Manager) OnMessage(message *envelope.Message, local bool) {
	header := message.Header

	switch header.Type {
	case envelope.TypeAbort:
		m.aborts.Add(abort.Key(header.LinkID, header.Ref))

	case envelope.TypeSend, envelope.TypeProcessCast:
		go m.handleSend(message, local)

	case envelope.TypeRequest:
		go m.handleRequest(message, local)

	case envelope.TypeAck:
		m.handleAck(message)

	default:
		m.logger.WarnWith("Dropping message of unknown type",
			"type", header.Type,
			"module", header.Module,
			"event", header.Event)
	}
}

func (m *Manager) handleSend(message *envelope.Message, local bool) {
	request := newRequest(m, m.ctx, message, local)

	dispatcher := m.getDispatcher()
	if dispatcher == nil {
		m.logger.WarnWith("No dispatcher, dropping message", "module", request.GetModule(), "event", request.GetEvent())
		return
	}

	if err := dispatcher.OnSend(m.ctx, request); err != nil {
		m.logger.WarnWith("Failed to handle message",
			"module", request.GetModule(),
			"event", request.GetEvent(),
			"sourceProcess", message.Header.SourceProcess,
			"err", errors.Cause(err).Error())
	}
}

func (m *Manager) handleRequest(message *envelope.Message, local bool) {
	request := newRequest(m, m.ctx, message, local)
	request.DelayReply()

	var err error
	if dispatcher := m.getDispatcher(); dispatcher != nil {
		err = dispatcher.OnRequest(m.ctx, request)
	} else {
		err = errorcode.New(errorcode.NoHandler, m.processName, request.GetModule(), request.GetEvent())
	}

	if err != nil {
		if request.IsSent() {
			m.logger.WarnWith("Request handler failed after replying",
				"module", request.GetModule(),
				"event", request.GetEvent(),
				"err", errors.Cause(err).Error())
		} else if replyErr := request.Error(err); replyErr != nil {
			m.logger.WarnWith("reply error failed", "err", replyErr.Error(), "cause", err.Error())
		}
	}

	if !request.IsSent() {
		if replyErr := request.Error(errorcode.New(errorcode.NoResponse,
			m.processName,
			request.GetModule(),
			request.GetEvent())); replyErr != nil {
			m.logger.WarnWith("reply error failed", "err", replyErr.Error())
		}
	}

	request.flushDelayedReply()
}

func (m *Manager) handleAck(message *envelope.Message) {
	header := message.Header

	entry := m.pending.take(header.Rid)
	if entry == nil {
		m.logger.DebugWith("Dropping ack of unknown request",
			"rid", header.Rid,
			"sourceProcess", header.SourceProcess,
			"sourceModule", header.SourceModule)
		return
	}

	var payload interface{}
	var ackErr error

	if err := m.codec.Decode(message.Data, &payload); err != nil {
		ackErr = errors.Wrap(err, "Failed to decode ack payload")
	} else if header.Err != 0 {
		ackErr = errorFromPayload(payload)
	}

	if entry.asResult {
		entry.future.Resolve(newResult(header, payload, ackErr))
		return
	}

	if ackErr != nil {
		entry.future.Reject(ackErr)
		return
	}

	entry.future.Resolve(payload)
}

func (m *Manager) send(ctx context.Context, header *envelope.Header, data interface{}, messageType envelope.MessageType) error {
	if err := m.formatHeader(ctx, header, messageType); err != nil {
		return errors.Wrap(err, "Failed to format header")
	}

	encodedData, err := m.codec.Encode(data)
	if err != nil {
		return errors.Wrap(err, "Failed to encode data")
	}

	return m.deliver(header, encodedData)
}

func (m *Manager) requestFuture(ctx context.Context,
	header *envelope.Header,
	data interface{},
	asResult bool) *scheduler.Future {

	entry := &pendingRequest{
		header:   header,
		asResult: asResult,
		future:   scheduler.NewFuture(),
	}

	if err := m.formatHeader(ctx, header, envelope.TypeRequest); err != nil {
		m.fail(entry, err)
		return entry.future
	}

	encodedData, err := m.codec.Encode(data)
	if err != nil {
		m.fail(entry, errors.Wrap(err, "Failed to encode data"))
		return entry.future
	}

	timeout := m.defaultTimeout
	if header.Timeout > 0 {
		timeout = time.Duration(header.Timeout) * time.Millisecond
	}

	entry.mid = header.Mid
	entry.deadline = m.now().Add(timeout)
	m.pending.add(entry)

	if err := m.deliver(header, encodedData); err != nil {
		if m.pending.take(entry.mid) != nil {
			m.fail(entry, err)
		}
	}

	return entry.future
}

func (m *Manager) fail(entry *pendingRequest, err error) {
	if entry.asResult {
		payload := map[string]interface{}{
			"success": false,
			"message": err.Error(),
		}

		if frameworkErr, isFrameworkErr := errorcode.FromError(err); isFrameworkErr {
			payload = frameworkErr.Payload()
		}

		entry.future.Resolve(newResult(&envelope.Header{Mid: 0, Err: 1}, payload, err))
		return
	}

	entry.future.Reject(err)
}

func (m *Manager) formatHeader(ctx context.Context, header *envelope.Header, messageType envelope.MessageType) error {
	header.Type = messageType
	header.Mid = m.nextMid()
	header.SourceProcess = m.processName

	if len(header.Process) > 0 {
		return nil
	}

	route, err := m.GetRoute(ctx, header)
	if err != nil {
		return err
	}

	header.Process = route.Process
	if route.Module != "" {
		header.Module = route.Module
	}

	if route.Event != "" {
		header.Event = route.Event
	}

	return nil
}

// deliver hands a formatted message to its processes. The local process, if named,
// gets its copy directly
func (m *Manager) deliver(header *envelope.Header, encodedData []byte) error {
	if !header.Process.Contains(m.processName) {
		return m.sendUpstream(&envelope.Message{Header: header, Data: encodedData})
	}

	if remaining := header.Process.Without(m.processName); len(remaining) > 0 {
		forwardedHeader := header.Clone()
		forwardedHeader.Process = remaining

		if err := m.sendUpstream(&envelope.Message{Header: forwardedHeader, Data: encodedData}); err != nil {
			return err
		}
	}

	localHeader := header.Clone()
	localHeader.Process = envelope.Names{m.processName}

	m.OnMessage(&envelope.Message{Header: localHeader, Data: encodedData}, true)
	return nil
}

func (m *Manager) sendUpstream(message *envelope.Message) error {
	if m.upstream == nil {
		return errorcode.New(errorcode.ProcessNotFound, message.Header.Process.First())
	}

	if err := m.upstream.SendMessage(message); err != nil {
		return errors.Wrap(err, "Failed to send message upstream")
	}

	return nil
}

func (m *Manager) sweepTimeouts() {
	ticker := time.NewTicker(timeoutSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.expireRequests(m.now())
		}
	}
}

func (m *Manager) expireRequests(now time.Time) int {
	expired := m.pending.takeExpired(now)

	for _, entry := range expired {
		m.logger.WarnWith("Request timed out",
			"mid", entry.mid,
			"process", entry.header.Process,
			"module", entry.header.Module,
			"event", entry.header.Event)

		m.fail(entry, errorcode.New(errorcode.RequestTimeout))
	}

	return len(expired)
}

func (m *Manager) nextMid() uint64 {
	return atomic.AddUint64(&m.lastMid, 1)
}

func (m *Manager) getDispatcher() Dispatcher {
	m.dispatcherLock.RLock()
	defer m.dispatcherLock.RUnlock()

	return m.dispatcher
}

func parseServiceDestination(text string) (envelope.Destination, error) {
	if text == "" {
		return nil, nil
	}

	return envelope.ParseDestination(text)
}

func decodeRoute(value interface{}) *Route {
	route := &Route{}

	fields, isMap := value.(map[string]interface{})
	if !isMap {
		return route
	}

	switch typedProcess := fields["process"].(type) {
	case string:
		if typedProcess != "" {
			route.Process = envelope.Names{typedProcess}
		}
	case []interface{}:
		for _, name := range typedProcess {
			if nameString, isString := name.(string); isString {
				route.Process = append(route.Process, nameString)
			}
		}
	}

	route.Module, _ = fields["module"].(string)
	route.Event, _ = fields["event"].(string)

	return route
}

func describeQuery(query map[string]interface{}) string {
	return fmt.Sprintf("uri: %v, module: %v, group: %v", query["uri"], query["module"], query["group"])
}

func errorFromPayload(payload interface{}) *errorcode.Error {
	fields, isMap := payload.(map[string]interface{})
	if !isMap {
		return &errorcode.Error{Code: -1, Message: fmt.Sprintf("%v", payload)}
	}

	ackErr := &errorcode.Error{
		Code: toInt(fields["code"], -1),
		Data: fields["data"],
	}
	ackErr.Message, _ = fields["message"].(string)

	return ackErr
}

func toInt(value interface{}, defaultValue int) int {
	switch typedValue := value.(type) {
	case int:
		return typedValue
	case int64:
		return int(typedValue)
	case uint64:
		return int(typedValue)
	case float64:
		return int(typedValue)
	default:
		return defaultValue
	}
}

func toInt64(value interface{}) int64 {
	switch typedValue := value.(type) {
	case int64:
		return typedValue
	case int:
		return int64(typedValue)
	case uint64:
		return int64(typedValue)
	case float64:
		return int64(typedValue)
	default:
		return 0
	}
}
