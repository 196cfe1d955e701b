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
	"sync"

	"github.com/nuclio/radon/pkg/transport/envelope"
)

// Response is the handler's side of a request
type Response struct {
	request *Request
	module  string

	lock        sync.Mutex
	done        bool
	doneOutcome Outcome
}

// NewResponse creates the response of request, sending on behalf of the module it addresses
func NewResponse(request *Request) *Response {
	return NewModuleResponse(request.GetModule(), request)
}

// NewModuleResponse creates the response of request, sending on behalf of module
func NewModuleResponse(module string, request *Request) *Response {
	return &Response{
		request: request,
		module:  module,
	}
}

// GetRequest returns the request being answered
func (r *Response) GetRequest() *Request {
	return r.request
}

// Reply replies data to the request
func (r *Response) Reply(data interface{}) error {
	return r.request.Reply(data)
}

// Error replies err to the request
func (r *Response) Error(err error) error {
	return r.request.Error(err)
}

// Pass forwards the request to destination
func (r *Response) Pass(ctx context.Context, destination envelope.Destination) error {
	return r.request.Pass(ctx, destination)
}

// Send sends a message carrying the request's user context
func (r *Response) Send(ctx context.Context, destination envelope.Destination, data interface{}) error {
	return r.request.manager.Send(ctx, r.newHeader(destination), data)
}

// Cast casts a message carrying the request's user context
func (r *Response) Cast(ctx context.Context, destination envelope.Destination, data interface{}) error {
	return r.request.manager.Cast(ctx, r.newHeader(destination), data)
}

// Request sends a request carrying the request's user context and waits for its ack
func (r *Response) Request(ctx context.Context, destination envelope.Destination, data interface{}) (interface{}, error) {
	return r.request.manager.Request(ctx, r.newHeader(destination), data)
}

// RequestResult is Request delivering errors inside the result
func (r *Response) RequestResult(ctx context.Context, destination envelope.Destination, data interface{}) *Result {
	return r.request.manager.RequestResult(ctx, r.newHeader(destination), data)
}

// Self sends a request to event of the module handling this request, in this process
func (r *Response) Self(ctx context.Context, event string, data interface{}) (interface{}, error) {
	return r.Request(ctx, envelope.ByProcess{
		Processes: envelope.Names{r.request.manager.processName},
		Module:    r.module,
		Event:     event,
	}, data)
}

// SetHeader queues a response header
func (r *Response) SetHeader(name string, value interface{}) {
	r.request.SetAction(name, value)
}

// SetStatusCode queues the status code the client is answered with
func (r *Response) SetStatusCode(statusCode int) {
	r.request.SetAction(envelope.ActionHTTPStatus, statusCode)
}

// SetAction queues an action for the client
func (r *Response) SetAction(name string, value interface{}) {
	r.request.SetAction(name, value)
}

// SetCookie queues a cookie for the client
func (r *Response) SetCookie(cookie interface{}) {
	r.request.SetAction(envelope.ActionSetCookie, cookie)
}

// SetSession updates the session of the request's link, creating it when needed, and
// queues the resulting session for the client. Without a link it returns false
func (r *Response) SetSession(ctx context.Context, key interface{}, value interface{}, argc int) (interface{}, error) {
	if r.request.header.LinkID == "" {
		return false, nil
	}

	result, err := r.request.manager.CreateSession(ctx, &SessionUpdate{
		ID:    r.request.GetSessionID(),
		Key:   key,
		Value: value,
		Argc:  argc,
	})
	if err != nil {
		return nil, err
	}

	if boolResult, isBool := result.(bool); isBool {
		return boolResult, nil
	}

	sessionID := toInt64(getField(result, "sid", nil))
	r.request.SetAction(envelope.ActionSetSession, map[string]interface{}{
		"session_id":    sessionID,
		"session_token": getField(result, "token", ""),
	})

	if sessionID != 0 {
		r.request.setSessionID(sessionID)
	}

	return result, nil
}

// FindSession returns the first session whose data field key equals value
func (r *Response) FindSession(ctx context.Context, key string, value interface{}) (interface{}, error) {
	return r.request.manager.FindSession(ctx, key, value)
}

// Done ends the dispatch of the request after the current handler, without a reply
func (r *Response) Done() Outcome {
	return r.setDone(NoReply)
}

// DoneWith ends the dispatch of the request after the current handler, replying value
func (r *Response) DoneWith(value interface{}) Outcome {
	return r.setDone(Reply(value))
}

// IsDone returns true once a handler ended the dispatch
func (r *Response) IsDone() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.done
}

// DoneOutcome returns the outcome the dispatch ended with
func (r *Response) DoneOutcome() Outcome {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.doneOutcome
}

func (r *Response) setDone(outcome Outcome) Outcome {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.done = true
	r.doneOutcome = outcome

	return outcome
}

func (r *Response) newHeader(destination envelope.Destination) *envelope.Header {
	header := envelope.NewHeader(destination)

	r.request.lock.Lock()
	r.request.header.CopyUserHeader(header)
	r.request.lock.Unlock()

	header.SourceModule = r.module

	return header
}
