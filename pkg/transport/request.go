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
	"time"

	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/transport/abort"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/icza/dyno"
	"github.com/mitchellh/mapstructure"
	"github.com/nuclio/errors"
)

// Request wraps one inbound message. A req may be replied exactly once
type Request struct {
	manager    *Manager
	ctx        context.Context
	header     *envelope.Header
	data       []byte
	payload    interface{}
	local      bool
	receivedAt time.Time

	lock           sync.Mutex
	sent           bool
	delayed        bool
	delayedMessage *envelope.Message
	actions        []envelope.Pair
	responseHeader []envelope.Pair
}

func newRequest(manager *Manager, ctx context.Context, message *envelope.Message, local bool) *Request {
	request := &Request{
		manager:    manager,
		ctx:        ctx,
		header:     message.Header,
		data:       message.Data,
		local:      local,
		receivedAt: time.Now(),
	}

	if len(message.Data) > 0 {
		if err := manager.codec.Decode(message.Data, &request.payload); err != nil {
			manager.logger.WarnWith("Failed to decode request payload",
				"module", request.GetModule(),
				"event", request.GetEvent(),
				"err", err.Error())
		}
	}

	return request
}

// Get returns a payload field, or defaultValue when the payload has no such field
func (r *Request) Get(name string, defaultValue interface{}) interface{} {
	return getField(r.payload, name, defaultValue)
}

// GetAll returns the payload
func (r *Request) GetAll() interface{} {
	return r.payload
}

// GetPath returns a nested payload value, e.g. GetPath("user", "addresses", 0)
func (r *Request) GetPath(path ...interface{}) (interface{}, error) {
	return dyno.Get(r.payload, path...)
}

// Decode decodes the payload into target, matching json tags
func (r *Request) Decode(target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           target,
	})
	if err != nil {
		return errors.Wrap(err, "Failed to create payload decoder")
	}

	if err := decoder.Decode(r.payload); err != nil {
		return errors.Wrap(err, "Failed to decode payload")
	}

	return nil
}

// Data returns the encoded payload
func (r *Request) Data() []byte {
	return r.data
}

// GetHeader returns the message header. It must not be modified
func (r *Request) GetHeader() *envelope.Header {
	return r.header
}

// HeaderField returns a header field by its wire name
func (r *Request) HeaderField(name string) interface{} {
	return r.header.Field(name)
}

// GetModule returns the addressed module, "*" when none is
func (r *Request) GetModule() string {
	if r.header.Module == "" {
		return "*"
	}

	return r.header.Module
}

// GetEvent returns the addressed event
func (r *Request) GetEvent() string {
	return r.header.Event
}

// GetSessionID returns the session the request carries
func (r *Request) GetSessionID() int64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.header.SessionID
}

// IsRequest returns true if the message expects a reply
func (r *Request) IsRequest() bool {
	return r.header.IsRequest()
}

// IsLocal returns true if the message was sent by this process to itself
func (r *Request) IsLocal() bool {
	return r.local
}

// IsSent returns true once the request was replied or passed on
func (r *Request) IsSent() bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.sent
}

// DelayReply buffers the reply until the dispatch of the request completes
func (r *Request) DelayReply() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.delayed = true
}

// Elapsed returns the time since the request arrived
func (r *Request) Elapsed() time.Duration {
	return time.Since(r.receivedAt)
}

// AbortKey returns the key abort signals for this request are recorded under
func (r *Request) AbortKey() string {
	return abort.Key(r.header.LinkID, r.header.Ref)
}

// AbortRef returns the client reference abort signals carry
func (r *Request) AbortRef() string {
	return r.header.Ref
}

// GetLink returns the link the request came through, or nil
func (r *Request) GetLink(ctx context.Context) (interface{}, error) {
	if r.header.LinkID == "" {
		return nil, nil
	}

	return r.manager.GetLink(ctx, r.header.LinkID, true)
}

// GetSession returns the session the request carries, or nil
func (r *Request) GetSession(ctx context.Context) (interface{}, error) {
	sessionID := r.GetSessionID()
	if sessionID == 0 {
		return nil, nil
	}

	return r.manager.GetSessionByID(ctx, sessionID)
}

// Reply sends data as the request's ack
func (r *Request) Reply(data interface{}) error {
	if err := r.markSent(errorcode.ReplyOnNonRequest); err != nil {
		return err
	}

	r.flushActions()

	return r.sendAck(r.ackHeader(), data)
}

// Error sends err as the request's error ack
func (r *Request) Error(err error) error {
	if markErr := r.markSent(errorcode.ErrorOnNonRequest); markErr != nil {
		return markErr
	}

	r.flushActions()

	ackHeader := r.ackHeader()
	ackHeader.Err = 1

	return r.sendAck(ackHeader, ErrorPayload(err))
}

// Abandon fails the request with err and delivers the error ack at once, while its
// dispatch may still be running
func (r *Request) Abandon(err error) error {
	if replyErr := r.Error(err); replyErr != nil {
		return replyErr
	}

	r.flushDelayedReply()
	return nil
}

// SetAction queues an action for the client. Actions are delivered along with the reply,
// or right away when there will be no reply
func (r *Request) SetAction(name string, value interface{}) {
	r.lock.Lock()
	r.actions = append(r.actions, envelope.Pair{Name: name, Value: value})
	flushNow := !r.header.IsRequest() || r.sent
	r.lock.Unlock()

	if flushNow {
		r.flushActions()
	}
}

// Pass forwards the request to destination. Fields of the original header fill whatever
// destination leaves unset, except the destination itself
func (r *Request) Pass(ctx context.Context, destination envelope.Destination) error {
	target := envelope.NewHeader(destination)
	r.header.MergeUnset(target)

	if len(target.Process) == 0 {
		route, err := r.manager.GetRoute(ctx, target)
		if err != nil {
			if r.IsRequest() {
				if replyErr := r.Error(err); replyErr != nil {
					r.manager.logger.WarnWith("reply error failed", "err", replyErr.Error())
				}
			}

			return errors.Wrap(err, "Failed to route passed request")
		}

		target.Process = route.Process
		if route.Module != "" {
			target.Module = route.Module
		}

		if route.Event != "" {
			target.Event = route.Event
		}
	}

	if r.IsRequest() {
		r.lock.Lock()
		if r.sent {
			r.lock.Unlock()
			return errorcode.New(errorcode.AlreadyReplied, r.manager.processName, r.GetModule(), r.GetEvent())
		}

		r.sent = true
		r.lock.Unlock()
	}

	return r.manager.deliver(target, r.data)
}

func (r *Request) setSessionID(sessionID int64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.header.SessionID = sessionID
}

func (r *Request) markSent(nonRequestCode int) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if !r.header.IsRequest() {
		return errorcode.New(nonRequestCode, r.manager.processName, r.GetModule(), r.GetEvent())
	}

	if r.sent {
		return errorcode.New(errorcode.AlreadyReplied, r.manager.processName, r.GetModule(), r.GetEvent())
	}

	r.sent = true
	return nil
}

func (r *Request) ackHeader() *envelope.Header {
	ackHeader := &envelope.Header{
		Type:         envelope.TypeAck,
		SourceModule: r.header.Module,
		Process:      envelope.Names{r.header.SourceProcess},
		Module:       r.header.SourceModule,
		Rext:         r.header.Ext,
		Rid:          r.header.Mid,
		Rpid:         r.header.Pid,
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	r.header.CopyUserHeader(ackHeader)
	if len(r.responseHeader) > 0 {
		ackHeader.ResponseHeader = append([]envelope.Pair{}, r.responseHeader...)
	}

	return ackHeader
}

func (r *Request) sendAck(ackHeader *envelope.Header, data interface{}) error {
	encodedData, err := r.manager.codec.Encode(data)
	if err != nil {
		return errors.Wrap(err, "Failed to encode reply")
	}

	ackHeader.Mid = r.manager.nextMid()
	ackHeader.SourceProcess = r.manager.processName

	message := &envelope.Message{Header: ackHeader, Data: encodedData}

	r.lock.Lock()
	if r.delayed {
		r.delayedMessage = message
		r.lock.Unlock()
		return nil
	}
	r.lock.Unlock()

	return r.manager.deliver(ackHeader, encodedData)
}

func (r *Request) flushDelayedReply() {
	r.lock.Lock()
	message := r.delayedMessage
	r.delayed = false
	r.delayedMessage = nil
	r.lock.Unlock()

	if message == nil {
		return
	}

	if err := r.manager.deliver(message.Header, message.Data); err != nil {
		r.manager.logger.WarnWith("Failed to send reply",
			"rid", message.Header.Rid,
			"process", message.Header.Process,
			"err", err.Error())
	}
}

// flushActions delivers queued actions through the request's link, folding them into
// the response header when there is no link or it cannot be notified
func (r *Request) flushActions() {
	r.lock.Lock()
	actions := r.actions
	r.actions = nil
	r.lock.Unlock()

	if len(actions) == 0 {
		return
	}

	if r.header.LinkID != "" {
		_, err := r.manager.NotifyLink(r.ctx, r.header.LinkID, actions)
		if err == nil {
			return
		}

		r.manager.logger.DebugWith("Failed to notify link, folding actions into response header",
			"linkID", r.header.LinkID,
			"err", err.Error())
	}

	r.lock.Lock()
	r.responseHeader = append(r.responseHeader, actions...)
	r.lock.Unlock()
}

// ErrorPayload is the body of an error ack carrying err
func ErrorPayload(err error) map[string]interface{} {
	if frameworkErr, isFrameworkErr := errorcode.FromError(err); isFrameworkErr {
		return frameworkErr.Payload()
	}

	return map[string]interface{}{
		"success": false,
		"code":    -1,
		"stack":   errors.GetErrorStackString(err, 10),
		"message": err.Error(),
	}
}
