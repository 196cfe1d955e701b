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

	"github.com/nuclio/radon/pkg/transport/envelope"
)

// Ipc sends messages on behalf of a module
type Ipc struct {
	manager *Manager
	module  string
}

// Manager returns the manager the facade sends through
func (i *Ipc) Manager() *Manager {
	return i.manager
}

// Send sends a fire and forget message
func (i *Ipc) Send(ctx context.Context, destination envelope.Destination, data interface{}) error {
	return i.manager.Send(ctx, i.newHeader(destination), data)
}

// Cast sends a fire and forget message to every process destination names
func (i *Ipc) Cast(ctx context.Context, destination envelope.Destination, data interface{}) error {
	return i.manager.Cast(ctx, i.newHeader(destination), data)
}

// Request sends a request and waits for its ack
func (i *Ipc) Request(ctx context.Context, destination envelope.Destination, data interface{}) (interface{}, error) {
	return i.manager.Request(ctx, i.newHeader(destination), data)
}

// RequestResult is Request delivering errors inside the result
func (i *Ipc) RequestResult(ctx context.Context, destination envelope.Destination, data interface{}) *Result {
	return i.manager.RequestResult(ctx, i.newHeader(destination), data)
}

// Abort signals the processes destination names to cancel the request of linkID and ref
func (i *Ipc) Abort(ctx context.Context, destination envelope.Destination, linkID string, ref string) error {
	header := i.newHeader(destination)
	header.LinkID = linkID
	header.Ref = ref

	return i.manager.Abort(ctx, header, nil)
}

func (i *Ipc) newHeader(destination envelope.Destination) *envelope.Header {
	header := envelope.NewHeader(destination)
	header.SourceModule = i.module

	return header
}
