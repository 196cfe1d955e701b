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

package node

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/nuclio/radon/pkg/transport/channel"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// Descriptors a supervised child reads from and writes to
const (
	ReadDescriptor  = 3
	WriteDescriptor = 4
)

// FrameHandler handles the frames of one kind
type FrameHandler func(frame *envelope.Frame) error

// Node is the child end of a supervisor channel. Frames it reads are fanned out by kind
type Node struct {
	logger  logger.Logger
	channel *channel.Channel

	lock     sync.RWMutex
	handlers map[string]FrameHandler
}

// NewNode creates a node over reader and writer
func NewNode(parentLogger logger.Logger, reader io.Reader, writer io.Writer) *Node {
	newNode := &Node{
		logger:   parentLogger.GetChild("node"),
		handlers: map[string]FrameHandler{},
	}

	newNode.channel = channel.New(newNode.logger, codec.NewMsgPack(), reader, writer, newNode.handleFrame)

	return newNode
}

// NewNodeFromDescriptors creates a node over the pipes a supervisor passed as descriptors 3 and 4
func NewNodeFromDescriptors(parentLogger logger.Logger) (*Node, error) {
	reader := os.NewFile(ReadDescriptor, "radon-parent-read")
	writer := os.NewFile(WriteDescriptor, "radon-parent-write")

	if reader == nil || writer == nil {
		return nil, errors.New("Process was not started by a supervisor, descriptors 3 and 4 are missing")
	}

	return NewNode(parentLogger, reader, writer), nil
}

// On sets the handler of a frame kind, replacing any previous one
func (n *Node) On(kind string, handler FrameHandler) {
	n.lock.Lock()
	defer n.lock.Unlock()

	n.handlers[kind] = handler
}

// Send sends a frame of kind to the parent
func (n *Node) Send(kind string, payload interface{}) error {
	return n.channel.Send(kind, payload)
}

// SendMessage sends an ipc message to the parent
func (n *Node) SendMessage(message *envelope.Message) error {
	return n.channel.SendMessage(message)
}

// SendFrame sends an already built frame to the parent
func (n *Node) SendFrame(frame *envelope.Frame) error {
	return n.channel.SendFrame(frame)
}

// Codec returns the codec frames are encoded with
func (n *Node) Codec() codec.Codec {
	return n.channel.Codec()
}

// Run reads frames until the parent closes the channel or ctx is done
func (n *Node) Run(ctx context.Context) error {
	return n.channel.Run(ctx)
}

// Close closes the channel
func (n *Node) Close() error {
	return n.channel.Close()
}

func (n *Node) handleFrame(frame *envelope.Frame) error {
	n.lock.RLock()
	handler, found := n.handlers[frame.Kind]
	n.lock.RUnlock()

	if !found {
		n.logger.DebugWith("Dropping frame of unhandled kind", "kind", frame.Kind)
		return nil
	}

	return handler(frame)
}
