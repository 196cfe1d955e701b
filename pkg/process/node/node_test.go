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

package node

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nuclio/radon/pkg/transport/channel"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/logger"
	nucliozap "github.com/nuclio/zap"
	"github.com/stretchr/testify/suite"
)

type NodeTestSuite struct {
	suite.Suite
	logger       logger.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	node         *Node
	parent       *channel.Channel
	parentWriter *io.PipeWriter
	parentFrames chan *envelope.Frame
	nodeDone     chan error
}

func (suite *NodeTestSuite) SetupTest() {
	var err error

	suite.logger, err = nucliozap.NewNuclioZapTest("test")
	suite.Require().NoError(err)

	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 10*time.Second)

	toNodeReader, toNodeWriter := io.Pipe()
	fromNodeReader, fromNodeWriter := io.Pipe()

	suite.parentWriter = toNodeWriter
	suite.parentFrames = make(chan *envelope.Frame, 8)
	suite.node = NewNode(suite.logger, toNodeReader, fromNodeWriter)
	suite.parent = channel.New(suite.logger, codec.NewMsgPack(), fromNodeReader, toNodeWriter,
		func(frame *envelope.Frame) error {
			suite.parentFrames <- frame
			return nil
		})

	go suite.parent.Run(suite.ctx) // nolint: errcheck
}

func (suite *NodeTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *NodeTestSuite) TestFramesFanOutByKind() {
	commands := make(chan *envelope.SystemCommand, 1)

	suite.node.On(envelope.KindSystem, func(frame *envelope.Frame) error {
		systemCommand := &envelope.SystemCommand{}
		if err := frame.Decode(suite.node.Codec(), systemCommand); err != nil {
			return err
		}

		commands <- systemCommand
		return nil
	})

	suite.runNode()

	// nothing handles logs on this node; the frame is dropped and reading goes on
	suite.Require().NoError(suite.parent.Send(envelope.KindLog, &envelope.LogRecord{Level: "info", Line: "x"}))
	suite.Require().NoError(suite.parent.Send(envelope.KindSystem, &envelope.SystemCommand{
		Command: envelope.SystemReload,
		Param:   "group.web",
	}))

	select {
	case systemCommand := <-commands:
		suite.Require().Equal(envelope.SystemReload, systemCommand.Command)
		suite.Require().Equal("group.web", systemCommand.Param)
	case <-suite.ctx.Done():
		suite.Fail("System command never reached the handler")
	}
}

func (suite *NodeTestSuite) TestSendReachesParent() {
	suite.runNode()

	suite.Require().NoError(suite.node.Send(envelope.KindClear, 4242))
	suite.Require().NoError(suite.node.SendMessage(&envelope.Message{
		Header: &envelope.Header{Type: envelope.TypeSend, Process: envelope.Names{"web"}},
		Data:   []byte{0xc0},
	}))

	clearFrame := suite.nextParentFrame()
	suite.Require().Equal(envelope.KindClear, clearFrame.Kind)

	var pid int
	suite.Require().NoError(clearFrame.Decode(suite.node.Codec(), &pid))
	suite.Require().Equal(4242, pid)

	messageFrame := suite.nextParentFrame()
	suite.Require().Equal(envelope.KindIPC, messageFrame.Kind)

	message, err := messageFrame.DecodeMessage(suite.node.Codec())
	suite.Require().NoError(err)
	suite.Require().Equal(envelope.Names{"web"}, message.Header.Process)
	suite.Require().Equal([]byte{0xc0}, message.Data)
}

func (suite *NodeTestSuite) TestParentCloseEndsRun() {
	suite.runNode()

	suite.Require().NoError(suite.parentWriter.Close())

	select {
	case err := <-suite.nodeDone:
		suite.Require().NoError(err)
	case <-suite.ctx.Done():
		suite.Fail("Node kept running after its parent closed the channel")
	}
}

func (suite *NodeTestSuite) runNode() {
	suite.nodeDone = make(chan error, 1)

	go func() {
		suite.nodeDone <- suite.node.Run(suite.ctx)
	}()
}

func (suite *NodeTestSuite) nextParentFrame() *envelope.Frame {
	select {
	case frame := <-suite.parentFrames:
		return frame
	case <-suite.ctx.Done():
		suite.FailNow("Parent received no frame")
		return nil
	}
}

func TestNodeTestSuite(t *testing.T) {
	suite.Run(t, new(NodeTestSuite))
}
