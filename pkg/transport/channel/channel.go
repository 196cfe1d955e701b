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

package channel

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/transport/codec"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
)

// HeaderSize is the size of the little endian length prefix of every frame
const HeaderSize = 6

const maxFrameLength = 1<<(HeaderSize*8) - 1

const readBufferSize = 64 * 1024

// Handler is invoked once per complete frame
type Handler func(frame *envelope.Frame) error

// Channel frames discrete messages over a byte stream
type Channel struct {
	logger  logger.Logger
	codec   codec.Codec
	reader  io.Reader
	writer  io.Writer
	handler Handler

	writeLock sync.Mutex

	// reassembly state, owned by whoever calls Feed
	pending []byte
	needed  int
}

// New creates a channel. reader may be nil for a write-only channel and writer may be
// nil for a read-only one
func New(parentLogger logger.Logger,
	frameCodec codec.Codec,
	reader io.Reader,
	writer io.Writer,
	handler Handler) *Channel {

	return &Channel{
		logger:  parentLogger.GetChild("channel"),
		codec:   frameCodec,
		reader:  reader,
		writer:  writer,
		handler: handler,
	}
}

// Codec returns the codec frames are encoded with
func (c *Channel) Codec() codec.Codec {
	return c.codec
}

// Send encodes payload and writes it as one frame of the given kind
func (c *Channel) Send(kind string, payload interface{}) error {
	frame, err := envelope.NewFrame(c.codec, kind, payload)
	if err != nil {
		return errors.Wrap(err, "Failed to create frame")
	}

	return c.SendFrame(frame)
}

// SendMessage writes an ipc frame
func (c *Channel) SendMessage(message *envelope.Message) error {
	return c.Send(envelope.KindIPC, message)
}

// SendFrame writes an already built frame
func (c *Channel) SendFrame(frame *envelope.Frame) error {
	body, err := c.codec.Encode(frame)
	if err != nil {
		return errors.Wrap(err, "Failed to encode frame")
	}

	if len(body) > maxFrameLength {
		return errors.Errorf("Frame too large to be framed: %d bytes", len(body))
	}

	if c.writer == nil {
		return errors.New("Channel is not writable")
	}

	header := EncodeLength(len(body))

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if _, err := c.writer.Write(header); err != nil {
		return errors.Wrap(err, "Failed to write frame header")
	}

	if _, err := c.writer.Write(body); err != nil {
		return errors.Wrap(err, "Failed to write frame body")
	}

	return nil
}

// Run reads the underlying stream until it ends or ctx is done, feeding every chunk
// into the reassembly. A clean end of stream returns nil
func (c *Channel) Run(ctx context.Context) error {
	if c.reader == nil {
		return errors.New("Channel is not readable")
	}

	buffer := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		bytesRead, err := c.reader.Read(buffer)
		if bytesRead > 0 {

			// Feed keeps no reference to the chunk beyond the call
			c.Feed(buffer[:bytesRead])
		}

		if err != nil {
			if isEndOfStream(err) {
				return nil
			}

			return errors.Wrap(err, "Failed to read from channel")
		}
	}
}

// Feed appends a chunk of the stream and invokes the handler for every frame it completes
func (c *Channel) Feed(chunk []byte) {
	data := chunk
	if len(c.pending) > 0 {
		data = append(c.pending, chunk...)
	}

	for {
		if c.needed == 0 {
			if len(data) < HeaderSize {
				break
			}

			c.needed = DecodeLength(data[:HeaderSize])
			data = data[HeaderSize:]

			if c.needed == 0 {
				c.logger.Warn("Dropping empty frame")
				continue
			}
		}

		if len(data) < c.needed {
			break
		}

		body := data[:c.needed]
		data = data[c.needed:]
		c.needed = 0

		c.handleBody(body)
	}

	// the remainder must survive the caller's buffer
	c.pending = append(c.pending[:0:0], data...)
}

// Close closes the writer and reader when they support it
func (c *Channel) Close() error {
	var closeErr error

	if closer, ok := c.writer.(io.Closer); ok {
		closeErr = closer.Close()
	}

	if closer, ok := c.reader.(io.Closer); ok {
		if err := closer.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	}

	return closeErr
}

func (c *Channel) handleBody(body []byte) {
	frame := &envelope.Frame{}
	if err := c.codec.Decode(body, frame); err != nil {
		c.logger.WarnWith("Dropping undecodable frame", "err", err.Error(), "length", len(body))
		return
	}

	if c.handler == nil {
		return
	}

	if err := common.CatchAndLogPanic(c.logger, "handling frame", func() error {
		return c.handler(frame)
	}); err != nil {
		c.logger.WarnWith("Frame handler failed", "kind", frame.Kind, "err", errors.Cause(err).Error())
	}
}

func isEndOfStream(err error) bool {
	if err == io.EOF || err == io.ErrClosedPipe {
		return true
	}

	pathErr, isPathErr := err.(*os.PathError)
	return isPathErr && pathErr.Err == os.ErrClosed
}

// EncodeLength returns the frame header for a body of length bytes
func EncodeLength(length int) []byte {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, uint64(length))

	return buffer[:HeaderSize]
}

// DecodeLength parses a frame header
func DecodeLength(header []byte) int {
	buffer := make([]byte, 8)
	copy(buffer, header[:HeaderSize])

	return int(binary.LittleEndian.Uint64(buffer))
}
