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

package envelope

import (
	"github.com/nuclio/radon/pkg/transport/codec"

	"github.com/nuclio/errors"
)

// Frame is the body of one channel frame: a kind plus its codec-encoded payload
type Frame struct {
	_msgpack struct{} `msgpack:",asArray"`
	Kind     string   `json:"kind"`
	Payload  []byte   `json:"payload"`
}

// NewFrame encodes payload into a frame of the given kind
func NewFrame(encoder codec.Codec, kind string, payload interface{}) (*Frame, error) {
	frame := &Frame{Kind: kind}

	if payload != nil {
		encodedPayload, err := encoder.Encode(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to encode %s payload", kind)
		}

		frame.Payload = encodedPayload
	}

	return frame, nil
}

// Decode decodes the frame payload into target
func (f *Frame) Decode(decoder codec.Codec, target interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}

	if err := decoder.Decode(f.Payload, target); err != nil {
		return errors.Wrapf(err, "Failed to decode %s payload", f.Kind)
	}

	return nil
}

// DecodeMessage decodes an ipc frame payload
func (f *Frame) DecodeMessage(decoder codec.Codec) (*Message, error) {
	message := &Message{}
	if err := f.Decode(decoder, message); err != nil {
		return nil, err
	}

	if message.Header == nil {
		return nil, errors.New("Message has no header")
	}

	return message, nil
}
