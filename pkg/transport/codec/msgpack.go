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

package codec

import (
	"bytes"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"
)

// MsgPack is the default wire codec
type MsgPack struct{}

func NewMsgPack() *MsgPack {
	return &MsgPack{}
}

func (m *MsgPack) Kind() Kind {
	return KindMsgPack
}

func (m *MsgPack) Encode(value interface{}) ([]byte, error) {
	var buf bytes.Buffer

	encoder := msgpack.NewEncoder(&buf).UseCompactEncoding(true)
	if err := encoder.Encode(value); err != nil {
		return nil, errors.Wrap(err, "Failed to encode message")
	}

	return buf.Bytes(), nil
}

func (m *MsgPack) Decode(data []byte, value interface{}) error {
	decoder := msgpack.NewDecoder(bytes.NewReader(data))
	decoder.UseDecodeInterfaceLoose(true)

	if err := decoder.Decode(value); err != nil {
		return errors.Wrap(err, "Failed to decode message")
	}

	normalizeTarget(value)
	return nil
}
