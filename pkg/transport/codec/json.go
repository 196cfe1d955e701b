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
	"encoding/json"

	"github.com/nuclio/errors"
)

// JSON is a human readable codec, useful when tracing channel traffic
type JSON struct{}

func NewJSON() *JSON {
	return &JSON{}
}

func (j *JSON) Kind() Kind {
	return KindJSON
}

func (j *JSON) Encode(value interface{}) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode message")
	}

	return encoded, nil
}

func (j *JSON) Decode(data []byte, value interface{}) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	if err := decoder.Decode(value); err != nil {
		return errors.Wrap(err, "Failed to decode message")
	}

	normalizeTarget(value)
	return nil
}
