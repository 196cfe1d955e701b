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
	"encoding/json"

	"github.com/icza/dyno"
	"github.com/nuclio/errors"
)

// Kind names a codec in configuration
type Kind string

const (
	KindMsgPack Kind = "msgpack"
	KindJSON    Kind = "json"
)

// Codec turns arbitrary values into bytes and back. Values decoded into an interface{}
// come back normalized: maps keyed by string, integers as int64, floats as float64
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, value interface{}) error
	Kind() Kind
}

// New returns the codec for kind. An empty kind selects msgpack
func New(kind Kind) (Codec, error) {
	switch kind {
	case "", KindMsgPack:
		return NewMsgPack(), nil
	case KindJSON:
		return NewJSON(), nil
	default:
		return nil, errors.Errorf("Unsupported codec kind: %s", kind)
	}
}

// Normalize converts generically decoded values into the shapes handlers expect
func Normalize(value interface{}) interface{} {
	switch typedValue := value.(type) {
	case map[interface{}]interface{}:
		return Normalize(dyno.ConvertMapI2MapS(typedValue))
	case map[string]interface{}:
		for key, item := range typedValue {
			typedValue[key] = Normalize(item)
		}
		return typedValue
	case []interface{}:
		for index, item := range typedValue {
			typedValue[index] = Normalize(item)
		}
		return typedValue
	case json.Number:
		if intValue, err := typedValue.Int64(); err == nil {
			return intValue
		}
		floatValue, _ := typedValue.Float64()
		return floatValue
	case int:
		return int64(typedValue)
	case int8:
		return int64(typedValue)
	case int16:
		return int64(typedValue)
	case int32:
		return int64(typedValue)
	case uint8:
		return int64(typedValue)
	case uint16:
		return int64(typedValue)
	case uint32:
		return int64(typedValue)
	case float32:
		return float64(typedValue)
	default:
		return value
	}
}

func normalizeTarget(value interface{}) {
	if target, ok := value.(*interface{}); ok {
		*target = Normalize(*target)
	}
}
