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
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/icza/dyno"
)

// Result gives access to both the header and the payload of an ack, successful or not
type Result struct {
	header  *envelope.Header
	payload interface{}
	err     error
}

func newResult(header *envelope.Header, payload interface{}, err error) *Result {
	if header == nil {
		header = &envelope.Header{}
	}

	return &Result{
		header:  header,
		payload: payload,
		err:     err,
	}
}

// GetHeader returns the ack header
func (r *Result) GetHeader() *envelope.Header {
	return r.header
}

// HeaderField returns an ack header field by its wire name
func (r *Result) HeaderField(name string) interface{} {
	return r.header.Field(name)
}

// Get returns a payload field, or defaultValue when the payload has no such field
func (r *Result) Get(name string, defaultValue interface{}) interface{} {
	return getField(r.payload, name, defaultValue)
}

// GetAll returns the payload
func (r *Result) GetAll() interface{} {
	return r.payload
}

// GetPath returns a nested payload value
func (r *Result) GetPath(path ...interface{}) (interface{}, error) {
	return dyno.Get(r.payload, path...)
}

// GetResponseHeader returns the index-th response header named name
func (r *Result) GetResponseHeader(name string, index int) interface{} {
	value, _ := r.header.GetResponseHeader(name, index)
	return value
}

// IsError returns true for error acks and timeouts
func (r *Result) IsError() bool {
	return r.err != nil || r.header.Err != 0
}

// Err returns the error the ack carried, if any
func (r *Result) Err() error {
	return r.err
}

func getField(payload interface{}, name string, defaultValue interface{}) interface{} {
	fields, isMap := payload.(map[string]interface{})
	if !isMap {
		return defaultValue
	}

	value, found := fields[name]
	if !found || value == nil {
		return defaultValue
	}

	return value
}
