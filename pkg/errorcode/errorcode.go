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

package errorcode

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/nuclio/errors"
)

const (
	NoHandler            = 3000
	ProcessNotFound      = 3001
	ReplyOnNonRequest    = 3002
	ErrorOnNonRequest    = 3003
	AlreadyReplied       = 3004
	NoResponse           = 3005
	WorkerExited         = 3006
	ProcessClosing       = 3007
	ForceEnd             = 3008
	NoRoute              = 3100
	SessionNotConfigured = 3300
	LinkNotConfigured    = 3301
	RouterNotConfigured  = 3302
	RequestTimeout       = 3304
	Aborted              = 3305

	// codes at or above this value belong to applications
	applicationCodeBase = 10000
)

var templates = map[int]string{
	NoHandler:            "No module handler found for %0.%1:%2",
	ProcessNotFound:      "Process not found: %0",
	ReplyOnNonRequest:    "Message is not a request, reply() is not allowed (%0.%1:%2)",
	ErrorOnNonRequest:    "Message is not a request, error() is not allowed (%0.%1:%2)",
	AlreadyReplied:       "Request already replied (%0.%1:%2)",
	NoResponse:           "Request produced no response %0.%1:%2",
	WorkerExited:         "Worker exited: pid: %0, code: %1, signal: %2",
	ProcessClosing:       "Process is closing, transaction aborted",
	ForceEnd:             "Force End The Process",
	NoRoute:              "No route found for (%0)",
	SessionNotConfigured: "radon.transport.session is not configured, session module unreachable",
	LinkNotConfigured:    "radon.transport.link is not configured, link module unreachable",
	RouterNotConfigured:  "radon.transport.router is not configured, router module unreachable",
	RequestTimeout:       "Request timed out",
	Aborted:              "Aborted By InterFace, mid: %0",
}

var applicationTemplates = struct {
	sync.RWMutex
	byCode map[int]string
}{byCode: map[int]string{}}

var placeholderRegex = regexp.MustCompile(`{\$([\w]+)}|%(\d+)`)

// Error is a framework error: a numeric code, a rendered message and the arguments it was rendered from
type Error struct {
	Code    int         `json:"code" msgpack:"code"`
	Message string      `json:"message" msgpack:"message"`
	Data    interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Payload is the body of an error ack carrying this error
func (e *Error) Payload() map[string]interface{} {
	return map[string]interface{}{
		"success": false,
		"code":    e.Code,
		"message": e.Message,
		"data":    e.Data,
	}
}

// RegisterApplicationCode registers a message template for an application code (>= 10000)
func RegisterApplicationCode(code int, template string) error {
	if code < applicationCodeBase {
		return errors.Errorf("Application error codes must be >= %d (got %d)", applicationCodeBase, code)
	}

	applicationTemplates.Lock()
	defer applicationTemplates.Unlock()

	applicationTemplates.byCode[code] = template
	return nil
}

// Message renders the template of code with args
func Message(code int, args ...interface{}) string {
	template, found := lookupTemplate(code)
	if !found {
		return "Unknown Error Message"
	}

	return render(template, args)
}

// New creates an error for code, rendering its template with args
func New(code int, args ...interface{}) *Error {
	var data interface{}
	if len(args) > 0 {
		data = args
	}

	return &Error{
		Code:    code,
		Message: Message(code, args...),
		Data:    data,
	}
}

// NewWithMessage creates an error for code with an explicit message template
func NewWithMessage(code int, message string, args ...interface{}) *Error {
	err := New(code, args...)
	err.Message = render(message, args)
	return err
}

// FromError extracts the framework error carried by err (possibly wrapped)
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}

	if typedErr, ok := err.(*Error); ok {
		return typedErr, true
	}

	if typedErr, ok := errors.RootCause(err).(*Error); ok {
		return typedErr, true
	}

	return nil, false
}

// IsCode returns true if err carries a framework error with the given code
func IsCode(err error, code int) bool {
	typedErr, ok := FromError(err)
	return ok && typedErr.Code == code
}

func lookupTemplate(code int) (string, bool) {
	if code < applicationCodeBase {
		template, found := templates[code]
		return template, found
	}

	applicationTemplates.RLock()
	defer applicationTemplates.RUnlock()

	template, found := applicationTemplates.byCode[code]
	return template, found
}

func render(template string, args []interface{}) string {
	if len(args) == 0 {
		return template
	}

	var named map[string]interface{}
	if len(args) == 1 {
		named, _ = args[0].(map[string]interface{})
	}

	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		submatches := placeholderRegex.FindStringSubmatch(match)

		key := submatches[1]
		if key == "" {
			key = submatches[2]
		}

		if named != nil {
			if value, found := named[key]; found {
				return fmt.Sprint(value)
			}
			return match
		}

		index, err := strconv.Atoi(key)
		if err != nil || index >= len(args) {
			return match
		}

		return fmt.Sprint(args[index])
	})
}
