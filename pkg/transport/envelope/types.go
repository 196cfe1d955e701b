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

// Channel message kinds, the first element of every frame
const (
	KindAdminRequest = "admin"
	KindAdminAck     = "ack_admin"
	KindIPC          = "ipc"
	KindLog          = "log"
	KindException    = "exception"
	KindSystem       = "sys"
	KindClear        = "clear"
	KindInit         = "init"
	KindInited       = "inited"
)

// MessageType is the type field of an IPC envelope
type MessageType string

const (
	TypeSend        MessageType = "send"
	TypeRequest     MessageType = "req"
	TypeAck         MessageType = "ack"
	TypeAbort       MessageType = "abort"
	TypeProcessCast MessageType = "process_cast"
)

// System commands carried by KindSystem frames as [command, param]
const (
	SystemReload = "reload"
	SystemClear  = "clear"
	SystemStop   = "stop"
)

// Out-of-band actions and well known events
const (
	ActionHTTPStatus = "RADON.HTTP_STATUS"
	ActionSetCookie  = "RADON.SET_COOKIE"
	ActionSetSession = "RADON.SET_SESSION"
	EventNotifyLink  = "RADON.NOTIFY_LINK"
	EventRemoveLink  = "RADON.REMOVE_LINK"
)

// SingleModeProcess is the only process of a group running in single mode
const SingleModeProcess = "SINGLE_MODE"

// Names is a destination process list; one name addresses a process, several address a cast
type Names []string

// First returns the first name or empty
func (n Names) First() string {
	if len(n) == 0 {
		return ""
	}

	return n[0]
}

// Contains returns true if name is in the list
func (n Names) Contains(name string) bool {
	for _, candidate := range n {
		if candidate == name {
			return true
		}
	}

	return false
}

// Without returns a copy of the list with name removed
func (n Names) Without(name string) Names {
	remaining := make(Names, 0, len(n))
	for _, candidate := range n {
		if candidate != name {
			remaining = append(remaining, candidate)
		}
	}

	return remaining
}

// SystemCommand is the payload of a KindSystem frame
type SystemCommand struct {
	_msgpack struct{} `msgpack:",asArray"`
	Command  string
	Param    string
}

// AdminRequest is the payload of a KindAdminRequest frame
type AdminRequest struct {
	Mid     string      `json:"mid" msgpack:"mid"`
	ID      string      `json:"id,omitempty" msgpack:"id,omitempty"`
	Command string      `json:"cmd" msgpack:"cmd"`
	Data    interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
}

// AdminAck is the payload of a KindAdminAck frame
type AdminAck struct {
	Mid  string      `json:"mid" msgpack:"mid"`
	ID   string      `json:"id" msgpack:"id"`
	Data interface{} `json:"data" msgpack:"data"`
}

// InitData is the payload of the KindInit frame a supervisor sends to a new child
type InitData struct {
	Daemon         string `json:"daemon" msgpack:"daemon"`
	Process        string `json:"process" msgpack:"process"`
	ConfigFile     string `json:"config_file" msgpack:"config_file"`
	SingleMode     bool   `json:"single_mode" msgpack:"single_mode"`
	Debug          bool   `json:"debug" msgpack:"debug"`
	MonitorAddress string `json:"monitor_address,omitempty" msgpack:"monitor_address,omitempty"`
	UID            int    `json:"uid,omitempty" msgpack:"uid,omitempty"`
	GID            int    `json:"gid,omitempty" msgpack:"gid,omitempty"`
}

// LogRecord is the payload of a KindLog frame
type LogRecord struct {
	_msgpack struct{} `msgpack:",asArray"`
	Level    string
	Line     string
}

// ExitRecord describes one exit of a child process
type ExitRecord struct {
	Timestamp int64  `json:"ts" msgpack:"ts"`
	Pid       int    `json:"pid" msgpack:"pid"`
	Code      int    `json:"code" msgpack:"code"`
	Signal    string `json:"signal" msgpack:"signal"`
}

// Exception is the payload of a KindException frame, sent by a child that failed fatally
type Exception struct {
	Message string `json:"message" msgpack:"message"`
	Stack   string `json:"stack,omitempty" msgpack:"stack,omitempty"`
}
