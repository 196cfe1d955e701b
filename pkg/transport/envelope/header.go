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
	"github.com/fatih/structs"
)

// Pair is one [name, value] entry of a response header list
type Pair struct {
	_msgpack struct{}    `msgpack:",asArray"`
	Name     string      `json:"name"`
	Value    interface{} `json:"value"`
}

// Header is the envelope of an IPC message
type Header struct {
	Mid            uint64                 `json:"mid,omitempty" msgpack:"mid,omitempty"`
	Type           MessageType            `json:"type,omitempty" msgpack:"type,omitempty"`
	Process        Names                  `json:"process,omitempty" msgpack:"process,omitempty"`
	Module         string                 `json:"module,omitempty" msgpack:"module,omitempty"`
	Event          string                 `json:"event,omitempty" msgpack:"event,omitempty"`
	SourceProcess  string                 `json:"source_process,omitempty" msgpack:"source_process,omitempty"`
	SourceModule   string                 `json:"source_module,omitempty" msgpack:"source_module,omitempty"`
	OriginEvent    string                 `json:"origin_event,omitempty" msgpack:"origin_event,omitempty"`
	Rid            uint64                 `json:"rid,omitempty" msgpack:"rid,omitempty"`
	Ext            int                    `json:"ext,omitempty" msgpack:"ext,omitempty"`
	Rext           int                    `json:"rext,omitempty" msgpack:"rext,omitempty"`
	Err            int                    `json:"err,omitempty" msgpack:"err,omitempty"`
	SessionID      int64                  `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	LinkID         string                 `json:"link_id,omitempty" msgpack:"link_id,omitempty"`
	Ref            string                 `json:"ref,omitempty" msgpack:"ref,omitempty"`
	Cookie         interface{}            `json:"cookie,omitempty" msgpack:"cookie,omitempty"`
	ExtraField     map[string]interface{} `json:"extra_field,omitempty" msgpack:"extra_field,omitempty"`
	ResponseHeader []Pair                 `json:"response_header,omitempty" msgpack:"response_header,omitempty"`
	Timeout        int64                  `json:"timeout,omitempty" msgpack:"timeout,omitempty"`
	URI            string                 `json:"uri,omitempty" msgpack:"uri,omitempty"`
	Group          string                 `json:"group,omitempty" msgpack:"group,omitempty"`
	Pid            int                    `json:"pid,omitempty" msgpack:"pid,omitempty"`
	Rpid           int                    `json:"rpid,omitempty" msgpack:"rpid,omitempty"`
}

// Message is a header plus its codec-encoded payload. The payload stays opaque to
// everything that only routes the message
type Message struct {
	_msgpack struct{} `msgpack:",asArray"`
	Header   *Header  `json:"header"`
	Data     []byte   `json:"data"`
}

// NewHeader creates a header addressed to destination
func NewHeader(destination Destination) *Header {
	header := &Header{}
	if destination != nil {
		destination.apply(header)
	}

	return header
}

// IsRequest returns true for req messages
func (h *Header) IsRequest() bool {
	return h.Type == TypeRequest
}

// Clone returns a copy that shares no slices or maps with h
func (h *Header) Clone() *Header {
	clone := *h

	if h.Process != nil {
		clone.Process = append(Names{}, h.Process...)
	}

	if h.ResponseHeader != nil {
		clone.ResponseHeader = append([]Pair{}, h.ResponseHeader...)
	}

	if h.ExtraField != nil {
		clone.ExtraField = make(map[string]interface{}, len(h.ExtraField))
		for key, value := range h.ExtraField {
			clone.ExtraField[key] = value
		}
	}

	return &clone
}

// Map returns the header keyed by wire field names, omitting unset fields
func (h *Header) Map() map[string]interface{} {
	headerStruct := structs.New(h)
	headerStruct.TagName = "msgpack"

	return headerStruct.Map()
}

// Field returns a header field by its wire name, or nil when it is unset
func (h *Header) Field(name string) interface{} {
	return h.Map()[name]
}

// CopyUserHeader copies the end user context of h into target and records h's event as
// target's origin event
func (h *Header) CopyUserHeader(target *Header) {
	if h.SessionID != 0 {
		target.SessionID = h.SessionID
	}
	if h.LinkID != "" {
		target.LinkID = h.LinkID
	}
	if h.Ref != "" {
		target.Ref = h.Ref
	}
	if h.Cookie != nil {
		target.Cookie = h.Cookie
	}
	if h.ExtraField != nil {
		target.ExtraField = h.ExtraField
	}
	if h.Event != "" {
		target.OriginEvent = h.Event
	}
}

// MergeUnset fills every field of target left unset from h, except the destination
// fields uri, process and module which must come from target itself
func (h *Header) MergeUnset(target *Header) {
	if target.Mid == 0 {
		target.Mid = h.Mid
	}
	if target.Type == "" {
		target.Type = h.Type
	}
	if target.Event == "" {
		target.Event = h.Event
	}
	if target.SourceProcess == "" {
		target.SourceProcess = h.SourceProcess
	}
	if target.SourceModule == "" {
		target.SourceModule = h.SourceModule
	}
	if target.OriginEvent == "" {
		target.OriginEvent = h.OriginEvent
	}
	if target.Rid == 0 {
		target.Rid = h.Rid
	}
	if target.Ext == 0 {
		target.Ext = h.Ext
	}
	if target.Rext == 0 {
		target.Rext = h.Rext
	}
	if target.Err == 0 {
		target.Err = h.Err
	}
	if target.Timeout == 0 {
		target.Timeout = h.Timeout
	}
	if target.Group == "" {
		target.Group = h.Group
	}
	if target.Pid == 0 {
		target.Pid = h.Pid
	}
	if target.ResponseHeader == nil {
		target.ResponseHeader = h.ResponseHeader
	}

	if target.SessionID == 0 {
		target.SessionID = h.SessionID
	}
	if target.LinkID == "" {
		target.LinkID = h.LinkID
	}
	if target.Ref == "" {
		target.Ref = h.Ref
	}
	if target.Cookie == nil {
		target.Cookie = h.Cookie
	}
	if target.ExtraField == nil {
		target.ExtraField = h.ExtraField
	}
}

// GetResponseHeader returns the value of the index-th (0 based) response header named name
func (h *Header) GetResponseHeader(name string, index int) (interface{}, bool) {
	for _, pair := range h.ResponseHeader {
		if pair.Name != name {
			continue
		}

		if index > 0 {
			index--
			continue
		}

		return pair.Value, true
	}

	return nil, false
}
