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

package session

const (
	DefaultTimeout      = 1800
	DefaultTokenSize    = 30
	DefaultSaveInterval = 60
	defaultPageSize     = 10
)

// Session is a client session. Time is the last touch, in unix milliseconds
type Session struct {
	ID    int64       `json:"sid" msgpack:"sid"`
	Token string      `json:"token" msgpack:"token"`
	Time  int64       `json:"time" msgpack:"time"`
	Data  interface{} `json:"data" msgpack:"data"`
}

func (s *Session) clone() *Session {
	cloned := *s
	return &cloned
}

// Configuration of the session module
type Configuration struct {

	// seconds a session lives untouched
	Timeout int `mapstructure:"timeout"`

	// length of the random token prefix
	TokenSize int `mapstructure:"token_size"`

	Storage *StorageConfiguration `mapstructure:"storage"`
}

// StorageConfiguration persists sessions to a file, so they survive process restarts
type StorageConfiguration struct {
	Path string `mapstructure:"path"`

	// seconds between saves of a modified session table
	SaveInterval int `mapstructure:"save_interval"`
}

// Update is the argument of the update event
type Update struct {
	ID     int64       `json:"id"`
	Key    interface{} `json:"key"`
	Value  interface{} `json:"value"`
	Argc   int         `json:"argc"`
	Create bool        `json:"create"`
}

// FindQuery is the argument of the findSession event. Key may be a dotted path
type FindQuery struct {
	Key   string      `json:"key"`
	Value interface{} `json:"val"`
}

// ListQuery is the argument of the listSessions event. Sessions are listed by the data
// they hold under Namespace, filtered by any Query field matching
type ListQuery struct {
	Namespace string                 `json:"namespace"`
	Query     map[string]interface{} `json:"query"`
	Fields    []string               `json:"fields"`
	Page      int                    `json:"page"`
	Size      int                    `json:"size"`
}

// ListResult is a page of listed sessions
type ListResult struct {
	Total int           `json:"total" msgpack:"total"`
	Page  int           `json:"page" msgpack:"page"`
	Size  int           `json:"size" msgpack:"size"`
	Items []interface{} `json:"items" msgpack:"items"`
}
