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

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nuclio/radon/pkg/common"
	"github.com/nuclio/radon/pkg/transport/codec"

	"github.com/google/uuid"
	"github.com/icza/dyno"
	"github.com/nuclio/errors"
)

// store is the session table. It outlives module generations
type store struct {
	lock     sync.Mutex
	sessions map[int64]*Session
	lastID   int64
	modified bool
	codec    codec.Codec
}

func newStore() *store {
	return &store{
		sessions: map[int64]*Session{},
		codec:    codec.NewMsgPack(),
	}
}

func (s *store) register(data interface{}, tokenSize int, now int64) *Session {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.lastID++
	return s.insert(s.lastID, data, tokenSize, now)
}

func (s *store) touch(sessionID int64, now int64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	session, found := s.sessions[sessionID]
	if !found {
		return false
	}

	session.Time = now
	s.modified = true
	return true
}

// update sets the data of a session. A missing session is created when update.Create is
// set, and returned; otherwise the result tells whether the session existed
func (s *store) update(update *Update, tokenSize int, now int64) interface{} {
	s.lock.Lock()
	defer s.lock.Unlock()

	session, found := s.sessions[update.ID]
	if found {

		// data is replaced rather than modified, replies may still be encoding the old one
		session.Data = applyUpdate(session.Data, update)
		session.Time = now
		s.modified = true
		return true
	}

	if !update.Create {
		return false
	}

	sessionID := update.ID
	if sessionID <= 0 {
		s.lastID++
		sessionID = s.lastID
	} else if sessionID > s.lastID {
		s.lastID = sessionID
	}

	return s.insert(sessionID, applyUpdate(nil, update), tokenSize, now)
}

func (s *store) remove(sessionID int64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.sessions[sessionID]; !found {
		return false
	}

	delete(s.sessions, sessionID)
	s.modified = true
	return true
}

func (s *store) getByID(sessionID int64) *Session {
	s.lock.Lock()
	defer s.lock.Unlock()

	if session, found := s.sessions[sessionID]; found {
		return session.clone()
	}

	return nil
}

func (s *store) getByToken(token string) *Session {
	if token == "" {
		return nil
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, session := range s.sessions {
		if session.Token == token {
			return session.clone()
		}
	}

	return nil
}

func (s *store) find(query *FindQuery) []*Session {
	path := lookupPath(query.Key)
	found := []*Session{}

	for _, session := range s.ordered() {
		value, err := dyno.Get(session.Data, path...)
		if err == nil && sameValue(value, query.Value) {
			found = append(found, session)
		}
	}

	return found
}

func (s *store) list(query *ListQuery) (*ListResult, error) {
	if query.Namespace == "" {
		return nil, errors.New("listSessions requires a namespace")
	}

	items := []interface{}{}

	for _, session := range s.ordered() {
		data, isMap := session.Data.(map[string]interface{})
		if !isMap {
			continue
		}

		namespaceData, isMap := data[query.Namespace].(map[string]interface{})
		if !isMap || !matchesAny(namespaceData, query.Query) {
			continue
		}

		item := map[string]interface{}{}
		if len(query.Fields) > 0 {
			for _, field := range query.Fields {
				if value, found := namespaceData[field]; found {
					item[field] = value
				}
			}
		} else {
			for key, value := range namespaceData {
				item[key] = value
			}
		}

		item["_id"] = session.ID
		items = append(items, item)
	}

	result := &ListResult{
		Total: len(items),
		Page:  query.Page,
		Size:  query.Size,
		Items: []interface{}{},
	}

	if result.Page <= 0 {
		result.Page = 1
	}

	if result.Size <= 0 {
		result.Size = defaultPageSize
	}

	start := (result.Page - 1) * result.Size
	if start < len(items) {
		end := start + result.Size
		if end > len(items) {
			end = len(items)
		}

		result.Items = items[start:end]
	}

	return result, nil
}

// sweep removes the sessions untouched since deadline and returns their ids
func (s *store) sweep(deadline int64) []int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	var removed []int64
	for sessionID, session := range s.sessions {
		if session.Time < deadline {
			delete(s.sessions, sessionID)
			removed = append(removed, sessionID)
		}
	}

	if len(removed) > 0 {
		s.modified = true
	}

	return removed
}

// load reads the sessions saved at path, skipping those untouched since deadline
func (s *store) load(path string, deadline int64) error {
	if !common.FileExists(path) {
		return nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "Failed to read sessions from %s", path)
	}

	var saved []*Session
	if err := s.codec.Decode(contents, &saved); err != nil {
		return errors.Wrapf(err, "Failed to decode sessions from %s", path)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, session := range saved {
		if session == nil || session.Time < deadline {
			continue
		}

		s.sessions[session.ID] = session
		if session.ID > s.lastID {
			s.lastID = session.ID
		}
	}

	return nil
}

// save writes the sessions to path if they changed since the last save
func (s *store) save(path string) (bool, error) {
	s.lock.Lock()
	if !s.modified {
		s.lock.Unlock()
		return false, nil
	}

	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session.clone())
	}
	s.modified = false
	s.lock.Unlock()

	contents, err := s.codec.Encode(sessions)
	if err == nil {
		err = writeFileAtomically(path, contents)
	}

	if err != nil {
		s.lock.Lock()
		s.modified = true
		s.lock.Unlock()

		return false, errors.Wrapf(err, "Failed to save sessions to %s", path)
	}

	return true, nil
}

func (s *store) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.sessions)
}

// ordered returns copies of all sessions, by id
func (s *store) ordered() []*Session {
	s.lock.Lock()
	defer s.lock.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session.clone())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID < sessions[j].ID
	})

	return sessions
}

func (s *store) insert(sessionID int64, data interface{}, tokenSize int, now int64) *Session {
	session := &Session{
		ID:    sessionID,
		Token: newToken(tokenSize) + strconv.FormatInt(sessionID, 10),
		Time:  now,
		Data:  data,
	}

	s.sessions[sessionID] = session
	s.modified = true

	return session.clone()
}

// applyUpdate returns the data resulting from applying update to data. With argc above
// one, key names the field to set; otherwise key is the new data
func applyUpdate(data interface{}, update *Update) interface{} {
	if update.Argc <= 1 {
		return update.Key
	}

	updated := map[string]interface{}{}
	if current, isMap := data.(map[string]interface{}); isMap {
		for key, value := range current {
			updated[key] = value
		}
	}

	updated[fmt.Sprint(update.Key)] = update.Value
	return updated
}

// newToken returns size random alphanumeric characters
func newToken(size int) string {
	var builder strings.Builder

	for builder.Len() < size {
		builder.WriteString(strings.ReplaceAll(uuid.New().String(), "-", ""))
	}

	return builder.String()[:size]
}

func lookupPath(key string) []interface{} {
	var path []interface{}
	for _, part := range strings.Split(key, ".") {
		path = append(path, part)
	}

	return path
}

// matchesAny returns true when query is empty or any of its fields equals the same field of data
func matchesAny(data map[string]interface{}, query map[string]interface{}) bool {
	if len(query) == 0 {
		return true
	}

	for key, value := range query {
		if sameValue(data[key], value) {
			return true
		}
	}

	return false
}

// sameValue compares decoded values, treating numbers of different types as equal when
// they hold the same value
func sameValue(first interface{}, second interface{}) bool {
	firstNumber, firstIsNumber := toFloat(first)
	secondNumber, secondIsNumber := toFloat(second)

	if firstIsNumber && secondIsNumber {
		return firstNumber == secondNumber
	}

	return reflect.DeepEqual(first, second)
}

func toFloat(value interface{}) (float64, bool) {
	switch typedValue := value.(type) {
	case int:
		return float64(typedValue), true
	case int64:
		return float64(typedValue), true
	case int32:
		return float64(typedValue), true
	case uint64:
		return float64(typedValue), true
	case uint32:
		return float64(typedValue), true
	case float64:
		return typedValue, true
	case float32:
		return float64(typedValue), true
	default:
		return 0, false
	}
}

func writeFileAtomically(path string, contents []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	temporaryPath := path + ".tmp"
	if err := os.WriteFile(temporaryPath, contents, 0600); err != nil {
		return err
	}

	return os.Rename(temporaryPath, path)
}
