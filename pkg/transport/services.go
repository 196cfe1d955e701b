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
	"context"

	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/transport/envelope"
)

// SessionUpdate is the argument of the session service's update event. With Argc above
// one Key names a data field set to Value, otherwise Key replaces the whole data
type SessionUpdate struct {
	ID     int64       `json:"id"`
	Key    interface{} `json:"key"`
	Value  interface{} `json:"value,omitempty"`
	Argc   int         `json:"argc"`
	Create bool        `json:"create,omitempty"`
}

func (s *SessionUpdate) payload() map[string]interface{} {
	return map[string]interface{}{
		"id":     s.ID,
		"key":    s.Key,
		"value":  s.Value,
		"argc":   s.Argc,
		"create": s.Create,
	}
}

// RegisterLink registers a client connection with the link service
func (m *Manager) RegisterLink(ctx context.Context, link map[string]interface{}) (interface{}, error) {
	return m.requestLink(ctx, "register", link)
}

// TouchLink refreshes a link, merging data into it
func (m *Manager) TouchLink(ctx context.Context, linkID string, data map[string]interface{}) (interface{}, error) {
	return m.requestLink(ctx, "touch", map[string]interface{}{
		"id":   linkID,
		"data": data,
	})
}

// RemoveLink removes a link
func (m *Manager) RemoveLink(ctx context.Context, linkID string) (interface{}, error) {
	return m.requestLink(ctx, "remove", linkID)
}

// GetLink returns a link. Unless exact, an expired link is still returned
func (m *Manager) GetLink(ctx context.Context, linkID string, exact bool) (interface{}, error) {
	return m.requestLink(ctx, "get", map[string]interface{}{
		"id":    linkID,
		"exact": exact,
	})
}

// NotifyLink delivers actions to the process holding the link's connection
func (m *Manager) NotifyLink(ctx context.Context, linkID string, actions []envelope.Pair) (interface{}, error) {
	return m.requestLink(ctx, "notify", map[string]interface{}{
		"id":      linkID,
		"actions": actions,
	})
}

// RegisterSession creates a session holding data
func (m *Manager) RegisterSession(ctx context.Context, data interface{}) (interface{}, error) {
	return m.requestSession(ctx, "register", data)
}

// TouchSession refreshes a session
func (m *Manager) TouchSession(ctx context.Context, sessionID int64) (interface{}, error) {
	return m.requestSession(ctx, "touch", sessionID)
}

// UpdateSession updates a session's data
func (m *Manager) UpdateSession(ctx context.Context, update *SessionUpdate) (interface{}, error) {
	return m.requestSession(ctx, "update", update.payload())
}

// CreateSession updates a session's data, creating the session when it does not exist
func (m *Manager) CreateSession(ctx context.Context, update *SessionUpdate) (interface{}, error) {
	createUpdate := *update
	createUpdate.Create = true

	return m.UpdateSession(ctx, &createUpdate)
}

// RemoveSession removes a session
func (m *Manager) RemoveSession(ctx context.Context, sessionID int64) (interface{}, error) {
	return m.requestSession(ctx, "remove", sessionID)
}

// GetSessionByID returns a session by id
func (m *Manager) GetSessionByID(ctx context.Context, sessionID int64) (interface{}, error) {
	return m.requestSession(ctx, "getById", sessionID)
}

// GetSessionByToken returns a session by token
func (m *Manager) GetSessionByToken(ctx context.Context, token string) (interface{}, error) {
	return m.requestSession(ctx, "getByToken", token)
}

// FindSession returns the sessions whose data field key equals value
func (m *Manager) FindSession(ctx context.Context, key string, value interface{}) (interface{}, error) {
	return m.requestSession(ctx, "findSession", map[string]interface{}{
		"key": key,
		"val": value,
	})
}

func (m *Manager) requestLink(ctx context.Context, event string, data interface{}) (interface{}, error) {
	return m.requestService(ctx, m.linkDestination, errorcode.LinkNotConfigured, event, data)
}

func (m *Manager) requestSession(ctx context.Context, event string, data interface{}) (interface{}, error) {
	return m.requestService(ctx, m.sessionDestination, errorcode.SessionNotConfigured, event, data)
}

func (m *Manager) requestService(ctx context.Context,
	destination envelope.Destination,
	notConfiguredCode int,
	event string,
	data interface{}) (interface{}, error) {

	if destination == nil {
		return nil, errorcode.New(notConfiguredCode)
	}

	header := envelope.NewHeader(envelope.WithEvent(destination, event))

	return m.Request(ctx, header, data)
}
