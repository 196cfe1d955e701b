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

package status

import (
	"fmt"
)

// Provider is an interface for entities that have a reportable status
type Provider interface {

	// Returns the entity's status
	GetStatus() Status
}

// Status is the lifecycle status of a process
type Status int

// Status codes, in the order a process advances through them
const (
	Running Status = iota
	Clearing
	ClearForce
	Cleared
	Stopping
	Stopped
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Clearing:
		return "CLEARING"
	case ClearForce:
		return "CLEAR_FORCE"
	case Cleared:
		return "CLEARED"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	}

	return fmt.Sprintf("Unknown status - %d", s)
}

// IsClearing returns true while jobs are drained without stopping
func (s Status) IsClearing() bool {
	return s == Clearing || s == ClearForce
}

// AcceptsJobs returns true unless the process is going down
func (s Status) AcceptsJobs() bool {
	return s != Stopping && s != Stopped
}
