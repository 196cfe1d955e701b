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

package child

import (
	"time"

	"github.com/nuclio/radon/pkg/transport/envelope"
)

const (

	// EnvID is the environment variable a child finds its "<group>.<process>" id in
	EnvID = "RADON_ID"

	// exits kept per child
	exitLogSize = 100

	defaultRestartDelay = 500 * time.Millisecond
)

// Status is the run mode of a child
type Status string

const (
	StatusStop    Status = "stop"
	StatusRunOnce Status = "run_once"
	StatusRunAuto Status = "run_auto"
)

// EventExit is the kind On and Once observe the exits of a child with. Its frame carries
// an envelope.ExitRecord
const EventExit = "exit"

// Configuration describes how to spawn a child
type Configuration struct {

	// "<group>.<process>", or "<group>.<process>.<thread>" for threads
	ID         string
	Executable string
	Args       []string
	Env        []string
	Dir        string

	// credentials to spawn with, -1 to inherit
	UID int
	GID int

	// sent as the init frame once spawned
	InitData *envelope.InitData

	RestartDelay time.Duration
}

// Snapshot describes a child for status queries
type Snapshot struct {
	ID        string                `json:"id"`
	Pid       int                   `json:"pid"`
	Status    Status                `json:"status"`
	Started   int                   `json:"started"`
	StartedAt time.Time             `json:"started_at"`
	Exits     []envelope.ExitRecord `json:"exits"`
}
