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
	"regexp"
	"strings"

	"github.com/nuclio/errors"
)

var destinationPattern = regexp.MustCompile(`^([^\{@:]+)?(?:\{([^\}]+)\})?(?:@([^:]+))?(?::(.+))?$`)

// Destination addresses a message. It is resolved into header fields once, at the
// boundary where it is created
type Destination interface {
	apply(header *Header)
	String() string
}

// ByProcess addresses one or more named processes
type ByProcess struct {
	Processes Names
	Module    string
	Event     string
}

func (d ByProcess) apply(header *Header) {
	header.Process = append(Names{}, d.Processes...)
	header.Module = d.Module
	header.Event = d.Event
}

func (d ByProcess) String() string {
	return d.Module + "@" + strings.Join(d.Processes, ",") + ":" + d.Event
}

// ByModule addresses whichever process hosts a module
type ByModule struct {
	Module string
	Event  string
}

func (d ByModule) apply(header *Header) {
	header.Module = d.Module
	header.Event = d.Event
}

func (d ByModule) String() string {
	return d.Module + ":" + d.Event
}

// ByGroup addresses a module within a named router group
type ByGroup struct {
	Group  string
	Module string
	Event  string
}

func (d ByGroup) apply(header *Header) {
	header.Group = d.Group
	header.Module = d.Module
	header.Event = d.Event
}

func (d ByGroup) String() string {
	return d.Module + "{" + d.Group + "}:" + d.Event
}

// ByURI addresses whatever the router's uri rules map the uri to
type ByURI struct {
	URI string
}

func (d ByURI) apply(header *Header) {
	header.URI = d.URI
}

func (d ByURI) String() string {
	return "#" + d.URI
}

// ParseDestination parses the textual form "module{group}@process1,process2:event".
// A leading "#" denotes a uri
func ParseDestination(text string) (Destination, error) {
	if strings.HasPrefix(text, "#") {
		if len(text) == 1 {
			return nil, errors.New("Empty uri destination")
		}

		return ByURI{URI: text[1:]}, nil
	}

	matches := destinationPattern.FindStringSubmatch(text)
	if matches == nil || text == "" {
		return nil, errors.Errorf("Invalid destination: %s", text)
	}

	module, group, processes, event := matches[1], matches[2], matches[3], matches[4]

	if processes != "" {
		return ByProcess{
			Processes: strings.Split(processes, ","),
			Module:    module,
			Event:     event,
		}, nil
	}

	if group != "" {
		return ByGroup{
			Group:  group,
			Module: module,
			Event:  event,
		}, nil
	}

	if module == "" {
		return nil, errors.Errorf("Destination names no module: %s", text)
	}

	return ByModule{
		Module: module,
		Event:  event,
	}, nil
}

// MustParseDestination is ParseDestination for literals known to be valid
func MustParseDestination(text string) Destination {
	destination, err := ParseDestination(text)
	if err != nil {
		panic(err)
	}

	return destination
}

// WithEvent returns destination addressing event instead of its own event
func WithEvent(destination Destination, event string) Destination {
	switch typedDestination := destination.(type) {
	case ByProcess:
		typedDestination.Event = event
		return typedDestination
	case ByModule:
		typedDestination.Event = event
		return typedDestination
	case ByGroup:
		typedDestination.Event = event
		return typedDestination
	default:
		return destination
	}
}
