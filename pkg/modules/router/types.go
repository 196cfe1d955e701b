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

package router

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
)

// Rule maps uris to a destination. Match is a regular expression whose groups may be
// referenced as {$N} in the other fields; URI is a plain prefix
type Rule struct {
	Match   string `mapstructure:"match"`
	URI     string `mapstructure:"uri"`
	Process string `mapstructure:"process"`
	Module  string `mapstructure:"module"`
	Event   string `mapstructure:"event"`

	// textual form "module@process:event", used instead of the fields when set
	Route string `mapstructure:"route"`

	pattern *regexp.Regexp
}

// Configuration is read from the module config, from the file named by router_file or
// from the router section of the group file
type Configuration struct {
	RouterFile   string                    `mapstructure:"router_file"`
	Rules        []Rule                    `mapstructure:"rules"`
	Groups       map[string]envelope.Names `mapstructure:"groups"`
	DefaultGroup envelope.Names            `mapstructure:"default_group"`
}

// Route is what a query resolves to
type Route struct {
	Process envelope.Names `json:"process" msgpack:"process"`
	Module  string         `json:"module,omitempty" msgpack:"module,omitempty"`
	Event   string         `json:"event,omitempty" msgpack:"event,omitempty"`
}

// Query is the argument of getRoute
type Query struct {
	URI    string `json:"uri"`
	Module string `json:"module"`
	Group  string `json:"group"`
}

// Registration is the argument of regModule
type Registration struct {
	Process string   `json:"process"`
	Name    string   `json:"name"`
	Modules []string `json:"modules"`
}

var routePattern = regexp.MustCompile(`^([^@:]+)?(?:@([^:]+))?(?::(.+))?$`)
var markPattern = regexp.MustCompile(`\{\$(\d+)\}`)

func (r *Rule) compile() error {
	if r.Match == "" {
		if r.URI == "" {
			return errors.New("Rule has neither match nor uri")
		}

		return nil
	}

	var err error
	if r.pattern, err = regexp.Compile(r.Match); err != nil {
		return errors.Wrapf(err, "Invalid rule pattern %s", r.Match)
	}

	return nil
}

// matches returns the submatches of uri, or nil when the rule does not apply
func (r *Rule) matches(uri string) []string {
	if r.pattern != nil {
		return r.pattern.FindStringSubmatch(uri)
	}

	if strings.HasPrefix(uri, r.URI) {
		return []string{uri}
	}

	return nil
}

// resolve builds the route of a matching uri. The process may be left empty
func (r *Rule) resolve(matches []string) *Route {
	if r.Route != "" {
		parts := routePattern.FindStringSubmatch(replaceMarks(r.Route, matches))
		if parts == nil {
			return nil
		}

		return &Route{
			Process: splitNames(parts[2]),
			Module:  parts[1],
			Event:   parts[3],
		}
	}

	return &Route{
		Process: splitNames(replaceMarks(r.Process, matches)),
		Module:  replaceMarks(r.Module, matches),
		Event:   replaceMarks(r.Event, matches),
	}
}

// replaceMarks substitutes {$N} with the N-th group of matches. Unknown marks stay
func replaceMarks(text string, matches []string) string {
	if text == "" || len(matches) == 0 {
		return text
	}

	return markPattern.ReplaceAllStringFunc(text, func(mark string) string {
		index, err := strconv.Atoi(markPattern.FindStringSubmatch(mark)[1])
		if err == nil && index > 0 && index < len(matches) {
			return matches[index]
		}

		return mark
	})
}

func splitNames(text string) envelope.Names {
	if text == "" {
		return nil
	}

	return strings.Split(text, ",")
}
