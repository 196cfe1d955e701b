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

// Outcome is what a handler asks the dispatcher to do with its request once it returns
type Outcome struct {
	reply bool
	value interface{}
}

// NoReply leaves replying to the handler
var NoReply = Outcome{}

// Reply asks the dispatcher to reply value to the request, unless it was already replied
func Reply(value interface{}) Outcome {
	return Outcome{
		reply: true,
		value: value,
	}
}

// IsReply returns true if the outcome carries a reply
func (o Outcome) IsReply() bool {
	return o.reply
}

// Value returns the reply value
func (o Outcome) Value() interface{} {
	return o.value
}
