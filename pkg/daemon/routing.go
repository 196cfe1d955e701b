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

package daemon

import (
	"strings"

	"github.com/nuclio/radon/pkg/daemon/child"
	"github.com/nuclio/radon/pkg/errorcode"
	"github.com/nuclio/radon/pkg/loggersink/ipc"
	"github.com/nuclio/radon/pkg/transport/envelope"

	"github.com/nuclio/errors"
)

func (d *Daemon) bindChild(entry *childEntry) {
	entry.handle.On(envelope.KindIPC, func(frame *envelope.Frame) error {
		message, err := frame.DecodeMessage(d.codec)
		if err != nil {
			return errors.Wrap(err, "Failed to decode child message")
		}

		d.route(entry, message)
		return nil
	})

	entry.handle.On(envelope.KindLog, func(frame *envelope.Frame) error {
		logRecord := &envelope.LogRecord{}
		if err := frame.Decode(d.codec, logRecord); err != nil {
			return errors.Wrap(err, "Failed to decode child log")
		}

		d.emitChildLog(entry, logRecord)
		return nil
	})

	entry.handle.On(envelope.KindException, func(frame *envelope.Frame) error {
		exception := &envelope.Exception{}
		if err := frame.Decode(d.codec, exception); err != nil {
			return errors.Wrap(err, "Failed to decode child exception")
		}

		entry.logger.ErrorWith("Child raised an exception",
			"message", exception.Message,
			"stack", exception.Stack)
		return nil
	})

	entry.handle.On(envelope.KindAdminAck, func(frame *envelope.Frame) error {
		adminAck := &envelope.AdminAck{}
		if err := frame.Decode(d.codec, adminAck); err != nil {
			return errors.Wrap(err, "Failed to decode admin ack")
		}

		d.onAdminAck(adminAck)
		return nil
	})

	entry.handle.On(envelope.KindInited, func(frame *envelope.Frame) error {
		d.lock.Lock()
		entry.running = true
		d.lock.Unlock()

		d.metrics.children.WithLabelValues(entry.group.name).Inc()
		return nil
	})

	entry.handle.On(child.EventExit, func(frame *envelope.Frame) error {
		d.lock.Lock()
		wasRunning := entry.running
		entry.running = false
		d.lock.Unlock()

		if wasRunning {
			d.metrics.children.WithLabelValues(entry.group.name).Dec()
		}

		if entry.handle.Status() == child.StatusRunAuto {
			d.metrics.restarts.WithLabelValues(entry.handle.ID()).Inc()
		}

		return nil
	})
}

// route delivers a message a child sent. Aborts reach every process of the group, lists
// reach each known process and a request nobody can take is answered with an error
func (d *Daemon) route(source *childEntry, message *envelope.Message) {
	header := message.Header
	groupInstance := source.group

	if header.Type == envelope.TypeAbort {
		for _, target := range d.groupChildren(groupInstance) {
			d.deliver(target, message)
		}

		return
	}

	processNames := header.Process
	if groupInstance.configuration.SingleMode {
		processNames = envelope.Names{envelope.SingleModeProcess}
	}

	if len(processNames) > 1 {
		delivered := false

		for _, processName := range processNames {
			target := d.getGroupChild(groupInstance, processName)
			if target == nil {
				continue
			}

			castHeader := header.Clone()
			castHeader.Process = envelope.Names{processName}

			if d.deliver(target, &envelope.Message{Header: castHeader, Data: message.Data}) {
				delivered = true
			}
		}

		if delivered {
			return
		}
	} else if target := d.getGroupChild(groupInstance, processNames.First()); target != nil {
		if d.deliver(target, message) {
			return
		}
	}

	d.undeliverable(source, message, processNames)
}

func (d *Daemon) deliver(target *childEntry, message *envelope.Message) bool {
	if err := target.handle.SendMessage(message); err != nil {
		target.logger.WarnWith("Failed to deliver message",
			"type", message.Header.Type,
			"mid", message.Header.Mid,
			"err", err.Error())
		return false
	}

	d.metrics.routed.Inc()
	return true
}

// undeliverable answers a request that reached no process with a process not found error
func (d *Daemon) undeliverable(source *childEntry, message *envelope.Message, processNames envelope.Names) {
	header := message.Header
	d.metrics.undeliverable.Inc()

	source.logger.WarnWith("Message has no destination",
		"type", header.Type,
		"process", processNames,
		"module", header.Module,
		"event", header.Event)

	if !header.IsRequest() {
		return
	}

	payload, err := source.group.payloadCodec.Encode(
		errorcode.New(errorcode.ProcessNotFound, strings.Join(processNames, ",")).Payload())
	if err != nil {
		source.logger.WarnWith("Failed to encode process not found payload", "err", err.Error())
		return
	}

	ack := &envelope.Message{
		Header: &envelope.Header{
			Type:          envelope.TypeAck,
			SourceProcess: "0",
			SourceModule:  "0",
			Process:       envelope.Names{header.SourceProcess},
			Module:        header.SourceModule,
			Rpid:          header.Pid,
			Rid:           header.Mid,
			Rext:          header.Ext,
			Err:           1,
		},
		Data: payload,
	}

	if err := source.handle.SendMessage(ack); err != nil {
		source.logger.WarnWith("Failed to answer undeliverable request", "err", err.Error())
	}
}

// emitChildLog writes a log line of a child through the daemon's logger
func (d *Daemon) emitChildLog(entry *childEntry, logRecord *envelope.LogRecord) {
	line := strings.TrimRight(logRecord.Line, "\n")

	switch logRecord.Level {
	case ipc.LevelError:
		entry.logger.Error("%s", line)
	case ipc.LevelWarn:
		entry.logger.Warn("%s", line)
	default:
		entry.logger.Info("%s", line)
	}
}
