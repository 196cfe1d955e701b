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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type metrics struct {
	registry      *prometheus.Registry
	children      *prometheus.GaugeVec
	restarts      *prometheus.CounterVec
	routed        prometheus.Counter
	undeliverable prometheus.Counter
}

func newMetrics() *metrics {
	newMetrics := &metrics{
		registry: prometheus.NewRegistry(),
		children: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "radon_daemon_children_running",
			Help: "Number of child processes that reported inited and did not exit since",
		}, []string{"group"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radon_daemon_child_restarts_total",
			Help: "Number of times a child process exited and was restarted",
		}, []string{"id"}),
		routed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radon_daemon_messages_routed_total",
			Help: "Number of messages the daemon passed between child processes",
		}),
		undeliverable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radon_daemon_messages_undeliverable_total",
			Help: "Number of messages addressed to no known process",
		}),
	}

	newMetrics.registry.MustRegister(newMetrics.children,
		newMetrics.restarts,
		newMetrics.routed,
		newMetrics.undeliverable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return newMetrics
}
