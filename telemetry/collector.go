// Copyright (c) 2025 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Occupancy counters are gauges; everything else only grows.
var gauges = map[string]bool{
	"cache_used_bytes":     true,
	"cache_capacity_bytes": true,
}

// Collector exports a telemetry context to Prometheus.  Sample values are
// float64, so counts above 2^53 lose precision; Totals.Counters and the JSON
// form are exact.
type Collector struct {
	tel   *Telemetry
	descs map[string]*prometheus.Desc
	names []string
}

// NewCollector with metric names prefixed by namespace.  Constant labels
// (such as a vCPU id) distinguish collectors of the same registry.
func NewCollector(tel *Telemetry, namespace string, labels prometheus.Labels) *Collector {
	c := &Collector{
		tel:   tel,
		descs: make(map[string]*prometheus.Desc),
	}

	for _, counter := range (Totals{}).Counters() {
		name := counter.Name
		if !gauges[name] {
			name += "_total"
		}
		c.names = append(c.names, counter.Name)
		c.descs[counter.Name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "xlate", name),
			"Translator counter "+counter.Name+".",
			nil, labels,
		)
	}

	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, name := range c.names {
		ch <- c.descs[name]
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, counter := range c.tel.Snapshot().Counters() {
		kind := prometheus.CounterValue
		if gauges[counter.Name] {
			kind = prometheus.GaugeValue
		}
		ch <- prometheus.MustNewConstMetric(c.descs[counter.Name], kind, float64(counter.Value))
	}
}
