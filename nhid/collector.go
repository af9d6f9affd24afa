// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nhid

import (
	"github.com/openconfig/fibsync/route"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fibsync"

var (
	nextHopsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "nhid", "nexthop_ids"),
		"Number of allocated next-hop IDs.", nil, nil)
	setsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "nhid", "nexthop_set_ids"),
		"Number of allocated next-hop set IDs.", nil, nil)
	nextIDDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "nhid", "next_id"),
		"Next ID that will be allocated.", []string{"kind"}, nil)
)

// Collector exports the state of a Manager as prometheus metrics.
type Collector struct {
	m *Manager
}

// NewCollector returns a Collector for m.
func NewCollector(m *Manager) *Collector {
	return &Collector{m: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- nextHopsDesc
	ch <- setsDesc
	ch <- nextIDDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(nextHopsDesc, prometheus.GaugeValue, float64(c.m.NextHopCount()))
	ch <- prometheus.MustNewConstMetric(setsDesc, prometheus.GaugeValue, float64(c.m.NextHopSetCount()))
	ch <- prometheus.MustNewConstMetric(nextIDDesc, prometheus.GaugeValue, float64(c.m.NextAvailableNextHopID()), "nexthop")
	ch <- prometheus.MustNewConstMetric(nextIDDesc, prometheus.GaugeValue, float64(uint64(c.m.NextAvailableNextHopSetID())-route.SetIDOffset), "nexthop_set")
}
