// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// vnsyncNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	vnsyncNamespace = "vnsync"

	directorySubsystem  = "directory"
	connectionSubsystem = "connection"
	transportSubsystem  = "transport"

	initTypeLabelName = "init_type"
	resultLabelName   = "result"
	reasonLabelName   = "reason"
	methodLabelName   = "method"

	SuccessLabel = "success"
	FailLabel    = "fail"
)

var (
	// buckets 为耗时直方图的桶划分，单位为毫秒。
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192]
	buckets = prometheus.ExponentialBuckets(1, 2, 14)

	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: vnsyncNamespace,
			Subsystem: directorySubsystem,
			Name:      "connected_clients",
			Help:      "number of connections registered in the session directory",
		})

	DanglingSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: vnsyncNamespace,
			Subsystem: directorySubsystem,
			Name:      "dangling_sessions",
			Help:      "number of sessions waiting for reconnect within the grace window",
		})

	ReclaimTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: directorySubsystem,
			Name:      "reclaim_total",
			Help:      "dangling session claims by result",
		}, []string{resultLabelName})

	ExpiredSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: directorySubsystem,
			Name:      "expired_sessions_total",
			Help:      "dangling sessions dropped after the grace window elapsed",
		})

	InvariantViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: directorySubsystem,
			Name:      "invariant_violations_total",
			Help:      "events the directory could not attribute to a known connection",
		})

	HandshakeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: connectionSubsystem,
			Name:      "handshake_total",
			Help:      "completed handshakes by init type and result",
		}, []string{initTypeLabelName, resultLabelName})

	HandshakeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: vnsyncNamespace,
			Subsystem: connectionSubsystem,
			Name:      "handshake_latency",
			Help:      "time from connect to a successful init, in milliseconds",
			Buckets:   buckets,
		}, []string{initTypeLabelName})

	InboundMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: connectionSubsystem,
			Name:      "inbound_messages_total",
			Help:      "decoded inbound requests by method",
		}, []string{methodLabelName})

	StopTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: connectionSubsystem,
			Name:      "stop_total",
			Help:      "terminated connections by stop reason",
		}, []string{reasonLabelName})

	SendQueueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: transportSubsystem,
			Name:      "send_queue_rejected_total",
			Help:      "outbound frames dropped because a socket send queue was full",
		})

	AcceptedConnectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: vnsyncNamespace,
			Subsystem: transportSubsystem,
			Name:      "accepted_connections_total",
			Help:      "websocket upgrades accepted",
		})

	registerMu       sync.Mutex
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	registerMu.Lock()
	defer registerMu.Unlock()
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 将当前定义的所有指标注册到 r。
// 同一组指标可以注册到多个 Registry（例如每个测试 Server 一个）。
func Register(r prometheus.Registerer) {
	r.MustRegister(ConnectedClients)
	r.MustRegister(DanglingSessions)
	r.MustRegister(ReclaimTotal)
	r.MustRegister(ExpiredSessionsTotal)
	r.MustRegister(InvariantViolationsTotal)
	r.MustRegister(HandshakeTotal)
	r.MustRegister(HandshakeLatency)
	r.MustRegister(InboundMessagesTotal)
	r.MustRegister(StopTotal)
	r.MustRegister(SendQueueRejectedTotal)
	r.MustRegister(AcceptedConnectionsTotal)

	registerMu.Lock()
	metricRegisterer = r
	registerMu.Unlock()
}
