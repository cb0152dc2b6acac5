/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

const metricsNamespace = "contacts_db"

// MetricsHook records statement counts and latencies.
type MetricsHook struct {
	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ bun.QueryHook = (*MetricsHook)(nil)

// NewMetricsHook registers the query metrics with reg, reusing collectors that
// are already registered there. A nil reg means prometheus.DefaultRegisterer.
func NewMetricsHook(reg prometheus.Registerer) (*MetricsHook, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	queries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "queries_total",
		Help:      "Statements executed, by operation and outcome.",
	}, []string{"operation", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "query_duration_seconds",
		Help:      "Statement latency, by operation.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	var err error
	if queries, err = register(reg, queries); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	return &MetricsHook{queries: queries, duration: duration}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (h *MetricsHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	operation := event.Operation()
	status := "ok"
	if event.Err != nil {
		status = "error"
	}
	h.queries.WithLabelValues(operation, status).Inc()
	h.duration.WithLabelValues(operation).Observe(time.Since(event.StartTime).Seconds())
}

// StatsCollector exports connection pool stats of a manager.
type StatsCollector struct {
	manager AbstractDatabaseManager

	open      *prometheus.Desc
	inUse     *prometheus.Desc
	idle      *prometheus.Desc
	waitCount *prometheus.Desc
}

var _ prometheus.Collector = (*StatsCollector)(nil)

// NewStatsCollector returns a collector reading manager.GetStats on every scrape.
func NewStatsCollector(manager AbstractDatabaseManager) *StatsCollector {
	return &StatsCollector{
		manager:   manager,
		open:      prometheus.NewDesc(metricsNamespace+"_pool_open_connections", "Established connections.", nil, nil),
		inUse:     prometheus.NewDesc(metricsNamespace+"_pool_in_use_connections", "Connections currently in use.", nil, nil),
		idle:      prometheus.NewDesc(metricsNamespace+"_pool_idle_connections", "Idle connections.", nil, nil),
		waitCount: prometheus.NewDesc(metricsNamespace+"_pool_wait_count_total", "Connections waited for.", nil, nil),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
	ch <- c.waitCount
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.manager.GetStats()
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(stats.OpenConns))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(stats.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stats.Idle))
	ch <- prometheus.MustNewConstMetric(c.waitCount, prometheus.CounterValue, float64(stats.WaitCount))
}
