// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 会话轮次指标
	turnsTotal        *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	superstepsPerTurn *prometheus.HistogramVec
	eventsStreamed    *prometheus.CounterVec

	// 检查点指标
	checkpointWritesTotal *prometheus.CounterVec
	checkpointWriteTime   *prometheus.HistogramVec
	checkpointLoadsTotal  *prometheus.CounterVec

	// 协作方指标
	collaboratorCallsTotal *prometheus.CounterVec
	collaboratorCallTime   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 会话轮次指标
	c.turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of conversation turns",
		},
		[]string{"workflow", "outcome"}, // outcome: halted, deferred, error
	)

	c.turnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Conversation turn duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"workflow"},
	)

	c.superstepsPerTurn = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "supersteps_per_turn",
			Help:      "Number of supersteps executed in one turn",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
		},
		[]string{"workflow"},
	)

	c.eventsStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_streamed_total",
			Help:      "Total number of assistant step events streamed",
		},
		[]string{"workflow"},
	)

	// 检查点指标
	c.checkpointWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoint writes",
		},
		[]string{"workflow", "status"}, // status: ok, error
	)

	c.checkpointWriteTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_write_duration_seconds",
			Help:      "Checkpoint write duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	c.checkpointLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_loads_total",
			Help:      "Total number of checkpoint loads",
		},
		[]string{"workflow", "status"}, // status: hit, miss, error
	)

	// 协作方指标
	c.collaboratorCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of external collaborator calls",
		},
		[]string{"collaborator", "status"},
	)

	c.collaboratorCallTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "External collaborator call duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"collaborator"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 💬 会话轮次指标记录
// =============================================================================

// RecordTurn 记录一轮会话
func (c *Collector) RecordTurn(workflow, outcome string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(workflow, outcome).Inc()
	c.turnDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordSupersteps 记录单轮执行的超步数
func (c *Collector) RecordSupersteps(workflow string, n int) {
	c.superstepsPerTurn.WithLabelValues(workflow).Observe(float64(n))
}

// RecordEventStreamed 记录一条流式输出事件
func (c *Collector) RecordEventStreamed(workflow string) {
	c.eventsStreamed.WithLabelValues(workflow).Inc()
}

// =============================================================================
// 💾 检查点指标记录
// =============================================================================

// RecordCheckpointWrite 记录检查点写入
func (c *Collector) RecordCheckpointWrite(workflow, status string, duration time.Duration) {
	c.checkpointWritesTotal.WithLabelValues(workflow, status).Inc()
	c.checkpointWriteTime.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordCheckpointLoad 记录检查点读取
func (c *Collector) RecordCheckpointLoad(workflow, status string) {
	c.checkpointLoadsTotal.WithLabelValues(workflow, status).Inc()
}

// =============================================================================
// 🤝 协作方指标记录
// =============================================================================

// RecordCollaboratorCall 记录外部协作方调用
func (c *Collector) RecordCollaboratorCall(collaborator, status string, duration time.Duration) {
	c.collaboratorCallsTotal.WithLabelValues(collaborator, status).Inc()
	c.collaboratorCallTime.WithLabelValues(collaborator).Observe(duration.Seconds())
}
