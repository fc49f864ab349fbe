package network

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/arena-sync/internal/ability"
	"github.com/annel0/arena-sync/internal/protocol"
)

// Metrics Prometheus-метрики сетевой подсистемы и цикла тика.
// Реализует game.Observer.
type Metrics struct {
	TickDuration  prometheus.Histogram
	BatchRecords  prometheus.Histogram
	ReliableBytes prometheus.Counter
	PoseBytes     prometheus.Histogram
	PoseUnits     prometheus.Histogram
	Sessions      prometheus.Gauge
	Handshakes    *prometheus.CounterVec
	Casts         *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	StalePoses    prometheus.Counter
	Disconnects   *prometheus.CounterVec
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// nil означает глобальный регистр Prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "tick_duration_seconds",
			Help:      "Длительность одного тика сервера.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		BatchRecords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "batch_records",
			Help:      "Количество надёжных записей в пакете тика.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		ReliableBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "reliable_bytes_total",
			Help:      "Байт, отправленных по надёжному каналу.",
		}),
		PoseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "pose_datagram_bytes",
			Help:      "Размер датаграммы поз.",
			Buckets:   prometheus.LinearBuckets(0, 64, 9),
		}),
		PoseUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arena",
			Name:      "pose_datagram_units",
			Help:      "Количество юнитов в датаграмме поз.",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Name:      "sessions",
			Help:      "Количество синхронизированных сессий.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "handshakes_total",
			Help:      "Результаты рукопожатий.",
		}, []string{"outcome"}),
		Casts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "casts_accepted_total",
			Help:      "Принятые действия по виду записи.",
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "casts_rejected_total",
			Help:      "Отклонённые действия по причине.",
		}, []string{"reason"}),
		StalePoses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "poses_rejected_total",
			Help:      "Позы клиентов, отброшенные как устаревшие или чужие.",
		}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "disconnects_total",
			Help:      "Отключения сессий по причине.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.TickDuration, m.BatchRecords, m.ReliableBytes, m.PoseBytes, m.PoseUnits,
		m.Sessions, m.Handshakes, m.Casts, m.Rejections, m.StalePoses, m.Disconnects,
	)
	return m
}

func (m *Metrics) CastAccepted(rec protocol.CastRecord) {
	m.Casts.WithLabelValues(rec.Kind().String()).Inc()
}

func (m *Metrics) CastRejected(_ protocol.CastRecord, reason ability.Reason) {
	m.Rejections.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) PoseRejected(int32) {
	m.StalePoses.Inc()
}
