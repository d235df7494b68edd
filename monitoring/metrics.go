package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_waiting_total",
			Help: "Current waiting lane length per event",
		},
		[]string{"event_id", "lane"},
	)

	admittedUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_admitted_total",
			Help: "Current number of admitted users per event",
		},
		[]string{"event_id"},
	)

	queueOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_operations_total",
			Help: "Total queue operations",
		},
		[]string{"operation", "event_id", "status"},
	)

	reservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation outcomes",
		},
		[]string{"outcome"},
	)

	orders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Order lifecycle events",
		},
		[]string{"outcome"},
	)

	payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment confirmation outcomes",
		},
		[]string{"outcome"},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scans_total",
			Help: "Door scan results",
		},
		[]string{"result"},
	)

	sweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweeper_recoveries_total",
			Help: "Records recovered by the cleanup sweeper",
		},
		[]string{"kind"},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.collectQueueMetrics(context.Background())
	}
}

func (m *Monitor) collectQueueMetrics(ctx context.Context) {
	waitingKeys, _ := m.redis.Keys(ctx, "queue:waiting:*").Result()
	for _, key := range waitingKeys {
		rest := key[len("queue:waiting:"):]

		// keys are queue:waiting:<event>:<lane>
		sep := -1
		for i := len(rest) - 1; i >= 0; i-- {
			if rest[i] == ':' {
				sep = i
				break
			}
		}
		if sep < 0 {
			continue
		}

		length, _ := m.redis.LLen(ctx, key).Result()
		queueLength.WithLabelValues(rest[:sep], rest[sep+1:]).Set(float64(length))
	}

	processingKeys, _ := m.redis.Keys(ctx, "queue:processing:*").Result()
	for _, key := range processingKeys {
		eventID := key[len("queue:processing:"):]
		length, _ := m.redis.SCard(ctx, key).Result()
		admittedUsers.WithLabelValues(eventID).Set(float64(length))
	}
}

func (m *Monitor) TrackQueueOperation(operation, eventID, status string) {
	queueOperations.WithLabelValues(operation, eventID, status).Inc()
}

func (m *Monitor) TrackReservation(outcome string) {
	reservations.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackOrder(outcome string) {
	orders.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackPayment(outcome string) {
	payments.WithLabelValues(outcome).Inc()
}

func (m *Monitor) TrackScan(result string) {
	scans.WithLabelValues(result).Inc()
}

func (m *Monitor) TrackSweep(kind string) {
	sweeps.WithLabelValues(kind).Inc()
}
