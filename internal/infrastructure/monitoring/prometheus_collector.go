package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	roomsActive           prometheus.Gauge
	participantsConnected prometheus.Gauge

	joinsTotal       prometheus.Counter
	signalsRouted    *prometheus.CounterVec
	routeMissesTotal prometheus.Counter
	roomsSweptTotal  prometheus.Counter
	messagesDropped  prometheus.Counter
	validationErrors prometheus.Counter
	roomFullRejects  prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		roomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vc_rooms_active",
			Help: "Number of rooms with at least one participant",
		}),

		participantsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vc_participants_connected",
			Help: "Number of participants currently joined across all rooms",
		}),

		joinsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_joins_total",
			Help: "Total successful room joins, including reconnections",
		}),

		signalsRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vc_signals_routed_total",
			Help: "Total offer/answer/candidate messages relayed to a target",
		}, []string{"kind"}),

		routeMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_route_misses_total",
			Help: "Total relayed messages dropped because the target was not found",
		}),

		roomsSweptTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_rooms_swept_total",
			Help: "Total stale empty rooms removed by the periodic sweep",
		}),

		messagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_messages_dropped_total",
			Help: "Total inbound messages dropped by rate limiting",
		}),

		validationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_validation_errors_total",
			Help: "Total malformed messages rejected at the boundary",
		}),

		roomFullRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vc_room_full_rejects_total",
			Help: "Total joins rejected because the room was at capacity",
		}),
	}
}

func (p *PrometheusCollector) SetRegistryGauges(rooms, participants int) {
	p.roomsActive.Set(float64(rooms))
	p.participantsConnected.Set(float64(participants))
}

func (p *PrometheusCollector) RecordJoin() {
	p.joinsTotal.Inc()
}

func (p *PrometheusCollector) RecordSignalRouted(kind string) {
	p.signalsRouted.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordRouteMiss() {
	p.routeMissesTotal.Inc()
}

func (p *PrometheusCollector) RecordSweep(removed int) {
	p.roomsSweptTotal.Add(float64(removed))
}

func (p *PrometheusCollector) RecordMessageDropped() {
	p.messagesDropped.Inc()
}

func (p *PrometheusCollector) RecordValidationError() {
	p.validationErrors.Inc()
}

func (p *PrometheusCollector) RecordRoomFull() {
	p.roomFullRejects.Inc()
}
