// Package metrics exports refresh health and reading values to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/reading"
)

// Metrics holds the collectors of one process. It uses its own registry so
// tests and multiple instances do not collide.
type Metrics struct {
	registry *prometheus.Registry

	// RefreshSuccess is 1 when the last cycle succeeded, 0 otherwise.
	RefreshSuccess *prometheus.GaugeVec
	// LastSuccess is the unix time of the last successful cycle.
	LastSuccess *prometheus.GaugeVec
	// RefreshTotal counts cycles by outcome (success or a failure kind).
	RefreshTotal *prometheus.CounterVec
	// LiveData is 1 when the last reading carried live state-of-charge data.
	LiveData *prometheus.GaugeVec
	// Sensor and BinarySensor hold one series per known descriptor value.
	Sensor       *prometheus.GaugeVec
	BinarySensor *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RefreshSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ebike_refresh_success",
				Help: "Whether the last refresh cycle succeeded (1=success, 0=failure).",
			},
			[]string{"bike"},
		),
		LastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ebike_last_success_timestamp_seconds",
				Help: "Unix time of the last successful refresh cycle.",
			},
			[]string{"bike"},
		),
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ebike_refresh_total",
				Help: "Total number of refresh cycles by result.",
			},
			[]string{"bike", "result"}, // result: success/auth/api/profile_unavailable/data
		),
		LiveData: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ebike_live_data_available",
				Help: "Whether live state-of-charge data was available in the last reading.",
			},
			[]string{"bike"},
		),
		Sensor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ebike_sensor_value",
				Help: "Current value of a numeric bike sensor.",
			},
			[]string{"bike", "key", "unit"},
		),
		BinarySensor: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ebike_binary_sensor_state",
				Help: "Current state of a binary bike sensor (1=on, 0=off).",
			},
			[]string{"bike", "key"},
		),
	}

	m.registry.MustRegister(
		m.RefreshSuccess,
		m.LastSuccess,
		m.RefreshTotal,
		m.LiveData,
		m.Sensor,
		m.BinarySensor,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records the outcome of a cycle. It is meant to be registered with
// coordinator.OnUpdate.
func (m *Metrics) Observe(s coordinator.Snapshot) {
	bike := s.BikeID

	if s.LastUpdateSuccess {
		m.RefreshSuccess.WithLabelValues(bike).Set(1)
		m.RefreshTotal.WithLabelValues(bike, "success").Inc()
	} else {
		m.RefreshSuccess.WithLabelValues(bike).Set(0)
		m.RefreshTotal.WithLabelValues(bike, string(coordinator.KindOf(s.Err))).Inc()
	}

	if !s.LastSuccess.IsZero() {
		m.LastSuccess.WithLabelValues(bike).Set(float64(s.LastSuccess.Unix()))
	}

	r := s.Reading
	if r == nil {
		return
	}

	if r.LiveDataAvailable {
		m.LiveData.WithLabelValues(bike).Set(1)
	} else {
		m.LiveData.WithLabelValues(bike).Set(0)
	}

	for _, d := range reading.Sensors {
		labels := prometheus.Labels{"bike": bike, "key": d.Key, "unit": d.Unit}
		if reading.Available(s.LastUpdateSuccess, r, d.Value) {
			m.Sensor.With(labels).Set(*d.Value(r))
		} else {
			m.Sensor.Delete(labels)
		}
	}

	for _, d := range reading.BinarySensors {
		labels := prometheus.Labels{"bike": bike, "key": d.Key}
		if !reading.Available(s.LastUpdateSuccess, r, d.Value) {
			m.BinarySensor.Delete(labels)
			continue
		}
		v := 0.0
		if *d.Value(r) {
			v = 1
		}
		m.BinarySensor.With(labels).Set(v)
	}
}
