// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import "github.com/prometheus/client_golang/prometheus"

// Monitoring holds the optional Prometheus instrumentation for a set of
// Controllers. It is never installed implicitly: callers who want metrics
// obtain one from RegisterMonitoring and pass it in Config.Monitor; callers
// who don't, pay nothing.
type Monitoring struct {
	online          *prometheus.GaugeVec
	snapshotAgeSecs *prometheus.GaugeVec
	commandsSent    *prometheus.CounterVec
	commandErrors   *prometheus.CounterVec
	reassembled     prometheus.Counter
	reassemblyFails prometheus.Counter
}

// RegisterMonitoring constructs a Monitoring instance and registers its
// collectors with reg.
func RegisterMonitoring(reg prometheus.Registerer) (*Monitoring, error) {
	m := &Monitoring{
		online: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pixelair",
			Name:      "device_online",
			Help:      "1 if the device is currently registered, else 0.",
		}, []string{"serial"}),

		snapshotAgeSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pixelair",
			Name:      "device_snapshot_age_seconds",
			Help:      "Seconds since the device's last accepted snapshot.",
		}, []string{"serial"}),

		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelair",
			Name:      "device_commands_sent_total",
			Help:      "Control/command datagrams sent per device.",
		}, []string{"serial"}),

		commandErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelair",
			Name:      "device_command_errors_total",
			Help:      "Command send failures per device.",
		}, []string{"serial"}),

		reassembled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelair",
			Name:      "reassembly_completed_total",
			Help:      "Fragment groups successfully reassembled.",
		}),

		reassemblyFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelair",
			Name:      "reassembly_expired_total",
			Help:      "Fragment groups discarded after exceeding the reassembly deadline.",
		}),
	}

	collectors := []prometheus.Collector{
		m.online, m.snapshotAgeSecs, m.commandsSent, m.commandErrors,
		m.reassembled, m.reassemblyFails,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Monitoring) setOnline(serial string, online bool) {
	if m == nil {
		return
	}
	v := 0.0
	if online {
		v = 1.0
	}
	m.online.WithLabelValues(serial).Set(v)
}

func (m *Monitoring) observeSnapshotAge(serial string, ageSeconds float64) {
	if m == nil {
		return
	}
	m.snapshotAgeSecs.WithLabelValues(serial).Set(ageSeconds)
}

func (m *Monitoring) countCommandSent(serial string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(serial).Inc()
}

func (m *Monitoring) countCommandError(serial string) {
	if m == nil {
		return
	}
	m.commandErrors.WithLabelValues(serial).Inc()
}

func (m *Monitoring) countReassembled() {
	if m == nil {
		return
	}
	m.reassembled.Inc()
}

func (m *Monitoring) countReassemblyExpired() {
	if m == nil {
		return
	}
	m.reassemblyFails.Inc()
}
