// Copyright (C) 2019-2026, precice-go Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package m2n

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the Counter/Gauge instruments an M2N channel reports,
// registered one-by-one at construction against an injected
// prometheus.Registerer.
type metrics struct {
	exchangesCompleted prometheus.Counter
	bytesSent          prometheus.Counter
	bytesReceived      prometheus.Counter
	connected          prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer, name string) (*metrics, error) {
	m := &metrics{
		exchangesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "m2n_exchanges_completed_total",
			Help: "Number of send/receive exchanges completed on this M2N channel",
			ConstLabels: prometheus.Labels{
				"m2n": name,
			},
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "m2n_bytes_sent_total",
			Help: "Bytes sent over this M2N channel's distributed transport",
			ConstLabels: prometheus.Labels{
				"m2n": name,
			},
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "m2n_bytes_received_total",
			Help: "Bytes received over this M2N channel's distributed transport",
			ConstLabels: prometheus.Labels{
				"m2n": name,
			},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "m2n_connected",
			Help: "1 if this M2N channel is currently connected, 0 otherwise",
			ConstLabels: prometheus.Labels{
				"m2n": name,
			},
		}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.exchangesCompleted, m.bytesSent, m.bytesReceived, m.connected} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
