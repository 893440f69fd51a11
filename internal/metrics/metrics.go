package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "backoffice"

// Refresh results.
const (
	RefreshSuccess        = "success"
	RefreshRejected       = "rejected"
	RefreshMissingContext = "missing_context"
	RefreshNoToken        = "no_token"
	RefreshError          = "error"
)

// Metrics holds the client's collectors on a private registry.
type Metrics struct {
	Registry       *prometheus.Registry
	Requests       *prometheus.CounterVec
	Retries        prometheus.Counter
	Refreshes      *prometheus.CounterVec
	RefreshWaiters prometheus.Gauge
	Teardowns      *prometheus.CounterVec
	Logins         *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests sent, by response status class.",
		}, []string{"class"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Requests resent after a token refresh.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh operations performed, by result.",
		}, []string{"result"}),
		RefreshWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "token_refresh_waiters",
			Help:      "Callers currently waiting on a refresh.",
		}),
		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_teardowns_total",
			Help:      "Sessions ended, by reason.",
		}, []string{"reason"}),
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts, by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(m.Requests, m.Retries, m.Refreshes, m.RefreshWaiters, m.Teardowns, m.Logins)
	return m
}

// WriteToFile dumps the registry in the text exposition format.
func (m *Metrics) WriteToFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("[Metrics.WriteToFile] %w", err)
	}
	return nil
}

// StatusClass maps an HTTP status to "2xx".."5xx". Zero means the request
// never got a response.
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return fmt.Sprintf("%dxx", status/100)
}
