package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes reg in the Prometheus text exposition format. cmd/companion's
// web subcommand mounts it on a dedicated metrics listener, since
// client_golang's idiomatic exposition path is net/http rather than Hertz.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
