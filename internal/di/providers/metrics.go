package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/fen/internal/metrics"
)

// ProvideMetrics provides the Prometheus metrics shared by the registry and the status API.
func ProvideMetrics(_ do.Injector) (*metrics.Metrics, error) {
	return metrics.New(), nil
}
