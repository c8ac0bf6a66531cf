package telemetry

import (
	"context"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Gatherer drains a pull-based reader and flattens the collected
// counter sums, keyed by instrument name. It is the collection side of
// [Register]: the metrics endpoint calls Gather per request, which
// triggers the observable callback.
type Gatherer struct {
	reader sdkmetric.Reader
}

func NewGatherer(reader sdkmetric.Reader) *Gatherer {
	return &Gatherer{reader: reader}
}

func (g *Gatherer) Gather(ctx context.Context) (map[string]uint64, error) {
	if g == nil || g.reader == nil {
		return nil, fmt.Errorf("no metrics reader configured")
	}

	var rm metricdata.ResourceMetrics
	if err := g.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	out := make(map[string]uint64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[m.Name] = uint64(total)
		}
	}
	return out, nil
}
