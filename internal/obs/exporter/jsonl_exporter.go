// Package exporter holds OpenTelemetry metric exporters for the CLI.
package exporter

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Record is one exported data point
type Record struct {
	Timestamp  string            `json:"timestamp"`
	Metric     string            `json:"metric"`
	Type       string            `json:"type"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// JSONLExporter writes every data point as one JSON line.
type JSONLExporter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewJSONLExporter creates an exporter writing to w
func NewJSONLExporter(w io.Writer) *JSONLExporter {
	return &JSONLExporter{enc: json.NewEncoder(w), now: time.Now}
}

// Temporality returns the Temporality to use for an instrument kind.
func (e *JSONLExporter) Temporality(kind metric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

// Aggregation returns the Aggregation to use for an instrument kind.
func (e *JSONLExporter) Aggregation(kind metric.InstrumentKind) metric.Aggregation {
	return metric.DefaultAggregationSelector(kind)
}

// Export writes the resource metrics.
func (e *JSONLExporter) Export(ctx context.Context, res *metricdata.ResourceMetrics) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now().UTC().Format(time.RFC3339)
	for _, scope := range res.ScopeMetrics {
		for _, m := range scope.Metrics {
			for _, rec := range records(m) {
				rec.Timestamp = ts
				if err := e.enc.Encode(rec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// records flattens one metric into data point records
func records(m metricdata.Metrics) []Record {
	var out []Record
	switch data := m.Data.(type) {
	case metricdata.Sum[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Record{Metric: m.Name, Type: "sum", Value: float64(dp.Value), Attributes: attrsToMap(dp.Attributes)})
		}
	case metricdata.Sum[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, Record{Metric: m.Name, Type: "sum", Value: dp.Value, Attributes: attrsToMap(dp.Attributes)})
		}
	case metricdata.Histogram[int64]:
		for _, dp := range data.DataPoints {
			out = append(out, Record{Metric: m.Name, Type: "histogram", Value: float64(dp.Sum), Count: dp.Count, Attributes: attrsToMap(dp.Attributes)})
		}
	case metricdata.Histogram[float64]:
		for _, dp := range data.DataPoints {
			out = append(out, Record{Metric: m.Name, Type: "histogram", Value: dp.Sum, Count: dp.Count, Attributes: attrsToMap(dp.Attributes)})
		}
	}
	return out
}

// ForceFlush forces a flush of pending data.
func (e *JSONLExporter) ForceFlush(ctx context.Context) error {
	return nil
}

// Shutdown shuts down the exporter.
func (e *JSONLExporter) Shutdown(ctx context.Context) error {
	return nil
}

// attrsToMap converts an attribute set to a map.
func attrsToMap(attrs attribute.Set) map[string]string {
	if attrs.Len() == 0 {
		return nil
	}
	result := make(map[string]string, attrs.Len())
	iter := attrs.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		result[string(kv.Key)] = kv.Value.Emit()
	}
	return result
}
