package otel

import (
	"context"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// meterName is the instrumentation scope of every loop metric
const meterName = "tingly-loop"

// MeterSetup holds the meter provider and token tracker.
type MeterSetup struct {
	meterProvider *sdkmetric.MeterProvider
	tracker       *TokenTracker
}

// NewMeterSetup wires exporter behind a periodic reader. A disabled config
// or a nil exporter yields a setup whose Tracker is nil, which every caller
// treats as "metrics off".
func NewMeterSetup(ctx context.Context, cfg *Config, exporter sdkmetric.Exporter) (*MeterSetup, error) {
	if cfg == nil || !cfg.Enabled || exporter == nil {
		return &MeterSetup{}, nil
	}

	opts := []sdkmetric.PeriodicReaderOption{}
	if cfg.ExportInterval > 0 {
		opts = append(opts, sdkmetric.WithInterval(cfg.ExportInterval))
	}
	if cfg.ExportTimeout > 0 {
		opts = append(opts, sdkmetric.WithTimeout(cfg.ExportTimeout))
	}
	return newSetup(ctx, sdkmetric.NewPeriodicReader(exporter, opts...))
}

// NewReaderSetup wires an arbitrary reader, typically a ManualReader
func NewReaderSetup(ctx context.Context, reader sdkmetric.Reader) (*MeterSetup, error) {
	return newSetup(ctx, reader)
}

func newSetup(ctx context.Context, reader sdkmetric.Reader) (*MeterSetup, error) {
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	tracker, err := NewTokenTracker(meterProvider.Meter(meterName))
	if err != nil {
		_ = meterProvider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create token tracker: %w", err)
	}

	return &MeterSetup{
		meterProvider: meterProvider,
		tracker:       tracker,
	}, nil
}

// Tracker returns the token tracker.
func (ms *MeterSetup) Tracker() *TokenTracker {
	return ms.tracker
}

// Shutdown flushes pending metrics and shuts down the meter provider.
func (ms *MeterSetup) Shutdown(ctx context.Context) error {
	if ms.meterProvider == nil {
		return nil
	}
	return ms.meterProvider.Shutdown(ctx)
}
