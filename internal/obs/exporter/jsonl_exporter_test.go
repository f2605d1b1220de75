package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingly-dev/tingly-loop/internal/obs/otel"
)

func TestJSONLExporter(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	setup, err := otel.NewMeterSetup(ctx, otel.DefaultConfig(), NewJSONLExporter(&buf))
	require.NoError(t, err)
	setup.Tracker().RecordUsage(ctx, otel.UsageOptions{Dialect: "mlx_native", Model: "m", InputTokens: 4, OutputTokens: 2, Status: "success"})
	setup.Tracker().RecordTool(ctx, otel.ToolOptions{Name: "echo", Success: true, LatencyMs: 3})
	require.NoError(t, setup.Shutdown(ctx))

	var names []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		assert.NotEmpty(t, rec.Timestamp)
		names = append(names, rec.Metric)
		if rec.Metric == "llm.token.total" {
			assert.Equal(t, float64(6), rec.Value)
			assert.Equal(t, "mlx_native", rec.Attributes["llm.dialect"])
		}
		if rec.Metric == "agent.tool.duration" {
			assert.Equal(t, "histogram", rec.Type)
			assert.Equal(t, uint64(1), rec.Count)
		}
	}
	assert.Contains(t, names, "llm.token.usage")
	assert.Contains(t, names, "agent.tool.calls")
}
